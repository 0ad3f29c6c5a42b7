package rewrite

import (
	"fmt"

	"github.com/mwilde234/graphport/internal/graph"
	"github.com/mwilde234/graphport/internal/tensor"
)

// raiseClassic recovers structured While/If nodes from the classic
// Switch/Merge dialect. Loop frames are recovered first (their Switch/Merge
// nodes would otherwise look like conditionals), innermost frames before
// outer ones, then the remaining Switch groups are folded into If nodes.
func raiseClassic(st *State, g *graph.Graph) error {
	protected := resolvedNodes(st)
	frames, order := collectFrames(g)
	// Reverse insertion order approximates innermost-first: nested frames
	// are constructed after their enclosing frame.
	for i := len(order) - 1; i >= 0; i-- {
		if err := raiseLoop(st, g, order[i], frames[order[i]], protected); err != nil {
			return err
		}
	}
	return raiseConds(st, g, protected)
}

// resolvedNodes names the graph nodes the constant resolver accounted for.
// The weight materialization pass will rewrite them in place, so extraction
// sweeps must leave them in the main graph even when a copy moved into a
// synthesized function body.
func resolvedNodes(st *State) map[string]bool {
	out := make(map[string]bool)
	if st.Resolved == nil {
		return out
	}
	for name := range st.Resolved.Weights {
		out[name] = true
	}
	for _, name := range st.Resolved.Interior {
		out[name] = true
	}
	return out
}

func collectFrames(g *graph.Graph) (map[string][]*graph.Node, []string) {
	frames := make(map[string][]*graph.Node)
	var order []string
	for _, n := range g.Nodes() {
		if n.Op != "Enter" {
			continue
		}
		frame := ""
		if a, ok := n.Attr["frame_name"]; ok && a.Kind == graph.AttrString {
			frame = a.S
		}
		if _, seen := frames[frame]; !seen {
			order = append(order, frame)
		}
		frames[frame] = append(frames[frame], n)
	}
	return frames, order
}

// loopVar is the recovered per-variable spine of one classic loop frame.
type loopVar struct {
	enter, merge, sw, next *graph.Node
	exit                   *graph.Node // nil when the value is unused after the loop
	init                   string
}

func raiseLoop(st *State, g *graph.Graph, frame string, enters []*graph.Node, protected map[string]bool) error {
	consumers := graph.BuildConsumers(g)

	vars := make([]loopVar, 0, len(enters))
	var loopCond *graph.Node
	for _, enter := range enters {
		lv := loopVar{enter: enter}
		ins := graph.DataInputs(enter)
		if len(ins) != 1 {
			return invariantf("control flow", "Enter %q has %d data inputs", enter.Name, len(ins))
		}
		lv.init = ins[0].String()

		lv.merge = soleConsumerOfOp(g, consumers, enter.Name, "Merge")
		if lv.merge == nil {
			return invariantf("control flow", "Enter %q has no Merge consumer", enter.Name)
		}
		for _, ref := range graph.DataInputs(lv.merge) {
			if ref.Node == enter.Name {
				continue
			}
			back := g.Node(ref.Node)
			if back != nil && back.Op == "NextIteration" {
				lv.next = back
			}
		}
		if lv.next == nil {
			return invariantf("control flow", "Merge %q has no NextIteration back edge", lv.merge.Name)
		}
		for _, cname := range consumers[lv.merge.Name] {
			c := g.Node(cname)
			if c != nil && c.Op == "Switch" && firstInputIs(c, lv.merge.Name) {
				lv.sw = c
				break
			}
		}
		if lv.sw == nil {
			return invariantf("control flow", "Merge %q has no Switch consumer", lv.merge.Name)
		}
		swIns := graph.DataInputs(lv.sw)
		if len(swIns) != 2 {
			return invariantf("control flow", "Switch %q has %d data inputs", lv.sw.Name, len(swIns))
		}
		pred := g.Node(swIns[1].Node)
		if pred == nil || pred.Op != "LoopCond" {
			return invariantf("control flow", "Switch %q predicate is not a LoopCond", lv.sw.Name)
		}
		if loopCond == nil {
			loopCond = pred
		} else if loopCond.Name != pred.Name {
			return invariantf("control flow", "frame %q mixes LoopCond nodes %q and %q", frame, loopCond.Name, pred.Name)
		}
		for _, cname := range consumers[lv.sw.Name] {
			c := g.Node(cname)
			if c != nil && c.Op == "Exit" {
				lv.exit = c
				break
			}
		}
		vars = append(vars, lv)
	}
	if loopCond == nil {
		return invariantf("control flow", "frame %q has no LoopCond", frame)
	}
	condIns := graph.DataInputs(loopCond)
	if len(condIns) != 1 {
		return invariantf("control flow", "LoopCond %q has %d data inputs", loopCond.Name, len(condIns))
	}

	// Boundary maps for subgraph extraction: cond reads loop vars through
	// the Merges, the body through the Switches' true outputs.
	condBoundary := make(map[string]string, len(vars))
	bodyBoundary := make(map[string]string, len(vars))
	args := make([]graph.ArgDef, len(vars))
	for i, lv := range vars {
		argName := fmt.Sprintf("arg%d", i)
		t := ""
		if a, ok := lv.enter.Attr["T"]; ok && a.Kind == graph.AttrType {
			t = a.Type.ProtoName()
		}
		args[i] = graph.ArgDef{Name: argName, Type: t}
		condBoundary[lv.merge.Name] = argName
		bodyBoundary[lv.sw.Name] = argName
	}

	condNodes, err := backwardClosure(g, []string{condIns[0].String()}, condBoundary)
	if err != nil {
		return err
	}
	bodyStarts := make([]string, len(vars))
	for i, lv := range vars {
		ins := graph.DataInputs(lv.next)
		if len(ins) != 1 {
			return invariantf("control flow", "NextIteration %q has %d data inputs", lv.next.Name, len(ins))
		}
		bodyStarts[i] = ins[0].String()
	}
	bodyNodes, err := backwardClosure(g, bodyStarts, bodyBoundary)
	if err != nil {
		return err
	}

	condFn := synthesizeFunction(g, uniqueFuncName(g, sanitize(frame)+"_cond"), args,
		condNodes, condBoundary, []string{condIns[0].String()})
	condFn.Results = []graph.ArgDef{{Name: "output0", Type: tensor.Bool.ProtoName()}}
	bodyFn := synthesizeFunction(g, uniqueFuncName(g, sanitize(frame)+"_body"), args,
		bodyNodes, bodyBoundary, bodyStarts)
	bodyFn.Results = make([]graph.ArgDef, len(vars))
	for i := range vars {
		bodyFn.Results[i] = graph.ArgDef{Name: fmt.Sprintf("output%d", i), Type: args[i].Type}
	}
	if err := g.AddFunction(condFn); err != nil {
		return invariantf("control flow", "%v", err)
	}
	if err := g.AddFunction(bodyFn); err != nil {
		return invariantf("control flow", "%v", err)
	}

	while := graph.NewNode(uniqueNodeName(g, sanitize(frame)), "While")
	for _, lv := range vars {
		while.Input = append(while.Input, lv.init)
	}
	while.Attr["cond"] = graph.FuncAttr(condFn.Name)
	while.Attr["body"] = graph.FuncAttr(bodyFn.Name)
	if types := enterTypes(vars); types != nil {
		while.Attr["T"] = graph.TypeListAttr(types...)
	}
	g.MustAdd(while)

	// Retarget Exit consumers at the While outputs, then sweep the frame.
	removal := map[string]bool{loopCond.Name: true}
	for _, lv := range vars {
		removal[lv.enter.Name] = true
		removal[lv.merge.Name] = true
		removal[lv.sw.Name] = true
		removal[lv.next.Name] = true
		if lv.exit != nil {
			removal[lv.exit.Name] = true
		}
	}
	markRemovable(g, condNodes, removal, protected)
	markRemovable(g, bodyNodes, removal, protected)

	for i, lv := range vars {
		if lv.exit == nil {
			continue
		}
		out := graph.InputRef{Node: while.Name, Index: i}
		for _, n := range g.Nodes() {
			if removal[n.Name] {
				continue
			}
			for j, in := range n.Input {
				ref := graph.ParseInput(in)
				if ref.Node != lv.exit.Name {
					continue
				}
				if ref.Control {
					n.Input[j] = "^" + while.Name
				} else {
					n.Input[j] = out.String()
				}
			}
		}
	}
	sweep(g, removal)
	st.Log.Debug("raised loop frame", "frame", frame, "vars", len(vars))
	return nil
}

// raiseConds folds remaining Switch groups (shared predicate) plus their
// Merge joins into If nodes with synthesized branch functions.
func raiseConds(st *State, g *graph.Graph, protected map[string]bool) error {
	for {
		consumers := graph.BuildConsumers(g)
		var pred string
		var switches []*graph.Node
		for _, n := range g.Nodes() {
			if n.Op != "Switch" {
				continue
			}
			ins := graph.DataInputs(n)
			if len(ins) != 2 {
				return invariantf("control flow", "Switch %q has %d data inputs", n.Name, len(ins))
			}
			if pred == "" {
				pred = ins[1].String()
			}
			if ins[1].String() == pred {
				switches = append(switches, n)
			}
		}
		if len(switches) == 0 {
			return nil
		}
		if err := raiseOneCond(st, g, consumers, pred, switches, protected); err != nil {
			return err
		}
	}
}

func raiseOneCond(st *State, g *graph.Graph, consumers graph.Consumers, pred string, switches []*graph.Node, protected map[string]bool) error {
	trueBoundary := make(map[string]string, len(switches))
	falseBoundary := make(map[string]string, len(switches))
	args := make([]graph.ArgDef, len(switches))
	dataIn := make([]string, len(switches))
	swSet := make(map[string]int, len(switches))
	for i, sw := range switches {
		argName := fmt.Sprintf("arg%d", i)
		args[i] = graph.ArgDef{Name: argName}
		if a, ok := sw.Attr["T"]; ok && a.Kind == graph.AttrType {
			args[i].Type = a.Type.ProtoName()
		}
		trueBoundary[sw.Name] = argName
		falseBoundary[sw.Name] = argName
		dataIn[i] = graph.DataInputs(sw)[0].String()
		swSet[sw.Name] = i
	}

	trueNodes, merges, err := forwardClosure(g, consumers, switches, 1)
	if err != nil {
		return err
	}
	falseNodes, falseMerges, err := forwardClosure(g, consumers, switches, 0)
	if err != nil {
		return err
	}
	mergeSet := make(map[string]bool, len(merges))
	for _, m := range merges {
		mergeSet[m] = true
	}
	for _, m := range falseMerges {
		if !mergeSet[m] {
			mergeSet[m] = true
			merges = append(merges, m)
		}
	}
	if len(merges) == 0 {
		return invariantf("control flow", "Switch group on %q reaches no Merge", pred)
	}

	// Per merge, split its two inputs into the branch each came from.
	trueSet := toSet(trueNodes)
	falseSet := toSet(falseNodes)
	var trueRets, falseRets []string
	for _, mname := range merges {
		m := g.Node(mname)
		ins := graph.DataInputs(m)
		if len(ins) != 2 {
			return invariantf("control flow", "Merge %q has %d data inputs", mname, len(ins))
		}
		tRef, fRef := "", ""
		for _, ref := range ins {
			switch {
			case hasSwitch(swSet, ref.Node) && ref.Index == 1:
				tRef = ref.String()
			case hasSwitch(swSet, ref.Node) && ref.Index == 0:
				fRef = ref.String()
			case trueSet[ref.Node]:
				tRef = ref.String()
			case falseSet[ref.Node]:
				fRef = ref.String()
			}
		}
		if tRef == "" || fRef == "" {
			return invariantf("control flow", "Merge %q inputs do not split across branches", mname)
		}
		trueRets = append(trueRets, tRef)
		falseRets = append(falseRets, fRef)
	}

	base := sanitize(graph.ParseInput(pred).Node)
	thenFn := synthesizeFunction(g, uniqueFuncName(g, base+"_then"), args, trueNodes, trueBoundary, trueRets)
	elseFn := synthesizeFunction(g, uniqueFuncName(g, base+"_else"), args, falseNodes, falseBoundary, falseRets)
	for j := range merges {
		name := fmt.Sprintf("output%d", j)
		thenFn.Results = append(thenFn.Results, graph.ArgDef{Name: name})
		elseFn.Results = append(elseFn.Results, graph.ArgDef{Name: name})
	}
	if err := g.AddFunction(thenFn); err != nil {
		return invariantf("control flow", "%v", err)
	}
	if err := g.AddFunction(elseFn); err != nil {
		return invariantf("control flow", "%v", err)
	}

	ifNode := graph.NewNode(uniqueNodeName(g, base+"_if"), "If", pred)
	ifNode.Input = append(ifNode.Input, dataIn...)
	ifNode.Attr["then_branch"] = graph.FuncAttr(thenFn.Name)
	ifNode.Attr["else_branch"] = graph.FuncAttr(elseFn.Name)
	g.MustAdd(ifNode)

	removal := make(map[string]bool)
	for _, sw := range switches {
		removal[sw.Name] = true
	}
	for _, m := range merges {
		removal[m] = true
	}
	markRemovable(g, trueNodes, removal, protected)
	markRemovable(g, falseNodes, removal, protected)

	for j, mname := range merges {
		out := graph.InputRef{Node: ifNode.Name, Index: j}
		for _, n := range g.Nodes() {
			if removal[n.Name] {
				continue
			}
			for i, in := range n.Input {
				ref := graph.ParseInput(in)
				if ref.Node != mname {
					continue
				}
				if ref.Control {
					n.Input[i] = "^" + ifNode.Name
				} else {
					n.Input[i] = out.String()
				}
			}
		}
	}
	sweep(g, removal)
	st.Log.Debug("raised conditional", "pred", pred, "branch vars", len(switches), "outputs", len(merges))
	return nil
}

func hasSwitch(swSet map[string]int, name string) bool {
	_, ok := swSet[name]
	return ok
}

func toSet(names []string) map[string]bool {
	out := make(map[string]bool, len(names))
	for _, n := range names {
		out[n] = true
	}
	return out
}

// soleConsumerOfOp returns the unique consumer of node with the given op.
func soleConsumerOfOp(g *graph.Graph, consumers graph.Consumers, node, op string) *graph.Node {
	var found *graph.Node
	for _, cname := range consumers[node] {
		c := g.Node(cname)
		if c == nil || c.Op != op {
			continue
		}
		if found != nil {
			return nil
		}
		found = c
	}
	return found
}

// backwardClosure walks input edges from the start refs, stopping at
// boundary nodes. Enter nodes inside the closure (loop-invariant captures)
// are bypassed: references to them resolve to their initial value. The
// result is in graph insertion order.
func backwardClosure(g *graph.Graph, starts []string, boundary map[string]string) ([]string, error) {
	include := make(map[string]bool)
	stack := make([]string, 0, len(starts))
	for _, s := range starts {
		stack = append(stack, graph.ParseInput(s).Node)
	}
	for len(stack) > 0 {
		name := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if include[name] {
			continue
		}
		if _, isBoundary := boundary[name]; isBoundary {
			continue
		}
		n := g.Node(name)
		if n == nil {
			return nil, invariantf("control flow", "closure reached unknown node %q", name)
		}
		if n.Op == "Enter" {
			// Bypassed, not copied; its init feeds the function body.
			for _, ref := range graph.DataInputs(n) {
				stack = append(stack, ref.Node)
			}
			continue
		}
		include[name] = true
		for _, in := range n.Input {
			stack = append(stack, graph.ParseInput(in).Node)
		}
	}
	var out []string
	for _, n := range g.Nodes() {
		if include[n.Name] {
			out = append(out, n.Name)
		}
	}
	return out, nil
}

// forwardClosure walks consumer edges from the switches' outIdx outputs
// until Merge nodes, returning the interior branch nodes (insertion order)
// and the Merges reached (insertion order).
func forwardClosure(g *graph.Graph, consumers graph.Consumers, switches []*graph.Node, outIdx int) ([]string, []string, error) {
	include := make(map[string]bool)
	mergeSet := make(map[string]bool)
	var stack []string

	seed := func(producer string, idx int) {
		for _, cname := range consumers[producer] {
			c := g.Node(cname)
			if c == nil {
				continue
			}
			for _, ref := range graph.DataInputs(c) {
				if ref.Node == producer && ref.Index == idx {
					stack = append(stack, cname)
				}
			}
		}
	}
	for _, sw := range switches {
		seed(sw.Name, outIdx)
	}
	for len(stack) > 0 {
		name := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if include[name] || mergeSet[name] {
			continue
		}
		n := g.Node(name)
		if n == nil {
			continue
		}
		if n.Op == "Merge" {
			mergeSet[name] = true
			continue
		}
		include[name] = true
		stack = append(stack, consumers[name]...)
	}

	var nodes, merges []string
	for _, n := range g.Nodes() {
		if include[n.Name] {
			nodes = append(nodes, n.Name)
		}
		if mergeSet[n.Name] {
			merges = append(merges, n.Name)
		}
	}
	return nodes, merges, nil
}

// synthesizeFunction copies the given nodes into a fresh function body,
// mapping boundary references to argument names and bypassing Enter nodes.
// rets are the graph refs producing the results, mapped the same way and
// recorded as output0..outputN.
func synthesizeFunction(g *graph.Graph, name string, args []graph.ArgDef, nodes []string, boundary map[string]string, rets []string) *graph.Function {
	inSet := toSet(nodes)
	var mapRef func(in string) string
	mapRef = func(in string) string {
		ref := graph.ParseInput(in)
		if arg, ok := boundary[ref.Node]; ok {
			if ref.Control {
				return "^" + arg
			}
			return arg
		}
		if n := g.Node(ref.Node); n != nil && n.Op == "Enter" {
			ins := graph.DataInputs(n)
			if len(ins) == 1 {
				if ref.Control {
					return "^" + graph.ParseInput(mapRef(ins[0].String())).Node
				}
				return mapRef(ins[0].String())
			}
		}
		return in
	}

	f := &graph.Function{
		Name: name,
		Args: append([]graph.ArgDef(nil), args...),
		Ret:  make(map[string]string, len(rets)),
		Body: graph.New(),
	}
	for _, nodeName := range nodes {
		n := g.Node(nodeName)
		c := graph.NewNode(n.Name, n.Op)
		c.Device = n.Device
		for k, v := range n.Attr {
			c.Attr[k] = v
		}
		for _, in := range n.Input {
			mapped := mapRef(in)
			// Control deps on nodes outside the extracted subgraph
			// cannot be expressed inside a function body.
			ref := graph.ParseInput(mapped)
			if ref.Control && !inSet[ref.Node] && boundaryArgName(boundary, args, ref.Node) == "" {
				continue
			}
			c.Input = append(c.Input, mapped)
		}
		f.Body.MustAdd(c)
	}
	for i, ret := range rets {
		f.Ret[fmt.Sprintf("output%d", i)] = mapRef(ret)
	}
	return f
}

func boundaryArgName(boundary map[string]string, args []graph.ArgDef, name string) string {
	for _, a := range args {
		if a.Name == name {
			return a.Name
		}
	}
	return boundary[name]
}

// markRemovable adds the extracted subgraph nodes to removal, except nodes
// something outside the removal set still consumes (a shared constant keeps
// its original alongside the copy in the function body), protected nodes,
// and anything feeding such a survivor.
func markRemovable(g *graph.Graph, nodes []string, removal, protected map[string]bool) {
	candidate := toSet(nodes)
	consumers := graph.BuildConsumers(g)
	keep := make(map[string]bool)
	for name := range candidate {
		if protected[name] {
			keep[name] = true
		}
	}
	for changed := true; changed; {
		changed = false
		for name := range candidate {
			if keep[name] {
				continue
			}
			for _, c := range consumers[name] {
				external := !removal[c] && !candidate[c]
				if external || keep[c] {
					keep[name] = true
					changed = true
					break
				}
			}
		}
	}
	for name := range candidate {
		if !keep[name] {
			removal[name] = true
		}
	}
}

func sweep(g *graph.Graph, removal map[string]bool) {
	for name := range removal {
		g.Remove(name)
	}
	// Control references into the swept set would dangle.
	for _, n := range g.Nodes() {
		n.Input = dropControlRefs(n.Input, removal)
	}
}

func enterTypes(vars []loopVar) []tensor.DType {
	out := make([]tensor.DType, len(vars))
	for i, lv := range vars {
		a, ok := lv.enter.Attr["T"]
		if !ok || a.Kind != graph.AttrType {
			return nil
		}
		out[i] = a.Type
	}
	return out
}

func sanitize(name string) string {
	out := []byte(name)
	for i, b := range out {
		if b == '/' || b == ':' || b == ' ' {
			out[i] = '_'
		}
	}
	return string(out)
}

func uniqueNodeName(g *graph.Graph, base string) string {
	if g.Node(base) == nil {
		return base
	}
	for i := 1; ; i++ {
		name := fmt.Sprintf("%s_%d", base, i)
		if g.Node(name) == nil {
			return name
		}
	}
}

func uniqueFuncName(g *graph.Graph, base string) string {
	if g.Function(base) == nil {
		return base
	}
	for i := 1; ; i++ {
		name := fmt.Sprintf("%s_%d", base, i)
		if g.Function(name) == nil {
			return name
		}
	}
}
