package rewrite

import (
	"fmt"

	"github.com/mwilde234/graphport/internal/graph"
	"github.com/mwilde234/graphport/internal/tensor"
)

var classicControlOps = map[string]bool{
	"Switch":        true,
	"Merge":         true,
	"Enter":         true,
	"Exit":          true,
	"NextIteration": true,
	"LoopCond":      true,
}

var structuredLoopOps = map[string]bool{"While": true, "StatelessWhile": true}
var structuredCondOps = map[string]bool{"If": true, "StatelessIf": true}

// normalizeControlFlow rewrites whichever control-flow dialect the graph uses
// into the caller's target dialect and verifies no remnants of the other
// dialect survive.
func normalizeControlFlow(st *State) error {
	g := st.Model.Graph
	switch st.Config.Target {
	case DialectStructured:
		if err := raiseClassic(st, g); err != nil {
			return err
		}
		for _, n := range g.Nodes() {
			if classicControlOps[n.Op] {
				return invariantf("control flow", "classic op %s (%q) survived structured lowering", n.Op, n.Name)
			}
		}
	case DialectClassic:
		if err := lowerStructured(st, g); err != nil {
			return err
		}
		for _, n := range g.Nodes() {
			if structuredLoopOps[n.Op] || structuredCondOps[n.Op] {
				return invariantf("control flow", "structured op %s (%q) survived classic lowering", n.Op, n.Name)
			}
		}
	default:
		return fmt.Errorf("rewrite: unknown control-flow dialect %q", st.Config.Target)
	}
	return nil
}

// lowerStructured expands While/If nodes into the classic dataflow dialect,
// splicing their function bodies inline.
func lowerStructured(st *State, g *graph.Graph) error {
	for {
		var target *graph.Node
		for _, n := range g.Nodes() {
			if structuredLoopOps[n.Op] || structuredCondOps[n.Op] {
				target = n
				break
			}
		}
		if target == nil {
			break
		}
		var err error
		if structuredLoopOps[target.Op] {
			err = lowerWhile(g, target)
		} else {
			err = lowerIf(g, target)
		}
		if err != nil {
			return err
		}
		st.Log.Debug("lowered structured op", "node", target.Name, "op", target.Op)
	}
	pruneUnreferencedFunctions(g)
	return nil
}

// lowerWhile expands one While node: per loop variable an
// Enter→Merge→Switch→Exit spine plus a NextIteration back edge, with the
// cond function feeding LoopCond and the body function feeding the back
// edges.
func lowerWhile(g *graph.Graph, n *graph.Node) error {
	cond, body, err := loopFunctions(g, n)
	if err != nil {
		return err
	}
	dataIn := graph.DataInputs(n)
	k := len(dataIn)
	if len(cond.Args) != k || len(body.Args) != k || len(body.Results) != k {
		return invariantf("control flow", "While %q has %d inputs but cond/body take %d/%d args",
			n.Name, k, len(cond.Args), len(body.Args))
	}

	varTypes := loopVarTypes(n, k)
	mergeRef := make(map[string]string, k)
	bodyArg := make(map[string]string, k)
	var merges, switches, exits []string

	for i := 0; i < k; i++ {
		enter := graph.NewNode(fmt.Sprintf("%s/enter_%d", n.Name, i), "Enter", dataIn[i].String())
		enter.Attr["frame_name"] = graph.StringAttr(n.Name)
		if varTypes != nil {
			enter.Attr["T"] = graph.TypeAttr(varTypes[i])
		}
		g.MustAdd(enter)

		mergeName := fmt.Sprintf("%s/merge_%d", n.Name, i)
		nextName := fmt.Sprintf("%s/next_iteration_%d", n.Name, i)
		merge := graph.NewNode(mergeName, "Merge", enter.Name, nextName)
		g.MustAdd(merge)
		merges = append(merges, mergeName)
		mergeRef[cond.Args[i].Name] = mergeName
	}

	condOut, err := graph.InlineFunction(g, cond, n.Name+"/cond/", mergeRef, nil)
	if err != nil {
		return invariantf("control flow", "inlining cond of %q: %v", n.Name, err)
	}
	loopCond := graph.NewNode(n.Name+"/LoopCond", "LoopCond", condOut[0])
	g.MustAdd(loopCond)

	for i := 0; i < k; i++ {
		sw := graph.NewNode(fmt.Sprintf("%s/switch_%d", n.Name, i), "Switch", merges[i], loopCond.Name)
		g.MustAdd(sw)
		switches = append(switches, sw.Name)
		bodyArg[body.Args[i].Name] = sw.Name + ":1"
	}

	bodyOut, err := graph.InlineFunction(g, body, n.Name+"/body/", bodyArg, nil)
	if err != nil {
		return invariantf("control flow", "inlining body of %q: %v", n.Name, err)
	}
	for i := 0; i < k; i++ {
		next := graph.NewNode(fmt.Sprintf("%s/next_iteration_%d", n.Name, i), "NextIteration", bodyOut[i])
		g.MustAdd(next)
		exit := graph.NewNode(fmt.Sprintf("%s/exit_%d", n.Name, i), "Exit", switches[i])
		g.MustAdd(exit)
		exits = append(exits, exit.Name)
	}

	spliceOutputs(g, n.Name, exits)
	return nil
}

// lowerIf expands one If node: a Switch per branch variable, the inlined
// then/else bodies reading the true/false outputs, and a Merge per result.
func lowerIf(g *graph.Graph, n *graph.Node) error {
	thenFn, elseFn, err := branchFunctions(g, n)
	if err != nil {
		return err
	}
	dataIn := graph.DataInputs(n)
	if len(dataIn) == 0 {
		return invariantf("control flow", "If %q has no predicate input", n.Name)
	}
	pred, vars := dataIn[0], dataIn[1:]
	if len(thenFn.Args) != len(vars) || len(elseFn.Args) != len(vars) {
		return invariantf("control flow", "If %q passes %d vars but branches take %d/%d args",
			n.Name, len(vars), len(thenFn.Args), len(elseFn.Args))
	}
	if len(thenFn.Results) != len(elseFn.Results) {
		return invariantf("control flow", "If %q branches disagree on result count", n.Name)
	}

	thenArg := make(map[string]string, len(vars))
	elseArg := make(map[string]string, len(vars))
	for i := range vars {
		sw := graph.NewNode(fmt.Sprintf("%s/switch_%d", n.Name, i), "Switch", vars[i].String(), pred.String())
		g.MustAdd(sw)
		thenArg[thenFn.Args[i].Name] = sw.Name + ":1"
		elseArg[elseFn.Args[i].Name] = sw.Name
	}

	thenOut, err := graph.InlineFunction(g, thenFn, n.Name+"/then/", thenArg, nil)
	if err != nil {
		return invariantf("control flow", "inlining then branch of %q: %v", n.Name, err)
	}
	elseOut, err := graph.InlineFunction(g, elseFn, n.Name+"/else/", elseArg, nil)
	if err != nil {
		return invariantf("control flow", "inlining else branch of %q: %v", n.Name, err)
	}

	var merges []string
	for j := range thenOut {
		merge := graph.NewNode(fmt.Sprintf("%s/merge_%d", n.Name, j), "Merge", thenOut[j], elseOut[j])
		g.MustAdd(merge)
		merges = append(merges, merge.Name)
	}
	spliceOutputs(g, n.Name, merges)
	return nil
}

// spliceOutputs removes the named node and retargets every reference to its
// i-th output at outs[i].
func spliceOutputs(g *graph.Graph, name string, outs []string) {
	g.Remove(name)
	for _, node := range g.Nodes() {
		for i, in := range node.Input {
			ref := graph.ParseInput(in)
			if ref.Node != name {
				continue
			}
			if ref.Control {
				node.Input[i] = "^" + outs[0]
				continue
			}
			if ref.Index < len(outs) {
				node.Input[i] = outs[ref.Index]
			}
		}
	}
}

func loopFunctions(g *graph.Graph, n *graph.Node) (cond, body *graph.Function, err error) {
	condAttr, ok1 := n.Attr["cond"]
	bodyAttr, ok2 := n.Attr["body"]
	if !ok1 || !ok2 || condAttr.Kind != graph.AttrFunc || bodyAttr.Kind != graph.AttrFunc {
		return nil, nil, invariantf("control flow", "While %q lacks cond/body function attrs", n.Name)
	}
	cond, body = g.Function(condAttr.Func), g.Function(bodyAttr.Func)
	if cond == nil || body == nil {
		return nil, nil, invariantf("control flow", "While %q references missing functions %q/%q",
			n.Name, condAttr.Func, bodyAttr.Func)
	}
	return cond, body, nil
}

func branchFunctions(g *graph.Graph, n *graph.Node) (thenFn, elseFn *graph.Function, err error) {
	thenAttr, ok1 := n.Attr["then_branch"]
	elseAttr, ok2 := n.Attr["else_branch"]
	if !ok1 || !ok2 || thenAttr.Kind != graph.AttrFunc || elseAttr.Kind != graph.AttrFunc {
		return nil, nil, invariantf("control flow", "If %q lacks branch function attrs", n.Name)
	}
	thenFn, elseFn = g.Function(thenAttr.Func), g.Function(elseAttr.Func)
	if thenFn == nil || elseFn == nil {
		return nil, nil, invariantf("control flow", "If %q references missing functions %q/%q",
			n.Name, thenAttr.Func, elseAttr.Func)
	}
	return thenFn, elseFn, nil
}

// loopVarTypes reads the per-variable dtypes off the While node's T attr,
// or nil when absent or mismatched.
func loopVarTypes(n *graph.Node, k int) []tensor.DType {
	a, ok := n.Attr["T"]
	if !ok || a.Kind != graph.AttrList || len(a.List.Type) != k {
		return nil
	}
	return a.List.Type
}

// pruneUnreferencedFunctions drops functions nothing references after
// lowering moved their bodies inline.
func pruneUnreferencedFunctions(g *graph.Graph) {
	referenced := make(map[string]bool)
	for _, n := range g.Nodes() {
		for _, key := range []string{"cond", "body", "then_branch", "else_branch", "f"} {
			if a, ok := n.Attr[key]; ok && a.Kind == graph.AttrFunc {
				referenced[a.Func] = true
			}
		}
	}
	for _, f := range g.Functions() {
		if !referenced[f.Name] {
			g.RemoveFunction(f.Name)
		}
	}
}
