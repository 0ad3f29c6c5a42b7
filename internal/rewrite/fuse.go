package rewrite

import (
	"github.com/mwilde234/graphport/internal/graph"
)

// fusedOpFor maps fusable root ops to the fused op type that replaces a
// matched chain. Fused types are deliberately absent from this map, which is
// what makes the pass idempotent.
var fusedOpFor = map[string]string{
	"Conv2D":                "_FusedConv2D",
	"DepthwiseConv2dNative": "FusedDepthwiseConv2dNative",
	"MatMul":                "_FusedMatMul",
}

// Activations absorbable as the final chain element. Prelu is handled
// separately because it contributes a side input.
var fusableActivations = map[string]bool{
	"Relu":  true,
	"Relu6": true,
	"Elu":   true,
}

// fuseOps greedily collapses Conv2D/DepthwiseConv2dNative/MatMul chains with
// an optional BiasAdd followed by an optional activation (or Prelu with a
// constant slope) into single fused nodes. A chain only extends through
// nodes whose output feeds exactly one consumer edge; anything else would
// change observable values.
func fuseOps(st *State) error {
	g := st.Model.Graph
	for {
		fusedAny, err := fuseOnce(st, g)
		if err != nil {
			return err
		}
		if !fusedAny {
			return nil
		}
	}
}

func fuseOnce(st *State, g *graph.Graph) (bool, error) {
	order, err := g.TopoSort()
	if err != nil {
		return false, invariantf("fusion", "%v", err)
	}
	consumers := graph.BuildConsumers(g)

	for _, name := range order {
		root := g.Node(name)
		if root == nil {
			continue
		}
		target, ok := fusedOpFor[root.Op]
		if !ok {
			continue
		}
		match := matchChain(st, g, consumers, root)
		if len(match.chain) == 0 {
			continue
		}
		if err := applyFusion(g, root, target, match); err != nil {
			return false, err
		}
		st.Log.Debug("fused chain", "root", root.Name, "ops", match.fusedOps, "into", target)
		return true, nil
	}
	return false, nil
}

type chainMatch struct {
	chain      []*graph.Node
	fusedOps   []string
	sideInputs []string
}

// matchChain finds the longest eligible suffix starting at root's single
// consumer: optional BiasAdd, then optionally one activation or a Prelu
// whose slope resolved to a weight.
func matchChain(st *State, g *graph.Graph, consumers graph.Consumers, root *graph.Node) chainMatch {
	var m chainMatch
	cur := root

	next := soleConsumer(g, consumers, cur)
	if next != nil && next.Op == "BiasAdd" && firstInputIs(next, cur.Name) {
		ins := graph.DataInputs(next)
		// A BiasAdd whose own output fans out is not absorbable: its
		// consumers outside the chain pin the unfused value, so the whole
		// chain stays as-is.
		if len(ins) == 2 && consumers.DataFanOut(g, next.Name) <= 1 {
			m.chain = append(m.chain, next)
			m.fusedOps = append(m.fusedOps, "BiasAdd")
			m.sideInputs = append(m.sideInputs, ins[1].String())
			cur = next
			next = soleConsumer(g, consumers, cur)
		} else {
			next = nil
		}
	}
	if next != nil && firstInputIs(next, cur.Name) {
		switch {
		case fusableActivations[next.Op]:
			m.chain = append(m.chain, next)
			m.fusedOps = append(m.fusedOps, next.Op)
		case next.Op == "Prelu":
			ins := graph.DataInputs(next)
			if len(ins) == 2 && st.Resolved != nil && st.Resolved.Store.Has(ins[1].Node) {
				m.chain = append(m.chain, next)
				m.fusedOps = append(m.fusedOps, "Prelu")
				m.sideInputs = append(m.sideInputs, ins[1].String())
			}
		}
	}
	return m
}

// soleConsumer returns the one node consuming cur's data output, or nil when
// the output fans out (or is unconsumed).
func soleConsumer(g *graph.Graph, consumers graph.Consumers, cur *graph.Node) *graph.Node {
	if consumers.DataFanOut(g, cur.Name) != 1 {
		return nil
	}
	names := consumers[cur.Name]
	if len(names) != 1 {
		return nil
	}
	return g.Node(names[0])
}

func firstInputIs(n *graph.Node, producer string) bool {
	ins := graph.DataInputs(n)
	return len(ins) > 0 && ins[0].Node == producer
}

// applyFusion replaces root and the matched chain with one fused node. The
// fused node takes over the name of the last chain member so downstream
// references stay valid, inherits the root's inputs and attributes, and
// appends the absorbed side inputs in absorption order.
func applyFusion(g *graph.Graph, root *graph.Node, target string, m chainMatch) error {
	last := m.chain[len(m.chain)-1]

	fused := &graph.Node{
		Name:   last.Name,
		Op:     target,
		Device: root.Device,
		Attr:   make(map[string]*graph.AttrValue, len(root.Attr)+2),
	}
	for k, v := range root.Attr {
		fused.Attr[k] = v
	}
	fused.Attr["fused_ops"] = graph.StringListAttr(m.fusedOps...)
	fused.Attr["num_args"] = graph.IntAttr(int64(len(m.sideInputs)))

	fused.Input = append(fused.Input, root.Input...)
	fused.Input = append(fused.Input, m.sideInputs...)

	// Control deps of absorbed nodes move onto the fused node, minus edges
	// into the chain itself.
	removed := map[string]bool{root.Name: true}
	for _, n := range m.chain {
		removed[n.Name] = true
	}
	haveCtl := map[string]bool{}
	for _, ctl := range graph.ControlInputs(root) {
		haveCtl[ctl] = true
	}
	for _, n := range m.chain {
		for _, ctl := range graph.ControlInputs(n) {
			if removed[ctl] || haveCtl[ctl] {
				continue
			}
			haveCtl[ctl] = true
			fused.Input = append(fused.Input, "^"+ctl)
		}
	}

	g.Remove(root.Name)
	for _, n := range m.chain {
		g.Remove(n.Name)
	}
	if err := g.Add(fused); err != nil {
		return invariantf("fusion", "re-adding fused node %q: %v", fused.Name, err)
	}

	// The fused node took over the last chain member's name, so references
	// to that name resolve to the fused node and are not dangling.
	delete(removed, fused.Name)

	// Control references to removed chain members retarget the fused node.
	for _, n := range g.Nodes() {
		for i, in := range n.Input {
			ref := graph.ParseInput(in)
			if !removed[ref.Node] {
				continue
			}
			if !ref.Control {
				return invariantf("fusion", "node %q still reads data from removed node %q", n.Name, ref.Node)
			}
			n.Input[i] = "^" + fused.Name
		}
	}
	return nil
}
