package rewrite

import (
	"github.com/mwilde234/graphport/internal/graph"
	"github.com/mwilde234/graphport/internal/resolve"
)

// WeightOp is the placeholder op type standing in for a resolved constant.
// Its single attribute names the manifest entry holding the value.
const WeightOp = "Weight"

// WeightNameAttr is the attribute carrying the manifest weight name.
const WeightNameAttr = "weight_name"

// materializeWeights swaps every resolved-constant node for a Weight
// placeholder referencing the manifest by name, then sweeps the interior
// constant nodes the fold subsumed. Serialization of the actual values is
// the manifest builder's job.
func materializeWeights(st *State) error {
	if err := applyMaterialize(st.Model.Graph, st.Resolved); err != nil {
		return err
	}
	return applyMaterialize(st.Model.Initializer, st.ResolvedInit)
}

func applyMaterialize(g *graph.Graph, res *resolve.Result) error {
	if g == nil || res == nil || len(res.Weights) == 0 {
		return nil
	}
	for node, weight := range res.Weights {
		n := g.Node(node)
		if n == nil {
			// Fusion only absorbs non-constant chain members; side
			// inputs keep their producing nodes. A resolved node that
			// vanished means a pass broke the store invariant.
			return invariantf("weight materialization", "resolved node %q is gone from the graph", node)
		}
		if !res.Store.Has(weight) {
			return invariantf("weight materialization", "node %q references absent weight %q", node, weight)
		}
		n.Op = WeightOp
		n.Input = nil
		n.Attr = map[string]*graph.AttrValue{
			WeightNameAttr: graph.StringAttr(weight),
		}
	}

	// Interior constants are now dead: their only consumers were other
	// folded constants whose inputs were just cleared.
	interior := make(map[string]bool, len(res.Interior))
	for _, name := range res.Interior {
		interior[name] = true
	}
	consumers := graph.BuildConsumers(g)
	for _, name := range res.Interior {
		for _, c := range consumers[name] {
			if !interior[c] {
				return invariantf("weight materialization",
					"interior constant %q still feeds live node %q", name, c)
			}
		}
	}
	for _, name := range res.Interior {
		g.Remove(name)
	}

	// Control references to swept nodes would now dangle.
	for _, n := range g.Nodes() {
		n.Input = dropControlRefs(n.Input, interior)
	}
	return nil
}
