package rewrite

import (
	"github.com/mwilde234/graphport/internal/graph"
)

// Debug ops are value-neutral: removing one never changes what flows through
// retained nodes, provided nothing consumes its data output.
var debugOps = map[string]bool{
	"Assert":        true,
	"CheckNumerics": true,
	"Print":         true,
	"PrintV2":       true,
}

// stripDebugOps removes assertion/print/numeric-check nodes without data
// consumers, plus the control edges pointing at them. Gated by config.
func stripDebugOps(st *State) error {
	if !st.Config.StripDebugOps {
		return nil
	}
	g := st.Model.Graph
	for {
		consumers := graph.BuildConsumers(g)
		var doomed []string
		for _, n := range g.Nodes() {
			if debugOps[n.Op] && len(consumers[n.Name]) == 0 {
				doomed = append(doomed, n.Name)
			}
		}
		if len(doomed) == 0 {
			return nil
		}
		doomedSet := make(map[string]bool, len(doomed))
		for _, name := range doomed {
			doomedSet[name] = true
			g.Remove(name)
		}
		for _, n := range g.Nodes() {
			n.Input = dropControlRefs(n.Input, doomedSet)
		}
		st.Log.Debug("stripped debug ops", "count", len(doomed))
	}
}

func dropControlRefs(inputs []string, gone map[string]bool) []string {
	out := inputs[:0]
	for _, in := range inputs {
		ref := graph.ParseInput(in)
		if ref.Control && gone[ref.Node] {
			continue
		}
		out = append(out, in)
	}
	return out
}
