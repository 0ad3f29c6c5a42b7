package rewrite

import (
	"sort"

	"github.com/mwilde234/graphport/internal/graph"
)

// checkOps scans every node (main graph, initializer, function bodies)
// against the allow-list and reports all offending op types at once. With
// SkipOpCheck set the scan still runs, but only logs.
func checkOps(st *State) error {
	allowed := supportedOps
	if len(st.Config.ExtraSupportedOps) > 0 {
		allowed = make(map[string]bool, len(supportedOps)+len(st.Config.ExtraSupportedOps))
		for op := range supportedOps {
			allowed[op] = true
		}
		for _, op := range st.Config.ExtraSupportedOps {
			allowed[op] = true
		}
	}

	missing := make(map[string]bool)
	collect := func(g *graph.Graph) {
		if g == nil {
			return
		}
		for _, n := range g.Nodes() {
			if !allowed[n.Op] {
				missing[n.Op] = true
			}
		}
		for _, f := range g.Functions() {
			if f.Body == nil {
				continue
			}
			for _, n := range f.Body.Nodes() {
				if !allowed[n.Op] {
					missing[n.Op] = true
				}
			}
		}
	}
	collect(st.Model.Graph)
	collect(st.Model.Initializer)

	if len(missing) == 0 {
		return nil
	}
	ops := make([]string, 0, len(missing))
	for op := range missing {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	if st.Config.SkipOpCheck {
		st.Log.Warn("unsupported ops passed through", "ops", ops)
		return nil
	}
	return &UnsupportedOpError{Ops: ops}
}
