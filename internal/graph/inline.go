package graph

import "fmt"

// InlineFunction splices f's body into g. Every body node is added under
// prefix; body references to f's arguments are substituted with the refs in
// argRef (keyed by argument name); body-local references get the prefix.
// Nodes without inputs inherit the given control dependencies. The returned
// slice holds the graph references now producing f's results, in result
// order.
func InlineFunction(g *Graph, f *Function, prefix string, argRef map[string]string, controls []string) ([]string, error) {
	bodyNames := make(map[string]bool)
	if f.Body != nil {
		for _, bn := range f.Body.Nodes() {
			bodyNames[bn.Name] = true
		}
		for _, bn := range f.Body.Nodes() {
			nn := NewNode(prefix+bn.Name, bn.Op)
			nn.Device = bn.Device
			for k, v := range bn.Attr {
				nn.Attr[k] = v
			}
			for _, in := range bn.Input {
				nn.Input = append(nn.Input, mapBodyRef(in, prefix, bodyNames, argRef))
			}
			if len(nn.Input) == 0 {
				for _, ctl := range controls {
					nn.Input = append(nn.Input, "^"+ctl)
				}
			}
			if err := g.Add(nn); err != nil {
				return nil, fmt.Errorf("inlining %s: %w", f.Name, err)
			}
		}
	}

	out := make([]string, len(f.Results))
	for i, r := range f.Results {
		ret, ok := f.Ret[r.Name]
		if !ok {
			return nil, fmt.Errorf("function %s has no ret for result %q", f.Name, r.Name)
		}
		out[i] = mapBodyRef(ret, prefix, bodyNames, argRef)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("function %s produces no results", f.Name)
	}
	return out, nil
}

// mapBodyRef rewrites a function-body reference for an inlined copy:
// argument references become the caller-supplied refs, body-node references
// get the call-site prefix, anything else (a graph-level name captured by
// the body) passes through.
func mapBodyRef(in, prefix string, bodyNames map[string]bool, argRef map[string]string) string {
	ref := ParseInput(in)
	if sub, ok := argRef[ref.Node]; ok {
		if ref.Control {
			return "^" + ParseInput(sub).Node
		}
		return sub
	}
	if bodyNames[ref.Node] {
		mapped := InputRef{Node: prefix + ref.Node, Index: ref.Index, Control: ref.Control}
		return mapped.String()
	}
	return in
}
