package graph

import "fmt"

// Validate checks that every input reference (data and control) resolves to a
// node in g. It returns the first dangling reference found, walking nodes in
// insertion order.
func (g *Graph) Validate() error {
	for _, n := range g.Nodes() {
		for _, in := range n.Input {
			ref := ParseInput(in)
			if g.Node(ref.Node) == nil {
				return fmt.Errorf("graph: node %q input %q references unknown node %q", n.Name, in, ref.Node)
			}
		}
	}
	return nil
}

// TopoSort returns the node names of g in dependency order: every node
// appears after all nodes it references (data or control). Ties are broken by
// insertion order, so the result is deterministic for a given graph history.
// Cycles (legal in the classic control-flow dialect via NextIteration back
// edges) are broken by ignoring inputs from NextIteration nodes.
func (g *Graph) TopoSort() ([]string, error) {
	indegree := make(map[string]int, g.Len())
	dependents := make(map[string][]string, g.Len())

	for _, n := range g.Nodes() {
		indegree[n.Name] += 0
		seen := map[string]bool{}
		for _, in := range n.Input {
			ref := ParseInput(in)
			dep := g.Node(ref.Node)
			if dep == nil {
				return nil, fmt.Errorf("graph: node %q references unknown node %q", n.Name, ref.Node)
			}
			if dep.Op == "NextIteration" || seen[ref.Node] {
				continue
			}
			seen[ref.Node] = true
			indegree[n.Name]++
			dependents[ref.Node] = append(dependents[ref.Node], n.Name)
		}
	}

	// Ready queue seeded and drained in insertion order.
	var ready []string
	for _, name := range g.order {
		if indegree[name] == 0 {
			ready = append(ready, name)
		}
	}

	out := make([]string, 0, g.Len())
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		out = append(out, name)
		for _, dep := range dependents[name] {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}
	if len(out) != g.Len() {
		return nil, fmt.Errorf("graph: cycle detected (%d of %d nodes ordered)", len(out), g.Len())
	}
	return out, nil
}

// Reachable returns the set of node names reachable from the given roots by
// walking input edges backwards (i.e. everything the roots depend on,
// including the roots themselves).
func (g *Graph) Reachable(roots []string) map[string]bool {
	seen := make(map[string]bool)
	stack := append([]string(nil), roots...)
	for len(stack) > 0 {
		name := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[name] {
			continue
		}
		n := g.Node(name)
		if n == nil {
			continue
		}
		seen[name] = true
		for _, in := range n.Input {
			stack = append(stack, ParseInput(in).Node)
		}
	}
	return seen
}
