package graph

import (
	"strconv"
	"strings"
)

// InputRef is a parsed node input reference.
type InputRef struct {
	Node    string
	Index   int
	Control bool
}

// ParseInput splits a raw input reference into node name, output index and
// control flag. "x" means output 0 of x, "x:2" output 2, "^x" a control
// dependency on x (no data flows).
func ParseInput(ref string) InputRef {
	if strings.HasPrefix(ref, "^") {
		return InputRef{Node: ref[1:], Control: true}
	}
	if i := strings.LastIndexByte(ref, ':'); i >= 0 {
		if idx, err := strconv.Atoi(ref[i+1:]); err == nil && idx >= 0 {
			return InputRef{Node: ref[:i], Index: idx}
		}
	}
	return InputRef{Node: ref}
}

// String renders the reference back to its textual form.
func (r InputRef) String() string {
	if r.Control {
		return "^" + r.Node
	}
	if r.Index > 0 {
		return r.Node + ":" + strconv.Itoa(r.Index)
	}
	return r.Node
}

// DataInputs returns the parsed non-control inputs of n.
func DataInputs(n *Node) []InputRef {
	out := make([]InputRef, 0, len(n.Input))
	for _, in := range n.Input {
		if ref := ParseInput(in); !ref.Control {
			out = append(out, ref)
		}
	}
	return out
}

// ControlInputs returns the node names n depends on via control edges.
func ControlInputs(n *Node) []string {
	var out []string
	for _, in := range n.Input {
		if ref := ParseInput(in); ref.Control {
			out = append(out, ref.Node)
		}
	}
	return out
}

// ReplaceInput rewrites every data reference to oldNode on n so it points at
// newRef instead, preserving control edges untouched. It returns the number
// of rewritten inputs.
func ReplaceInput(n *Node, oldNode string, newRef InputRef) int {
	replaced := 0
	for i, in := range n.Input {
		ref := ParseInput(in)
		if ref.Control || ref.Node != oldNode {
			continue
		}
		out := newRef
		n.Input[i] = out.String()
		replaced++
	}
	return replaced
}

// Consumers maps each node name to the names of nodes consuming any of its
// data outputs, in graph insertion order. Control edges are not counted.
type Consumers map[string][]string

// BuildConsumers indexes the data-edge fan-out of every node in g.
func BuildConsumers(g *Graph) Consumers {
	out := make(Consumers, g.Len())
	for _, n := range g.Nodes() {
		seen := map[string]bool{}
		for _, ref := range DataInputs(n) {
			if seen[ref.Node] {
				continue
			}
			seen[ref.Node] = true
			out[ref.Node] = append(out[ref.Node], n.Name)
		}
	}
	return out
}

// DataFanOut counts the consuming edges of node's data outputs, counting a
// consumer once per distinct input reference.
func (c Consumers) DataFanOut(g *Graph, node string) int {
	total := 0
	for _, consumer := range c[node] {
		n := g.Node(consumer)
		if n == nil {
			continue
		}
		for _, ref := range DataInputs(n) {
			if ref.Node == node {
				total++
			}
		}
	}
	return total
}
