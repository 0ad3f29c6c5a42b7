// Package graph is the in-memory dataflow graph the conversion pipeline
// rewrites. Nodes are identified by name within their owning graph; input
// references are textual ("x", "x:1" for a secondary output, "^x" for a
// control edge) so rewrites splice edges by editing strings, never pointers.
package graph

import (
	"fmt"
	"sort"
)

// Graph is a mutable collection of named nodes plus an optional library of
// function subgraphs. Iteration order is insertion order, which keeps every
// downstream traversal (and therefore the emitted artifact) deterministic.
type Graph struct {
	nodes     map[string]*Node
	order     []string
	functions map[string]*Function
	versions  Versions
}

// Versions records the producer/consumer version stamps of the source graph.
type Versions struct {
	Producer    int `json:"producer,omitempty"`
	MinConsumer int `json:"minConsumer,omitempty"`
}

// Node is one operation instance. Inputs hold raw references resolved against
// the owning graph's node names.
type Node struct {
	Name   string
	Op     string
	Device string
	Input  []string
	Attr   map[string]*AttrValue
}

// Function is a named subgraph with an explicit argument/result signature.
// Structured control-flow ops (While, If) reference functions by name.
type Function struct {
	Name    string
	Args    []ArgDef
	Results []ArgDef
	// Ret maps each result name to the body tensor reference producing it.
	Ret  map[string]string
	Body *Graph
}

// ArgDef is one typed argument or result of a Function.
type ArgDef struct {
	Name string
	Type string // dtype enum name, e.g. "DT_FLOAT"
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		nodes:     make(map[string]*Node),
		functions: make(map[string]*Function),
	}
}

// NewNode constructs a node with an initialized attribute map.
func NewNode(name, op string, inputs ...string) *Node {
	return &Node{Name: name, Op: op, Input: inputs, Attr: make(map[string]*AttrValue)}
}

// Add inserts n. Node names are unique within a graph.
func (g *Graph) Add(n *Node) error {
	if n.Name == "" {
		return fmt.Errorf("graph: node with empty name (op %s)", n.Op)
	}
	if _, ok := g.nodes[n.Name]; ok {
		return fmt.Errorf("graph: duplicate node name %q", n.Name)
	}
	if n.Attr == nil {
		n.Attr = make(map[string]*AttrValue)
	}
	g.nodes[n.Name] = n
	g.order = append(g.order, n.Name)
	return nil
}

// MustAdd is Add for construction sites where a duplicate name is a bug.
func (g *Graph) MustAdd(n *Node) *Node {
	if err := g.Add(n); err != nil {
		panic(err)
	}
	return n
}

// Node returns the named node, or nil.
func (g *Graph) Node(name string) *Node {
	return g.nodes[name]
}

// Remove deletes the named node. Removing an absent node is a no-op.
func (g *Graph) Remove(name string) {
	if _, ok := g.nodes[name]; !ok {
		return
	}
	delete(g.nodes, name)
	for i, n := range g.order {
		if n == name {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
}

// Nodes returns the nodes in insertion order. The slice is fresh; the nodes
// are shared.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, 0, len(g.order))
	for _, name := range g.order {
		out = append(out, g.nodes[name])
	}
	return out
}

// Len returns the node count.
func (g *Graph) Len() int { return len(g.order) }

// GraphVersions returns the recorded version stamps.
func (g *Graph) GraphVersions() Versions { return g.versions }

// SetVersions records the version stamps.
func (g *Graph) SetVersions(v Versions) { g.versions = v }

// AddFunction registers a function subgraph.
func (g *Graph) AddFunction(f *Function) error {
	if f.Name == "" {
		return fmt.Errorf("graph: function with empty name")
	}
	if _, ok := g.functions[f.Name]; ok {
		return fmt.Errorf("graph: duplicate function name %q", f.Name)
	}
	g.functions[f.Name] = f
	return nil
}

// Function returns the named function, or nil.
func (g *Graph) Function(name string) *Function {
	return g.functions[name]
}

// RemoveFunction deletes the named function.
func (g *Graph) RemoveFunction(name string) {
	delete(g.functions, name)
}

// Functions returns the function library sorted by name.
func (g *Graph) Functions() []*Function {
	out := make([]*Function, 0, len(g.functions))
	for _, f := range g.functions {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Clone deep-copies the graph structure. Attribute values and tensor payloads
// are shared (they are immutable by convention once loaded).
func (g *Graph) Clone() *Graph {
	out := New()
	out.versions = g.versions
	for _, n := range g.Nodes() {
		out.MustAdd(cloneNode(n))
	}
	for _, f := range g.Functions() {
		fc := &Function{
			Name:    f.Name,
			Args:    append([]ArgDef(nil), f.Args...),
			Results: append([]ArgDef(nil), f.Results...),
			Ret:     make(map[string]string, len(f.Ret)),
		}
		for k, v := range f.Ret {
			fc.Ret[k] = v
		}
		if f.Body != nil {
			fc.Body = f.Body.Clone()
		}
		_ = out.AddFunction(fc)
	}
	return out
}

func cloneNode(n *Node) *Node {
	c := &Node{
		Name:   n.Name,
		Op:     n.Op,
		Device: n.Device,
		Input:  append([]string(nil), n.Input...),
		Attr:   make(map[string]*AttrValue, len(n.Attr)),
	}
	for k, v := range n.Attr {
		c.Attr[k] = v
	}
	return c
}
