package graph

import (
	"fmt"

	"github.com/goccy/go-json"
)

// The JSON layout mirrors the serialized graph-def convention so emitted
// topology is directly consumable by web runtimes: a node list, version
// stamps and an optional function library.

type nodeJSON struct {
	Name   string                `json:"name"`
	Op     string                `json:"op"`
	Input  []string              `json:"input,omitempty"`
	Device string                `json:"device,omitempty"`
	Attr   map[string]*AttrValue `json:"attr,omitempty"`
}

type graphJSON struct {
	Node     []nodeJSON   `json:"node"`
	Versions *Versions    `json:"versions,omitempty"`
	Library  *libraryJSON `json:"library,omitempty"`
}

type libraryJSON struct {
	Function []functionJSON `json:"function,omitempty"`
}

type functionJSON struct {
	Signature functionSigJSON   `json:"signature"`
	NodeDef   []nodeJSON        `json:"nodeDef,omitempty"`
	Ret       map[string]string `json:"ret,omitempty"`
}

type functionSigJSON struct {
	Name      string       `json:"name"`
	InputArg  []argDefJSON `json:"inputArg,omitempty"`
	OutputArg []argDefJSON `json:"outputArg,omitempty"`
}

type argDefJSON struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

func nodeToJSON(n *Node) nodeJSON {
	out := nodeJSON{Name: n.Name, Op: n.Op, Input: n.Input, Device: n.Device}
	if len(n.Attr) > 0 {
		out.Attr = n.Attr
	}
	return out
}

func nodeFromJSON(jn nodeJSON) *Node {
	n := &Node{Name: jn.Name, Op: jn.Op, Device: jn.Device, Input: jn.Input, Attr: jn.Attr}
	if n.Attr == nil {
		n.Attr = make(map[string]*AttrValue)
	}
	return n
}

// MarshalJSON serializes the graph as {node, versions, library}.
func (g *Graph) MarshalJSON() ([]byte, error) {
	out := graphJSON{Node: make([]nodeJSON, 0, g.Len())}
	for _, n := range g.Nodes() {
		out.Node = append(out.Node, nodeToJSON(n))
	}
	if g.versions != (Versions{}) {
		v := g.versions
		out.Versions = &v
	}
	if fns := g.Functions(); len(fns) > 0 {
		lib := &libraryJSON{}
		for _, f := range fns {
			jf, err := functionToJSON(f)
			if err != nil {
				return nil, err
			}
			lib.Function = append(lib.Function, jf)
		}
		out.Library = lib
	}
	return json.Marshal(out)
}

// UnmarshalJSON parses a serialized graph-def into g, replacing its contents.
func (g *Graph) UnmarshalJSON(data []byte) error {
	var in graphJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	fresh := New()
	for _, jn := range in.Node {
		if err := fresh.Add(nodeFromJSON(jn)); err != nil {
			return err
		}
	}
	if in.Versions != nil {
		fresh.versions = *in.Versions
	}
	if in.Library != nil {
		for _, jf := range in.Library.Function {
			f, err := functionFromJSON(jf)
			if err != nil {
				return err
			}
			if err := fresh.AddFunction(f); err != nil {
				return err
			}
		}
	}
	*g = *fresh
	return nil
}

func functionToJSON(f *Function) (functionJSON, error) {
	out := functionJSON{
		Signature: functionSigJSON{Name: f.Name},
		Ret:       f.Ret,
	}
	for _, a := range f.Args {
		out.Signature.InputArg = append(out.Signature.InputArg, argDefJSON{Name: a.Name, Type: a.Type})
	}
	for _, r := range f.Results {
		out.Signature.OutputArg = append(out.Signature.OutputArg, argDefJSON{Name: r.Name, Type: r.Type})
	}
	if f.Body != nil {
		for _, n := range f.Body.Nodes() {
			out.NodeDef = append(out.NodeDef, nodeToJSON(n))
		}
	}
	return out, nil
}

func functionFromJSON(jf functionJSON) (*Function, error) {
	if jf.Signature.Name == "" {
		return nil, fmt.Errorf("graph: function without a name")
	}
	f := &Function{
		Name: jf.Signature.Name,
		Ret:  jf.Ret,
		Body: New(),
	}
	if f.Ret == nil {
		f.Ret = make(map[string]string)
	}
	for _, a := range jf.Signature.InputArg {
		f.Args = append(f.Args, ArgDef{Name: a.Name, Type: a.Type})
	}
	for _, r := range jf.Signature.OutputArg {
		f.Results = append(f.Results, ArgDef{Name: r.Name, Type: r.Type})
	}
	for _, jn := range jf.NodeDef {
		if err := f.Body.Add(nodeFromJSON(jn)); err != nil {
			return nil, fmt.Errorf("graph: function %s: %w", f.Name, err)
		}
	}
	return f, nil
}
