package loader

import (
	"fmt"

	"github.com/mwilde234/graphport/internal/graph"
)

// Call ops whose function bodies get spliced into the caller so later passes
// see one flat graph per entry point.
var callOps = map[string]bool{
	"PartitionedCall":         true,
	"StatefulPartitionedCall": true,
}

// Function-valued attributes that must keep their bodies in the library
// (structured control flow references them at run time).
var preservedFuncAttrs = []string{"cond", "body", "then_branch", "else_branch"}

const maxInlineDepth = 64

// InlineCalls replaces every function-call node in g with the function's body
// nodes, prefixed by the call-site name. Functions still referenced by
// structured control-flow ops stay in the library; functions only reachable
// through inlined call sites are dropped.
func InlineCalls(g *graph.Graph) error {
	for depth := 0; ; depth++ {
		var calls []*graph.Node
		for _, n := range g.Nodes() {
			if callOps[n.Op] {
				calls = append(calls, n)
			}
		}
		if len(calls) == 0 {
			break
		}
		if depth == maxInlineDepth {
			return fmt.Errorf("call inlining exceeded depth %d (recursive function?)", maxInlineDepth)
		}
		for _, c := range calls {
			if err := inlineOne(g, c); err != nil {
				return err
			}
		}
	}
	pruneFunctions(g)
	return nil
}

func inlineOne(g *graph.Graph, call *graph.Node) error {
	fnAttr, ok := call.Attr["f"]
	if !ok || fnAttr.Kind != graph.AttrFunc {
		return fmt.Errorf("call node %q has no function attribute", call.Name)
	}
	f := g.Function(fnAttr.Func)
	if f == nil {
		return fmt.Errorf("call node %q references unknown function %q", call.Name, fnAttr.Func)
	}

	dataIn := graph.DataInputs(call)
	if len(dataIn) != len(f.Args) {
		return fmt.Errorf("call node %q passes %d args, function %s takes %d",
			call.Name, len(dataIn), f.Name, len(f.Args))
	}
	argRef := make(map[string]string, len(f.Args))
	for i, a := range f.Args {
		argRef[a.Name] = dataIn[i].String()
	}

	outRef, err := graph.InlineFunction(g, f, call.Name+"/", argRef, graph.ControlInputs(call))
	if err != nil {
		return fmt.Errorf("at call site %s: %w", call.Name, err)
	}

	// Splice consumers onto the inlined producers.
	callName := call.Name
	g.Remove(callName)
	for _, n := range g.Nodes() {
		for i, in := range n.Input {
			ref := graph.ParseInput(in)
			if ref.Node != callName {
				continue
			}
			if ref.Control {
				n.Input[i] = "^" + graph.ParseInput(outRef[0]).Node
				continue
			}
			if ref.Index >= len(outRef) {
				return fmt.Errorf("node %q reads output %d of inlined call %q which has %d results",
					n.Name, ref.Index, callName, len(outRef))
			}
			n.Input[i] = outRef[ref.Index]
		}
	}
	return nil
}

// pruneFunctions drops library functions no remaining node references.
func pruneFunctions(g *graph.Graph) {
	referenced := make(map[string]bool)
	var mark func(name string)
	mark = func(name string) {
		if referenced[name] {
			return
		}
		referenced[name] = true
		f := g.Function(name)
		if f == nil || f.Body == nil {
			return
		}
		for _, bn := range f.Body.Nodes() {
			markNodeFuncs(bn, mark)
		}
	}
	for _, n := range g.Nodes() {
		markNodeFuncs(n, mark)
	}
	for _, f := range g.Functions() {
		if !referenced[f.Name] {
			g.RemoveFunction(f.Name)
		}
	}
}

func markNodeFuncs(n *graph.Node, mark func(string)) {
	for _, key := range preservedFuncAttrs {
		if a, ok := n.Attr[key]; ok && a.Kind == graph.AttrFunc {
			mark(a.Func)
		}
	}
	if a, ok := n.Attr["f"]; ok && a.Kind == graph.AttrFunc {
		mark(a.Func)
	}
}
