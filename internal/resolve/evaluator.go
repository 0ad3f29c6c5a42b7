package resolve

import (
	"errors"
	"fmt"

	"github.com/mwilde234/graphport/internal/graph"
	"github.com/mwilde234/graphport/internal/tensor"
)

// Evaluator executes a constant subgraph and produces concrete values for the
// requested output references. The conversion pipeline treats it as a black
// box; the production implementation delegates to the source framework's
// runtime.
type Evaluator interface {
	Evaluate(g *graph.Graph, outputs []string) (map[string]*tensor.Value, error)
}

// StaticEvaluator folds the small op set that shows up in constant subgraphs
// without needing a runtime: Const, Identity and elementwise Add/Sub/Mul over
// float32 and int32. Anything else is an evaluation error, which the resolver
// surfaces as a fold failure on the offending node.
type StaticEvaluator struct{}

func (StaticEvaluator) Evaluate(g *graph.Graph, outputs []string) (map[string]*tensor.Value, error) {
	cache := make(map[string]*tensor.Value)
	out := make(map[string]*tensor.Value, len(outputs))
	for _, ref := range outputs {
		v, err := evalRef(g, ref, cache)
		if err != nil {
			return nil, err
		}
		out[ref] = v
	}
	return out, nil
}

func evalRef(g *graph.Graph, ref string, cache map[string]*tensor.Value) (*tensor.Value, error) {
	parsed := graph.ParseInput(ref)
	if parsed.Control {
		return nil, fmt.Errorf("cannot evaluate control reference %q", ref)
	}
	if parsed.Index != 0 {
		return nil, fmt.Errorf("static evaluator only handles single-output ops (ref %q)", ref)
	}
	if v, ok := cache[parsed.Node]; ok {
		return v, nil
	}
	n := g.Node(parsed.Node)
	if n == nil {
		return nil, fmt.Errorf("unknown node %q", parsed.Node)
	}
	v, err := evalNode(g, n, cache)
	if err != nil {
		return nil, err
	}
	cache[parsed.Node] = v
	return v, nil
}

func evalNode(g *graph.Graph, n *graph.Node, cache map[string]*tensor.Value) (*tensor.Value, error) {
	switch n.Op {
	case "Const":
		a, ok := n.Attr["value"]
		if !ok || a.Kind != graph.AttrTensor {
			return nil, fmt.Errorf("Const node %q has no tensor value", n.Name)
		}
		return a.Tensor, nil
	case "Identity":
		ins := graph.DataInputs(n)
		if len(ins) != 1 {
			return nil, fmt.Errorf("Identity node %q has %d inputs", n.Name, len(ins))
		}
		return evalRef(g, ins[0].String(), cache)
	case "Add", "AddV2", "Sub", "Mul":
		return evalBinary(g, n, cache)
	default:
		return nil, fmt.Errorf("op %s is outside the static evaluator's fold set", n.Op)
	}
}

func evalBinary(g *graph.Graph, n *graph.Node, cache map[string]*tensor.Value) (*tensor.Value, error) {
	ins := graph.DataInputs(n)
	if len(ins) != 2 {
		return nil, fmt.Errorf("%s node %q has %d inputs", n.Op, n.Name, len(ins))
	}
	a, err := evalRef(g, ins[0].String(), cache)
	if err != nil {
		return nil, err
	}
	b, err := evalRef(g, ins[1].String(), cache)
	if err != nil {
		return nil, err
	}
	if a.DType() != b.DType() {
		return nil, fmt.Errorf("%s node %q mixes dtypes %s and %s", n.Op, n.Name, a.DType(), b.DType())
	}
	if a.NumElements() != b.NumElements() {
		return nil, errors.New("static evaluator does not broadcast")
	}
	switch a.DType() {
	case tensor.Float32:
		av, _ := a.Float32s()
		bv, _ := b.Float32s()
		out := make([]float32, len(av))
		for i := range av {
			out[i] = applyF32(n.Op, av[i], bv[i])
		}
		return tensor.NewFloat32(a.Shape(), out)
	case tensor.Int32:
		av, _ := a.Int32s()
		bv, _ := b.Int32s()
		out := make([]int32, len(av))
		for i := range av {
			out[i] = applyI32(n.Op, av[i], bv[i])
		}
		return tensor.NewInt32(a.Shape(), out)
	default:
		return nil, fmt.Errorf("static evaluator does not fold %s over %s", n.Op, a.DType())
	}
}

func applyF32(op string, a, b float32) float32 {
	switch op {
	case "Sub":
		return a - b
	case "Mul":
		return a * b
	default:
		return a + b
	}
}

func applyI32(op string, a, b int32) int32 {
	switch op {
	case "Sub":
		return a - b
	case "Mul":
		return a * b
	default:
		return a + b
	}
}
