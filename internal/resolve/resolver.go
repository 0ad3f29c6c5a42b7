// Package resolve identifies the constant-foldable part of a graph and
// extracts concrete tensor values into a WeightStore. Nodes whose output is
// transitively constant (or is a stored variable value) end up either as
// named weights (when a runtime-dependent node consumes them) or as interior
// nodes subsumed into a downstream weight.
package resolve

import (
	"github.com/mwilde234/graphport/internal/graph"
	"github.com/mwilde234/graphport/internal/tensor"
)

// Ops whose output can never be folded even when every input is constant.
var unfoldableOps = map[string]bool{
	"Placeholder":          true,
	"PlaceholderV2":        true,
	"PlaceholderWithDefault": true,
	"RandomUniform":        true,
	"RandomStandardNormal": true,
	"Multinomial":          true,
	"Switch":               true,
	"Merge":                true,
	"Enter":                true,
	"Exit":                 true,
	"NextIteration":        true,
	"LoopCond":             true,
	"While":                true,
	"StatelessWhile":       true,
	"If":                   true,
	"StatelessIf":          true,
	"Assert":               true,
	"Print":                true,
	"PrintV2":              true,
	"NoOp":                 true,
	"HashTableV2":          true,
	"LookupTableImportV2":  true,
	"LookupTableFindV2":    true,
	"VarHandleOp":          true,
	"AssignVariableOp":     true,
	"Weight":               true,
}

// Variable ops whose value comes from the package's stored variables rather
// than from evaluation.
var classicVariableOps = map[string]bool{
	"VariableV2": true,
	"Variable":   true,
}

// Result is what the resolver hands the rewriter: the filled store, the set
// of graph nodes that became weights, and the interior constant nodes that
// were folded away into them.
type Result struct {
	Store *WeightStore
	// Weights maps node name → weight name for nodes replaced by a
	// manifest reference. Weight names equal node names today; the split
	// exists so renames stay a resolver-local decision.
	Weights map[string]string
	// Interior lists constant nodes subsumed into downstream weights, in
	// graph order. The weight materialization pass removes them.
	Interior []string
}

// Resolver performs constancy analysis and value extraction.
type Resolver struct {
	eval      Evaluator
	variables map[string]*tensor.Value
}

// New builds a resolver around the given evaluator and the variable values
// read from the source package.
func New(eval Evaluator, variables map[string]*tensor.Value) *Resolver {
	return &Resolver{eval: eval, variables: variables}
}

// Run analyzes g and fills store. Outputs names the graph's designated output
// nodes; constant nodes feeding only other constants stay interior, constant
// nodes read by runtime-dependent consumers (or listed as outputs) become
// weights. Weight insertion order follows the (deterministic) topological
// order of g.
func (r *Resolver) Run(g *graph.Graph, outputs []string, store *WeightStore) (*Result, error) {
	order, err := g.TopoSort()
	if err != nil {
		return nil, err
	}

	isConst := make(map[string]bool, g.Len())
	for _, name := range order {
		n := g.Node(name)
		isConst[name] = r.nodeIsConst(g, n, isConst)
	}

	outputSet := make(map[string]bool, len(outputs))
	for _, o := range outputs {
		outputSet[graph.ParseInput(o).Node] = true
	}

	consumers := graph.BuildConsumers(g)
	res := &Result{Store: store, Weights: make(map[string]string)}

	// Frontier pass: decide, in topological order, which constant nodes
	// must materialize as weights.
	var toEvaluate []string
	for _, name := range order {
		if !isConst[name] {
			continue
		}
		frontier := outputSet[name]
		for _, c := range consumers[name] {
			if !isConst[c] {
				frontier = true
				break
			}
		}
		if !frontier {
			res.Interior = append(res.Interior, name)
			continue
		}
		res.Weights[name] = name
		n := g.Node(name)
		switch {
		case n.Op == "Const":
			v, verr := constValue(n)
			if verr != nil {
				return nil, &ConstantFoldError{Node: name, Err: verr}
			}
			if err := store.Add(name, v); err != nil {
				return nil, err
			}
		case r.variableValue(g, n) != nil:
			if err := store.Add(name, r.variableValue(g, n)); err != nil {
				return nil, err
			}
		default:
			toEvaluate = append(toEvaluate, name)
		}
	}

	if len(toEvaluate) > 0 {
		if err := r.evaluateInto(g, toEvaluate, store); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// evaluateInto asks the runtime collaborator for the remaining frontier
// values. Evaluated weights land after the Const and variable weights the
// frontier pass already stored; within that tail the order is the frontier
// pass's, re-walked from names rather than the evaluator's map, keeping the
// store deterministic across runs.
func (r *Resolver) evaluateInto(g *graph.Graph, names []string, store *WeightStore) error {
	refs := make([]string, len(names))
	for i, n := range names {
		refs[i] = n + ":0"
	}
	values, err := r.eval.Evaluate(g, refs)
	if err != nil {
		return &ConstantFoldError{Node: names[0], Err: err}
	}
	for i, name := range names {
		v, ok := values[refs[i]]
		if !ok || v == nil {
			return &ConstantFoldError{Node: name, Err: errMissingValue}
		}
		if err := store.Add(name, v); err != nil {
			return err
		}
	}
	return nil
}

func (r *Resolver) nodeIsConst(g *graph.Graph, n *graph.Node, isConst map[string]bool) bool {
	if n.Op == "Const" {
		return true
	}
	if r.variableValue(g, n) != nil {
		return true
	}
	if unfoldableOps[n.Op] {
		return false
	}
	if len(n.Input) == 0 {
		// Input-free non-Const ops (placeholders are filtered above, the
		// rest are op-defined sources) are not foldable.
		return false
	}
	for _, in := range n.Input {
		ref := graph.ParseInput(in)
		if !isConst[ref.Node] {
			return false
		}
	}
	return true
}

// variableValue resolves n to a stored variable value when n is a variable
// node (classic dialect) or a read of a variable handle.
func (r *Resolver) variableValue(g *graph.Graph, n *graph.Node) *tensor.Value {
	if r.variables == nil {
		return nil
	}
	if classicVariableOps[n.Op] {
		return r.variables[n.Name]
	}
	if n.Op == "ReadVariableOp" {
		ins := graph.DataInputs(n)
		if len(ins) != 1 {
			return nil
		}
		return r.variables[ins[0].Node]
	}
	return nil
}

func constValue(n *graph.Node) (*tensor.Value, error) {
	a, ok := n.Attr["value"]
	if !ok || a.Kind != graph.AttrTensor || a.Tensor == nil {
		return nil, errNoConstValue
	}
	return a.Tensor, nil
}
