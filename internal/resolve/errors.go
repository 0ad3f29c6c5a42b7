package resolve

import "fmt"

// ConstantFoldError reports a node that was classified constant but whose
// evaluation failed. It either means the constancy analysis misclassified a
// runtime-dependent node, or the evaluator itself failed.
type ConstantFoldError struct {
	Node string
	Err  error
}

func (e *ConstantFoldError) Error() string {
	return fmt.Sprintf("resolve: constant folding of node %q failed: %v", e.Node, e.Err)
}

func (e *ConstantFoldError) Unwrap() error { return e.Err }
