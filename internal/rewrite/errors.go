package rewrite

import (
	"fmt"
	"strings"
)

// UnsupportedOpError lists every operator in the graph that has no
// target-runtime equivalent. It is raised by the op check pass unless the
// caller opted out of the check.
type UnsupportedOpError struct {
	Ops []string
}

func (e *UnsupportedOpError) Error() string {
	return fmt.Sprintf("rewrite: unsupported ops: %s", strings.Join(e.Ops, ", "))
}

// InvariantError reports an internal consistency violation inside a rewrite
// pass (a dangling reference after fusion, a duplicate weight name). It is a
// defect in the rewriter, never user error, and is always fatal.
type InvariantError struct {
	Pass string
	Msg  string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("rewrite: %s pass invariant violated: %s", e.Pass, e.Msg)
}

func invariantf(pass, format string, args ...any) *InvariantError {
	return &InvariantError{Pass: pass, Msg: fmt.Sprintf(format, args...)}
}
