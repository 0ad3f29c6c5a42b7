// Package rewrite runs the ordered structural transformation passes over a
// loaded model: op support checking, control-flow dialect normalization,
// operator fusion, resource wiring, debug-op stripping and weight
// materialization. Every pass is idempotent; pass order is fixed because
// later passes rely on patterns earlier passes remove.
package rewrite

import (
	"context"

	"github.com/mwilde234/graphport/internal/loader"
	"github.com/mwilde234/graphport/internal/logger"
	"github.com/mwilde234/graphport/internal/resolve"
)

// Dialect names a control-flow representation.
type Dialect string

const (
	// DialectClassic is the Switch/Merge/Enter/Exit dataflow dialect.
	DialectClassic Dialect = "classic"
	// DialectStructured is the While/If dialect with function bodies.
	DialectStructured Dialect = "structured"
)

// Config is the caller-facing knob set of the rewriter.
type Config struct {
	// Target selects the control-flow dialect of the output graph.
	Target Dialect
	// SkipOpCheck lets unsupported ops pass through verbatim, shifting
	// the failure to the downstream runtime.
	SkipOpCheck bool
	// StripDebugOps removes assertion/print/numeric-check nodes with no
	// data consumers.
	StripDebugOps bool
	// ExtraSupportedOps extends the allow-list for this run.
	ExtraSupportedOps []string
}

// State threads the mutable conversion state through the passes.
type State struct {
	Model *loader.Model
	// Resolved is the constant-resolution result for the inference graph;
	// ResolvedInit the one for the initializer graph, when present. Both
	// share one weight store.
	Resolved     *resolve.Result
	ResolvedInit *resolve.Result
	Config       Config
	Log          logger.Logger
}

type pass struct {
	name string
	run  func(*State) error
}

// Run applies the pass sequence to st.Model. Failures abort immediately; the
// model may be partially rewritten and must be discarded.
func Run(ctx context.Context, st *State) error {
	if st.Log == nil {
		st.Log = logger.FromContext(ctx)
	}
	if st.Config.Target == "" {
		st.Config.Target = DialectStructured
	}
	passes := []pass{
		{"op check", checkOps},
		{"control flow", normalizeControlFlow},
		{"fusion", fuseOps},
		{"resource wiring", wireResources},
		{"debug strip", stripDebugOps},
		{"weight materialization", materializeWeights},
	}
	for _, p := range passes {
		if err := p.run(st); err != nil {
			return err
		}
		st.Log.Debug("rewrite pass complete", "pass", p.name, "nodes", st.Model.Graph.Len())
	}
	if err := st.Model.Graph.Validate(); err != nil {
		return invariantf("final validation", "%v", err)
	}
	if st.Model.Initializer != nil {
		if err := st.Model.Initializer.Validate(); err != nil {
			return invariantf("final validation", "initializer: %v", err)
		}
	}
	return nil
}
