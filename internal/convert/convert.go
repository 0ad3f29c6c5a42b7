// Package convert orchestrates the conversion pipeline: load, resolve
// constants, rewrite, pack weights, emit. Stages run strictly in sequence;
// each owns the graph exclusively while it runs. A run either emits a full
// artifact or fails with nothing usable in the output directory; re-running
// with identical inputs produces byte-identical output.
package convert

import (
	"context"
	"fmt"
	"os"

	"github.com/goccy/go-json"

	"github.com/mwilde234/graphport/internal/artifact"
	"github.com/mwilde234/graphport/internal/loader"
	"github.com/mwilde234/graphport/internal/logger"
	"github.com/mwilde234/graphport/internal/resolve"
	"github.com/mwilde234/graphport/internal/rewrite"
	"github.com/mwilde234/graphport/internal/weights"
)

// Options is the full caller-facing configuration surface of a conversion.
type Options struct {
	SourcePath string
	OutputPath string
	// FrozenGraphPath, when set, additionally writes the rewritten graph
	// as a standalone graph-def JSON file.
	FrozenGraphPath string

	SourceKind      loader.SourceKind
	Tags            []string
	SignatureKey    string
	OutputNodeNames []string

	// ControlFlow selects the output control-flow dialect. Defaults to
	// the structured dialect.
	ControlFlow   rewrite.Dialect
	StripDebugOps bool
	SkipOpCheck   bool
	// MaxShardBytes bounds each weight shard. Zero means one shard.
	MaxShardBytes int64
	// Metadata is opaque user JSON copied into the artifact verbatim.
	Metadata map[string]json.RawMessage
	// PreserveOutputNames keeps the signature's structured output keys
	// instead of renaming them to tensor names.
	PreserveOutputNames bool
	ExtraSupportedOps   []string

	// Evaluator folds constant subgraphs. Nil selects the built-in
	// static evaluator, which covers Const/Identity-closed subgraphs.
	Evaluator resolve.Evaluator

	// ConvertedBy overrides the tool provenance stamp (tests pin it).
	ConvertedBy string

	Log logger.Logger
}

// Result summarizes a completed conversion.
type Result struct {
	Model     *loader.Model
	Manifest  *weights.Manifest
	OutputDir string
}

// Run executes the pipeline for opts.
func Run(ctx context.Context, opts Options) (*Result, error) {
	log := opts.Log
	if log == nil {
		log = logger.FromContext(ctx)
	}
	if opts.OutputPath == "" {
		return nil, fmt.Errorf("convert: output path required")
	}

	target := opts.ControlFlow
	if target == "" {
		target = rewrite.DialectStructured
	}

	m, err := loader.Load(opts.SourcePath, loader.Options{
		Kind:            opts.SourceKind,
		Tags:            opts.Tags,
		SignatureKey:    opts.SignatureKey,
		OutputNodeNames: opts.OutputNodeNames,
		KeepFunctions:   target == rewrite.DialectStructured,
	})
	if err != nil {
		return nil, err
	}
	log.Info("loaded source graph", "nodes", m.Graph.Len(), "signature", m.Signature.Key)

	eval := opts.Evaluator
	if eval == nil {
		eval = resolve.StaticEvaluator{}
	}
	store := resolve.NewWeightStore()
	resolver := resolve.New(eval, m.Variables)

	resolved, err := resolver.Run(m.Graph, signatureOutputs(m.Signature), store)
	if err != nil {
		return nil, err
	}
	var resolvedInit *resolve.Result
	if m.Initializer != nil {
		initOutputs := []string(nil)
		if m.InitializerSignature != nil {
			initOutputs = signatureOutputs(*m.InitializerSignature)
		}
		resolvedInit, err = resolver.Run(m.Initializer, initOutputs, store)
		if err != nil {
			return nil, err
		}
	}
	log.Info("resolved constants", "weights", store.Len())

	st := &rewrite.State{
		Model:        m,
		Resolved:     resolved,
		ResolvedInit: resolvedInit,
		Config: rewrite.Config{
			Target:            target,
			SkipOpCheck:       opts.SkipOpCheck,
			StripDebugOps:     opts.StripDebugOps,
			ExtraSupportedOps: opts.ExtraSupportedOps,
		},
		Log: log,
	}
	if err := rewrite.Run(ctx, st); err != nil {
		return nil, err
	}
	log.Info("rewrote graph", "nodes", m.Graph.Len())

	if !opts.PreserveOutputNames {
		renameOutputKeys(&m.Signature)
	}

	manifest, err := weights.Build(store, opts.MaxShardBytes)
	if err != nil {
		return nil, err
	}
	log.Info("packed weights", "shards", len(manifest.Shards), "bytes", manifest.TotalBytes())

	a := &artifact.Artifact{
		Model:       m,
		Manifest:    manifest,
		Metadata:    opts.Metadata,
		GeneratedBy: m.GeneratedBy,
		ConvertedBy: opts.ConvertedBy,
	}
	if a.ConvertedBy == "" {
		a.ConvertedBy = toolStamp()
	}
	if err := artifact.Emit(a, opts.OutputPath); err != nil {
		return nil, err
	}
	if opts.FrozenGraphPath != "" {
		if err := artifact.EmitFrozenGraph(m.Graph, opts.FrozenGraphPath); err != nil {
			return nil, err
		}
	}
	if len(m.Assets) > 0 {
		if info, serr := os.Stat(opts.SourcePath); serr == nil && info.IsDir() {
			if err := artifact.ZipAssets(opts.SourcePath, m.Assets, opts.OutputPath); err != nil {
				return nil, err
			}
		}
	}
	log.Info("artifact written", "dir", opts.OutputPath)
	return &Result{Model: m, Manifest: manifest, OutputDir: opts.OutputPath}, nil
}

// signatureOutputs lists the output tensor refs of sig in key order.
func signatureOutputs(sig loader.Signature) []string {
	var out []string
	for _, key := range sortedKeys(sig.Outputs) {
		spec := sig.Outputs[key]
		if spec.Name != "" {
			out = append(out, spec.Name)
		}
	}
	return out
}

// renameOutputKeys rekeys signature outputs by tensor name, the layout most
// runtimes expect when structured names are not preserved.
func renameOutputKeys(sig *loader.Signature) {
	if len(sig.Outputs) == 0 {
		return
	}
	out := make(map[string]loader.TensorSpec, len(sig.Outputs))
	for _, spec := range sig.Outputs {
		key := spec.Name
		if key == "" {
			continue
		}
		out[key] = spec
	}
	if len(out) == len(sig.Outputs) {
		sig.Outputs = out
	}
}
