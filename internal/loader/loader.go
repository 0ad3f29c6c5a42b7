// Package loader reads a source package (saved-model bundle, hub module or
// frozen graph) and normalizes it into one in-memory Model. Beyond structural
// normalization (function-call inlining) no graph mutation happens here.
package loader

import (
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/mwilde234/graphport/internal/graph"
	"github.com/mwilde234/graphport/internal/tensor"
)

// SourceKind selects how a source path is interpreted.
type SourceKind string

const (
	// KindAuto sniffs the source: a directory containing the bundle file is
	// a saved model, anything else is treated as a frozen graph file.
	KindAuto SourceKind = ""
	// KindSavedModel is a package directory with tagged meta-graphs.
	KindSavedModel SourceKind = "saved_model"
	// KindHubModule is a saved-model directory with hub conventions for
	// default tag ("serve") and signature ("default").
	KindHubModule SourceKind = "hub_module"
	// KindFrozenGraph is a single graph-def file with inlined constants.
	KindFrozenGraph SourceKind = "frozen_graph"
)

const (
	defaultTag          = "serve"
	defaultSignatureKey = "serving_default"
	hubSignatureKey     = "default"
)

// Options selects what to load from the source package.
type Options struct {
	Kind SourceKind
	// Tags selects the meta-graph. Defaults to ["serve"].
	Tags []string
	// SignatureKey selects the signature. Defaults to "serving_default"
	// ("default" for hub modules).
	SignatureKey string
	// OutputNodeNames names the graph outputs for frozen graphs, which
	// carry no signature of their own.
	OutputNodeNames []string
	// KeepFunctions disables call-site inlining of the function library,
	// used when the structured control-flow dialect must keep its bodies.
	KeepFunctions bool
}

// Load reads the package at path and produces the normalized model.
func Load(path string, opts Options) (*Model, error) {
	kind := opts.Kind
	if kind == KindAuto {
		kind = sniffKind(path)
	}
	switch kind {
	case KindSavedModel, KindHubModule:
		return loadBundleDir(path, kind, opts)
	case KindFrozenGraph:
		return loadFrozenGraph(path, opts)
	default:
		return nil, loadErrf(path, nil, "unknown source kind %q", kind)
	}
}

func sniffKind(path string) SourceKind {
	info, err := os.Stat(path)
	if err == nil && info.IsDir() {
		return KindSavedModel
	}
	return KindFrozenGraph
}

func loadBundleDir(dir string, kind SourceKind, opts Options) (*Model, error) {
	bundlePath := filepath.Join(dir, BundleFileName)
	b, err := readBundle(bundlePath)
	if err != nil {
		return nil, err
	}

	tags := opts.Tags
	if len(tags) == 0 {
		tags = []string{defaultTag}
	}
	mg, err := b.selectMetaGraph(bundlePath, tags)
	if err != nil {
		return nil, err
	}

	sigKey := opts.SignatureKey
	if sigKey == "" {
		if kind == KindHubModule {
			sigKey = hubSignatureKey
		} else {
			sigKey = defaultSignatureKey
		}
	}
	sigJSON, ok := mg.Signatures[sigKey]
	if !ok {
		return nil, loadErrf(bundlePath, nil, "no signature %q (available: %v)", sigKey, sortedKeys(mg.Signatures))
	}
	if mg.Graph == nil {
		return nil, loadErrf(bundlePath, nil, "meta-graph %v has no graph", tags)
	}

	vars, err := variablesFromJSON(bundlePath, mg.Variables)
	if err != nil {
		return nil, err
	}

	m := &Model{
		Graph:       mg.Graph,
		Signature:   signatureFromJSON(sigKey, sigJSON),
		Initializer: mg.InitializerGraph,
		Variables:   vars,
		Assets:      append([]string(nil), mg.Assets...),
		GeneratedBy: b.GeneratedBy,
	}
	if mg.InitializerSignature != nil {
		sig := signatureFromJSON("__init__", *mg.InitializerSignature)
		m.InitializerSignature = &sig
	}
	for _, bj := range mg.ResourceBindings {
		m.Bindings = append(m.Bindings, ResourceBinding{
			InitializerOutput: bj.InitializerOutput,
			ModelInput:        bj.ModelInput,
			ID:                uuid.NewString(),
		})
	}

	if !opts.KeepFunctions {
		if err := InlineCalls(m.Graph); err != nil {
			return nil, loadErrf(bundlePath, err, "inlining function calls")
		}
		if m.Initializer != nil {
			if err := InlineCalls(m.Initializer); err != nil {
				return nil, loadErrf(bundlePath, err, "inlining initializer calls")
			}
		}
	}
	if err := m.Graph.Validate(); err != nil {
		return nil, loadErrf(bundlePath, err, "graph fails validation")
	}
	return m, nil
}

func loadFrozenGraph(path string, opts Options) (*Model, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, loadErrf(path, err, "cannot read frozen graph")
	}
	g := graph.New()
	if err := json.Unmarshal(raw, g); err != nil {
		return nil, loadErrf(path, err, "malformed frozen graph")
	}
	if len(opts.OutputNodeNames) == 0 {
		return nil, loadErrf(path, nil, "frozen graphs require explicit output node names")
	}

	sig := Signature{
		Key:     opts.SignatureKey,
		Inputs:  map[string]TensorSpec{},
		Outputs: map[string]TensorSpec{},
	}
	// Frozen graphs carry no input descriptors; placeholders stand in.
	for _, n := range g.Nodes() {
		if n.Op != "Placeholder" && n.Op != "PlaceholderV2" {
			continue
		}
		spec := TensorSpec{Name: n.Name + ":0"}
		if a, ok := n.Attr["dtype"]; ok && a.Kind == graph.AttrType {
			spec.DType = a.Type
		}
		if a, ok := n.Attr["shape"]; ok && a.Kind == graph.AttrShape {
			spec.Shape = a.Shape
		}
		sig.Inputs[n.Name] = spec
	}
	for _, name := range opts.OutputNodeNames {
		n := g.Node(name)
		if n == nil {
			return nil, loadErrf(path, nil, "output node %q not found", name)
		}
		spec := TensorSpec{Name: name + ":0"}
		if a, ok := n.Attr["T"]; ok && a.Kind == graph.AttrType {
			spec.DType = a.Type
		} else if a, ok := n.Attr["dtype"]; ok && a.Kind == graph.AttrType {
			spec.DType = a.Type
		}
		sig.Outputs[name] = spec
	}

	if !opts.KeepFunctions {
		if err := InlineCalls(g); err != nil {
			return nil, loadErrf(path, err, "inlining function calls")
		}
	}
	if err := g.Validate(); err != nil {
		return nil, loadErrf(path, err, "graph fails validation")
	}
	return &Model{Graph: g, Signature: sig}, nil
}

// ResourceDType reports whether a signature spec names a resource tensor.
func ResourceDType(spec TensorSpec) bool {
	return spec.DType == tensor.Resource
}
