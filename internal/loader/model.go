package loader

import (
	"github.com/mwilde234/graphport/internal/graph"
	"github.com/mwilde234/graphport/internal/tensor"
)

// TensorSpec describes one externally visible input or output.
type TensorSpec struct {
	// Name is the tensor reference inside the graph ("x:0").
	Name  string
	DType tensor.DType
	Shape []int64 // nil means unknown rank
	// ResourceID is the stable binding identifier for resource-typed
	// tensors. Populated by the resource wiring rewrite, empty otherwise.
	ResourceID string
}

// Signature is the named input/output contract of a graph.
type Signature struct {
	Key     string
	Inputs  map[string]TensorSpec
	Outputs map[string]TensorSpec
}

// ResourceBinding links an initializer-graph output to the inference-graph
// input consuming the same resource handle. ID is assigned once at load time
// and survives any later node renaming; passes consult it, never recompute it.
type ResourceBinding struct {
	InitializerOutput string // tensor ref in the initializer graph
	ModelInput        string // tensor ref in the inference graph
	ID                string
}

// Model is the normalized in-memory form every source shape loads into.
type Model struct {
	Graph     *graph.Graph
	Signature Signature

	// Initializer is the optional table/variable population subgraph.
	Initializer          *graph.Graph
	InitializerSignature *Signature

	Bindings []ResourceBinding

	// Variables holds the stored value of every variable node, keyed by
	// variable node name. Consumed by the constant resolver.
	Variables map[string]*tensor.Value

	// Assets lists auxiliary files (vocabularies etc.) referenced by the
	// graph, relative to the package directory.
	Assets []string

	// GeneratedBy records the producing framework's version stamp.
	GeneratedBy string
}
