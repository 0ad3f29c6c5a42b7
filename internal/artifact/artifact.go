// Package artifact serializes a rewritten model into the web artifact
// layout: a model.json carrying topology, signatures, the weights manifest
// and provenance, plus one binary file per weight shard. This stage is a
// pure serializer; all validation happened upstream.
package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/mwilde234/graphport/internal/graph"
	"github.com/mwilde234/graphport/internal/loader"
	"github.com/mwilde234/graphport/internal/weights"
)

// ModelJSONName is the artifact's JSON file name.
const ModelJSONName = "model.json"

// FormatName identifies the artifact format in the JSON record.
const FormatName = "graph-model"

// SerializationError reports a value that could not be encoded into the
// target JSON/binary form.
type SerializationError struct {
	What string
	Err  error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("artifact: cannot serialize %s: %v", e.What, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// Artifact is everything the emitter assembles into the output directory.
type Artifact struct {
	Model    *loader.Model
	Manifest *weights.Manifest
	// Metadata is opaque caller-supplied JSON, passed through untouched.
	Metadata map[string]json.RawMessage
	// GeneratedBy is the source framework's version stamp.
	GeneratedBy string
	// ConvertedBy names this tool and its version.
	ConvertedBy string
}

type modelJSON struct {
	Format               string                     `json:"format"`
	GeneratedBy          string                     `json:"generatedBy"`
	ConvertedBy          string                     `json:"convertedBy"`
	ModelTopology        *graph.Graph               `json:"modelTopology"`
	ModelInitializer     *graph.Graph               `json:"modelInitializer,omitempty"`
	Signature            *signatureJSON             `json:"signature,omitempty"`
	InitializerSignature *signatureJSON             `json:"initializerSignature,omitempty"`
	WeightsManifest      []manifestGroupJSON        `json:"weightsManifest"`
	UserDefinedMetadata  map[string]json.RawMessage `json:"userDefinedMetadata,omitempty"`
}

type signatureJSON struct {
	Inputs  map[string]tensorInfoJSON `json:"inputs,omitempty"`
	Outputs map[string]tensorInfoJSON `json:"outputs,omitempty"`
}

type tensorInfoJSON struct {
	Name        string     `json:"name"`
	DType       string     `json:"dtype,omitempty"`
	TensorShape *shapeJSON `json:"tensorShape,omitempty"`
	ResourceID  string     `json:"resourceId,omitempty"`
}

type shapeJSON struct {
	Dim []dimJSON `json:"dim,omitempty"`
}

type dimJSON struct {
	Size string `json:"size"`
}

type manifestGroupJSON struct {
	Paths   []string           `json:"paths"`
	Weights []weightRecordJSON `json:"weights"`
}

type weightRecordJSON struct {
	Name  string  `json:"name"`
	Shape []int64 `json:"shape"`
	DType string  `json:"dtype"`
}

// Emit writes model.json and the shard files into outDir, creating it as
// needed. Shard files are named deterministically by shard index.
func Emit(a *Artifact, outDir string) error {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("artifact: %w", err)
	}

	record, err := buildRecord(a)
	if err != nil {
		return err
	}
	blob, err := json.Marshal(record)
	if err != nil {
		return &SerializationError{What: "model record", Err: err}
	}
	if err := os.WriteFile(filepath.Join(outDir, ModelJSONName), blob, 0o644); err != nil {
		return fmt.Errorf("artifact: %w", err)
	}

	names := a.Manifest.FileNames()
	for i, shard := range a.Manifest.Shards {
		if err := os.WriteFile(filepath.Join(outDir, names[i]), shard.Data, 0o644); err != nil {
			return fmt.Errorf("artifact: shard %d: %w", i, err)
		}
	}
	return nil
}

// EmitFrozenGraph writes the rewritten graph alone as a graph-def JSON file,
// the companion format for callers that want topology without the manifest.
func EmitFrozenGraph(g *graph.Graph, path string) error {
	blob, err := json.Marshal(g)
	if err != nil {
		return &SerializationError{What: "frozen graph", Err: err}
	}
	if err := os.WriteFile(path, blob, 0o644); err != nil {
		return fmt.Errorf("artifact: %w", err)
	}
	return nil
}

func buildRecord(a *Artifact) (*modelJSON, error) {
	m := &modelJSON{
		Format:           FormatName,
		GeneratedBy:      a.GeneratedBy,
		ConvertedBy:      a.ConvertedBy,
		ModelTopology:    a.Model.Graph,
		ModelInitializer: a.Model.Initializer,
	}
	m.Signature = signatureToJSON(&a.Model.Signature)
	if a.Model.InitializerSignature != nil {
		m.InitializerSignature = signatureToJSON(a.Model.InitializerSignature)
	}

	group := manifestGroupJSON{Paths: a.Manifest.FileNames()}
	if group.Paths == nil {
		group.Paths = []string{}
	}
	for _, e := range a.Manifest.Entries {
		shape := e.Shape
		if shape == nil {
			shape = []int64{}
		}
		group.Weights = append(group.Weights, weightRecordJSON{
			Name:  e.Name,
			Shape: shape,
			DType: string(e.DType),
		})
	}
	if group.Weights == nil {
		group.Weights = []weightRecordJSON{}
	}
	m.WeightsManifest = []manifestGroupJSON{group}

	if len(a.Metadata) > 0 {
		m.UserDefinedMetadata = a.Metadata
	}
	return m, nil
}

func signatureToJSON(sig *loader.Signature) *signatureJSON {
	if sig == nil || (len(sig.Inputs) == 0 && len(sig.Outputs) == 0) {
		return nil
	}
	out := &signatureJSON{}
	if len(sig.Inputs) > 0 {
		out.Inputs = make(map[string]tensorInfoJSON, len(sig.Inputs))
		for name, spec := range sig.Inputs {
			out.Inputs[name] = tensorInfoToJSON(spec)
		}
	}
	if len(sig.Outputs) > 0 {
		out.Outputs = make(map[string]tensorInfoJSON, len(sig.Outputs))
		for name, spec := range sig.Outputs {
			out.Outputs[name] = tensorInfoToJSON(spec)
		}
	}
	return out
}

func tensorInfoToJSON(spec loader.TensorSpec) tensorInfoJSON {
	out := tensorInfoJSON{
		Name:       spec.Name,
		ResourceID: spec.ResourceID,
	}
	if spec.DType != "" {
		out.DType = spec.DType.ProtoName()
	}
	if spec.Shape != nil {
		sh := &shapeJSON{}
		for _, d := range spec.Shape {
			sh.Dim = append(sh.Dim, dimJSON{Size: strconv.FormatInt(d, 10)})
		}
		out.TensorShape = sh
	}
	return out
}
