package artifact

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"

	"github.com/mwilde234/graphport/internal/graph"
	"github.com/mwilde234/graphport/internal/loader"
	"github.com/mwilde234/graphport/internal/resolve"
	"github.com/mwilde234/graphport/internal/tensor"
	"github.com/mwilde234/graphport/internal/weights"
)

func sampleArtifact(t *testing.T) *Artifact {
	t.Helper()
	g := graph.New()
	g.MustAdd(graph.NewNode("x", "Placeholder"))
	w := g.MustAdd(graph.NewNode("w", "Weight"))
	w.Attr["weight_name"] = graph.StringAttr("w")
	g.MustAdd(graph.NewNode("y", "MatMul", "x", "w"))

	store := resolve.NewWeightStore()
	v, err := tensor.NewFloat32([]int64{2, 1}, []float32{0.5, -0.5})
	if err != nil {
		t.Fatalf("NewFloat32: %v", err)
	}
	if err := store.Add("w", v); err != nil {
		t.Fatalf("store.Add: %v", err)
	}
	m, err := weights.Build(store, 4<<20)
	if err != nil {
		t.Fatalf("weights.Build: %v", err)
	}

	return &Artifact{
		Model: &loader.Model{
			Graph: g,
			Signature: loader.Signature{
				Key: "serving_default",
				Inputs: map[string]loader.TensorSpec{
					"features": {Name: "x:0", DType: tensor.Float32, Shape: []int64{1, 2}},
				},
				Outputs: map[string]loader.TensorSpec{
					"scores": {Name: "y:0", DType: tensor.Float32},
				},
			},
		},
		Manifest:    m,
		GeneratedBy: "exporter 2.4",
		ConvertedBy: "graphport 1.0.0",
	}
}

func TestEmit(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	a := sampleArtifact(t)

	if err := Emit(a, filepath.Join(dir, "out")); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	outDir := filepath.Join(dir, "out")

	blob, err := os.ReadFile(filepath.Join(outDir, ModelJSONName))
	if err != nil {
		t.Fatalf("reading model.json: %v", err)
	}
	var record struct {
		Format        string `json:"format"`
		GeneratedBy   string `json:"generatedBy"`
		ConvertedBy   string `json:"convertedBy"`
		ModelTopology struct {
			Node []struct {
				Name string `json:"name"`
				Op   string `json:"op"`
			} `json:"node"`
		} `json:"modelTopology"`
		Signature struct {
			Inputs map[string]struct {
				Name        string `json:"name"`
				DType       string `json:"dtype"`
				TensorShape struct {
					Dim []struct {
						Size string `json:"size"`
					} `json:"dim"`
				} `json:"tensorShape"`
			} `json:"inputs"`
		} `json:"signature"`
		WeightsManifest []struct {
			Paths   []string `json:"paths"`
			Weights []struct {
				Name  string  `json:"name"`
				Shape []int64 `json:"shape"`
				DType string  `json:"dtype"`
			} `json:"weights"`
		} `json:"weightsManifest"`
	}
	if err := json.Unmarshal(blob, &record); err != nil {
		t.Fatalf("model.json decode: %v", err)
	}

	if record.Format != FormatName {
		t.Fatalf("format = %q", record.Format)
	}
	if record.GeneratedBy != "exporter 2.4" || record.ConvertedBy != "graphport 1.0.0" {
		t.Fatalf("provenance = %q / %q", record.GeneratedBy, record.ConvertedBy)
	}
	if len(record.ModelTopology.Node) != 3 || record.ModelTopology.Node[1].Op != "Weight" {
		t.Fatalf("topology = %+v", record.ModelTopology.Node)
	}
	in := record.Signature.Inputs["features"]
	if in.Name != "x:0" || in.DType != "DT_FLOAT" {
		t.Fatalf("input = %+v", in)
	}
	if len(in.TensorShape.Dim) != 2 || in.TensorShape.Dim[0].Size != "1" {
		t.Fatalf("input shape = %+v", in.TensorShape)
	}

	if len(record.WeightsManifest) != 1 {
		t.Fatalf("manifest groups = %d", len(record.WeightsManifest))
	}
	group := record.WeightsManifest[0]
	if len(group.Paths) != 1 || group.Paths[0] != "group1-shard1of1.bin" {
		t.Fatalf("paths = %v", group.Paths)
	}
	if len(group.Weights) != 1 || group.Weights[0].Name != "w" || group.Weights[0].DType != "float32" {
		t.Fatalf("weights = %+v", group.Weights)
	}

	shard, err := os.ReadFile(filepath.Join(outDir, group.Paths[0]))
	if err != nil {
		t.Fatalf("reading shard: %v", err)
	}
	if len(shard) != 8 {
		t.Fatalf("shard size = %d, want 8", len(shard))
	}
}

func TestEmitEmptyManifestDefaults(t *testing.T) {
	t.Parallel()
	g := graph.New()
	g.MustAdd(graph.NewNode("x", "Placeholder"))
	m, err := weights.Build(resolve.NewWeightStore(), 0)
	if err != nil {
		t.Fatalf("weights.Build: %v", err)
	}
	a := &Artifact{Model: &loader.Model{Graph: g}, Manifest: m}

	dir := t.TempDir()
	if err := Emit(a, dir); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	blob, err := os.ReadFile(filepath.Join(dir, ModelJSONName))
	if err != nil {
		t.Fatalf("reading model.json: %v", err)
	}
	var record map[string]json.RawMessage
	if err := json.Unmarshal(blob, &record); err != nil {
		t.Fatalf("decode: %v", err)
	}
	// Empty manifest still serializes as arrays, never null.
	if string(record["weightsManifest"]) != `[{"paths":[],"weights":[]}]` {
		t.Fatalf("weightsManifest = %s", record["weightsManifest"])
	}
	if _, ok := record["signature"]; ok {
		t.Fatal("empty signature must be omitted")
	}
}

func TestEmitMetadataPassthrough(t *testing.T) {
	t.Parallel()
	a := sampleArtifact(t)
	a.Metadata = map[string]json.RawMessage{
		"training": json.RawMessage(`{"epochs":12}`),
	}
	dir := t.TempDir()
	if err := Emit(a, dir); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	blob, err := os.ReadFile(filepath.Join(dir, ModelJSONName))
	if err != nil {
		t.Fatalf("reading model.json: %v", err)
	}
	var record struct {
		UserDefinedMetadata map[string]json.RawMessage `json:"userDefinedMetadata"`
	}
	if err := json.Unmarshal(blob, &record); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(record.UserDefinedMetadata["training"]) != `{"epochs":12}` {
		t.Fatalf("metadata = %s", record.UserDefinedMetadata["training"])
	}
}

func TestEmitFrozenGraph(t *testing.T) {
	t.Parallel()
	g := graph.New()
	g.MustAdd(graph.NewNode("x", "Placeholder"))
	g.MustAdd(graph.NewNode("y", "Identity", "x"))

	path := filepath.Join(t.TempDir(), "graph.json")
	if err := EmitFrozenGraph(g, path); err != nil {
		t.Fatalf("EmitFrozenGraph: %v", err)
	}
	blob, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading graph: %v", err)
	}
	var back graph.Graph
	if err := json.Unmarshal(blob, &back); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if back.Len() != 2 || back.Node("y") == nil {
		t.Fatalf("round trip len = %d", back.Len())
	}
}

func TestZipAssets(t *testing.T) {
	t.Parallel()
	srcDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(srcDir, "assets"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(srcDir, "assets", "vocab.txt"), []byte("hello\nworld\n"), 0o644); err != nil {
		t.Fatalf("writing asset: %v", err)
	}

	outDir := t.TempDir()
	if err := ZipAssets(srcDir, []string{"assets/vocab.txt"}, outDir); err != nil {
		t.Fatalf("ZipAssets: %v", err)
	}

	zr, err := zip.OpenReader(filepath.Join(outDir, AssetsZipName))
	if err != nil {
		t.Fatalf("opening archive: %v", err)
	}
	defer func() { _ = zr.Close() }()
	if len(zr.File) != 1 || zr.File[0].Name != "assets/vocab.txt" {
		t.Fatalf("archive contents = %+v", zr.File)
	}
}

func TestZipAssetsNoAssets(t *testing.T) {
	t.Parallel()
	outDir := t.TempDir()
	if err := ZipAssets(t.TempDir(), nil, outDir); err != nil {
		t.Fatalf("ZipAssets: %v", err)
	}
	if _, err := os.Stat(filepath.Join(outDir, AssetsZipName)); !os.IsNotExist(err) {
		t.Fatal("no archive should be written without assets")
	}
}
