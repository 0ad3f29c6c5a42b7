package convert

import (
	"context"
	"encoding/base64"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"github.com/mwilde234/graphport/internal/loader"
	"github.com/mwilde234/graphport/internal/logger"
	"github.com/mwilde234/graphport/internal/tensor"
)

const denseBundle = `{
  "generatedBy": "exporter 2.4",
  "metaGraphs": [
    {
      "tags": ["serve"],
      "graph": {
        "node": [
          {"name": "x", "op": "Placeholder", "attr": {"dtype": {"type": "DT_FLOAT"}}},
          {"name": "w", "op": "VariableV2", "attr": {"dtype": {"type": "DT_FLOAT"}}},
          {"name": "mm", "op": "MatMul", "input": ["x", "w"]},
          {"name": "b", "op": "VariableV2", "attr": {"dtype": {"type": "DT_FLOAT"}}},
          {"name": "badd", "op": "BiasAdd", "input": ["mm", "b"]},
          {"name": "act", "op": "Relu", "input": ["badd"]}
        ]
      },
      "signatureDefs": {
        "serving_default": {
          "inputs": {"features": {"name": "x:0", "dtype": "DT_FLOAT", "shape": [1, 2]}},
          "outputs": {"activations": {"name": "act:0", "dtype": "DT_FLOAT"}}
        }
      },
      "variables": {
        "w": {"dtype": "float32", "shape": [2, 1], "data": "%W%"},
        "b": {"dtype": "float32", "shape": [1], "data": "%B%"}
      }
    }
  ]
}`

func writeDenseBundle(t *testing.T) string {
	t.Helper()
	w, err := tensor.NewFloat32([]int64{2, 1}, []float32{0.5, -0.5})
	if err != nil {
		t.Fatalf("NewFloat32: %v", err)
	}
	b, err := tensor.NewFloat32([]int64{1}, []float32{0.1})
	if err != nil {
		t.Fatalf("NewFloat32: %v", err)
	}
	content := strings.Replace(denseBundle, "%W%", base64.StdEncoding.EncodeToString(w.RawData()), 1)
	content = strings.Replace(content, "%B%", base64.StdEncoding.EncodeToString(b.RawData()), 1)

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, loader.BundleFileName), []byte(content), 0o644); err != nil {
		t.Fatalf("writing bundle: %v", err)
	}
	return dir
}

func testLog() logger.Logger {
	return logger.JSON(io.Discard, slog.LevelError)
}

type emittedModel struct {
	Format        string `json:"format"`
	GeneratedBy   string `json:"generatedBy"`
	ConvertedBy   string `json:"convertedBy"`
	ModelTopology struct {
		Node []struct {
			Name  string                     `json:"name"`
			Op    string                     `json:"op"`
			Input []string                   `json:"input"`
			Attr  map[string]json.RawMessage `json:"attr"`
		} `json:"node"`
	} `json:"modelTopology"`
	ModelInitializer struct {
		Node []struct {
			Name string `json:"name"`
			Op   string `json:"op"`
		} `json:"node"`
	} `json:"modelInitializer"`
	Signature struct {
		Inputs map[string]struct {
			Name       string `json:"name"`
			ResourceID string `json:"resourceId"`
		} `json:"inputs"`
		Outputs map[string]struct {
			Name string `json:"name"`
		} `json:"outputs"`
	} `json:"signature"`
	InitializerSignature struct {
		Outputs map[string]struct {
			Name       string `json:"name"`
			ResourceID string `json:"resourceId"`
		} `json:"outputs"`
	} `json:"initializerSignature"`
	WeightsManifest []struct {
		Paths   []string `json:"paths"`
		Weights []struct {
			Name  string  `json:"name"`
			Shape []int64 `json:"shape"`
			DType string  `json:"dtype"`
		} `json:"weights"`
	} `json:"weightsManifest"`
}

func readModelJSON(t *testing.T, dir string) *emittedModel {
	t.Helper()
	blob, err := os.ReadFile(filepath.Join(dir, "model.json"))
	if err != nil {
		t.Fatalf("reading model.json: %v", err)
	}
	var m emittedModel
	if err := json.Unmarshal(blob, &m); err != nil {
		t.Fatalf("model.json decode: %v", err)
	}
	return &m
}

func TestRunEndToEnd(t *testing.T) {
	t.Parallel()
	srcDir := writeDenseBundle(t)
	outDir := filepath.Join(t.TempDir(), "out")

	res, err := Run(context.Background(), Options{
		SourcePath:  srcDir,
		OutputPath:  outDir,
		ConvertedBy: "graphport test",
		Log:         testLog(),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.OutputDir != outDir {
		t.Fatalf("output dir = %q", res.OutputDir)
	}

	m := readModelJSON(t, outDir)
	if m.Format != "graph-model" {
		t.Fatalf("format = %q", m.Format)
	}
	if m.GeneratedBy != "exporter 2.4" || m.ConvertedBy != "graphport test" {
		t.Fatalf("provenance = %q / %q", m.GeneratedBy, m.ConvertedBy)
	}

	// MatMul+BiasAdd+Relu collapse into one fused node carrying the last
	// member's name; the two variables become Weight placeholders.
	ops := map[string]string{}
	inputs := map[string][]string{}
	for _, n := range m.ModelTopology.Node {
		ops[n.Name] = n.Op
		inputs[n.Name] = n.Input
	}
	if ops["act"] != "_FusedMatMul" {
		t.Fatalf("ops = %v", ops)
	}
	if _, ok := ops["mm"]; ok {
		t.Fatal("absorbed MatMul survived")
	}
	if got := inputs["act"]; len(got) != 3 || got[0] != "x" || got[1] != "w" || got[2] != "b" {
		t.Fatalf("fused inputs = %v", got)
	}
	if ops["w"] != "Weight" || ops["b"] != "Weight" {
		t.Fatalf("ops = %v", ops)
	}

	// Output keys are renamed to tensor names by default.
	if _, ok := m.Signature.Outputs["act:0"]; !ok {
		t.Fatalf("outputs = %v", m.Signature.Outputs)
	}

	group := m.WeightsManifest[0]
	if len(group.Weights) != 2 || group.Weights[0].Name != "w" || group.Weights[1].Name != "b" {
		t.Fatalf("manifest weights = %+v", group.Weights)
	}
	if group.Weights[0].DType != "float32" || len(group.Weights[0].Shape) != 2 {
		t.Fatalf("weight record = %+v", group.Weights[0])
	}
	shard, err := os.ReadFile(filepath.Join(outDir, group.Paths[0]))
	if err != nil {
		t.Fatalf("reading shard: %v", err)
	}
	// 2x1 float32 plus 1 float32.
	if len(shard) != 12 {
		t.Fatalf("shard size = %d, want 12", len(shard))
	}
}

const lookupBundle = `{
  "metaGraphs": [
    {
      "tags": ["serve"],
      "graph": {
        "node": [
          {"name": "table", "op": "Placeholder", "attr": {"dtype": {"type": "DT_RESOURCE"}}},
          {"name": "keys", "op": "Placeholder", "attr": {"dtype": {"type": "DT_STRING"}}},
          {"name": "lookup", "op": "LookupTableFindV2", "input": ["table", "keys"]}
        ]
      },
      "signatureDefs": {
        "serving_default": {
          "inputs": {
            "table": {"name": "table:0", "dtype": "DT_RESOURCE"},
            "keys": {"name": "keys:0", "dtype": "DT_STRING"}
          },
          "outputs": {"values": {"name": "lookup:0", "dtype": "DT_FLOAT"}}
        }
      },
      "initializerGraph": {
        "node": [
          {"name": "hash_table", "op": "HashTableV2"}
        ]
      },
      "initializerSignature": {
        "outputs": {"hash_table": {"name": "hash_table:0", "dtype": "DT_RESOURCE"}}
      },
      "resourceBindings": [
        {"initializerOutput": "hash_table:0", "modelInput": "table:0"}
      ]
    }
  ]
}`

// A bundle with an initializer subgraph bound to a resource input must emit
// the same identifier on both signature ends so runtimes can pair them.
func TestRunEndToEndResourceBinding(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, loader.BundleFileName), []byte(lookupBundle), 0o644); err != nil {
		t.Fatalf("writing bundle: %v", err)
	}
	outDir := filepath.Join(t.TempDir(), "out")

	if _, err := Run(context.Background(), Options{
		SourcePath:  dir,
		OutputPath:  outDir,
		ConvertedBy: "graphport test",
		Log:         testLog(),
	}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	m := readModelJSON(t, outDir)
	if len(m.ModelInitializer.Node) != 1 || m.ModelInitializer.Node[0].Op != "HashTableV2" {
		t.Fatalf("modelInitializer nodes = %+v", m.ModelInitializer.Node)
	}

	id := m.Signature.Inputs["table"].ResourceID
	if id == "" {
		t.Fatal("bound signature input carries no resourceId")
	}
	if got := m.InitializerSignature.Outputs["hash_table"].ResourceID; got != id {
		t.Fatalf("initializer output resourceId = %q, input side has %q", got, id)
	}
	if got := m.Signature.Inputs["keys"].ResourceID; got != "" {
		t.Fatalf("unbound input carries resourceId %q", got)
	}
}

func TestRunIsDeterministic(t *testing.T) {
	t.Parallel()
	srcDir := writeDenseBundle(t)

	read := func(dir string) []byte {
		t.Helper()
		if _, err := Run(context.Background(), Options{
			SourcePath:  srcDir,
			OutputPath:  dir,
			ConvertedBy: "graphport test",
			Log:         testLog(),
		}); err != nil {
			t.Fatalf("Run: %v", err)
		}
		blob, err := os.ReadFile(filepath.Join(dir, "model.json"))
		if err != nil {
			t.Fatalf("reading model.json: %v", err)
		}
		return blob
	}

	first := read(filepath.Join(t.TempDir(), "a"))
	second := read(filepath.Join(t.TempDir(), "b"))
	if string(first) != string(second) {
		t.Fatal("repeated runs must emit byte-identical model.json")
	}
}

func TestRunPreserveOutputNames(t *testing.T) {
	t.Parallel()
	srcDir := writeDenseBundle(t)
	outDir := filepath.Join(t.TempDir(), "out")

	if _, err := Run(context.Background(), Options{
		SourcePath:          srcDir,
		OutputPath:          outDir,
		PreserveOutputNames: true,
		ConvertedBy:         "graphport test",
		Log:                 testLog(),
	}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	m := readModelJSON(t, outDir)
	if _, ok := m.Signature.Outputs["activations"]; !ok {
		t.Fatalf("outputs = %v", m.Signature.Outputs)
	}
}

func TestRunFrozenGraphCompanion(t *testing.T) {
	t.Parallel()
	srcDir := writeDenseBundle(t)
	outDir := filepath.Join(t.TempDir(), "out")
	frozenPath := filepath.Join(t.TempDir(), "graph.json")

	if _, err := Run(context.Background(), Options{
		SourcePath:      srcDir,
		OutputPath:      outDir,
		FrozenGraphPath: frozenPath,
		ConvertedBy:     "graphport test",
		Log:             testLog(),
	}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	blob, err := os.ReadFile(frozenPath)
	if err != nil {
		t.Fatalf("reading frozen graph: %v", err)
	}
	var g struct {
		Node []struct {
			Name string `json:"name"`
		} `json:"node"`
	}
	if err := json.Unmarshal(blob, &g); err != nil {
		t.Fatalf("frozen graph decode: %v", err)
	}
	if len(g.Node) == 0 {
		t.Fatal("frozen graph is empty")
	}
}

func TestRunRequiresOutputPath(t *testing.T) {
	t.Parallel()
	if _, err := Run(context.Background(), Options{SourcePath: "x", Log: testLog()}); err == nil {
		t.Fatal("expected error without output path")
	}
}

func TestRunUnsupportedOp(t *testing.T) {
	t.Parallel()
	content := `{
  "metaGraphs": [
    {
      "tags": ["serve"],
      "graph": {
        "node": [
          {"name": "x", "op": "Placeholder", "attr": {"dtype": {"type": "DT_FLOAT"}}},
          {"name": "y", "op": "AudioSpectrogram", "input": ["x"]}
        ]
      },
      "signatureDefs": {
        "serving_default": {
          "inputs": {"in": {"name": "x:0", "dtype": "DT_FLOAT"}},
          "outputs": {"out": {"name": "y:0", "dtype": "DT_FLOAT"}}
        }
      }
    }
  ]
}`
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, loader.BundleFileName), []byte(content), 0o644); err != nil {
		t.Fatalf("writing bundle: %v", err)
	}
	outDir := filepath.Join(t.TempDir(), "out")

	_, err := Run(context.Background(), Options{SourcePath: dir, OutputPath: outDir, Log: testLog()})
	if err == nil {
		t.Fatal("expected unsupported op error")
	}
	if !strings.Contains(err.Error(), "AudioSpectrogram") {
		t.Fatalf("error does not name the op: %v", err)
	}

	// Skipping the check lets the graph through.
	if _, err := Run(context.Background(), Options{
		SourcePath:  dir,
		OutputPath:  outDir,
		SkipOpCheck: true,
		ConvertedBy: "graphport test",
		Log:         testLog(),
	}); err != nil {
		t.Fatalf("Run with skip: %v", err)
	}
}
