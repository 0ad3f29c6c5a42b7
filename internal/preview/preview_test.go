package preview

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"
)

const sampleModelJSON = `{
  "format": "graph-model",
  "generatedBy": "exporter 2.4",
  "convertedBy": "graphport test",
  "modelTopology": {
    "node": [
      {"name": "x", "op": "Placeholder"},
      {"name": "w", "op": "Weight"},
      {"name": "y", "op": "MatMul", "input": ["x", "w"]}
    ]
  },
  "weightsManifest": [
    {
      "paths": ["group1-shard1of1.bin"],
      "weights": [{"name": "w", "shape": [2, 2], "dtype": "float32"}]
    }
  ]
}`

func writeArtifactDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "model.json"), []byte(sampleModelJSON), 0o644); err != nil {
		t.Fatalf("writing model.json: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "group1-shard1of1.bin"), make([]byte, 16), 0o644); err != nil {
		t.Fatalf("writing shard: %v", err)
	}
	return dir
}

func TestSummarize(t *testing.T) {
	t.Parallel()
	dir := writeArtifactDir(t)

	sum, err := Summarize(dir)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if sum.Format != "graph-model" {
		t.Fatalf("format = %q, want graph-model", sum.Format)
	}
	if sum.NodeCount != 3 {
		t.Fatalf("node count = %d, want 3", sum.NodeCount)
	}
	if sum.OpCounts["MatMul"] != 1 {
		t.Fatalf("MatMul count = %d, want 1", sum.OpCounts["MatMul"])
	}
	if sum.WeightCount != 1 {
		t.Fatalf("weight count = %d, want 1", sum.WeightCount)
	}
	if sum.WeightBytes != 16 {
		t.Fatalf("weight bytes = %d, want 16", sum.WeightBytes)
	}
	if len(sum.ShardPaths) != 1 || sum.ShardPaths[0] != "group1-shard1of1.bin" {
		t.Fatalf("shard paths = %v", sum.ShardPaths)
	}
}

func TestSummarizeMissingDir(t *testing.T) {
	t.Parallel()
	if _, err := Summarize(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatal("expected error for missing artifact directory")
	}
}

func newTestEcho(t *testing.T) (*echo.Echo, string) {
	t.Helper()
	dir := writeArtifactDir(t)
	e := echo.New()
	NewServer(dir, nil).Register(e)
	return e, dir
}

func TestSummaryEndpoint(t *testing.T) {
	t.Parallel()
	e, _ := newTestEcho(t)

	req := httptest.NewRequest(http.MethodGet, "/api/summary", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var sum Summary
	if err := json.Unmarshal(rec.Body.Bytes(), &sum); err != nil {
		t.Fatalf("decoding summary: %v", err)
	}
	if sum.NodeCount != 3 || sum.WeightCount != 1 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
}

func TestStaticModelJSON(t *testing.T) {
	t.Parallel()
	e, _ := newTestEcho(t)

	req := httptest.NewRequest(http.MethodGet, "/model.json", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var mv map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &mv); err != nil {
		t.Fatalf("served model.json is not valid JSON: %v", err)
	}
	if mv["format"] != "graph-model" {
		t.Fatalf("format = %v", mv["format"])
	}
}
