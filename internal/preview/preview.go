// Package preview serves an emitted artifact directory over HTTP so browser
// runtimes can fetch model.json and the weight shards directly during
// development. It also exposes a small summary endpoint for quick inspection.
package preview

import (
	"net/http"
	"os"
	"path/filepath"
	"sort"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"

	"github.com/mwilde234/graphport/internal/artifact"
	"github.com/mwilde234/graphport/internal/logger"
)

// Server serves one artifact directory.
type Server struct {
	dir string
	log logger.Logger
}

// NewServer creates a Server for the artifact directory dir.
func NewServer(dir string, log logger.Logger) *Server {
	if log == nil {
		log = logger.Default()
	}
	return &Server{dir: dir, log: log}
}

// Register mounts the preview routes on e. The artifact files are served from
// the directory root so relative shard paths in the manifest resolve as the
// runtime expects.
func (s *Server) Register(e *echo.Echo) {
	e.GET("/api/summary", s.handleSummary)
	e.Static("/", s.dir)
}

// Summary is the inspection view of an emitted artifact.
type Summary struct {
	Format      string         `json:"format"`
	GeneratedBy string         `json:"generatedBy"`
	ConvertedBy string         `json:"convertedBy"`
	NodeCount   int            `json:"nodeCount"`
	OpCounts    map[string]int `json:"opCounts"`
	WeightCount int            `json:"weightCount"`
	WeightBytes int64          `json:"weightBytes"`
	ShardPaths  []string       `json:"shardPaths"`
}

func (s *Server) handleSummary(c *echo.Context) error {
	sum, err := Summarize(s.dir)
	if err != nil {
		s.log.Error("summarize failed", "dir", s.dir, "error", err)
		return c.JSON(http.StatusNotFound, map[string]any{
			"error": map[string]any{
				"message": err.Error(),
				"type":    "artifact_error",
			},
		})
	}
	return c.JSON(http.StatusOK, sum)
}

// modelView mirrors the subset of model.json the summary needs.
type modelView struct {
	Format        string `json:"format"`
	GeneratedBy   string `json:"generatedBy"`
	ConvertedBy   string `json:"convertedBy"`
	ModelTopology struct {
		Node []struct {
			Op string `json:"op"`
		} `json:"node"`
	} `json:"modelTopology"`
	WeightsManifest []struct {
		Paths   []string `json:"paths"`
		Weights []struct {
			Name string `json:"name"`
		} `json:"weights"`
	} `json:"weightsManifest"`
}

// Summarize reads model.json from dir and builds a Summary. Shard sizes come
// from the files on disk, not the manifest, so truncated shards show up.
func Summarize(dir string) (*Summary, error) {
	raw, err := os.ReadFile(filepath.Join(dir, artifact.ModelJSONName))
	if err != nil {
		return nil, err
	}
	var mv modelView
	if err := json.Unmarshal(raw, &mv); err != nil {
		return nil, err
	}

	sum := &Summary{
		Format:      mv.Format,
		GeneratedBy: mv.GeneratedBy,
		ConvertedBy: mv.ConvertedBy,
		NodeCount:   len(mv.ModelTopology.Node),
		OpCounts:    map[string]int{},
	}
	for _, n := range mv.ModelTopology.Node {
		sum.OpCounts[n.Op]++
	}
	for _, group := range mv.WeightsManifest {
		sum.WeightCount += len(group.Weights)
		for _, p := range group.Paths {
			sum.ShardPaths = append(sum.ShardPaths, p)
			if info, err := os.Stat(filepath.Join(dir, p)); err == nil {
				sum.WeightBytes += info.Size()
			}
		}
	}
	sort.Strings(sum.ShardPaths)
	return sum, nil
}
