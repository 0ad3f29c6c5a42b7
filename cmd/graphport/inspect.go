package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/mwilde234/graphport/internal/artifact"
	"github.com/mwilde234/graphport/internal/preview"
)

// inspectModelJSON is the subset of model.json the inspect command renders.
type inspectModelJSON struct {
	Format      string `json:"format"`
	GeneratedBy string `json:"generatedBy"`
	ConvertedBy string `json:"convertedBy"`
	Signature   *struct {
		Inputs  map[string]inspectTensorJSON `json:"inputs"`
		Outputs map[string]inspectTensorJSON `json:"outputs"`
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

type inspectTensorJSON struct {
	Name  string `json:"name"`
	DType string `json:"dtype"`
}

func inspectCmd() *cli.Command {
	var (
		dir      string
		asJSON   bool
		noLimits bool
		limit    int
	)

	return &cli.Command{
		Name:  "inspect",
		Usage: "Inspect a converted artifact directory",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "dir",
				Aliases:     []string{"d"},
				Usage:       "artifact directory containing model.json",
				Value:       ".",
				Destination: &dir,
			},
			&cli.BoolFlag{Name: "json", Usage: "emit the summary as JSON", Destination: &asJSON},
			&cli.IntFlag{Name: "weights-limit", Usage: "limit weight listing (0 = no limit)", Value: 50, Destination: &limit},
			&cli.BoolFlag{Name: "all", Usage: "show everything without limits", Destination: &noLimits},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			_ = ctx
			if noLimits {
				limit = 0
			}

			if asJSON {
				sum, err := preview.Summarize(dir)
				if err != nil {
					return err
				}
				out, err := json.MarshalIndent(sum, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(out))
				return nil
			}

			raw, err := os.ReadFile(filepath.Join(dir, artifact.ModelJSONName))
			if err != nil {
				return err
			}
			var mv inspectModelJSON
			if err := json.Unmarshal(raw, &mv); err != nil {
				return fmt.Errorf("inspect: %s: %w", artifact.ModelJSONName, err)
			}

			fmt.Printf("format:       %s\n", mv.Format)
			if mv.GeneratedBy != "" {
				fmt.Printf("generated by: %s\n", mv.GeneratedBy)
			}
			if mv.ConvertedBy != "" {
				fmt.Printf("converted by: %s\n", mv.ConvertedBy)
			}
			if mv.Signature != nil {
				fmt.Println("signature:")
				printSpecs("inputs", mv.Signature.Inputs)
				printSpecs("outputs", mv.Signature.Outputs)
			}

			listed := 0
			for _, group := range mv.WeightsManifest {
				fmt.Printf("shard group: %s\n", strings.Join(group.Paths, ", "))
				for _, w := range group.Weights {
					if limit > 0 && listed >= limit {
						fmt.Printf("  ... (use --all to list every weight)\n")
						return nil
					}
					fmt.Printf("  %-40s %-8s %v\n", w.Name, w.DType, w.Shape)
					listed++
				}
			}
			return nil
		},
	}
}

func printSpecs(label string, specs map[string]inspectTensorJSON) {
	fmt.Printf("  %s:\n", label)
	for _, key := range sortedSpecKeys(specs) {
		spec := specs[key]
		fmt.Printf("    %-24s %s (%s)\n", key, spec.Name, spec.DType)
	}
}

func sortedSpecKeys(m map[string]inspectTensorJSON) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
