package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/mwilde234/graphport/internal/convert"
	"github.com/mwilde234/graphport/internal/loader"
	"github.com/mwilde234/graphport/internal/logger"
	"github.com/mwilde234/graphport/internal/rewrite"
	"github.com/mwilde234/graphport/internal/watcher"
)

func convertCmd() *cli.Command {
	var (
		inputPath       string
		outputPath      string
		frozenGraphOut  string
		format          string
		tags            []string
		signatureKey    string
		outputNodeNames []string
		controlFlow     string
		stripDebugOps   bool
		skipOpCheck     bool
		extraOps        []string
		maxShardBytes   int64
		metadataPath    string
		preserveOutput  bool
		watch           bool
		debounce        time.Duration
	)

	return &cli.Command{
		Name:  "convert",
		Usage: "Convert a model source into model.json plus weight shards",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:        "input",
				Aliases:     []string{"i"},
				Usage:       "source path (bundle directory or frozen graph file)",
				Destination: &inputPath,
				Required:    true,
			},
			&cli.StringFlag{
				Name:        "output",
				Aliases:     []string{"o"},
				Usage:       "output artifact directory",
				Destination: &outputPath,
			},
			&cli.StringFlag{
				Name:        "format",
				Usage:       "source format (auto, saved-model, hub, frozen-graph)",
				Value:       "auto",
				Destination: &format,
			},
			&cli.StringSliceFlag{
				Name:        "tags",
				Usage:       "meta-graph tags to select (saved-model sources)",
				Destination: &tags,
			},
			&cli.StringFlag{
				Name:        "signature",
				Usage:       "signature key to convert",
				Destination: &signatureKey,
			},
			&cli.StringSliceFlag{
				Name:        "output-node-names",
				Usage:       "output node names (required for frozen-graph sources)",
				Destination: &outputNodeNames,
			},
			&cli.StringFlag{
				Name:        "control-flow",
				Usage:       "output control-flow dialect (structured, classic)",
				Value:       string(rewrite.DialectStructured),
				Destination: &controlFlow,
			},
			&cli.BoolFlag{
				Name:        "strip-debug-ops",
				Usage:       "remove assertion and print ops with no data consumers",
				Destination: &stripDebugOps,
			},
			&cli.BoolFlag{
				Name:        "skip-op-check",
				Usage:       "pass unsupported ops through instead of failing",
				Destination: &skipOpCheck,
			},
			&cli.StringSliceFlag{
				Name:        "extra-supported-ops",
				Usage:       "additional op names to treat as supported",
				Destination: &extraOps,
			},
			&cli.Int64Flag{
				Name:        "max-shard-bytes",
				Usage:       "weight shard size limit in bytes (0 = single shard)",
				Value:       4 << 20,
				Destination: &maxShardBytes,
			},
			&cli.StringFlag{
				Name:        "metadata",
				Usage:       "path to a JSON file copied into the artifact as user metadata",
				Destination: &metadataPath,
			},
			&cli.StringFlag{
				Name:        "frozen-graph-out",
				Usage:       "also write the rewritten graph as a standalone JSON file",
				Destination: &frozenGraphOut,
			},
			&cli.BoolFlag{
				Name:        "preserve-output-names",
				Usage:       "keep structured signature output keys",
				Destination: &preserveOutput,
			},
			&cli.BoolFlag{
				Name:        "watch",
				Aliases:     []string{"w"},
				Usage:       "reconvert when the source changes",
				Destination: &watch,
			},
			&cli.DurationFlag{
				Name:        "watch-debounce",
				Usage:       "settle delay before a watched reconversion",
				Value:       500 * time.Millisecond,
				Destination: &debounce,
			},
		}, loggingFlags()...),
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg := LoadConfig()
			applyConvertConfig(c, cfg, &outputPath, &controlFlow, &maxShardBytes, &stripDebugOps)
			log := setupLogger()
			ctx = logger.WithContext(ctx, log)

			if outputPath == "" {
				return fmt.Errorf("output directory required (--output or config output_dir)")
			}
			kind, err := sourceKind(format)
			if err != nil {
				return err
			}
			dialect, err := dialect(controlFlow)
			if err != nil {
				return err
			}
			metadata, err := loadMetadata(metadataPath)
			if err != nil {
				return err
			}

			opts := convert.Options{
				SourcePath:          inputPath,
				OutputPath:          outputPath,
				FrozenGraphPath:     frozenGraphOut,
				SourceKind:          kind,
				Tags:                tags,
				SignatureKey:        signatureKey,
				OutputNodeNames:     outputNodeNames,
				ControlFlow:         dialect,
				StripDebugOps:       stripDebugOps,
				SkipOpCheck:         skipOpCheck,
				MaxShardBytes:       maxShardBytes,
				Metadata:            metadata,
				PreserveOutputNames: preserveOutput,
				ExtraSupportedOps:   extraOps,
				Log:                 log,
			}

			if _, err := convert.Run(ctx, opts); err != nil {
				if !watch {
					return err
				}
				// In watch mode a broken source is a state to recover
				// from, not a reason to exit.
				log.Error("conversion failed", "error", err)
			}
			if !watch {
				return nil
			}
			return watchLoop(ctx, log, opts, debounce)
		},
	}
}

// watchLoop reconverts on source changes until the context is canceled or an
// interrupt arrives.
func watchLoop(ctx context.Context, log logger.Logger, opts convert.Options, debounce time.Duration) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	w, err := watcher.New(opts.SourcePath,
		watcher.WithDebounce(debounce),
		watcher.WithOnChange(func(paths []string) {
			log.Info("source changed", "files", len(paths))
			if _, err := convert.Run(ctx, opts); err != nil {
				log.Error("conversion failed", "error", err)
			}
		}),
		watcher.WithOnError(func(err error) {
			log.Error("watch error", "error", err)
		}),
	)
	if err != nil {
		return err
	}
	defer func() { _ = w.Stop() }()
	w.Start()

	log.Info("watching for changes", "source", opts.SourcePath)
	<-ctx.Done()
	return nil
}

func sourceKind(format string) (loader.SourceKind, error) {
	switch format {
	case "auto", "":
		return loader.KindAuto, nil
	case "saved-model":
		return loader.KindSavedModel, nil
	case "hub":
		return loader.KindHubModule, nil
	case "frozen-graph":
		return loader.KindFrozenGraph, nil
	default:
		return loader.KindAuto, fmt.Errorf("unknown source format %q", format)
	}
}

func dialect(name string) (rewrite.Dialect, error) {
	switch name {
	case string(rewrite.DialectStructured):
		return rewrite.DialectStructured, nil
	case string(rewrite.DialectClassic):
		return rewrite.DialectClassic, nil
	default:
		return "", fmt.Errorf("unknown control-flow dialect %q", name)
	}
}

func loadMetadata(path string) (map[string]json.RawMessage, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("metadata: %w", err)
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("metadata: %s is not a JSON object: %w", path, err)
	}
	return m, nil
}
