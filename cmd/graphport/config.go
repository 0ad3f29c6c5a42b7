package main

import (
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config is the graphport configuration file
// (~/.config/graphport/config.yaml). Pointer fields distinguish "not set"
// from zero values.
type Config struct {
	OutputDir     string `yaml:"output_dir"`
	ControlFlow   string `yaml:"control_flow"`
	MaxShardBytes *int64 `yaml:"max_shard_bytes"`
	StripDebugOps *bool  `yaml:"strip_debug_ops"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	ServerAddress string `yaml:"server_address"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "graphport", "config.yaml")
}

// LoadConfig reads the config file. Returns a zero Config if the file doesn't
// exist or fails to parse.
func LoadConfig() Config {
	path := configPath()
	if path == "" {
		return Config{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}
	}
	return cfg
}

// applyConvertConfig applies config file defaults to convert command
// variables when the corresponding CLI flag was not explicitly set.
func applyConvertConfig(c *cli.Command, cfg Config,
	outputPath *string, controlFlow *string, maxShardBytes *int64, stripDebug *bool,
) {
	if cfg.OutputDir != "" && !c.IsSet("output") {
		*outputPath = cfg.OutputDir
	}
	if cfg.ControlFlow != "" && !c.IsSet("control-flow") {
		*controlFlow = cfg.ControlFlow
	}
	if cfg.MaxShardBytes != nil && !c.IsSet("max-shard-bytes") {
		*maxShardBytes = *cfg.MaxShardBytes
	}
	if cfg.StripDebugOps != nil && !c.IsSet("strip-debug-ops") {
		*stripDebug = *cfg.StripDebugOps
	}
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c *cli.Command, cfg Config, addr *string) {
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}
