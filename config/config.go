// Copyright (c) 2025 Michael D Henderson. All rights reserved.

// Package config loads and validates server configuration from YAML.
// Validation is fail-fast: a bad config stops startup, never a running
// pipeline.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the full server configuration.
type Config struct {
	// DataRoot is the directory that holds dataset workspaces.
	DataRoot string `yaml:"data_root"`
	// DBPath is the SQLite database file. Empty selects an in-memory store.
	DBPath string `yaml:"db_path"`
	// Listen is the HTTP listen address, e.g. ":8080".
	Listen string `yaml:"listen"`

	Pipeline  Pipeline  `yaml:"pipeline"`
	Detectors Detectors `yaml:"detectors"`
	Profiling Profiling `yaml:"profiling"`
}

// Pipeline tunes the worker pool and per-run limits.
type Pipeline struct {
	// Workers is the number of concurrent dataset runs.
	Workers int `yaml:"workers"`
	// FileConcurrency bounds parallel per-file analysis within one run.
	FileConcurrency int `yaml:"file_concurrency"`
	// BatchSize is the file-record upsert batch size.
	BatchSize int `yaml:"batch_size"`
	// MaxFilesPerDataset caps how many files one run analyzes; 0 = no cap.
	MaxFilesPerDataset int `yaml:"max_files_per_dataset"`
	// QueueSize is the submission queue capacity.
	QueueSize int `yaml:"queue_size"`
}

// Detectors selects and tunes the modality detectors.
type Detectors struct {
	// TagDominance is the multiplier on tag-based votes. Values below 1 are
	// rejected; the tag must never lose to heuristics.
	TagDominance float64 `yaml:"tag_dominance"`

	Tag     bool `yaml:"tag"`
	Stats   bool `yaml:"stats"`
	Keyword bool `yaml:"keyword"`
}

// Profiling tunes the clustering pass.
type Profiling struct {
	// MinFiles is the embedding-set floor below which profiling reports
	// insufficient data.
	MinFiles int `yaml:"min_files"`
	// MinClusterSize is the neighborhood population needed to seed a cluster.
	MinClusterSize int `yaml:"min_cluster_size"`
	// Eps is the neighborhood radius on normalized vectors.
	Eps float64 `yaml:"eps"`
	// MixedModalityShare is the minimum share a modality needs to count
	// toward the mixed-modality flag.
	MixedModalityShare float64 `yaml:"mixed_modality_share"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		DataRoot: "data",
		DBPath:   "datascan.db",
		Listen:   ":8080",
		Pipeline: Pipeline{
			Workers:         2,
			FileConcurrency: 8,
			BatchSize:       200,
			QueueSize:       64,
		},
		Detectors: Detectors{
			TagDominance: 4.0,
			Tag:          true,
			Stats:        true,
			Keyword:      true,
		},
		Profiling: Profiling{
			MinFiles:           20,
			MinClusterSize:     5,
			Eps:                0.35,
			MixedModalityShare: 0.15,
		},
	}
}

// Load reads a YAML config file over the defaults and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.DataRoot == "" {
		return fmt.Errorf("data_root must be set")
	}
	if c.Listen == "" {
		return fmt.Errorf("listen must be set")
	}
	if c.Pipeline.Workers < 1 {
		return fmt.Errorf("pipeline.workers must be at least 1")
	}
	if c.Pipeline.FileConcurrency < 1 {
		return fmt.Errorf("pipeline.file_concurrency must be at least 1")
	}
	if c.Pipeline.BatchSize < 1 {
		return fmt.Errorf("pipeline.batch_size must be at least 1")
	}
	if c.Pipeline.MaxFilesPerDataset < 0 {
		return fmt.Errorf("pipeline.max_files_per_dataset must not be negative")
	}
	if c.Detectors.TagDominance < 1 {
		return fmt.Errorf("detectors.tag_dominance must be at least 1")
	}
	if c.Profiling.MinFiles < 1 {
		return fmt.Errorf("profiling.min_files must be at least 1")
	}
	if c.Profiling.MinClusterSize < 2 {
		return fmt.Errorf("profiling.min_cluster_size must be at least 2")
	}
	if c.Profiling.Eps <= 0 {
		return fmt.Errorf("profiling.eps must be positive")
	}
	if c.Profiling.MixedModalityShare <= 0 || c.Profiling.MixedModalityShare >= 1 {
		return fmt.Errorf("profiling.mixed_modality_share must be in (0,1)")
	}
	return nil
}
