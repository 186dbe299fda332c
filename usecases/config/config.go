//  _                          _
// | | _____  _____  ___  _ __| |_
// | |/ _ \ \/ / __|/ _ \| '__| __|
// | |  __/>  <\__ \ (_) | |  | |_
// |_|\___/_/\_\___/\___/|_|   \__|
//
//  Copyright © 2022 - 2026 Lexsort B.V. All rights reserved.
//
//  CONTACT: hello@lexsort.io
//

package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/lexsort/lexsort/entities/diskio"
	enterrors "github.com/lexsort/lexsort/entities/errors"
)

const (
	// DefaultThreshold is the leaf size in bytes below which a range is
	// sorted in memory instead of being split further. Every line of the
	// input must be at most this long or the run fails.
	DefaultThreshold = int64(10000)

	DefaultSortMemory  = "100MiB"
	DefaultMergeMemory = "100MiB"

	DefaultWorkers = 4

	DefaultScratchTTL = 2 * time.Hour
)

const (
	StoreBackendFilesystem = "filesystem"
	StoreBackendS3         = "s3"
)

// Config carries every knob of a run explicitly. Nothing in the pipeline
// falls back to a process-wide default, each job-spawning call receives the
// values it needs from here.
type Config struct {
	InputPath  string `json:"input_path" yaml:"input_path"`
	OutputPath string `json:"output_path" yaml:"output_path"`

	// Threshold is N: ranges of at most N bytes become leaves.
	Threshold int64 `json:"threshold" yaml:"threshold"`

	// SortMemoryBytes and MergeMemoryBytes size the per-job memory
	// requirement handed to the runner's resource accounting. They are not
	// enforced against the job body itself.
	SortMemoryBytes  int64 `json:"sort_memory_bytes" yaml:"sort_memory_bytes"`
	MergeMemoryBytes int64 `json:"merge_memory_bytes" yaml:"merge_memory_bytes"`

	Workers           int   `json:"workers" yaml:"workers"`
	MemoryBudgetBytes int64 `json:"memory_budget_bytes" yaml:"memory_budget_bytes"`

	// RunID names the checkpoint journal to create or resume. Empty means a
	// fresh run with a generated ID.
	RunID string `json:"run_id" yaml:"run_id"`

	Store   Store   `json:"store" yaml:"store"`
	Scratch Scratch `json:"scratch" yaml:"scratch"`

	MonitoringPort int `json:"monitoring_port" yaml:"monitoring_port"`
}

type Store struct {
	Backend  string `json:"backend" yaml:"backend"`
	RootPath string `json:"root_path" yaml:"root_path"`
	S3       S3     `json:"s3" yaml:"s3"`
}

type S3 struct {
	Endpoint string `json:"endpoint" yaml:"endpoint"`
	Bucket   string `json:"bucket" yaml:"bucket"`
	UseSSL   bool   `json:"use_ssl" yaml:"use_ssl"`
}

type Scratch struct {
	Path string        `json:"path" yaml:"path"`
	TTL  time.Duration `json:"ttl" yaml:"ttl"`
}

func configErr(err error) error {
	return enterrors.NewErrConfiguration(errors.Wrap(err, "invalid config"))
}

// Validate runs every startup precondition. A failure here is fatal before
// any job tree is created.
func (c *Config) Validate() error {
	if c.InputPath == "" {
		return configErr(fmt.Errorf("no file to sort given"))
	}
	exists, err := diskio.FileExists(c.InputPath)
	if err != nil {
		return configErr(errors.Wrapf(err, "stat input %q", c.InputPath))
	}
	if !exists {
		return configErr(fmt.Errorf("file to sort does not exist: %s", c.InputPath))
	}

	if c.OutputPath == "" {
		return configErr(fmt.Errorf("no output path given"))
	}

	if c.Threshold <= 0 {
		return configErr(fmt.Errorf("invalid threshold: %d, must be positive", c.Threshold))
	}

	if c.Workers <= 0 {
		return configErr(fmt.Errorf("invalid worker count: %d, must be positive", c.Workers))
	}

	if c.SortMemoryBytes < 0 || c.MergeMemoryBytes < 0 {
		return configErr(fmt.Errorf("memory requirements must not be negative"))
	}

	if c.MemoryBudgetBytes > 0 {
		if c.SortMemoryBytes > c.MemoryBudgetBytes || c.MergeMemoryBytes > c.MemoryBudgetBytes {
			return configErr(fmt.Errorf(
				"memory budget %d is below a single job's requirement, no job could ever be admitted",
				c.MemoryBudgetBytes))
		}
	}

	if err := c.Store.Validate(); err != nil {
		return configErr(err)
	}

	if err := c.Scratch.Validate(); err != nil {
		return configErr(err)
	}

	return nil
}

func (s Store) Validate() error {
	switch s.Backend {
	case StoreBackendFilesystem:
		if s.RootPath == "" {
			return fmt.Errorf("store.root_path must be set for the filesystem backend")
		}
	case StoreBackendS3:
		if s.S3.Endpoint == "" {
			return fmt.Errorf("store.s3.endpoint must be set for the s3 backend")
		}
		if s.S3.Bucket == "" {
			return fmt.Errorf("store.s3.bucket must be set for the s3 backend")
		}
		if s.RootPath == "" {
			return fmt.Errorf("store.root_path must be set, the journal lives there")
		}
	default:
		return fmt.Errorf("unknown store backend %q", s.Backend)
	}
	return nil
}

func (s Scratch) Validate() error {
	if s.Path == "" {
		return fmt.Errorf("scratch.path must be set")
	}
	if s.TTL <= 0 {
		return fmt.Errorf("scratch.ttl must be positive")
	}
	return nil
}

// FromFile reads a YAML config file into cfg, leaving fields absent from the
// file untouched.
func FromFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return configErr(errors.Wrapf(err, "read config file %q", path))
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return configErr(errors.Wrapf(err, "parse config file %q", path))
	}
	return nil
}

// ParseMemoryString converts a human resource string ("100MiB", "1GB",
// "unlimited") into bytes.
func ParseMemoryString(resource string) (int64, error) {
	n, err := parseResourceString(resource)
	if err != nil {
		return 0, configErr(errors.Wrapf(err, "parse resource string %q", resource))
	}
	return n, nil
}
