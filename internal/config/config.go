// Package config loads orchestrator configuration from .alloy/config.yaml
// with defaults and environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable the build pipelines consult.
type Config struct {
	// MaxFixIterations bounds the test-repair loop per recipe.
	MaxFixIterations int `yaml:"max_fix_iterations"`

	// MaxReviewIterations is the number of revision cycles granted per
	// recipe while critical review findings remain.
	MaxReviewIterations int `yaml:"max_review_iterations"`

	// MaxStubRemediations bounds placeholder-implementation repairs.
	MaxStubRemediations int `yaml:"max_stub_remediations"`

	// MaxDecompositionDepth bounds recursive recipe decomposition.
	MaxDecompositionDepth int `yaml:"max_decomposition_depth"`

	// CoverageMin is the minimum statement coverage percentage.
	CoverageMin float64 `yaml:"coverage_min"`

	// Workers is the concurrent recipe build limit within a parallel group.
	Workers int `yaml:"workers"`

	// OracleTimeout bounds each individual oracle call.
	OracleTimeout time.Duration `yaml:"oracle_timeout"`

	// CachePath is the SQLite build cache location, relative to the
	// collection root unless absolute.
	CachePath string `yaml:"cache_path"`

	// AutoApplyCorrections applies oracle-proposed separation rewrites
	// instead of failing validation. Off by default; corrections are
	// surfaced for human review.
	AutoApplyCorrections bool `yaml:"auto_apply_corrections"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxFixIterations:      5,
		MaxReviewIterations:   3,
		MaxStubRemediations:   2,
		MaxDecompositionDepth: 3,
		CoverageMin:           80,
		Workers:               runtime.NumCPU(),
		OracleTimeout:         2 * time.Minute,
		CachePath:             ".alloy/cache.db",
	}
}

// Load reads .alloy/config.yaml under root if present, then applies
// environment overrides. A missing file is not an error; defaults apply.
func Load(root string) (*Config, error) {
	cfg := DefaultConfig()

	path := filepath.Join(root, ".alloy", "config.yaml")
	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Environment overrides, highest precedence. ALLOY_WORKERS=4 etc.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ALLOY_MAX_FIX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxFixIterations = n
		}
	}
	if v := os.Getenv("ALLOY_MAX_REVIEW_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxReviewIterations = n
		}
	}
	if v := os.Getenv("ALLOY_COVERAGE_MIN"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.CoverageMin = f
		}
	}
	if v := os.Getenv("ALLOY_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Workers = n
		}
	}
	if v := os.Getenv("ALLOY_ORACLE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.OracleTimeout = d
		}
	}
}

// Validate checks the configuration for usable values.
func (c *Config) Validate() error {
	if c.MaxFixIterations < 1 {
		return fmt.Errorf("max_fix_iterations must be at least 1, got %d", c.MaxFixIterations)
	}
	if c.MaxReviewIterations < 1 {
		return fmt.Errorf("max_review_iterations must be at least 1, got %d", c.MaxReviewIterations)
	}
	if c.MaxStubRemediations < 0 {
		return fmt.Errorf("max_stub_remediations must not be negative, got %d", c.MaxStubRemediations)
	}
	if c.MaxDecompositionDepth < 1 {
		return fmt.Errorf("max_decomposition_depth must be at least 1, got %d", c.MaxDecompositionDepth)
	}
	if c.CoverageMin < 0 || c.CoverageMin > 100 {
		return fmt.Errorf("coverage_min must be within 0-100, got %f", c.CoverageMin)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.OracleTimeout <= 0 {
		return fmt.Errorf("oracle_timeout must be positive, got %s", c.OracleTimeout)
	}
	return nil
}
