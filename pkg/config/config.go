// Package config loads and validates application configuration from YAML
// files with environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Logging  LoggingConfig  `yaml:"logging"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Matching MatchingConfig `yaml:"matching"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig controls distributed tracing (sample rate, endpoint).
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`
	SampleRate float64 `yaml:"sampleRate"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// MatchingConfig controls the per-node query-matching subsystem: thread
// fan-out, match-phase degradation, hit-collector sizing, and soft-timeout
// policy (SPEC_FULL.md §6 "Configuration surface").
type MatchingConfig struct {
	NumThreadsPerSearch int     `yaml:"numThreadsPerSearch"`
	MinHitsPerThread    int     `yaml:"minHitsPerThread"`
	NumSearchPartitions int     `yaml:"numSearchPartitions"`
	TermwiseLimit       float64 `yaml:"termwiseLimit"`

	MatchPhaseAttribute     string  `yaml:"matchPhaseAttribute"`
	MatchPhaseMaxHits       uint32  `yaml:"matchPhaseMaxHits"`
	MatchPhaseMaxGroupSize  uint32  `yaml:"matchPhaseMaxGroupSize"`
	DiversityCutoffFactor   float64 `yaml:"diversityCutoffFactor"`
	DiversityCutoffStrategy string  `yaml:"diversityCutoffStrategy"`

	HitCollectorArraySize int `yaml:"hitCollectorArraySize"`
	HitCollectorHeapSize  int `yaml:"hitCollectorHeapSize"`

	SoftTimeoutEnabled         bool          `yaml:"softTimeoutEnabled"`
	SoftTimeoutFactor          float64       `yaml:"softTimeoutFactor"`
	SoftTimeoutFactorOverride  bool          `yaml:"softTimeoutFactorOverride"`
	SoftTimeoutBootstrapWindow time.Duration `yaml:"softTimeoutBootstrapWindow"`

	QueryLimiterMaxThreads int     `yaml:"queryLimiterMaxThreads"`
	QueryLimiterCoverage   float64 `yaml:"queryLimiterCoverage"`
	QueryLimiterMinHits    uint32  `yaml:"queryLimiterMinHits"`

	ExecuteTasks ExecuteTasksConfig `yaml:"executeTasks"`
}

// ExecuteTasksConfig names the attribute-mutation tasks fired at each
// match-phase trigger point (rank-properties vespa.execute.onmatch.* and
// friends): which attribute to mutate and the operation to apply. Empty
// attribute means no task at that trigger.
type ExecuteTasksConfig struct {
	OnMatchAttribute      string `yaml:"onMatchAttribute"`
	OnMatchOperation      string `yaml:"onMatchOperation"`
	OnFirstPhaseAttribute string `yaml:"onFirstPhaseAttribute"`
	OnFirstPhaseOperation string `yaml:"onFirstPhaseOperation"`
	OnRerankAttribute     string `yaml:"onRerankAttribute"`
	OnRerankOperation     string `yaml:"onRerankOperation"`
	OnSummaryAttribute    string `yaml:"onSummaryAttribute"`
	OnSummaryOperation    string `yaml:"onSummaryOperation"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// defaultConfig returns a Config with production-ready defaults for local
// development.
func defaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
		Matching: MatchingConfig{
			NumThreadsPerSearch:        4,
			MinHitsPerThread:           0,
			NumSearchPartitions:        0,
			TermwiseLimit:              1.0,
			MatchPhaseMaxGroupSize:     1,
			DiversityCutoffFactor:      10.0,
			DiversityCutoffStrategy:    "loose",
			HitCollectorArraySize:      128,
			HitCollectorHeapSize:       128,
			SoftTimeoutEnabled:         true,
			SoftTimeoutFactor:          0.5,
			SoftTimeoutBootstrapWindow: 60 * time.Second,
			QueryLimiterMaxThreads:     -1,
			QueryLimiterCoverage:       1.0,
			QueryLimiterMinHits:        ^uint32(0),
		},
	}
}

// applyEnvOverrides reads SP_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SP_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SP_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("SP_MATCHING_NUM_THREADS_PER_SEARCH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Matching.NumThreadsPerSearch = n
		}
	}
	if v := os.Getenv("SP_MATCHING_NUM_SEARCH_PARTITIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Matching.NumSearchPartitions = n
		}
	}
	if v := os.Getenv("SP_MATCHING_SOFT_TIMEOUT_FACTOR"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Matching.SoftTimeoutFactor = f
			cfg.Matching.SoftTimeoutFactorOverride = true
		}
	}
	if v := os.Getenv("SP_MATCHING_SOFT_TIMEOUT_ENABLED"); v != "" {
		cfg.Matching.SoftTimeoutEnabled = v == "true" || v == "1"
	}
}
