package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mozilla-services/syncstorage-go/pkg/engine"
	"github.com/mozilla-services/syncstorage-go/pkg/quota"
)

// Config is cmd/syncstorage's YAML manifest shape. Every field has a
// sensible default applied by Load when the manifest omits it, mirroring
// the defaulting NewX(cfg) constructors do throughout the teacher
// codebase.
type Config struct {
	Backend string `yaml:"backend"`
	DataDir string `yaml:"dataDir"`
	DSN     string `yaml:"dsn"`

	LogLevel string `yaml:"logLevel"`
	LogJSON  bool   `yaml:"logJSON"`

	QuotaLimitBytes int64 `yaml:"quotaLimitBytes"`

	Limits *LimitsConfig `yaml:"limits,omitempty"`
}

// LimitsConfig overrides engine.DefaultLimits field by field; any field
// left at zero in the manifest keeps engine.DefaultLimits' value.
type LimitsConfig struct {
	MaxPostRecords        int64 `yaml:"maxPostRecords"`
	MaxPostBytes          int64 `yaml:"maxPostBytes"`
	MaxTotalRecords       int64 `yaml:"maxTotalRecords"`
	MaxTotalBytes         int64 `yaml:"maxTotalBytes"`
	MaxRecordPayloadBytes int64 `yaml:"maxRecordPayloadBytes"`
	MaxRequestBytes       int64 `yaml:"maxRequestBytes"`
	MaxBatchByteSize      int64 `yaml:"maxBatchByteSize"`
	MaxBatchRecords       int64 `yaml:"maxBatchRecords"`
}

// Default returns the zero-value Config with its field defaults applied.
func Default() Config {
	return Config{
		Backend:  "bolt",
		DataDir:  "./data",
		LogLevel: "info",
	}
}

// Load reads and parses the YAML manifest at path, applying Default's
// values to any field the manifest leaves unset.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// QuotaPolicy returns the quota.Policy the manifest describes. A zero or
// unset QuotaLimitBytes means unlimited.
func (c Config) QuotaPolicy() quota.Policy {
	return quota.Policy{Limit: c.QuotaLimitBytes}
}

// EngineLimits merges c.Limits over engine.DefaultLimits, field by field.
func (c Config) EngineLimits() engine.Config {
	limits := engine.DefaultLimits
	if c.Limits != nil {
		overlay(&limits.MaxPostRecords, c.Limits.MaxPostRecords)
		overlay(&limits.MaxPostBytes, c.Limits.MaxPostBytes)
		overlay(&limits.MaxTotalRecords, c.Limits.MaxTotalRecords)
		overlay(&limits.MaxTotalBytes, c.Limits.MaxTotalBytes)
		overlay(&limits.MaxRecordPayloadBytes, c.Limits.MaxRecordPayloadBytes)
		overlay(&limits.MaxRequestBytes, c.Limits.MaxRequestBytes)
		overlay(&limits.MaxBatchByteSize, c.Limits.MaxBatchByteSize)
		overlay(&limits.MaxBatchRecords, c.Limits.MaxBatchRecords)
	}
	return engine.Config{Quota: c.QuotaPolicy(), Limits: limits}
}

func overlay(dst *int64, v int64) {
	if v != 0 {
		*dst = v
	}
}
