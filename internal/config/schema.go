// Package config handles YAML configuration loading, environment variable
// expansion, defaults and validation for memoir.
package config

import (
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/flemzord/memoir/internal/cron"
	"github.com/flemzord/memoir/internal/facade"
	"github.com/flemzord/memoir/internal/metrics"
	"github.com/flemzord/memoir/internal/telemetry"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration structure.
type Config struct {
	// Version is the config format version. Currently only "1" is supported.
	Version string `yaml:"version"`

	// DataDir holds the journal database and, unless memory.memory_dir is
	// set, the memory directory.
	DataDir string `yaml:"data_dir"`

	Memory   facade.Config    `yaml:"memory"`
	Log      LogConfig        `yaml:"log"`
	Tracing  telemetry.Config `yaml:"tracing"`
	Metrics  metrics.Config   `yaml:"metrics"`
	Schedule ScheduleConfig   `yaml:"schedule"`

	// Modules maps module IDs to their raw YAML configuration.
	// Keys must match registered module IDs (e.g. "gateway.http").
	Modules map[string]yaml.Node `yaml:"modules"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=text json"`
	// AuditFile receives security audit events as JSON lines. Empty means
	// the process logger.
	AuditFile string `yaml:"audit_file"`
	// MaxValueLen caps logged string values, in runes. Zero uses the
	// handler default and a negative value disables the cap.
	MaxValueLen int `yaml:"max_value_len"`
}

// ScheduleConfig holds the cron expressions of the background jobs.
type ScheduleConfig struct {
	Disabled   bool   `yaml:"disabled"`
	Summary    string `yaml:"summary" validate:"omitempty,cronexpr"`
	Rebuild    string `yaml:"rebuild" validate:"omitempty,cronexpr"`
	CachePurge string `yaml:"cache_purge" validate:"omitempty,cronexpr"`
}

// Default names under the data directory.
const (
	DefaultMemoryDirName = "memory"
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "text"
)

// ApplyDefaults fills unset fields. dataDir is used when the file does not
// set data_dir.
func (c *Config) ApplyDefaults(dataDir string) {
	if c.DataDir == "" {
		c.DataDir = dataDir
	}
	if c.Memory.MemoryDir == "" && c.DataDir != "" {
		c.Memory.MemoryDir = filepath.Join(c.DataDir, DefaultMemoryDirName)
	}
	c.Memory = c.Memory.WithDefaults()

	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = metrics.DefaultConfig().Path
	}
	if c.Schedule.Summary == "" {
		c.Schedule.Summary = cron.DefaultSummarySchedule
	}
	if c.Schedule.Rebuild == "" {
		c.Schedule.Rebuild = cron.DefaultRebuildSchedule
	}
	if c.Schedule.CachePurge == "" {
		c.Schedule.CachePurge = cron.DefaultCachePurgeSchedule
	}
}

// SlogLevel returns the slog level named by Level, defaulting to info.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
