package config

import (
	"errors"
	"fmt"

	"github.com/flemzord/memoir/internal/core"
)

// Validate checks a Config with defaults applied. It verifies the version
// field and the referenced module IDs, then runs the struct-tag checks and
// the memory, tracing and metrics validators. All errors are reported at
// once.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Version == "" {
		errs = append(errs, errors.New("config: version field is required"))
	} else if cfg.Version != "1" {
		errs = append(errs, fmt.Errorf("config: unsupported version %q (supported: \"1\")", cfg.Version))
	}

	for _, id := range Resolve(cfg) {
		if _, ok := core.GetModule(id); !ok {
			errs = append(errs, fmt.Errorf("config: unknown module %q", id))
		}
	}

	if err := ValidateWithDetails(cfg); err != nil {
		errs = append(errs, err)
	}
	if err := cfg.Memory.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("config: memory: %w", err))
	}
	if err := cfg.Tracing.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("config: tracing: %w", err))
	}
	if cfg.Metrics.Enabled && (cfg.Metrics.Path == "" || cfg.Metrics.Path[0] != '/') {
		errs = append(errs, fmt.Errorf("config: metrics.path must start with '/', got %q", cfg.Metrics.Path))
	}

	return errors.Join(errs...)
}
