// Package embed turns text into fixed-size vectors for the memory index.
package embed

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultDimensions matches all-MiniLM-L6-v2.
const DefaultDimensions = 384

// Provider names accepted in configuration.
const (
	ProviderHash   = "hash"
	ProviderOllama = "ollama"
)

var (
	// ErrEmbedding wraps every failure to produce a vector.
	ErrEmbedding = errors.New("embed: embedding failed")

	// ErrUnknownProvider is returned by New for an unsupported provider.
	ErrUnknownProvider = errors.New("embed: unknown provider")
)

// Embedder converts text into a vector of Dimensions() floats.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// Config selects and configures an Embedder.
type Config struct {
	Provider   string        `yaml:"provider" validate:"omitempty,oneof=hash ollama"`
	Dimensions int           `yaml:"dimensions" validate:"gte=0"`
	BaseURL    string        `yaml:"base_url" validate:"omitempty,url"`
	Model      string        `yaml:"model"`
	Timeout    time.Duration `yaml:"timeout"`
	// RatePerSecond limits outbound embedding calls. Zero means unlimited.
	RatePerSecond float64 `yaml:"rate_per_second" validate:"gte=0"`
	Burst         int     `yaml:"burst" validate:"gte=0"`
}

func (c Config) withDefaults() Config {
	if c.Provider == "" {
		c.Provider = ProviderHash
	}
	if c.Dimensions == 0 {
		c.Dimensions = DefaultDimensions
	}
	if c.Timeout == 0 {
		c.Timeout = 2 * time.Second
	}
	if c.Burst == 0 {
		c.Burst = 1
	}
	return c
}

// New builds the Embedder named by cfg.Provider.
func New(cfg Config) (Embedder, error) {
	cfg = cfg.withDefaults()
	if cfg.Dimensions < 0 {
		return nil, fmt.Errorf("embed: dimensions must be positive, got %d", cfg.Dimensions)
	}
	switch cfg.Provider {
	case ProviderHash:
		return NewHashEmbedder(cfg.Dimensions), nil
	case ProviderOllama:
		return NewOllamaEmbedder(OllamaConfig{
			BaseURL:       cfg.BaseURL,
			Model:         cfg.Model,
			Dimensions:    cfg.Dimensions,
			Timeout:       cfg.Timeout,
			RatePerSecond: cfg.RatePerSecond,
			Burst:         cfg.Burst,
		}), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
}

// WithTimeout runs one Embed call bounded by d.
func WithTimeout(ctx context.Context, e Embedder, d time.Duration, text string) ([]float32, error) {
	if d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	return e.Embed(ctx, text)
}
