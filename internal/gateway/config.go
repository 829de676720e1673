package gateway

import (
	"time"

	"github.com/flemzord/memoir/internal/security"
)

// Config holds HTTP gateway configuration.
type Config struct {
	Bind            string                   `yaml:"bind"`
	Auth            AuthConfig               `yaml:"auth"`
	RateLimit       security.RateLimitConfig `yaml:"rate_limit"`
	MaxBodyBytes    int                      `yaml:"max_body_bytes"`
	ReadTimeout     time.Duration            `yaml:"read_timeout"`
	WriteTimeout    time.Duration            `yaml:"write_timeout"`
	ShutdownTimeout time.Duration            `yaml:"shutdown_timeout"`
}

// defaults fills zero values with sensible defaults.
func (c *Config) defaults() {
	if c.Bind == "" {
		c.Bind = "127.0.0.1:8080"
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 64 << 10
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
}

// AuthConfig configures authentication for /api endpoints.
type AuthConfig struct {
	BearerToken string `yaml:"bearer_token"`
	BasicUser   string `yaml:"basic_user"`
	BasicPass   string `yaml:"basic_pass"`
}

// IsConfigured returns true if any auth method is configured.
func (a AuthConfig) IsConfigured() bool {
	return a.BearerToken != "" || (a.BasicUser != "" && a.BasicPass != "")
}

// Secrets returns the configured credentials, for log redaction.
func (a AuthConfig) Secrets() []string {
	var out []string
	for _, s := range []string{a.BearerToken, a.BasicPass} {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
