package sqlite

import (
	"fmt"
	"time"
)

const (
	defaultBusyTimeout = 5000
	defaultDBFile      = "journal.db"
	defaultRetention   = 30 * 24 * time.Hour
)

// Config is the memory.sqlite module section.
//
//	modules:
//	  memory.sqlite:
//	    path: /var/lib/memoir/journal.db
//	    retention: 720h
type Config struct {
	// Path defaults to journal.db in the data directory.
	Path string `yaml:"path"`
	// WAL is on unless set to false.
	WAL *bool `yaml:"wal"`
	// BusyTimeout is in milliseconds.
	BusyTimeout int `yaml:"busy_timeout"`
	// Retention is how long journal records are kept; they are pruned at
	// start. Negative keeps everything.
	Retention time.Duration `yaml:"retention"`
}

func (c *Config) defaults() {
	if c.BusyTimeout == 0 {
		c.BusyTimeout = defaultBusyTimeout
	}
	if c.Retention == 0 {
		c.Retention = defaultRetention
	}
}

func (c *Config) walEnabled() bool {
	return c.WAL == nil || *c.WAL
}

func (c *Config) validate() error {
	if c.BusyTimeout < 0 {
		return fmt.Errorf("sqlite: busy_timeout must not be negative, got %d", c.BusyTimeout)
	}
	return nil
}
