// Package sqlite implements the journal module: a persistent record of
// every compaction-triggered injection and every scheduled summary run. It
// uses modernc.org/sqlite (pure Go, no CGO) in WAL mode.
package sqlite

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/memoir/internal/core"
)

// ServiceName is the name the journal is published under.
const ServiceName = "memory.journal"

// openTimeout bounds the database work done during the module lifecycle.
const openTimeout = 10 * time.Second

func init() {
	core.RegisterModule(&Module{})
}

var (
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Validator    = (*Module)(nil)
	_ core.Starter      = (*Module)(nil)
	_ core.Stopper      = (*Module)(nil)
)

// Module owns the journal database for the lifetime of the process.
type Module struct {
	config  Config
	logger  *slog.Logger
	journal *Journal
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "memory.sqlite",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("sqlite: decode config: %w", err)
	}
	m.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.config.defaults()
	m.logger = ctx.Logger

	if m.config.Path == "" {
		m.config.Path = filepath.Join(ctx.DataDir, defaultDBFile)
	}

	openCtx, cancel := context.WithTimeout(context.Background(), openTimeout)
	defer cancel()
	db, err := open(openCtx, m.config)
	if err != nil {
		return err
	}
	m.journal = newJournal(db)
	ctx.RegisterService(ServiceName, m.journal)

	m.logger.Info("journal opened", "path", m.config.Path, "wal", m.config.walEnabled())
	return nil
}

// Validate implements core.Validator. It checks that the schema is current.
func (m *Module) Validate() error {
	if err := m.config.validate(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), openTimeout)
	defer cancel()
	v, err := schemaVersion(ctx, m.journal.db)
	if err != nil {
		return err
	}
	if v != len(migrations) {
		return fmt.Errorf("sqlite: schema version %d, want %d", v, len(migrations))
	}
	return nil
}

// Start implements core.Starter. It prunes records past the retention.
func (m *Module) Start() error {
	if m.config.Retention < 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), openTimeout)
	defer cancel()
	n, err := m.journal.Prune(ctx, time.Now().Add(-m.config.Retention))
	if err != nil {
		return err
	}
	if n > 0 {
		m.logger.Info("journal pruned", "records", n, "retention", m.config.Retention)
	}
	return nil
}

// Stop implements core.Stopper.
func (m *Module) Stop(context.Context) error {
	if m.journal == nil {
		return nil
	}
	return m.journal.Close()
}

// Journal returns the journal.
func (m *Module) Journal() *Journal {
	return m.journal
}
