package reload

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/flemzord/memoir/internal/config"
	"github.com/flemzord/memoir/internal/core"
	"github.com/flemzord/memoir/internal/facade"
	"github.com/flemzord/memoir/internal/security"
)

// MemoryReloader applies a new memory pipeline configuration.
type MemoryReloader interface {
	Reload(cfg facade.Config) error
}

// HandlerConfig wires a Handler.
type HandlerConfig struct {
	App        *core.App
	AppContext *core.AppContext
	Memory     MemoryReloader
	Audit      *security.AuditLogger
	Logger     *slog.Logger
}

// Handler reloads application configuration, re-tunes the memory pipeline
// and notifies modules.
type Handler struct {
	app    *core.App
	appCtx *core.AppContext
	memory MemoryReloader
	audit  *security.AuditLogger
	logger *slog.Logger
}

// NewHandler creates a reload handler.
func NewHandler(cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		app:    cfg.App,
		appCtx: cfg.AppContext,
		memory: cfg.Memory,
		audit:  cfg.Audit,
		logger: logger,
	}
}

// HandleReload loads a fresh config from disk, validates it, and applies it.
func (h *Handler) HandleReload(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg.ApplyDefaults(h.appCtx.DataDir)
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	if err := h.handleReload(ctx, cfg); err != nil {
		return err
	}
	if h.audit != nil {
		h.audit.Log(security.AuditEvent{
			Type:    security.EventConfigChange,
			Surface: security.SurfaceReload,
			Detail:  configPath,
		})
	}
	return nil
}

// HandleReloadFromConfig applies a pre-loaded, already-validated config.
// The caller is responsible for calling config.Validate before this
// method; it will not re-validate.
func (h *Handler) HandleReloadFromConfig(ctx context.Context, cfg *config.Config) error {
	return h.handleReload(ctx, cfg)
}

// handleReload re-tunes the memory pipeline first. A rejected memory section
// leaves modules untouched.
func (h *Handler) handleReload(ctx context.Context, cfg *config.Config) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled before reload: %w", err)
	}

	if h.memory != nil {
		if err := h.memory.Reload(cfg.Memory); err != nil {
			return fmt.Errorf("reloading memory: %w", err)
		}
	}

	if h.app != nil {
		if err := h.app.ReloadModules(h.appCtx.WithModuleConfigs(cfg.Modules)); err != nil {
			return fmt.Errorf("reloading modules: %w", err)
		}
	}

	h.logger.Info("configuration reloaded successfully")
	return nil
}
