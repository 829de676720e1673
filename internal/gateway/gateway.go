// Package gateway serves the memory pipeline over HTTP: health and stats for
// probes, Prometheus metrics, and an authenticated /api for hosts that cannot
// link the facade in-process.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/flemzord/memoir/internal/core"
	"github.com/flemzord/memoir/internal/facade"
	"github.com/flemzord/memoir/internal/memory"
	"github.com/flemzord/memoir/internal/metrics"
	"github.com/flemzord/memoir/internal/recall"
	"github.com/flemzord/memoir/internal/security"
	"gopkg.in/yaml.v3"
)

func init() {
	core.RegisterModule(&Gateway{})
}

// Service names resolved at Start.
const (
	MemoryService  = "memory.facade"
	MetricsService = "metrics.manager"
	AuditService   = "security.audit"
	HookService    = "hook.handler"
)

// ErrNoMemory is returned by Start when no facade was registered.
var ErrNoMemory = errors.New("gateway: " + MemoryService + " service not registered")

// Memory is the part of the facade the gateway serves.
type Memory interface {
	PreTurnReport(ctx context.Context, message string) facade.PreTurnReport
	Recall(ctx context.Context, message string) (recall.Result, error)
	Tick(ctx context.Context) facade.TickReport
	RebuildIndex(ctx context.Context) (memory.IngestStats, error)
	Health(ctx context.Context) facade.HealthReport
	Stats(ctx context.Context) facade.Stats
	Injections(ctx context.Context, limit int) ([]facade.Injection, error)
}

// Gateway is the HTTP gateway module. It is a leaf module: nothing imports
// it.
type Gateway struct {
	config    Config
	appCtx    *core.AppContext
	logger    *slog.Logger
	server    *http.Server
	counters  *Counters
	limiter   *security.RateLimiter
	startedAt time.Time

	// Resolved lazily at Start() via service registry.
	memory Memory
	prom   *metrics.Manager
	audit  *security.AuditLogger
	hook   http.Handler
}

// ModuleInfo implements core.Module.
func (g *Gateway) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "gateway.http",
		New: func() core.Module { return &Gateway{} },
	}
}

// Configure implements core.Configurable.
func (g *Gateway) Configure(node *yaml.Node) error {
	if err := node.Decode(&g.config); err != nil {
		return err
	}
	g.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (g *Gateway) Provision(ctx *core.AppContext) error {
	g.appCtx = ctx
	g.logger = ctx.Logger
	g.counters = &Counters{}
	g.limiter = security.NewRateLimiter(g.config.RateLimit)

	ctx.RegisterService("gateway.counters", g.counters)
	if r, ok := core.ServiceAs[*security.Redactor](ctx, "security.redactor"); ok {
		r.SetLiterals(string(g.ModuleInfo().ID), g.config.Auth.Secrets()...)
	}
	return nil
}

// Validate implements core.Validator.
func (g *Gateway) Validate() error {
	if _, err := net.ResolveTCPAddr("tcp", g.config.Bind); err != nil {
		return errors.New("gateway: invalid bind address: " + g.config.Bind)
	}
	if !g.config.Auth.IsConfigured() {
		g.logger.Warn("gateway: no auth configured, /api is not mounted")
	}
	return nil
}

// Start implements core.Starter. It resolves dependencies from the service
// registry (lazy binding) and starts the HTTP server.
func (g *Gateway) Start() error {
	g.resolve()
	if g.memory == nil {
		return ErrNoMemory
	}
	g.startedAt = time.Now()

	g.server = &http.Server{
		Addr:         g.config.Bind,
		Handler:      g.buildRouter(),
		ReadTimeout:  g.config.ReadTimeout,
		WriteTimeout: g.config.WriteTimeout,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", g.config.Bind)
	if err != nil {
		return errors.New("gateway: listen failed: " + err.Error())
	}

	go func() {
		g.logger.Info("gateway listening", "addr", ln.Addr().String())
		if err := g.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("gateway serve error", "error", err)
		}
	}()

	return nil
}

// resolve binds optional services. A missing service disables the feature
// that needs it.
func (g *Gateway) resolve() {
	if m, ok := core.ServiceAs[Memory](g.appCtx, MemoryService); ok {
		g.memory = m
	}
	if m, ok := core.ServiceAs[*metrics.Manager](g.appCtx, MetricsService); ok {
		g.prom = m
	}
	if a, ok := core.ServiceAs[*security.AuditLogger](g.appCtx, AuditService); ok {
		g.audit = a
	}
	if h, ok := core.ServiceAs[http.Handler](g.appCtx, HookService); ok {
		g.hook = h
	}
}

// Stop implements core.Stopper. Graceful shutdown with configured timeout.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, g.config.ShutdownTimeout)
	defer cancel()

	g.logger.Info("gateway shutting down")
	return g.server.Shutdown(shutdownCtx)
}
