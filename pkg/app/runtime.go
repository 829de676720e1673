package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/flemzord/memoir/internal/config"
	"github.com/flemzord/memoir/internal/core"
	"github.com/flemzord/memoir/internal/facade"
	"github.com/flemzord/memoir/internal/metrics"
	"github.com/flemzord/memoir/internal/security"
	"github.com/flemzord/memoir/internal/telemetry"
	"github.com/flemzord/memoir/modules/memory/sqlite"
)

// Service names published on the AppContext.
const (
	MemoryService   = "memory.facade"
	MetricsService  = "metrics.manager"
	RedactorService = "security.redactor"
	AuditService    = "security.audit"
	ConfigService   = "config.path"
)

// Options configures Open.
type Options struct {
	// ConfigPath is an explicit path to the YAML configuration file.
	// If empty, ResolveConfigPath is called automatically.
	ConfigPath string

	// DataDir overrides the default persistent data directory. A data_dir
	// set in the file wins.
	DataDir string

	// LogLevel overrides log.level when non-empty.
	LogLevel string

	// LogWriter receives process logs. Defaults to os.Stderr.
	LogWriter io.Writer

	// Version is reported to the tracing backend.
	Version string
}

// Runtime is a loaded configuration with the memory pipeline and the shared
// services built from it. The daemon and every CLI command start from one.
type Runtime struct {
	Config     *config.Config
	ConfigPath string
	Logger     *slog.Logger
	Redactor   *security.Redactor
	Audit      *security.AuditLogger
	Metrics    *metrics.Manager
	Memory     *facade.Facade
	AppContext *core.AppContext
	App        *core.App

	closers []func(context.Context) error
}

// Open loads and validates the configuration, then builds the logger, the
// security services, metrics, tracing and the facade. Modules are not
// loaded; see LoadModules.
func Open(ctx context.Context, opts Options) (*Runtime, error) {
	cfgPath := opts.ConfigPath
	if cfgPath == "" {
		resolved, err := ResolveConfigPath()
		if err != nil {
			return nil, err
		}
		cfgPath = resolved
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	dataDir := opts.DataDir
	if dataDir == "" {
		dataDir = DefaultDataDir()
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
	cfg.ApplyDefaults(dataDir)
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	redactor := security.NewRedactor()
	rt := &Runtime{
		Config:     cfg,
		ConfigPath: cfgPath,
		Redactor:   redactor,
		Logger:     newLogger(opts.LogWriter, cfg.Log, redactor),
	}

	if err := rt.openAudit(); err != nil {
		return nil, rt.closeWith(ctx, err)
	}

	rt.Metrics = metrics.NoOpManager()
	if cfg.Metrics.Enabled {
		rt.Metrics = metrics.NewManager(cfg.Metrics)
	}

	shutdown, err := telemetry.Init(ctx, cfg.Tracing, "memoir", opts.Version, rt.Logger)
	if err != nil {
		return nil, rt.closeWith(ctx, err)
	}
	rt.closers = append(rt.closers, shutdown)

	rt.Memory, err = facade.New(cfg.Memory,
		facade.WithLogger(rt.Logger.With("component", "facade")),
		facade.WithMetrics(rt.Metrics),
		facade.WithScrubber(redactor.Redact),
	)
	if err != nil {
		return nil, rt.closeWith(ctx, err)
	}

	rt.AppContext = core.NewAppContext(rt.Logger, cfg.DataDir, cfg.Memory.MemoryDir).WithModuleConfigs(cfg.Modules)
	rt.AppContext.RegisterService(MemoryService, rt.Memory)
	rt.AppContext.RegisterService(MetricsService, rt.Metrics)
	rt.AppContext.RegisterService(RedactorService, redactor)
	rt.AppContext.RegisterService(AuditService, rt.Audit)
	rt.AppContext.RegisterService(ConfigService, cfgPath)
	rt.App = core.NewApp(rt.AppContext)
	return rt, nil
}

// LoadModules loads the given modules and binds the journal to the facade
// when the sqlite module publishes one.
func (rt *Runtime) LoadModules(ids []string) error {
	if err := rt.App.LoadModules(ids); err != nil {
		return err
	}
	if j, ok := core.ServiceAs[facade.Journal](rt.AppContext, sqlite.ServiceName); ok {
		rt.Memory.SetJournal(j)
	}
	return nil
}

// OpenJournal loads and starts only the journal module when it is
// configured. One-shot commands use it so injections are still recorded.
func (rt *Runtime) OpenJournal() error {
	const id = "memory.sqlite"
	if _, ok := rt.Config.Modules[id]; !ok {
		return nil
	}
	if err := rt.LoadModules([]string{id}); err != nil {
		return err
	}
	return rt.App.Start()
}

// Close stops started modules, flushes tracing and closes the audit file.
func (rt *Runtime) Close(ctx context.Context) error {
	return rt.closeWith(ctx, nil)
}

func (rt *Runtime) closeWith(ctx context.Context, cause error) error {
	if rt.App != nil {
		rt.App.Stop()
	}
	errs := []error{cause}
	for i := len(rt.closers) - 1; i >= 0; i-- {
		errs = append(errs, rt.closers[i](ctx))
	}
	rt.closers = nil
	return errors.Join(errs...)
}

// openAudit writes audit events as JSON lines to log.audit_file, or to the
// process logger when no file is set.
func (rt *Runtime) openAudit() error {
	path := rt.Config.Log.AuditFile
	if path == "" {
		logger := rt.Logger.With("component", "audit")
		rt.Audit = security.NewAuditLogger(security.AuditLoggerConfig{
			Redactor: rt.Redactor,
			OnEvent: func(e security.AuditEvent) {
				logger.Info("audit event",
					"type", string(e.Type),
					"session_id", e.SessionID,
					"remote", e.Remote,
					"detail", e.Detail,
				)
			},
		})
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating audit dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("opening audit file: %w", err)
	}
	rt.closers = append(rt.closers, func(context.Context) error { return f.Close() })
	rt.Audit = security.NewAuditLogger(security.AuditLoggerConfig{Writer: f, Redactor: rt.Redactor})
	return nil
}

// newLogger builds the process logger. Secrets known to the redactor never
// reach the output.
func newLogger(w io.Writer, cfg config.LogConfig, redactor *security.Redactor) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	var inner slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		inner = slog.NewJSONHandler(w, opts)
	} else {
		inner = slog.NewTextHandler(w, opts)
	}
	return slog.New(security.NewRedactingHandler(inner, redactor, &security.HandlerOptions{MaxValueLen: cfg.MaxValueLen}))
}
