// Package app provides the shared entry point for the memoir daemon and its
// one-shot commands.
package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/flemzord/memoir/internal/config"
	"github.com/flemzord/memoir/internal/reload"
)

// RunParams configures the main application loop.
type RunParams struct {
	// ConfigPath is an explicit path to the YAML configuration file.
	// If empty, ResolveConfigPath is called automatically.
	ConfigPath string

	// Version, Commit, and Date are injected at build time via ldflags.
	Version string
	Commit  string
	Date    string

	// DataDir overrides the default persistent data directory.
	DataDir string

	// LogLevel overrides log.level when non-empty.
	LogLevel string

	// LogWriter receives process logs. Defaults to os.Stderr.
	LogWriter io.Writer

	// Stop, when non-nil, ends the loop like SIGTERM. The service wrapper
	// uses it.
	Stop <-chan struct{}
}

// Run loads configuration, starts all modules and the job scheduler, and
// blocks until a shutdown signal is received. SIGHUP and file-change events
// trigger a live configuration reload.
func Run(params RunParams) error {
	ctx := context.Background()
	rt, err := Open(ctx, Options{
		ConfigPath: params.ConfigPath,
		DataDir:    params.DataDir,
		LogLevel:   params.LogLevel,
		LogWriter:  params.LogWriter,
		Version:    params.Version,
	})
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close(context.Background()) }()

	logger := rt.Logger
	logger.Info("memoir starting",
		"version", params.Version,
		"commit", params.Commit,
		"config", rt.ConfigPath,
		"memory_dir", rt.Config.Memory.MemoryDir,
	)

	if err := rt.LoadModules(config.Resolve(rt.Config)); err != nil {
		return err
	}

	sched, err := newScheduleModule(rt)
	if err != nil {
		return err
	}
	rt.App.AppendModule(sched)

	handler := reload.NewHandler(reload.HandlerConfig{
		App:        rt.App,
		AppContext: rt.AppContext,
		Memory:     rt.Memory,
		Audit:      rt.Audit,
		Logger:     logger,
	})
	rt.AppContext.RegisterService("reload.handler", handler)

	if err := rt.App.Start(); err != nil {
		return err
	}

	// --- signal handling ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	// --- file watcher ---
	watcher := reload.NewWatcher(reload.WatcherConfig{ConfigPath: rt.ConfigPath})
	watchCtx, watchCancel := context.WithCancel(ctx)
	defer watchCancel()
	watcher.Start(watchCtx)
	defer watcher.Stop()

	// --- main event loop ---
	for {
		select {
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				logger.Info("SIGHUP received, reloading configuration")
				if err := handler.HandleReload(watchCtx, rt.ConfigPath); err != nil {
					logger.Error("reload failed", "error", err)
				}
				continue
			}
			logger.Info("shutdown signal received", "signal", sig.String())
			return shutdown(rt)
		case <-params.Stop:
			logger.Info("stop requested")
			return shutdown(rt)
		case evt := <-watcher.Events():
			logger.Info("config file changed, reloading", "path", evt.ConfigPath)
			if err := handler.HandleReload(watchCtx, rt.ConfigPath); err != nil {
				logger.Error("reload failed", "error", err)
			}
		}
	}
}

func shutdown(rt *Runtime) error {
	rt.App.Stop()
	rt.Logger.Info("shutdown complete")
	return nil
}

// ResolveConfigPath searches for a config file in standard locations.
// Search order: $XDG_CONFIG_HOME/memoir/memoir.yaml → ~/.config/memoir/memoir.yaml → ./memoir.yaml
func ResolveConfigPath() (string, error) {
	var candidates []string

	if xdg, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok {
		candidates = append(candidates, filepath.Join(xdg, "memoir", "memoir.yaml"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "memoir", "memoir.yaml"))
	}
	candidates = append(candidates, "memoir.yaml")

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no configuration file found (searched: %v)", candidates)
}

// DefaultConfigPath is where `memoir init` writes a new configuration.
func DefaultConfigPath() string {
	if xdg, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok {
		return filepath.Join(xdg, "memoir", "memoir.yaml")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "memoir", "memoir.yaml")
}

// DefaultDataDir returns the default persistent data directory.
// Uses $XDG_DATA_HOME/memoir if set, otherwise ~/.local/share/memoir per the XDG spec.
func DefaultDataDir() string {
	if dir, ok := os.LookupEnv("XDG_DATA_HOME"); ok {
		return filepath.Join(dir, "memoir")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "memoir")
}
