// Package main is the entry point for the memoir CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/flemzord/memoir/internal/core"
	"github.com/flemzord/memoir/pkg/app"
	"github.com/spf13/cobra"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	config   string
	dataDir  string
	logLevel string
	format   string
}

func rootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "memoir",
		Short:         "Token-budget-aware memory for conversational agents",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return validateFormat(g.format)
		},
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&g.config, "config", "c", "", "Path to configuration file")
	pf.StringVar(&g.dataDir, "data-dir", "", "Data directory (default $XDG_DATA_HOME/memoir)")
	pf.StringVar(&g.logLevel, "log-level", "", "Override log.level (debug|info|warn|error)")
	pf.StringVar(&g.format, "format", formatText, "Output format (text|json)")

	root.AddCommand(
		versionCmd(g),
		startCmd(g),
		configCmd(g),
		initCmd(g),
		serviceCmd(g),
		mcpCmd(g),
		preTurnCmd(g),
		summarizeCmd(g),
		checkCompactionCmd(g),
		injectCmd(g),
		recallCmd(g),
		ingestCmd(g),
		rebuildCmd(g),
		statsCmd(g),
		healthCmd(g),
		injectionsCmd(g),
	)
	return root
}

func versionCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and compiled modules",
		RunE: func(cmd *cobra.Command, _ []string) error {
			mods := core.GetModules()
			ids := make([]string, len(mods))
			for i, mod := range mods {
				ids[i] = string(mod.ID)
			}
			info := versionInfo{Version: version, Commit: commit, Date: date, Modules: ids}
			return render(cmd.OutOrStdout(), g.format, info, info.text)
		},
	}
}

type versionInfo struct {
	Version string   `json:"version"`
	Commit  string   `json:"commit"`
	Date    string   `json:"date"`
	Modules []string `json:"modules"`
}

func (v versionInfo) text(w *textWriter) {
	w.printf("memoir %s (commit: %s, built: %s)\n", v.Version, v.Commit, v.Date)
	if len(v.Modules) == 0 {
		w.printf("\nNo compiled modules.\n")
		return
	}
	w.printf("\nCompiled modules:\n")
	for _, id := range v.Modules {
		w.printf("  %s\n", id)
	}
}

func startCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Run the memory daemon with all configured modules and scheduled jobs",
		RunE: func(_ *cobra.Command, _ []string) error {
			return app.Run(runParams(g))
		},
	}
}

func runParams(g *globalFlags) app.RunParams {
	return app.RunParams{
		ConfigPath: g.config,
		DataDir:    g.dataDir,
		LogLevel:   g.logLevel,
		Version:    version,
		Commit:     commit,
		Date:       date,
	}
}
