package main

import (
	"github.com/flemzord/memoir/internal/config"
	"github.com/flemzord/memoir/internal/core"
	"github.com/flemzord/memoir/pkg/app"
	"github.com/spf13/cobra"
)

type configReport struct {
	Path      string   `json:"path"`
	MemoryDir string   `json:"memory_dir"`
	LogDir    string   `json:"log_dir"`
	Modules   []string `json:"modules"`
}

func configCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check [path]",
		Short: "Validate configuration and provision its modules",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := g.config
			if len(args) == 1 {
				path = args[0]
			}
			rt, err := app.Open(cmd.Context(), app.Options{
				ConfigPath: path,
				DataDir:    g.dataDir,
				LogLevel:   "warn",
				LogWriter:  cmd.ErrOrStderr(),
				Version:    version,
			})
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close(cmd.Context()) }()

			ids := config.Resolve(rt.Config)
			if err := rt.LoadModules(ids); err != nil {
				return err
			}
			for _, id := range ids {
				// Modules that were loaded but not started still hold
				// resources from Provision.
				if mod, ok := rt.App.Module(id); ok {
					if s, ok := mod.(core.Stopper); ok {
						defer func() { _ = s.Stop(cmd.Context()) }()
					}
				}
			}

			rep := configReport{
				Path:      rt.ConfigPath,
				MemoryDir: rt.Config.Memory.MemoryDir,
				LogDir:    rt.Config.Memory.LogDir,
				Modules:   ids,
			}
			return render(cmd.OutOrStdout(), g.format, rep, func(w *textWriter) {
				w.printf("Configuration OK (%d modules)\n", len(ids))
				for _, id := range ids {
					w.printf("  %s\n", id)
				}
			})
		},
	})
	return cmd
}
