package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/flemzord/memoir/pkg/app"
	"github.com/kardianos/service"
	"github.com/spf13/cobra"
)

// daemon adapts app.Run to the service manager.
type daemon struct {
	params app.RunParams
	stop   chan struct{}
	done   chan error
}

func (d *daemon) Start(_ service.Service) error {
	d.stop = make(chan struct{})
	d.done = make(chan error, 1)
	params := d.params
	params.Stop = d.stop
	go func() { d.done <- app.Run(params) }()
	return nil
}

func (d *daemon) Stop(_ service.Service) error {
	close(d.stop)
	return <-d.done
}

func serviceConfig(g *globalFlags) *service.Config {
	args := []string{"service", "run"}
	if g.config != "" {
		args = append(args, "--config", g.config)
	}
	if g.dataDir != "" {
		args = append(args, "--data-dir", g.dataDir)
	}
	return &service.Config{
		Name:        "memoir",
		DisplayName: "memoir",
		Description: "Token-budget-aware memory for conversational agents",
		Arguments:   args,
		Option:      service.KeyValue{"UserService": true},
	}
}

func serviceCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Manage memoir as a system service",
	}
	for _, action := range []string{"install", "uninstall", "start", "stop", "restart"} {
		cmd.AddCommand(&cobra.Command{
			Use:   action,
			Short: fmt.Sprintf("%s the memoir service", action),
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				svc, err := service.New(&daemon{params: runParams(g)}, serviceConfig(g))
				if err != nil {
					return err
				}
				if err := service.Control(svc, action); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "service %s: ok\n", action)
				return nil
			},
		})
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the service status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := service.New(&daemon{}, serviceConfig(g))
			if err != nil {
				return err
			}
			st, err := svc.Status()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), statusName(st))
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:    "run",
		Short:  "Run under the service manager",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			svc, err := service.New(&daemon{params: runParams(g)}, serviceConfig(g))
			if err != nil {
				return err
			}
			if err := svc.Run(); err != nil {
				slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("service run failed", "error", err)
				return err
			}
			return nil
		},
	})
	return cmd
}

func statusName(st service.Status) string {
	switch st {
	case service.StatusRunning:
		return "running"
	case service.StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
