package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/flemzord/memoir/pkg/app"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// initAnswers holds what the wizard asks.
type initAnswers struct {
	MemoryDir string
	LogDir    string
	Embedder  string
	OllamaURL string
	Gateway   bool
	Bind      string
	Journal   bool
}

func defaultAnswers(dataDir string) initAnswers {
	return initAnswers{
		MemoryDir: filepath.Join(dataDir, "memory"),
		Embedder:  "hash",
		OllamaURL: "http://localhost:11434",
		Bind:      "127.0.0.1:8080",
		Journal:   true,
	}
}

// starterConfig is the file layout written by init.
type starterConfig struct {
	Version string                    `yaml:"version"`
	Memory  starterMemory             `yaml:"memory"`
	Log     starterLog                `yaml:"log"`
	Modules map[string]map[string]any `yaml:"modules,omitempty"`
}

type starterMemory struct {
	MemoryDir string          `yaml:"memory_dir"`
	LogDir    string          `yaml:"log_dir"`
	Embedder  starterEmbedder `yaml:"embedder"`
}

type starterEmbedder struct {
	Provider string `yaml:"provider"`
	BaseURL  string `yaml:"base_url,omitempty"`
}

type starterLog struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func (a initAnswers) config() starterConfig {
	cfg := starterConfig{
		Version: "1",
		Memory: starterMemory{
			MemoryDir: a.MemoryDir,
			LogDir:    a.LogDir,
			Embedder:  starterEmbedder{Provider: a.Embedder},
		},
		Log:     starterLog{Level: "info", Format: "text"},
		Modules: map[string]map[string]any{},
	}
	if a.Embedder == "ollama" {
		cfg.Memory.Embedder.BaseURL = a.OllamaURL
	}
	if a.Gateway {
		cfg.Modules["gateway.http"] = map[string]any{
			"bind": a.Bind,
			"auth": map[string]any{"bearer_token": newToken()},
		}
	}
	if a.Journal {
		cfg.Modules["memory.sqlite"] = map[string]any{}
	}
	return cfg
}

func newToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func initCmd(g *globalFlags) *cobra.Command {
	var (
		output  string
		force   bool
		answers initAnswers
		yes     bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if output == "" {
				output = app.DefaultConfigPath()
			}
			if !force {
				if _, err := os.Stat(output); err == nil {
					return fmt.Errorf("%s already exists (use --force to overwrite)", output)
				} else if !errors.Is(err, fs.ErrNotExist) {
					return err
				}
			}

			dataDir := g.dataDir
			if dataDir == "" {
				dataDir = app.DefaultDataDir()
			}
			defaults := defaultAnswers(dataDir)
			merge(&answers, defaults)

			if !yes {
				if err := runWizard(cmd, &answers); err != nil {
					return err
				}
			}
			if strings.TrimSpace(answers.LogDir) == "" {
				return errors.New("the session log directory is required (--log-dir)")
			}

			data, err := yaml.Marshal(answers.config())
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(output, data, 0o600); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", output)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&output, "output", "o", "", "Destination file (default $XDG_CONFIG_HOME/memoir/memoir.yaml)")
	f.BoolVar(&force, "force", false, "Overwrite an existing file")
	f.BoolVarP(&yes, "yes", "y", false, "Skip the wizard and use flags and defaults")
	f.StringVar(&answers.LogDir, "log-dir", "", "Directory holding the host's session logs")
	f.StringVar(&answers.MemoryDir, "memory-dir", "", "Memory directory")
	f.StringVar(&answers.Embedder, "embedder", "", "Embedding provider (hash|ollama)")
	f.BoolVar(&answers.Gateway, "gateway", false, "Enable the HTTP gateway")
	return cmd
}

func merge(a *initAnswers, defaults initAnswers) {
	if a.MemoryDir == "" {
		a.MemoryDir = defaults.MemoryDir
	}
	if a.Embedder == "" {
		a.Embedder = defaults.Embedder
	}
	if a.OllamaURL == "" {
		a.OllamaURL = defaults.OllamaURL
	}
	if a.Bind == "" {
		a.Bind = defaults.Bind
	}
	a.Journal = a.Journal || defaults.Journal
}

func runWizard(cmd *cobra.Command, a *initAnswers) error {
	required := func(s string) error {
		if strings.TrimSpace(s) == "" {
			return errors.New("required")
		}
		return nil
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Session log directory").
				Description("Where the agent writes its .jsonl session logs").
				Value(&a.LogDir).
				Validate(required),
			huh.NewInput().
				Title("Memory directory").
				Value(&a.MemoryDir).
				Validate(required),
			huh.NewSelect[string]().
				Title("Embedding provider").
				Options(huh.NewOptions("hash", "ollama")...).
				Value(&a.Embedder),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Ollama URL").
				Value(&a.OllamaURL),
		).WithHideFunc(func() bool { return a.Embedder != "ollama" }),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Record injections in the SQLite journal?").
				Value(&a.Journal),
			huh.NewConfirm().
				Title("Expose the HTTP gateway?").
				Value(&a.Gateway),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Gateway bind address").
				Value(&a.Bind),
		).WithHideFunc(func() bool { return !a.Gateway }),
	)
	return form.RunWithContext(cmd.Context())
}
