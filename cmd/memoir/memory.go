package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/flemzord/memoir/internal/compaction"
	ctxengine "github.com/flemzord/memoir/internal/context"
	"github.com/flemzord/memoir/internal/facade"
	"github.com/flemzord/memoir/internal/memory"
	"github.com/flemzord/memoir/internal/recall"
	"github.com/flemzord/memoir/internal/security"
	"github.com/flemzord/memoir/pkg/app"
	"github.com/spf13/cobra"
)

// errUnhealthy makes `memoir health` exit non-zero.
var errUnhealthy = errors.New("memory pipeline is unhealthy")

// withRuntime opens the runtime and the journal, runs fn and closes
// everything.
func withRuntime(cmd *cobra.Command, g *globalFlags, fn func(ctx context.Context, rt *app.Runtime) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := app.Open(ctx, app.Options{
		ConfigPath: g.config,
		DataDir:    g.dataDir,
		LogLevel:   g.logLevel,
		LogWriter:  cmd.ErrOrStderr(),
		Version:    version,
	})
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close(context.Background()) }()

	if err := rt.OpenJournal(); err != nil {
		return err
	}
	return fn(ctx, rt)
}

func messageArg(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// ---------------------------------------------------------------------------
// pre-turn
// ---------------------------------------------------------------------------

func preTurnCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "pre-turn [message]",
		Short: "Run the pre-turn pipeline and print the text to inject",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, g, func(ctx context.Context, rt *app.Runtime) error {
				rep := rt.Memory.PreTurnReport(ctx, messageArg(args))
				return render(cmd.OutOrStdout(), g.format, rep, func(w *textWriter) {
					w.printf("%s", rep.Text)
					if rep.Text != "" && !strings.HasSuffix(rep.Text, "\n") {
						w.printf("\n")
					}
					printFailures(w, rep.Failures)
				})
			})
		},
	}
}

func printFailures(w *textWriter, failures []facade.Failure) {
	for _, f := range failures {
		w.printf("degraded: %s\n", f.Error())
	}
}

// ---------------------------------------------------------------------------
// summarize
// ---------------------------------------------------------------------------

type summarizeOutput struct {
	Path     string `json:"path,omitempty"`
	Sessions int    `json:"sessions"`
	DryRun   bool   `json:"dry_run"`
	Text     string `json:"text,omitempty"`
}

func summarizeCmd(g *globalFlags) *cobra.Command {
	var (
		dryRun   bool
		lookback time.Duration
	)
	cmd := &cobra.Command{
		Use:   "summarize",
		Short: "Summarize recent session logs into the hourly archive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if lookback < 0 {
				return fmt.Errorf("--lookback must not be negative, got %s", lookback)
			}
			return withRuntime(cmd, g, func(ctx context.Context, rt *app.Runtime) error {
				res, err := rt.Memory.Summarize(ctx, lookback, dryRun)
				if err != nil {
					return err
				}
				out := summarizeOutput{Path: res.Path, Sessions: res.Sessions, DryRun: dryRun, Text: res.Text}
				return render(cmd.OutOrStdout(), g.format, out, func(w *textWriter) {
					switch {
					case out.Text == "" && out.Path == "":
						w.printf("nothing to summarize\n")
					case dryRun:
						w.printf("%s\n", strings.TrimRight(out.Text, "\n"))
					default:
						w.printf("summary written to %s (%d sessions)\n", out.Path, out.Sessions)
					}
				})
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the summary without writing it")
	cmd.Flags().DurationVar(&lookback, "lookback", 0, "Window of session logs to read (default memory.summary.lookback)")
	return cmd
}

// ---------------------------------------------------------------------------
// check-compaction / inject
// ---------------------------------------------------------------------------

func checkCompactionCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check-compaction",
		Short: "Compare the latest session with the stored state and report a compaction",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, g, func(ctx context.Context, rt *app.Runtime) error {
				res, err := rt.Memory.CheckCompaction(ctx)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), g.format, res, func(w *textWriter) {
					writeCompaction(w, res)
				})
			})
		},
	}
}

func writeCompaction(w *textWriter, res compaction.Result) {
	obs := res.Observation
	if !obs.Found {
		w.printf("no session log found\n")
		return
	}
	if res.Compacted {
		w.printf("compaction detected (%s): session %s, %d messages (was %d)\n",
			res.Reason, obs.SessionID, obs.MessageCount, res.Previous.LastMessageCount)
		return
	}
	w.printf("no compaction: session %s, %d messages\n", obs.SessionID, obs.MessageCount)
}

type injectOutput struct {
	Injected   bool                `json:"injected"`
	Forced     bool                `json:"forced"`
	Compaction *compaction.Result  `json:"compaction,omitempty"`
	Assembly   *ctxengine.Assembly `json:"assembly,omitempty"`
	Failures   []facade.Failure    `json:"failures,omitempty"`
}

func injectCmd(g *globalFlags) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "inject",
		Short: "Print the post-compaction memory package when a compaction happened",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, g, func(ctx context.Context, rt *app.Runtime) error {
				var out injectOutput
				if force {
					asm, err := rt.Memory.Assemble(ctx)
					if err != nil {
						return err
					}
					out = injectOutput{Injected: !asm.Empty(), Forced: true, Assembly: &asm}
				} else {
					rep := rt.Memory.PreTurnReport(ctx, "")
					out = injectOutput{
						Injected:   rep.Assembly != nil && !rep.Assembly.Empty(),
						Compaction: &rep.Compaction,
						Assembly:   rep.Assembly,
						Failures:   rep.Failures,
					}
				}
				if out.Injected {
					ev := security.AuditEvent{Type: security.EventInjection, Surface: security.SurfaceCLI, Detail: "forced"}
					if out.Compaction != nil {
						ev.SessionID = out.Compaction.Observation.SessionID
						ev.Detail = string(out.Compaction.Reason)
					}
					rt.Audit.Log(ev)
				}
				return render(cmd.OutOrStdout(), g.format, out, func(w *textWriter) {
					if out.Compaction != nil && !out.Compaction.Compacted {
						writeCompaction(w, *out.Compaction)
					}
					if out.Injected {
						w.printf("%s\n", strings.TrimRight(out.Assembly.Text, "\n"))
						w.printf("[%d tokens]\n", out.Assembly.Tokens)
					}
					printFailures(w, out.Failures)
				})
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Assemble the package even without a compaction")
	return cmd
}

// ---------------------------------------------------------------------------
// recall
// ---------------------------------------------------------------------------

type recallOutput struct {
	Result recall.Result `json:"result"`
	Text   string        `json:"text"`
}

func recallCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "recall <message>",
		Short: "Retrieve memory relevant to a message",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, g, func(ctx context.Context, rt *app.Runtime) error {
				res, err := rt.Memory.Recall(ctx, messageArg(args))
				if err != nil {
					return err
				}
				out := recallOutput{Result: res, Text: res.Format()}
				return render(cmd.OutOrStdout(), g.format, out, func(w *textWriter) {
					if out.Text == "" {
						w.printf("no relevant memory\n")
						return
					}
					w.printf("%s\n", strings.TrimRight(out.Text, "\n"))
				})
			})
		},
	}
}

// ---------------------------------------------------------------------------
// ingest / rebuild
// ---------------------------------------------------------------------------

func ingestCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <path>...",
		Short: "Append markdown documents or .jsonl session logs to the index",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, g, func(ctx context.Context, rt *app.Runtime) error {
				stats, err := rt.Memory.Ingest(ctx, args)
				if rerr := renderIngest(cmd, g, "ingested", stats); rerr != nil {
					return rerr
				}
				return err
			})
		},
	}
}

func rebuildCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild the vector index from the memory corpus",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, g, func(ctx context.Context, rt *app.Runtime) error {
				stats, err := rt.Memory.RebuildIndex(ctx)
				if err != nil {
					return err
				}
				return renderIngest(cmd, g, "rebuilt", stats)
			})
		},
	}
}

func renderIngest(cmd *cobra.Command, g *globalFlags, verb string, st memory.IngestStats) error {
	return render(cmd.OutOrStdout(), g.format, st, func(w *textWriter) {
		w.printf("%s %d chunks from %d files", verb, st.Chunks, st.Files)
		if st.FilesSkipped > 0 || st.EmbedFailures > 0 {
			w.printf(" (%d files skipped, %d embedding failures)", st.FilesSkipped, st.EmbedFailures)
		}
		w.printf("\n")
	})
}

// ---------------------------------------------------------------------------
// stats / health / injections
// ---------------------------------------------------------------------------

func statsCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show index, cache and summary statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, g, func(ctx context.Context, rt *app.Runtime) error {
				st := rt.Memory.Stats(ctx)
				return render(cmd.OutOrStdout(), g.format, st, func(w *textWriter) {
					w.table(statsRows(st))
				})
			})
		},
	}
}

func statsRows(st facade.Stats) [][2]string {
	return [][2]string{
		{"index chunks", strconv.Itoa(st.IndexChunks)},
		{"index sources", strconv.Itoa(st.IndexSources)},
		{"index dimensions", strconv.Itoa(st.IndexDimensions)},
		{"index newest", formatTime(st.IndexNewest)},
		{"cache entries", strconv.Itoa(st.CacheEntries)},
		{"recall searches", strconv.FormatInt(st.RecallSearches, 10)},
		{"max recall tokens", strconv.Itoa(st.MaxRecallTokens)},
		{"last summary", formatTime(st.LastSummary)},
		{"summary files", strconv.Itoa(st.SummaryFiles)},
		{"last session", orDash(st.LastSessionID)},
		{"compactions", strconv.Itoa(st.CompactionCounter)},
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func healthCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Probe directories, the persisted index and the compaction state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, g, func(ctx context.Context, rt *app.Runtime) error {
				rep := rt.Memory.Health(ctx)
				err := render(cmd.OutOrStdout(), g.format, rep, func(w *textWriter) {
					rows := make([][2]string, len(rep.Checks))
					for i, c := range rep.Checks {
						status := "ok"
						if !c.OK {
							status = "FAIL"
						}
						rows[i] = [2]string{status + "  " + c.Name, c.Detail}
					}
					w.table(rows)
				})
				if err != nil {
					return err
				}
				if !rep.Healthy {
					return errUnhealthy
				}
				return nil
			})
		},
	}
}

func injectionsCmd(g *globalFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "injections",
		Short: "List the latest journaled injections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive, got %d", limit)
			}
			return withRuntime(cmd, g, func(ctx context.Context, rt *app.Runtime) error {
				if rt.Memory.Journal() == nil {
					return errors.New("no journal configured (add the memory.sqlite module)")
				}
				list, err := rt.Memory.Injections(ctx, limit)
				if err != nil {
					return err
				}
				if list == nil {
					list = []facade.Injection{}
				}
				return render(cmd.OutOrStdout(), g.format, list, func(w *textWriter) {
					if len(list) == 0 {
						w.printf("no injections recorded\n")
						return
					}
					for _, in := range list {
						w.printf("%s  %s  session=%s messages=%d tokens=%d  %s\n",
							in.Timestamp.Format(time.RFC3339), in.Reason, in.SessionID,
							in.MessageCount, in.Tokens, in.Preview)
					}
				})
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of records")
	return cmd
}
