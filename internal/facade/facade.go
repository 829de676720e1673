// Package facade owns the memory pipeline components and exposes the four
// operations a host runtime calls: PreTurn, OnScheduleTick, Health and Stats.
// Those operations never return an error; every failure is degraded to an
// empty result and kept, with its stage, in the matching report.
package facade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/flemzord/memoir/internal/compaction"
	ctxengine "github.com/flemzord/memoir/internal/context"
	"github.com/flemzord/memoir/internal/embed"
	"github.com/flemzord/memoir/internal/fsutil"
	"github.com/flemzord/memoir/internal/logstore"
	"github.com/flemzord/memoir/internal/memory"
	"github.com/flemzord/memoir/internal/metrics"
	"github.com/flemzord/memoir/internal/recall"
	"github.com/flemzord/memoir/internal/summary"
	"github.com/flemzord/memoir/internal/telemetry"
)

// ErrReloadImmutable is returned by Reload when a setting that requires a
// restart changed.
var ErrReloadImmutable = errors.New("facade: setting cannot change without restart")

// Option customizes a Facade.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	metrics  *metrics.Manager
	embedder embed.Embedder
	journal  Journal
	now      func() time.Time
	scrub    func(string) string
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithMetrics sets the metrics manager.
func WithMetrics(m *metrics.Manager) Option { return func(o *options) { o.metrics = m } }

// WithEmbedder overrides the embedder built from the config.
func WithEmbedder(e embed.Embedder) Option { return func(o *options) { o.embedder = e } }

// WithJournal sets the journal.
func WithJournal(j Journal) Option { return func(o *options) { o.journal = j } }

// WithClock sets the time source of every component.
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// WithScrubber sets the function that removes secrets from session text
// before it is summarized, indexed or injected.
func WithScrubber(scrub func(string) string) Option { return func(o *options) { o.scrub = scrub } }

// Facade wires and owns every pipeline component.
type Facade struct {
	mu        sync.RWMutex
	cfg       Config
	compactor *summary.Compactor
	journal   Journal

	logger    *slog.Logger
	metrics   *metrics.Manager
	tracer    trace.Tracer
	now       func() time.Time
	scrub     func(string) string
	logs      *logstore.Store
	archive   *summary.Archive
	index     *memory.VectorIndex
	builder   *memory.IndexBuilder
	detector  *compaction.Detector
	assembler *ctxengine.BudgetedAssembler
	recall    *recall.Engine
	embedder  embed.Embedder
	loaded    memory.LoadResult
}

// New validates cfg, creates the memory directories, loads the index and
// wires every component. Configuration and index load errors are returned
// here, never at call time.
func New(cfg Config, opts ...Option) (*Facade, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.metrics == nil {
		o.metrics = metrics.NoOpManager()
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.scrub == nil {
		o.scrub = func(s string) string { return s }
	}

	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	embedder := o.embedder
	if embedder == nil {
		var err error
		if embedder, err = embed.New(cfg.Embedder); err != nil {
			return nil, fmt.Errorf("facade: %w", err)
		}
	}
	if embedder.Dimensions() != cfg.Embedder.Dimensions {
		return nil, fmt.Errorf("%w: embedder produces %d dimensions, configured %d",
			ErrInvalidConfig, embedder.Dimensions(), cfg.Embedder.Dimensions)
	}

	for _, dir := range []string{cfg.MemoryDir, cfg.HourlyDir(), cfg.VectorDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("facade: creating %s: %w", dir, err)
		}
	}

	logger := o.logger
	logs := logstore.NewStore(cfg.LogDir, o.now)

	archive, err := summary.NewArchive(summary.ArchiveConfig{
		Dir:       cfg.HourlyDir(),
		Retention: cfg.Summary.Retention,
		Logger:    logger.With("component", "summary"),
		Now:       o.now,
	})
	if err != nil {
		return nil, fmt.Errorf("facade: %w", err)
	}

	index, loaded, err := memory.OpenVectorIndex(memory.IndexConfig{
		Dir:        cfg.VectorDir(),
		Dimensions: cfg.Embedder.Dimensions,
		Logger:     logger.With("component", "memory"),
	})
	if err != nil {
		return nil, fmt.Errorf("facade: loading index: %w", err)
	}

	detector, err := compaction.NewDetector(compaction.Config{
		Path:      cfg.StatePath(),
		MinCount:  cfg.Compaction.MinCount,
		DropRatio: cfg.Compaction.DropRatio,
		Logger:    logger.With("component", "compaction"),
		Now:       o.now,
	}, logs)
	if err != nil {
		return nil, fmt.Errorf("facade: %w", err)
	}

	f := &Facade{
		cfg:      cfg,
		journal:  o.journal,
		logger:   logger,
		metrics:  o.metrics,
		tracer:   telemetry.Tracer(),
		now:      o.now,
		scrub:    o.scrub,
		logs:     logs,
		archive:  archive,
		index:    index,
		detector: detector,
		embedder: embedder,
		loaded:   loaded,
	}
	f.compactor = f.newCompactor(cfg)
	f.builder = memory.NewIndexBuilder(memory.BuilderConfig{
		MinChunkChars:   cfg.Index.MinChunkChars,
		MaxChunkChars:   cfg.Index.MaxChunkChars,
		MaxChunksPerDoc: cfg.Index.MaxChunksPerDoc,
		EmbedTimeout:    cfg.Index.EmbedTimeout,
		Scrub:           o.scrub,
		Logger:          logger.With("component", "memory"),
	}, index, embedder)
	f.assembler = ctxengine.NewBudgetedAssembler(
		ctxengine.AssemblerConfig{CharsPerToken: cfg.Budget.CharsPerToken, Logger: logger.With("component", "ctxengine")},
		&ctxengine.SummarySource{Archive: archive},
		&ctxengine.RecentSource{Logs: logs},
		&ctxengine.StatusSource{Dir: cfg.GlobalDir},
		&ctxengine.ReasoningSource{Logs: logs},
	)
	rc := cfg.recallConfig()
	rc.Logger = logger.With("component", "recall")
	rc.Now = o.now
	f.recall = recall.NewEngine(rc, index, embedder, archive, logs)

	f.metrics.SetIndexChunks(index.Len())
	return f, nil
}

func (f *Facade) newCompactor(cfg Config) *summary.Compactor {
	sc := cfg.summaryConfig()
	sc.Logger = f.logger.With("component", "summary")
	sc.Now = f.now
	sc.Scrub = f.scrub
	return summary.NewCompactor(sc, f.logs, f.archive)
}

// Config returns the active configuration.
func (f *Facade) Config() Config {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.cfg
}

// SetJournal attaches or replaces the journal. Nil disables journaling.
func (f *Facade) SetJournal(j Journal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.journal = j
}

// Journal returns the attached journal, if any.
func (f *Facade) Journal() Journal {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.journal
}

// LoadResult reports how the index was opened.
func (f *Facade) LoadResult() memory.LoadResult { return f.loaded }

// Index returns the vector index.
func (f *Facade) Index() *memory.VectorIndex { return f.index }

// ---------------------------------------------------------------------------
// Boundary operations
// ---------------------------------------------------------------------------

// PreTurn returns the text to inject before the host's next turn, or "".
func (f *Facade) PreTurn(ctx context.Context, message string) string {
	return f.PreTurnReport(ctx, message).Text
}

// OnScheduleTick writes the summary for the last lookback window and returns
// its path, or "" when nothing was written.
func (f *Facade) OnScheduleTick(ctx context.Context) string {
	return f.Tick(ctx).Path
}

// PreTurnReport runs compaction detection, assembles the memory package on
// compaction and appends recalled context. Failures degrade their stage.
func (f *Facade) PreTurnReport(ctx context.Context, message string) (rep PreTurnReport) {
	start := f.now()
	ctx, span := f.tracer.Start(ctx, "memoir.pre_turn")
	defer func() {
		if r := recover(); r != nil {
			rep = PreTurnReport{Failures: []Failure{f.recovered("pre_turn", r)}}
		}
		rep.Duration = f.now().Sub(start)
		f.finishSpan(span, rep.Failures, attribute.Bool("compacted", rep.Compaction.Compacted),
			attribute.Int("injection.chars", len(rep.Text)))
		f.metrics.RecordPreTurn(rep.Text != "", rep.Duration)
	}()

	var blocks []string

	res, err := f.detector.Check(ctx)
	if err != nil {
		rep.fail(f, StageCompaction, err)
	}
	rep.Compaction = res

	if res.Compacted {
		f.metrics.RecordCompaction()
		asm, err := f.Assemble(ctx)
		if err != nil {
			rep.fail(f, StageAssemble, err)
		} else {
			rep.Assembly = &asm
			for _, e := range asm.Errors() {
				rep.fail(f, StageAssemble, e)
			}
			if !asm.Empty() {
				blocks = append(blocks, asm.Text)
				if err := f.journalInjection(ctx, res, asm); err != nil {
					rep.fail(f, StageJournal, err)
				}
			}
		}
	}

	rr, err := f.recall.Recall(ctx, message)
	if err != nil {
		rep.fail(f, StageRecall, err)
	}
	for _, e := range rr.Failures {
		rep.fail(f, StageRecall, e)
	}
	rep.Recall = rr
	f.recordRecall(rr)
	if text := rr.Format(); text != "" {
		blocks = append(blocks, text)
	}

	rep.Text = f.scrub(strings.Join(blocks, "\n\n"))
	return rep
}

// Tick runs the scheduled summary and reports the outcome.
func (f *Facade) Tick(ctx context.Context) (rep TickReport) {
	start := f.now()
	ctx, span := f.tracer.Start(ctx, "memoir.schedule_tick")
	defer func() {
		if r := recover(); r != nil {
			rep = TickReport{Failures: []Failure{f.recovered("tick", r)}}
		}
		rep.Duration = f.now().Sub(start)
		f.finishSpan(span, rep.Failures, attribute.String("summary.path", rep.Path))
	}()

	f.mu.RLock()
	compactor, lookback, journal := f.compactor, f.cfg.Summary.Lookback, f.journal
	f.mu.RUnlock()

	res, err := compactor.Run(ctx, lookback)
	if err != nil {
		rep.fail(f, StageSummary, err)
	}
	rep.Path, rep.Sessions, rep.Text = res.Path, res.Sessions, res.Text
	if rep.Path != "" {
		f.metrics.RecordSummaryWritten()
	}

	if journal != nil && (rep.Path != "" || err != nil) {
		run := SummaryRun{Timestamp: f.now().UTC(), Path: rep.Path, Sessions: rep.Sessions}
		if err != nil {
			run.Error = err.Error()
		}
		if jerr := journal.RecordSummaryRun(ctx, run); jerr != nil {
			rep.fail(f, StageJournal, jerr)
		}
	}
	return rep
}

// Health checks directories and the persisted index without modifying
// either.
func (f *Facade) Health(ctx context.Context) (rep HealthReport) {
	defer func() {
		if r := recover(); r != nil {
			fail := f.recovered("health", r)
			rep.add("panic", false, "%s", fail.Err)
		}
		rep.Healthy = len(rep.Checks) > 0
		for _, c := range rep.Checks {
			rep.Healthy = rep.Healthy && c.OK
		}
	}()

	cfg := f.Config()
	for _, d := range []struct{ name, path string }{
		{"memory_dir", cfg.MemoryDir},
		{"hourly_dir", cfg.HourlyDir()},
		{"vector_dir", cfg.VectorDir()},
	} {
		switch {
		case !fsutil.IsDir(d.path):
			rep.add(d.name, false, "%s does not exist", d.path)
		case !fsutil.Writable(d.path):
			rep.add(d.name, false, "%s is not writable", d.path)
		default:
			rep.add(d.name, true, "%s", d.path)
		}
	}

	if fsutil.IsDir(cfg.LogDir) {
		rep.add("log_dir", true, "%s", cfg.LogDir)
	} else {
		rep.add("log_dir", false, "%s does not exist", cfg.LogDir)
	}

	if res, err := memory.Inspect(cfg.VectorDir(), cfg.Embedder.Dimensions); err != nil {
		rep.add("index", false, "%s", err)
	} else if res.Bootstrapped {
		rep.add("index", true, "not built yet")
	} else {
		rep.add("index", true, "%d chunks on disk", res.Chunks)
	}

	if _, err := f.detector.State(); err != nil {
		rep.add("compaction_state", false, "%s", err)
	} else {
		rep.add("compaction_state", true, "")
	}
	return rep
}

// Stats returns a snapshot of index size, cache occupancy and summary
// history.
func (f *Facade) Stats(ctx context.Context) (st Stats) {
	defer func() {
		if r := recover(); r != nil {
			f.recovered("stats", r)
		}
	}()

	is := f.index.Stats()
	st.IndexChunks = is.Chunks
	st.IndexSources = is.Sources
	st.IndexDimensions = is.Dimensions
	st.IndexNewest = is.Newest
	st.CacheEntries = f.recall.CacheLen()
	st.RecallSearches = f.recall.Searches()
	st.MaxRecallTokens = f.Config().Recall.MaxTokens

	if ts, ok := f.archive.LastWritten(); ok {
		st.LastSummary = ts
	}
	if files, err := f.archive.Files(); err == nil {
		st.SummaryFiles = len(files)
	}
	if state, err := f.detector.State(); err == nil {
		st.LastSessionID = state.LastSessionID
		st.CompactionCounter = state.CompactionCounter
	}
	f.metrics.SetCacheEntries(st.CacheEntries)
	return st
}

// ---------------------------------------------------------------------------
// Direct operations
// ---------------------------------------------------------------------------

// Assemble builds the post-compaction package with the configured budget.
func (f *Facade) Assemble(ctx context.Context) (ctxengine.Assembly, error) {
	budget := f.Config().Budget
	asm, err := f.assembler.Assemble(ctx, budget.Total, budget.Weights)
	asm.Text = f.scrub(asm.Text)
	return asm, err
}

// CheckCompaction runs one compaction check.
func (f *Facade) CheckCompaction(ctx context.Context) (compaction.Result, error) {
	res, err := f.detector.Check(ctx)
	if err == nil && res.Compacted {
		f.metrics.RecordCompaction()
	}
	return res, err
}

// Recall retrieves context for message.
func (f *Facade) Recall(ctx context.Context, message string) (recall.Result, error) {
	res, err := f.recall.Recall(ctx, message)
	if err == nil {
		f.recordRecall(res)
	}
	return res, err
}

// Summarize builds the summary for lookback. With dryRun nothing is written.
func (f *Facade) Summarize(ctx context.Context, lookback time.Duration, dryRun bool) (summary.Result, error) {
	f.mu.RLock()
	compactor := f.compactor
	if lookback <= 0 {
		lookback = f.cfg.Summary.Lookback
	}
	f.mu.RUnlock()

	if !dryRun {
		res, err := compactor.Run(ctx, lookback)
		if err == nil && res.Path != "" {
			f.metrics.RecordSummaryWritten()
		}
		return res, err
	}
	s, n, err := compactor.Build(ctx, lookback)
	if err != nil {
		return summary.Result{}, err
	}
	res := summary.Result{Summary: s, Sessions: n}
	if !s.Empty() {
		res.Text = s.Format()
	}
	return res, nil
}

// RebuildIndex rebuilds the index from the memory corpus and persists it.
// The corpus is every markdown note, every hourly summary and every session
// log modified within the summary retention window.
func (f *Facade) RebuildIndex(ctx context.Context) (memory.IngestStats, error) {
	ctx, span := f.tracer.Start(ctx, "memoir.rebuild_index")
	defer span.End()

	paths, err := f.corpus()
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return memory.IngestStats{}, fmt.Errorf("facade: listing corpus: %w", err)
	}
	stats, err := f.builder.Rebuild(ctx, paths)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return stats, err
	}
	f.recall.ClearCache()
	f.metrics.SetIndexChunks(f.index.Len())
	span.SetAttributes(attribute.Int("index.chunks", stats.Chunks))
	return stats, nil
}

func (f *Facade) corpus() ([]string, error) {
	cfg := f.Config()
	paths, err := memory.CorpusPaths(cfg.MemoryDir, cfg.HourlyDir())
	if err != nil {
		return nil, err
	}
	sessions, err := f.logs.Recent(cfg.Summary.Retention)
	if err != nil {
		return nil, err
	}
	for _, sess := range sessions {
		paths = append(paths, sess.Path)
	}
	return paths, nil
}

// Ingest appends the chunks of paths to the index and persists it.
// Re-ingesting a file duplicates its chunks. Files outside the rebuild corpus
// are dropped by the next RebuildIndex.
func (f *Facade) Ingest(ctx context.Context, paths []string) (memory.IngestStats, error) {
	stats, err := f.builder.IngestCorpus(ctx, paths)
	if stats.Chunks > 0 {
		if serr := f.index.Save(); serr != nil {
			err = errors.Join(err, serr)
		}
		f.recall.ClearCache()
	}
	f.metrics.SetIndexChunks(f.index.Len())
	return stats, err
}

// PurgeCache drops expired recall results.
func (f *Facade) PurgeCache() int {
	n := f.recall.PurgeCache()
	f.metrics.SetCacheEntries(f.recall.CacheLen())
	return n
}

// Injections lists the latest journaled injections.
func (f *Facade) Injections(ctx context.Context, limit int) ([]Injection, error) {
	j := f.Journal()
	if j == nil {
		return nil, nil
	}
	return j.Injections(ctx, limit)
}

// Reload applies a new configuration. Directories and embedder settings
// require a restart; budgets, summary and recall settings change in place.
func (f *Facade) Reload(cfg Config) error {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	old := f.cfg
	switch {
	case cfg.MemoryDir != old.MemoryDir:
		return fmt.Errorf("%w: memory_dir", ErrReloadImmutable)
	case cfg.LogDir != old.LogDir:
		return fmt.Errorf("%w: log_dir", ErrReloadImmutable)
	case cfg.GlobalDir != old.GlobalDir:
		return fmt.Errorf("%w: global_dir", ErrReloadImmutable)
	case cfg.Embedder != old.Embedder:
		return fmt.Errorf("%w: embedder", ErrReloadImmutable)
	case cfg.Compaction != old.Compaction:
		return fmt.Errorf("%w: compaction", ErrReloadImmutable)
	case cfg.Index != old.Index:
		return fmt.Errorf("%w: index", ErrReloadImmutable)
	case cfg.Summary.Retention != old.Summary.Retention:
		return fmt.Errorf("%w: summary.retention", ErrReloadImmutable)
	}

	f.cfg = cfg
	f.compactor = f.newCompactor(cfg)
	f.recall.Reconfigure(cfg.recallConfig())
	f.logger.Info("facade: configuration reloaded",
		"budget_total", cfg.Budget.Total,
		"recall_max_tokens", cfg.Recall.MaxTokens,
	)
	return nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func (f *Facade) journalInjection(ctx context.Context, res compaction.Result, asm ctxengine.Assembly) error {
	j := f.Journal()
	if j == nil {
		return nil
	}
	return j.RecordInjection(ctx, Injection{
		Timestamp:    f.now().UTC(),
		SessionID:    res.Observation.SessionID,
		MessageCount: res.Observation.MessageCount,
		Reason:       string(res.Reason),
		Size:         len(asm.Text),
		Tokens:       asm.Tokens,
		Preview:      preview(asm.Text),
	})
}

func (f *Facade) recordRecall(r recall.Result) {
	switch {
	case r.Gated:
		f.metrics.RecordRecall("gated", 0)
	case r.CacheHit:
		f.metrics.RecordRecall("hit", 0)
	default:
		f.metrics.RecordRecall("miss", r.Searches)
	}
	f.metrics.SetCacheEntries(f.recall.CacheLen())
}

func (r *PreTurnReport) fail(f *Facade, stage string, err error) {
	r.Failures = append(r.Failures, f.failure(stage, err))
}

func (r *TickReport) fail(f *Facade, stage string, err error) {
	r.Failures = append(r.Failures, f.failure(stage, err))
}

func (f *Facade) failure(stage string, err error) Failure {
	f.metrics.RecordStageFailure(stage)
	f.logger.Warn("facade: stage degraded", "stage", stage, "error", err)
	return Failure{Stage: stage, Err: err}
}

func (f *Facade) recovered(op string, r any) Failure {
	f.logger.Error("facade: recovered panic", "op", op, "panic", r, "stack", string(debug.Stack()))
	return f.failure(StagePanic, fmt.Errorf("%s: panic: %v", op, r))
}

func (f *Facade) finishSpan(span trace.Span, failures []Failure, attrs ...attribute.KeyValue) {
	span.SetAttributes(attrs...)
	span.SetAttributes(attribute.Int("failures", len(failures)))
	if len(failures) > 0 {
		span.SetStatus(codes.Error, failures[0].Error())
	}
	span.End()
}
