// Package recall decides when a message needs past context and retrieves it
// from the vector index, recent summaries and the live conversation under a
// token budget.
package recall

import (
	"cmp"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	ctxengine "github.com/flemzord/memoir/internal/context"
	"github.com/flemzord/memoir/internal/embed"
	"github.com/flemzord/memoir/internal/logstore"
	"github.com/flemzord/memoir/internal/memory"
	"github.com/flemzord/memoir/internal/summary"
)

// Engine defaults.
const (
	DefaultMaxTokens      = 400
	DefaultCacheTTL       = 5 * time.Minute
	DefaultRecentMessages = 5
	DefaultTopK           = 3
	DefaultMaxQueries     = 2
	DefaultMaxResults     = 5
	DefaultHourlyWindow   = 24 * time.Hour
	DefaultHourlyMax      = 3
	DefaultEmbedTimeout   = 2 * time.Second

	hourlyRelevance  = 0.5
	hourlyMinTokens  = 100
	hourlyBodyChars  = 150
	recentLineChars  = 80
	dedupPrefixChars = 50
)

// Searcher is the read side of the vector index.
type Searcher interface {
	Search(query []float32, k int) ([]memory.Hit, error)
}

// Origin says where a recalled item came from.
type Origin string

// Item origins.
const (
	OriginVector Origin = "vector"
	OriginHourly Origin = "hourly"
)

// Item is one recalled piece of context.
type Item struct {
	Text      string    `json:"text"`
	Source    string    `json:"source"`
	Origin    Origin    `json:"origin"`
	Relevance float64   `json:"relevance"`
	Timestamp time.Time `json:"timestamp,omitzero"`

	// content is the untagged text used for deduplication.
	content string
}

// Result is the outcome of one recall.
type Result struct {
	Query string `json:"query,omitempty"`
	Items []Item `json:"items,omitempty"`
	// Recent holds the latest conversation lines, attached regardless of
	// relevance.
	Recent   []string      `json:"recent,omitempty"`
	Tokens   int           `json:"tokens"`
	CacheHit bool          `json:"cache_hit"`
	Latency  time.Duration `json:"latency"`
	// Searches counts index searches issued by this call.
	Searches int `json:"searches"`
	// Gated is set when the message had no recall cue.
	Gated    bool    `json:"gated,omitempty"`
	Failures []error `json:"-"`
}

// Empty reports whether there is nothing to inject.
func (r Result) Empty() bool { return len(r.Items) == 0 && len(r.Recent) == 0 }

// Format renders the result as an injection block, or "" when empty.
func (r Result) Format() string {
	if r.Empty() {
		return ""
	}
	lines := []string{"## RECALLED"}
	if len(r.Items) > 0 {
		lines = append(lines, "")
		for _, it := range r.Items {
			lines = append(lines, "• "+it.Text)
		}
	}
	if len(r.Recent) > 0 {
		lines = append(lines, "", "RECENT:")
		for _, m := range r.Recent {
			lines = append(lines, "  "+m)
		}
	}
	lines = append(lines, "", fmt.Sprintf("[recall: %d sources, ~%dt, %dms]",
		len(r.Items), r.Tokens, r.Latency.Milliseconds()))
	return strings.Join(lines, "\n")
}

// Config configures an Engine.
type Config struct {
	MaxTokens      int
	CacheTTL       time.Duration
	RecentMessages int
	TopK           int
	MaxQueries     int
	MaxResults     int
	HourlyWindow   time.Duration
	HourlyMax      int
	EmbedTimeout   time.Duration
	CharsPerToken  float64
	Logger         *slog.Logger
	Now            func() time.Time
}

func (c Config) withDefaults() Config {
	c.MaxTokens = cmp.Or(c.MaxTokens, DefaultMaxTokens)
	c.CacheTTL = cmp.Or(c.CacheTTL, DefaultCacheTTL)
	c.RecentMessages = cmp.Or(c.RecentMessages, DefaultRecentMessages)
	c.TopK = cmp.Or(c.TopK, DefaultTopK)
	c.MaxQueries = cmp.Or(c.MaxQueries, DefaultMaxQueries)
	c.MaxResults = cmp.Or(c.MaxResults, DefaultMaxResults)
	c.HourlyWindow = cmp.Or(c.HourlyWindow, DefaultHourlyWindow)
	c.HourlyMax = cmp.Or(c.HourlyMax, DefaultHourlyMax)
	c.EmbedTimeout = cmp.Or(c.EmbedTimeout, DefaultEmbedTimeout)
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Engine retrieves context for incoming messages.
type Engine struct {
	mu        sync.RWMutex
	cfg       Config
	estimator *ctxengine.CharEstimator

	index    Searcher
	embedder embed.Embedder
	archive  *summary.Archive
	logs     *logstore.Store
	cache    *Cache[Result]
	searches atomic.Int64
}

// NewEngine returns an engine. archive and logs may be nil, which disables
// the hourly and recent passes.
func NewEngine(cfg Config, index Searcher, embedder embed.Embedder, archive *summary.Archive, logs *logstore.Store) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		cfg:       cfg,
		estimator: ctxengine.NewCharEstimator(cfg.CharsPerToken),
		index:     index,
		embedder:  embedder,
		archive:   archive,
		logs:      logs,
		cache:     NewCache[Result](cfg.CacheTTL, cfg.Now),
	}
}

// Reconfigure applies new limits. The logger, clock and collaborators are
// kept and the cache is cleared.
func (e *Engine) Reconfigure(cfg Config) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cfg.Logger = e.cfg.Logger
	cfg.Now = e.cfg.Now
	e.cfg = cfg.withDefaults()
	e.estimator = ctxengine.NewCharEstimator(e.cfg.CharsPerToken)
	e.cache.SetTTL(e.cfg.CacheTTL)
	e.cache.Clear()
}

func (e *Engine) config() (Config, *ctxengine.CharEstimator) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg, e.estimator
}

// Searches returns the total number of index searches issued.
func (e *Engine) Searches() int64 { return e.searches.Load() }

// CacheLen returns the number of cached results.
func (e *Engine) CacheLen() int { return e.cache.Len() }

// PurgeCache drops expired results.
func (e *Engine) PurgeCache() int { return e.cache.Purge() }

// ClearCache drops every cached result.
func (e *Engine) ClearCache() { e.cache.Clear() }

// Recall retrieves context for message. Retrieval failures degrade the
// affected query and are listed in Result.Failures; only cancellation of
// ctx is returned as an error.
func (e *Engine) Recall(ctx context.Context, message string) (Result, error) {
	cfg, est := e.config()
	start := cfg.Now()

	if !NeedsRecall(message) {
		return Result{Gated: true}, nil
	}

	key := cacheKey(message)
	if cached, ok := e.cache.Get(key); ok {
		cached.CacheHit = true
		cached.Searches = 0
		cached.Failures = nil
		if e.logs != nil {
			recent, err := e.recent(ctx, cfg)
			if err != nil {
				cached.Failures = append(cached.Failures, fmt.Errorf("recent messages: %w", err))
			}
			cached.Recent = recent
		}
		cached.Latency = cfg.Now().Sub(start)
		return cached, nil
	}

	queries := ExtractQueries(message)
	res := Result{Query: queries[0]}
	budget := ctxengine.TokenBudget{Limit: cfg.MaxTokens}
	var items []Item

	for _, q := range queries[:min(cfg.MaxQueries, len(queries))] {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		hits, err := e.search(ctx, cfg, q)
		res.Searches++
		if err != nil {
			res.Failures = append(res.Failures, fmt.Errorf("query %q: %w", truncate(q, 40), err))
			continue
		}
		for _, h := range hits {
			it := vectorItem(h)
			if budget.Add(est.Estimate(it.Text)) {
				items = append(items, it)
			}
		}
	}

	if e.archive != nil && budget.Remaining() > hourlyMinTokens {
		hourly, err := e.hourly(cfg)
		if err != nil {
			res.Failures = append(res.Failures, fmt.Errorf("hourly summaries: %w", err))
		}
		for _, it := range hourly {
			if budget.Add(est.Estimate(it.Text)) {
				items = append(items, it)
			}
		}
	}

	if e.logs != nil {
		recent, err := e.recent(ctx, cfg)
		if err != nil {
			res.Failures = append(res.Failures, fmt.Errorf("recent messages: %w", err))
		}
		res.Recent = recent
	}

	res.Items = rank(items, cfg.MaxResults)
	for _, it := range res.Items {
		res.Tokens += est.Estimate(it.Text)
	}
	res.Latency = cfg.Now().Sub(start)

	if len(res.Failures) > 0 {
		for _, err := range res.Failures {
			cfg.Logger.Warn("recall: degraded", "error", err)
		}
		return res, nil
	}
	e.cache.Set(key, res)
	return res, nil
}

func (e *Engine) search(ctx context.Context, cfg Config, query string) ([]memory.Hit, error) {
	e.searches.Add(1)
	vec, err := embed.WithTimeout(ctx, e.embedder, cfg.EmbedTimeout, query)
	if err != nil {
		return nil, err
	}
	return e.index.Search(vec, cfg.TopK)
}

func (e *Engine) hourly(cfg Config) ([]Item, error) {
	sections, err := e.archive.Recent(cfg.HourlyWindow, cfg.HourlyMax)
	if err != nil {
		return nil, err
	}
	items := make([]Item, 0, len(sections))
	for _, s := range sections {
		body := truncate(strings.Join(strings.Fields(s.Body), " "), hourlyBodyChars)
		items = append(items, Item{
			Text:      "[" + s.Heading + "] " + body,
			content:   body,
			Source:    s.File,
			Origin:    OriginHourly,
			Relevance: hourlyRelevance,
			Timestamp: s.Timestamp,
		})
	}
	return items, nil
}

func (e *Engine) recent(ctx context.Context, cfg Config) ([]string, error) {
	events, err := e.logs.TailMessages(ctx, cfg.RecentMessages)
	if err != nil {
		return nil, err
	}
	lines := make([]string, len(events))
	for i, ev := range events {
		lines[i] = ctxengine.MessageLine(ev, recentLineChars)
	}
	return lines, nil
}

func vectorItem(h memory.Hit) Item {
	tag := h.Chunk.Source
	if !h.Chunk.Timestamp.IsZero() {
		tag += " " + h.Chunk.Timestamp.Format(summary.HeadingLayout)
	}
	text := strings.Join(strings.Fields(h.Chunk.Text), " ")
	return Item{
		Text:      "[" + tag + "] " + text,
		content:   text,
		Source:    h.Chunk.Source,
		Origin:    OriginVector,
		Relevance: h.Similarity(),
		Timestamp: h.Chunk.Timestamp,
	}
}

// rank orders items by descending relevance, drops items whose content
// starts like an earlier one and keeps at most n.
func rank(items []Item, n int) []Item {
	slices.SortStableFunc(items, func(a, b Item) int { return cmp.Compare(b.Relevance, a.Relevance) })
	seen := make(map[[sha256.Size]byte]struct{}, len(items))
	out := make([]Item, 0, min(n, len(items)))
	for _, it := range items {
		key := sha256.Sum256([]byte(truncate(it.content, dedupPrefixChars)))
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, it)
		if len(out) == n {
			break
		}
	}
	return out
}

func cacheKey(message string) string {
	sum := sha256.Sum256([]byte(message))
	return hex.EncodeToString(sum[:])
}
