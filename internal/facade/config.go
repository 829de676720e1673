package facade

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/flemzord/memoir/internal/compaction"
	ctxengine "github.com/flemzord/memoir/internal/context"
	"github.com/flemzord/memoir/internal/embed"
	"github.com/flemzord/memoir/internal/memory"
	"github.com/flemzord/memoir/internal/recall"
	"github.com/flemzord/memoir/internal/summary"
)

// Directory layout under the memory directory.
const (
	HourlyDirName = "hourly"
	VectorDirName = "vector"
	GlobalDirName = "global"
)

// ErrInvalidConfig wraps every configuration error reported by Validate.
var ErrInvalidConfig = errors.New("facade: invalid config")

// Config is the complete memory pipeline configuration.
type Config struct {
	// MemoryDir holds summaries, the vector index and the compaction state.
	MemoryDir string `yaml:"memory_dir" json:"memory_dir" validate:"required"`
	// LogDir holds the host's session logs. Never written.
	LogDir string `yaml:"log_dir" json:"log_dir" validate:"required"`
	// GlobalDir holds system status files. Defaults to <memory_dir>/global.
	GlobalDir string `yaml:"global_dir" json:"global_dir"`

	Embedder   embed.Config     `yaml:"embedder" json:"embedder"`
	Summary    SummaryConfig    `yaml:"summary" json:"summary"`
	Index      IndexConfig      `yaml:"index" json:"index"`
	Compaction CompactionConfig `yaml:"compaction" json:"compaction"`
	Budget     BudgetConfig     `yaml:"budget" json:"budget"`
	Recall     RecallConfig     `yaml:"recall" json:"recall"`
}

// SummaryConfig tunes hourly summaries.
type SummaryConfig struct {
	Lookback     time.Duration `yaml:"lookback" json:"lookback"`
	Retention    time.Duration `yaml:"retention" json:"retention"`
	MaxTokens    int           `yaml:"max_tokens" json:"max_tokens" validate:"gte=0"`
	MaxTopics    int           `yaml:"max_topics" json:"max_topics" validate:"gte=0"`
	MaxDecisions int           `yaml:"max_decisions" json:"max_decisions" validate:"gte=0"`
	MaxActions   int           `yaml:"max_actions" json:"max_actions" validate:"gte=0"`
}

// IndexConfig tunes corpus chunking.
type IndexConfig struct {
	MinChunkChars   int           `yaml:"min_chunk_chars" json:"min_chunk_chars" validate:"gte=0"`
	MaxChunkChars   int           `yaml:"max_chunk_chars" json:"max_chunk_chars" validate:"gte=0"`
	MaxChunksPerDoc int           `yaml:"max_chunks_per_doc" json:"max_chunks_per_doc" validate:"gte=0"`
	EmbedTimeout    time.Duration `yaml:"embed_timeout" json:"embed_timeout"`
}

// CompactionConfig tunes the compaction heuristic.
type CompactionConfig struct {
	MinCount  int     `yaml:"min_count" json:"min_count" validate:"gte=0"`
	DropRatio float64 `yaml:"drop_ratio" json:"drop_ratio" validate:"gte=0,lt=1"`
}

// BudgetConfig sizes the post-compaction package.
type BudgetConfig struct {
	Total         int               `yaml:"total" json:"total" validate:"gte=0"`
	Weights       ctxengine.Weights `yaml:"weights" json:"weights"`
	CharsPerToken float64           `yaml:"chars_per_token" json:"chars_per_token" validate:"gte=0"`
}

// RecallConfig tunes recall.
type RecallConfig struct {
	MaxTokens      int           `yaml:"max_tokens" json:"max_tokens" validate:"gte=0"`
	CacheTTL       time.Duration `yaml:"cache_ttl" json:"cache_ttl"`
	RecentMessages int           `yaml:"recent_messages" json:"recent_messages" validate:"gte=0"`
	TopK           int           `yaml:"top_k" json:"top_k" validate:"gte=0"`
	MaxQueries     int           `yaml:"max_queries" json:"max_queries" validate:"gte=0"`
	MaxResults     int           `yaml:"max_results" json:"max_results" validate:"gte=0"`
}

// WithDefaults returns a copy of c with zero values replaced by defaults.
func (c Config) WithDefaults() Config {
	if c.GlobalDir == "" && c.MemoryDir != "" {
		c.GlobalDir = filepath.Join(c.MemoryDir, GlobalDirName)
	}
	if c.Embedder.Provider == "" {
		c.Embedder.Provider = embed.ProviderHash
	}
	if c.Embedder.Dimensions == 0 {
		c.Embedder.Dimensions = embed.DefaultDimensions
	}
	if c.Summary.Lookback == 0 {
		c.Summary.Lookback = summary.DefaultLookback
	}
	if c.Summary.Retention == 0 {
		c.Summary.Retention = summary.DefaultRetention
	}
	if c.Compaction.MinCount == 0 {
		c.Compaction.MinCount = compaction.DefaultMinCount
	}
	if c.Compaction.DropRatio == 0 {
		c.Compaction.DropRatio = compaction.DefaultDropRatio
	}
	if c.Budget.Total == 0 {
		c.Budget.Total = ctxengine.DefaultTotalBudget
	}
	if c.Budget.Weights.IsZero() {
		c.Budget.Weights = ctxengine.DefaultWeights()
	}
	if c.Budget.CharsPerToken == 0 {
		c.Budget.CharsPerToken = ctxengine.DefaultCharsPerToken
	}
	if c.Recall.MaxTokens == 0 {
		c.Recall.MaxTokens = recall.DefaultMaxTokens
	}
	if c.Recall.CacheTTL == 0 {
		c.Recall.CacheTTL = recall.DefaultCacheTTL
	}
	if c.Index.MinChunkChars == 0 {
		c.Index.MinChunkChars = memory.DefaultMinChunkChars
	}
	if c.Index.MaxChunkChars == 0 {
		c.Index.MaxChunkChars = memory.DefaultMaxChunkChars
	}
	if c.Index.MaxChunksPerDoc == 0 {
		c.Index.MaxChunksPerDoc = memory.DefaultMaxChunksPerDoc
	}
	return c
}

// Validate reports every configuration error at once. It is meant to run
// at startup, on a config with defaults applied.
func (c Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	if c.MemoryDir == "" {
		add("memory_dir is required")
	}
	if c.LogDir == "" {
		add("log_dir is required")
	}
	if c.Summary.Retention <= 0 {
		add("summary.retention must be positive, got %s", c.Summary.Retention)
	}
	if c.Summary.Lookback <= 0 {
		add("summary.lookback must be positive, got %s", c.Summary.Lookback)
	}
	if c.Embedder.Dimensions <= 0 {
		add("embedder.dimensions must be positive, got %d", c.Embedder.Dimensions)
	}
	switch c.Embedder.Provider {
	case embed.ProviderHash, embed.ProviderOllama:
	default:
		add("embedder.provider %q is not supported", c.Embedder.Provider)
	}
	if r := c.Compaction.DropRatio; r <= 0 || r >= 1 {
		add("compaction.drop_ratio must be in (0, 1), got %v", r)
	}
	if c.Compaction.MinCount < 0 {
		add("compaction.min_count must not be negative")
	}
	if c.Index.MinChunkChars > c.Index.MaxChunkChars {
		add("index.min_chunk_chars (%d) exceeds index.max_chunk_chars (%d)", c.Index.MinChunkChars, c.Index.MaxChunkChars)
	}
	if c.Recall.CacheTTL < 0 {
		add("recall.cache_ttl must not be negative")
	}
	if err := c.Budget.Weights.Validate(c.Budget.Total); err != nil {
		errs = append(errs, fmt.Errorf("%w: budget: %w", ErrInvalidConfig, err))
	}
	return errors.Join(errs...)
}

// HourlyDir returns the summary archive directory.
func (c Config) HourlyDir() string { return filepath.Join(c.MemoryDir, HourlyDirName) }

// VectorDir returns the vector index directory.
func (c Config) VectorDir() string { return filepath.Join(c.MemoryDir, VectorDirName) }

// StatePath returns the compaction state file.
func (c Config) StatePath() string { return filepath.Join(c.MemoryDir, compaction.StateFile) }

func (c Config) recallConfig() recall.Config {
	return recall.Config{
		MaxTokens:      c.Recall.MaxTokens,
		CacheTTL:       c.Recall.CacheTTL,
		RecentMessages: c.Recall.RecentMessages,
		TopK:           c.Recall.TopK,
		MaxQueries:     c.Recall.MaxQueries,
		MaxResults:     c.Recall.MaxResults,
		EmbedTimeout:   c.Index.EmbedTimeout,
		CharsPerToken:  c.Budget.CharsPerToken,
	}
}

func (c Config) summaryConfig() summary.Config {
	return summary.Config{
		Lookback:      c.Summary.Lookback,
		MaxTokens:     c.Summary.MaxTokens,
		MaxTopics:     c.Summary.MaxTopics,
		MaxDecisions:  c.Summary.MaxDecisions,
		MaxActions:    c.Summary.MaxActions,
		CharsPerToken: int(c.Budget.CharsPerToken),
	}
}
