package memory

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/flemzord/memoir/internal/embed"
	"github.com/flemzord/memoir/internal/logstore"
)

// Builder defaults.
const (
	DefaultMinChunkChars   = 50
	DefaultMaxChunkChars   = 500
	DefaultMaxChunksPerDoc = 10
	DefaultEmbedTimeout    = 2 * time.Second
)

// BuilderConfig configures an IndexBuilder.
type BuilderConfig struct {
	MinChunkChars   int
	MaxChunkChars   int
	MaxChunksPerDoc int
	EmbedTimeout    time.Duration
	// Scrub is applied to every chunk before it is embedded.
	Scrub  func(string) string
	Logger *slog.Logger
}

func (c BuilderConfig) withDefaults() BuilderConfig {
	if c.MinChunkChars <= 0 {
		c.MinChunkChars = DefaultMinChunkChars
	}
	if c.MaxChunkChars <= 0 {
		c.MaxChunkChars = DefaultMaxChunkChars
	}
	if c.MaxChunksPerDoc <= 0 {
		c.MaxChunksPerDoc = DefaultMaxChunksPerDoc
	}
	if c.EmbedTimeout <= 0 {
		c.EmbedTimeout = DefaultEmbedTimeout
	}
	if c.Scrub == nil {
		c.Scrub = func(s string) string { return s }
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// IngestStats reports what an ingestion pass did.
type IngestStats struct {
	Files         int `json:"files"`
	FilesSkipped  int `json:"files_skipped"`
	Chunks        int `json:"chunks"`
	EmbedFailures int `json:"embed_failures"`
}

// IndexBuilder chunks documents, embeds the chunks and feeds the index.
type IndexBuilder struct {
	cfg      BuilderConfig
	index    *VectorIndex
	embedder embed.Embedder
}

// NewIndexBuilder returns a builder writing into index.
func NewIndexBuilder(cfg BuilderConfig, index *VectorIndex, embedder embed.Embedder) *IndexBuilder {
	return &IndexBuilder{cfg: cfg.withDefaults(), index: index, embedder: embedder}
}

// SplitChunks cuts a document into paragraph chunks. Paragraphs shorter than
// minChars are dropped, longer ones are cut to maxChars, and at most maxPer
// chunks are returned.
func SplitChunks(doc string, minChars, maxChars, maxPer int) []string {
	var out []string
	for para := range strings.SplitSeq(doc, "\n\n") {
		para = strings.TrimSpace(para)
		if len(para) < minChars {
			continue
		}
		out = append(out, truncateRunes(para, maxChars))
		if len(out) == maxPer {
			break
		}
	}
	return out
}

// IngestCorpus embeds every chunk of paths and appends it to the index.
// Calling it twice on the same files indexes them twice; Rebuild is the
// idempotent path.
func (b *IndexBuilder) IngestCorpus(ctx context.Context, paths []string) (IngestStats, error) {
	var stats IngestStats
	var errs []error
	for c := range b.embedded(ctx, paths, &stats) {
		if err := b.index.Add(c); err != nil {
			errs = append(errs, err)
			continue
		}
		stats.Chunks++
	}
	if err := ctx.Err(); err != nil {
		return stats, err
	}
	return stats, errors.Join(errs...)
}

// Rebuild replaces the index with the chunks of paths and persists it when
// the index has a directory.
func (b *IndexBuilder) Rebuild(ctx context.Context, paths []string) (IngestStats, error) {
	var stats IngestStats
	staged := slices.Collect(b.embedded(ctx, paths, &stats))
	if err := ctx.Err(); err != nil {
		return stats, fmt.Errorf("memory: rebuild interrupted: %w", err)
	}
	n, err := b.index.RebuildFrom(slices.Values(staged))
	if err != nil {
		return stats, err
	}
	stats.Chunks = n

	if b.index.dir != "" {
		if err := b.index.Save(); err != nil {
			return stats, err
		}
	}
	b.cfg.Logger.Info("memory: index rebuilt",
		"chunks", n,
		"files", stats.Files,
		"files_skipped", stats.FilesSkipped,
		"embed_failures", stats.EmbedFailures,
	)
	return stats, nil
}

// embedded yields embedded chunks for every readable file in paths.
// Unreadable files and failed embeddings are counted and skipped.
func (b *IndexBuilder) embedded(ctx context.Context, paths []string, stats *IngestStats) iter.Seq[Chunk] {
	return func(yield func(Chunk) bool) {
		for _, path := range paths {
			if ctx.Err() != nil {
				return
			}
			chunks, err := b.readChunks(ctx, path)
			if err != nil {
				stats.FilesSkipped++
				b.cfg.Logger.Warn("memory: skipping unreadable file", "path", path, "error", err)
				continue
			}
			stats.Files++
			for _, c := range chunks {
				c.Text = b.cfg.Scrub(c.Text)
				vec, err := embed.WithTimeout(ctx, b.embedder, b.cfg.EmbedTimeout, c.Text)
				if err != nil {
					stats.EmbedFailures++
					b.cfg.Logger.Debug("memory: embedding failed", "source", c.Source, "error", err)
					continue
				}
				c.Vector = vec
				if !yield(c) {
					return
				}
			}
		}
	}
}

func (b *IndexBuilder) readChunks(ctx context.Context, path string) ([]Chunk, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if strings.HasSuffix(path, ".jsonl") {
		return b.sessionChunks(ctx, path, info.ModTime())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	source := filepath.Base(path)
	texts := SplitChunks(string(data), b.cfg.MinChunkChars, b.cfg.MaxChunkChars, b.cfg.MaxChunksPerDoc)
	chunks := make([]Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = Chunk{Text: text, Source: source, Timestamp: info.ModTime()}
	}
	return chunks, nil
}

// sessionChunks turns the latest conversational messages of a session log
// into chunks.
func (b *IndexBuilder) sessionChunks(ctx context.Context, path string, mtime time.Time) ([]Chunk, error) {
	res, err := logstore.ReadEvents(ctx, path)
	if err != nil {
		return nil, err
	}
	source := strings.TrimSuffix(filepath.Base(path), ".jsonl")

	var chunks []Chunk
	for _, ev := range slices.Backward(res.Events) {
		if !ev.Kind.IsMessage() {
			continue
		}
		text := strings.TrimSpace(ev.Content)
		if len(text) < b.cfg.MinChunkChars {
			continue
		}
		ts := ev.Timestamp
		if ts.IsZero() {
			ts = mtime
		}
		chunks = append(chunks, Chunk{Text: truncateRunes(text, b.cfg.MaxChunkChars), Source: source, Timestamp: ts})
		if len(chunks) == b.cfg.MaxChunksPerDoc {
			break
		}
	}
	slices.Reverse(chunks)
	return chunks, nil
}

// CorpusPaths lists the markdown documents under memoryDir and its hourly
// summary directory, sorted.
func CorpusPaths(memoryDir, hourlyDir string) ([]string, error) {
	var paths []string
	for _, dir := range []string{memoryDir, hourlyDir} {
		matches, err := filepath.Glob(filepath.Join(dir, "*.md"))
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			if info, err := os.Stat(m); err == nil && info.Mode().IsRegular() {
				paths = append(paths, m)
			} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return nil, err
			}
		}
	}
	slices.Sort(paths)
	return paths, nil
}

func truncateRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
