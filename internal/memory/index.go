// Package memory holds the semantic memory index: chunk storage, flat L2
// nearest-neighbour search, persistence and corpus ingestion.
package memory

import (
	"cmp"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"
)

var (
	// ErrDimensionMismatch is returned when a vector's size differs from the
	// index dimension.
	ErrDimensionMismatch = errors.New("memory: dimension mismatch")

	// ErrInvalidVector is returned for vectors holding NaN or infinity.
	ErrInvalidVector = errors.New("memory: invalid vector")

	// ErrIndexIncomplete is returned when the vector file exists without its
	// metadata companion.
	ErrIndexIncomplete = errors.New("memory: index incomplete")

	// ErrIndexCorrupt is returned when persisted files disagree or cannot be
	// decoded.
	ErrIndexCorrupt = errors.New("memory: index corrupt")

	// ErrNotPersistent is returned by Save on an index without a directory.
	ErrNotPersistent = errors.New("memory: index has no directory")
)

// Chunk is one unit of retrievable text and its embedding.
type Chunk struct {
	Text      string
	Source    string
	Timestamp time.Time
	Vector    []float32
}

// Hit is a search result. Hit.Chunk.Vector is not populated.
type Hit struct {
	Chunk    Chunk
	Distance float32
}

// Similarity maps the L2 distance onto [0, 1].
func (h Hit) Similarity() float64 {
	return max(0, 1-float64(h.Distance))
}

// IndexStats describes the index contents.
type IndexStats struct {
	Chunks     int
	Dimensions int
	Sources    int
	Oldest     time.Time
	Newest     time.Time
}

// VectorIndex is an exact (flat) L2 index. Vectors and chunk metadata are
// stored in lockstep: row i of vectors belongs to meta[i].
type VectorIndex struct {
	mu      sync.RWMutex
	dim     int
	vectors []float32
	meta    []Chunk

	dir    string
	saveMu sync.Mutex
	logger *slog.Logger
}

// NewVectorIndex returns an empty in-memory index of the given dimension.
func NewVectorIndex(dim int) *VectorIndex {
	return &VectorIndex{dim: dim, logger: slog.Default()}
}

// Dimensions returns the vector size.
func (x *VectorIndex) Dimensions() int { return x.dim }

// Len returns the number of chunks.
func (x *VectorIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.meta)
}

// Add appends one chunk.
func (x *VectorIndex) Add(c Chunk) error {
	if err := x.check(c.Vector); err != nil {
		return err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	x.vectors = append(x.vectors, c.Vector...)
	c.Vector = nil
	x.meta = append(x.meta, c)
	return nil
}

func (x *VectorIndex) check(vec []float32) error {
	if len(vec) != x.dim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), x.dim)
	}
	for _, v := range vec {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return fmt.Errorf("%w: non-finite value", ErrInvalidVector)
		}
	}
	return nil
}

// Search returns the k nearest chunks to query, closest first. Equal
// distances keep insertion order. An empty index yields no hits for any
// query.
func (x *VectorIndex) Search(query []float32, k int) ([]Hit, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	n := len(x.meta)
	if n == 0 || k <= 0 {
		return nil, nil
	}
	if len(query) != x.dim {
		return nil, fmt.Errorf("%w: query has %d, want %d", ErrDimensionMismatch, len(query), x.dim)
	}
	if len(x.vectors) != n*x.dim {
		x.logger.Error("memory: vector and metadata counts disagree",
			"vectors", len(x.vectors)/max(x.dim, 1), "chunks", n)
		return nil, nil
	}

	type scored struct {
		idx  int
		dist float32
	}
	all := make([]scored, n)
	for i := range n {
		row := x.vectors[i*x.dim : (i+1)*x.dim]
		all[i] = scored{idx: i, dist: l2(query, row)}
	}
	slices.SortStableFunc(all, func(a, b scored) int { return cmp.Compare(a.dist, b.dist) })

	k = min(k, n)
	hits := make([]Hit, k)
	for i := range k {
		hits[i] = Hit{Chunk: x.meta[all[i].idx], Distance: all[i].dist}
	}
	return hits, nil
}

// RebuildFrom replaces the whole index with the chunks yielded by seq. The
// sequence is consumed and validated before the index is touched; a bad
// chunk leaves the current contents intact. The swap itself happens under
// the write lock.
func (x *VectorIndex) RebuildFrom(seq iter.Seq[Chunk]) (int, error) {
	var (
		vectors []float32
		meta    []Chunk
	)
	for c := range seq {
		if err := x.check(c.Vector); err != nil {
			return 0, fmt.Errorf("memory: rebuild chunk %d (%s): %w", len(meta), c.Source, err)
		}
		vectors = append(vectors, c.Vector...)
		c.Vector = nil
		meta = append(meta, c)
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	x.vectors = vectors
	x.meta = meta
	return len(meta), nil
}

// Chunks returns a copy of every chunk including its vector.
func (x *VectorIndex) Chunks() []Chunk {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]Chunk, len(x.meta))
	for i, c := range x.meta {
		c.Vector = slices.Clone(x.vectors[i*x.dim : (i+1)*x.dim])
		out[i] = c
	}
	return out
}

// Stats summarizes the index contents.
func (x *VectorIndex) Stats() IndexStats {
	x.mu.RLock()
	defer x.mu.RUnlock()

	st := IndexStats{Chunks: len(x.meta), Dimensions: x.dim}
	sources := make(map[string]struct{})
	for _, c := range x.meta {
		sources[c.Source] = struct{}{}
		if c.Timestamp.IsZero() {
			continue
		}
		if st.Oldest.IsZero() || c.Timestamp.Before(st.Oldest) {
			st.Oldest = c.Timestamp
		}
		if c.Timestamp.After(st.Newest) {
			st.Newest = c.Timestamp
		}
	}
	st.Sources = len(sources)
	return st
}

func l2(a, b []float32) float32 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return float32(math.Sqrt(sum))
}
