// Package embedtest provides a controllable Embedder for tests.
package embedtest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/flemzord/memoir/internal/embed"
)

// ErrInjected is returned by a Fake configured to fail.
var ErrInjected = errors.New("embedtest: injected failure")

// Fake wraps a HashEmbedder and counts calls. Texts listed in FailOn (or all
// texts when FailAll is set) return ErrInjected.
type Fake struct {
	inner *embed.HashEmbedder
	calls atomic.Int64

	mu      sync.Mutex
	failOn  map[string]bool
	failAll bool
}

var _ embed.Embedder = (*Fake)(nil)

// New returns a Fake with the given dimensions.
func New(dims int) *Fake {
	return &Fake{inner: embed.NewHashEmbedder(dims), failOn: make(map[string]bool)}
}

// FailOn makes Embed fail for text.
func (f *Fake) FailOn(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failOn[text] = true
}

// FailAll makes every Embed call fail.
func (f *Fake) FailAll(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failAll = fail
}

// Calls returns the number of Embed calls.
func (f *Fake) Calls() int64 { return f.calls.Load() }

// Dimensions implements embed.Embedder.
func (f *Fake) Dimensions() int { return f.inner.Dimensions() }

// Embed implements embed.Embedder.
func (f *Fake) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls.Add(1)
	f.mu.Lock()
	fail := f.failAll || f.failOn[text]
	f.mu.Unlock()
	if fail {
		return nil, ErrInjected
	}
	return f.inner.Embed(ctx, text)
}
