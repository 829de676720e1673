package embed_test

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/flemzord/memoir/internal/embed"
)

func l2(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i] - b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// ---------------------------------------------------------------------------
// HashEmbedder
// ---------------------------------------------------------------------------

func TestHashEmbedder_DeterministicUnitVectors(t *testing.T) {
	t.Parallel()

	e := embed.NewHashEmbedder(64)
	a, err := e.Embed(t.Context(), "deploy the gateway")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := e.Embed(t.Context(), "deploy the gateway")
	if len(a) != 64 {
		t.Fatalf("len = %d, want 64", len(a))
	}
	if l2(a, b) != 0 {
		t.Error("same text must embed identically")
	}

	var norm float64
	for _, v := range a {
		norm += float64(v) * float64(v)
	}
	if math.Abs(norm-1) > 1e-5 {
		t.Errorf("norm = %f, want 1", norm)
	}
}

func TestHashEmbedder_SharedVocabularyIsCloser(t *testing.T) {
	t.Parallel()

	e := embed.NewHashEmbedder(embed.DefaultDimensions)
	ctx := t.Context()
	q, _ := e.Embed(ctx, "vector index rebuild schedule")
	near, _ := e.Embed(ctx, "the vector index rebuild runs on a schedule")
	far, _ := e.Embed(ctx, "buy groceries tomorrow morning")

	if l2(q, near) >= l2(q, far) {
		t.Errorf("expected related text to be closer: near=%f far=%f", l2(q, near), l2(q, far))
	}
}

func TestHashEmbedder_EmptyText(t *testing.T) {
	t.Parallel()

	vec, err := embed.NewHashEmbedder(8).Embed(t.Context(), "   ...  ")
	if err != nil {
		t.Fatal(err)
	}
	for _, v := range vec {
		if v != 0 {
			t.Fatal("expected zero vector for text without words")
		}
	}
}

func TestHashEmbedder_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	if _, err := embed.NewHashEmbedder(8).Embed(ctx, "x"); err == nil {
		t.Error("expected error for cancelled context")
	}
}

// ---------------------------------------------------------------------------
// New
// ---------------------------------------------------------------------------

func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     embed.Config
		wantErr error
		dims    int
	}{
		{"default is hash", embed.Config{}, nil, embed.DefaultDimensions},
		{"hash custom dims", embed.Config{Provider: "hash", Dimensions: 16}, nil, 16},
		{"ollama", embed.Config{Provider: "ollama", Dimensions: 768}, nil, 768},
		{"unknown", embed.Config{Provider: "word2vec"}, embed.ErrUnknownProvider, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e, err := embed.New(tt.cfg)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if e.Dimensions() != tt.dims {
				t.Errorf("Dimensions = %d, want %d", e.Dimensions(), tt.dims)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// OllamaEmbedder
// ---------------------------------------------------------------------------

func TestOllamaEmbedder_Embed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Model string `json:"model"`
			Input string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Model != "all-minilm" || req.Input != "hello" {
			http.Error(w, "unexpected request", http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": [][]float32{{0.1, 0.2, 0.3}}})
	}))
	t.Cleanup(srv.Close)

	e := embed.NewOllamaEmbedder(embed.OllamaConfig{BaseURL: srv.URL, Dimensions: 3})
	vec, err := e.Embed(t.Context(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 || vec[2] != 0.3 {
		t.Errorf("vec = %v", vec)
	}
}

func TestOllamaEmbedder_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"status", func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "model not found", http.StatusNotFound)
		}},
		{"empty", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"embeddings":[]}`))
		}},
		{"wrong dims", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"embeddings":[[1,2]]}`))
		}},
		{"bad json", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{`))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(tt.handler)
			t.Cleanup(srv.Close)

			e := embed.NewOllamaEmbedder(embed.OllamaConfig{BaseURL: srv.URL, Dimensions: 3})
			if _, err := e.Embed(t.Context(), "x"); !errors.Is(err, embed.ErrEmbedding) {
				t.Errorf("err = %v, want ErrEmbedding", err)
			}
		})
	}
}

func TestWithTimeout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	e := embed.NewOllamaEmbedder(embed.OllamaConfig{BaseURL: srv.URL})
	start := time.Now()
	if _, err := embed.WithTimeout(t.Context(), e, 50*time.Millisecond, "slow"); err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("timeout not honored: took %s", elapsed)
	}
}
