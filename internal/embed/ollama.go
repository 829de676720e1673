package embed

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultOllamaModel is the embedding model requested from Ollama.
	DefaultOllamaModel = "all-minilm"

	// DefaultOllamaURL is the default Ollama API URL.
	DefaultOllamaURL = "http://localhost:11434"
)

// OllamaConfig configures an OllamaEmbedder.
type OllamaConfig struct {
	BaseURL    string
	Model      string
	Dimensions int
	// Timeout bounds a single HTTP request.
	Timeout time.Duration
	// RatePerSecond limits request rate; zero disables limiting.
	RatePerSecond float64
	Burst         int
	// HTTPClient overrides the default client.
	HTTPClient *http.Client
}

// OllamaEmbedder calls Ollama's /api/embed endpoint.
type OllamaEmbedder struct {
	baseURL    string
	model      string
	dimensions int
	httpClient *http.Client
	limiter    *rate.Limiter
}

var _ Embedder = (*OllamaEmbedder)(nil)

type ollamaRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type ollamaResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// NewOllamaEmbedder returns an embedder for an Ollama server.
func NewOllamaEmbedder(cfg OllamaConfig) *OllamaEmbedder {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cmp.Or(cfg.Timeout, 30*time.Second)}
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), max(cfg.Burst, 1))
	}
	return &OllamaEmbedder{
		baseURL:    cmp.Or(cfg.BaseURL, DefaultOllamaURL),
		model:      cmp.Or(cfg.Model, DefaultOllamaModel),
		dimensions: cmp.Or(cfg.Dimensions, DefaultDimensions),
		httpClient: client,
		limiter:    limiter,
	}
}

// Dimensions implements Embedder.
func (e *OllamaEmbedder) Dimensions() int { return e.dimensions }

// Embed implements Embedder.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limit: %w", ErrEmbedding, err)
	}

	body, err := json.Marshal(ollamaRequest{Model: e.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("%w: marshaling request: %w", ErrEmbedding, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: creating request: %w", ErrEmbedding, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: sending request: %w", ErrEmbedding, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: ollama returned status %d: %s", ErrEmbedding, resp.StatusCode, msg)
	}

	var out ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %w", ErrEmbedding, err)
	}
	if len(out.Embeddings) == 0 {
		return nil, fmt.Errorf("%w: no embeddings returned", ErrEmbedding)
	}
	vec := out.Embeddings[0]
	if len(vec) != e.dimensions {
		return nil, fmt.Errorf("%w: model returned %d dimensions, want %d", ErrEmbedding, len(vec), e.dimensions)
	}
	return vec, nil
}
