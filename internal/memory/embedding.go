package memory

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"

	"golang.org/x/time/rate"
)

// HTTPEmbedding calls an external embedding service over HTTP. Requests
// are rate limited so a burst of memory writes cannot exhaust the
// provider's quota.
type HTTPEmbedding struct {
	apiURL     string
	model      string
	dimensions int
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewHTTPEmbedding creates an embedding generator backed by config.EmbeddingURL
func NewHTTPEmbedding(config *Config) *HTTPEmbedding {
	if config == nil {
		config = DefaultConfig()
	}

	rps := float64(config.EmbeddingRateLimit) / 60.0
	burst := config.EmbeddingRateLimit / 6
	if burst < 1 {
		burst = 1
	}

	return &HTTPEmbedding{
		apiURL:     config.EmbeddingURL,
		model:      config.EmbeddingModel,
		dimensions: config.EmbeddingDimensions,
		httpClient: &http.Client{Timeout: config.EmbeddingTimeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Generate creates an embedding vector for text
func (e *HTTPEmbedding) Generate(ctx context.Context, text string) ([]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("embedding rate limit: %w", err)
	}

	requestBody := map[string]interface{}{
		"input": text,
		"model": e.model,
	}

	body, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.apiURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding API error %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var result struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(result.Embedding) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}

	return result.Embedding, nil
}

// Dimensions returns the embedding vector dimensionality
func (e *HTTPEmbedding) Dimensions() int {
	return e.dimensions
}

// FallbackEmbedding derives a pseudo-random vector from the SHA-256 of
// the text. The same text always maps to the same vector, so retrieval
// stays reproducible without a provider; the vectors carry no semantic
// meaning.
type FallbackEmbedding struct {
	dimensions int
}

// NewFallbackEmbedding creates a deterministic hash-seeded generator
func NewFallbackEmbedding(dimensions int) *FallbackEmbedding {
	return &FallbackEmbedding{dimensions: dimensions}
}

// Generate creates a deterministic pseudo-embedding for text
func (e *FallbackEmbedding) Generate(ctx context.Context, text string) ([]float32, error) {
	sum := sha256.Sum256([]byte(text))
	seed := int64(binary.BigEndian.Uint64(sum[:8]))
	rng := rand.New(rand.NewSource(seed))

	embedding := make([]float32, e.dimensions)
	for i := range embedding {
		embedding[i] = float32(rng.NormFloat64())
	}
	return embedding, nil
}

// Dimensions returns the embedding vector dimensionality
func (e *FallbackEmbedding) Dimensions() int {
	return e.dimensions
}
