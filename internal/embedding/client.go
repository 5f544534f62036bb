package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/iammorganparry/hindsight/internal/models"
)

// Embedder produces fixed-dimension vectors for text. All retrieval paths
// that need an embedding go through this interface.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// OllamaClient generates text embeddings via the Ollama API.
type OllamaClient struct {
	baseURL    string
	model      string
	dim        int
	httpClient *http.Client
}

func NewOllamaClient(baseURL, model string, dim int) *OllamaClient {
	return &OllamaClient{
		baseURL: baseURL,
		model:   model,
		dim:     dim,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

func (c *OllamaClient) Dimension() int { return c.dim }

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

const embedAttempts = 3

// Embed generates an embedding vector for the given text. Transient failures
// are retried with bounded backoff; after the final attempt the error wraps
// models.ErrEmbeddingUnavailable so callers can degrade instead of failing
// the whole request.
func (c *OllamaClient) Embed(ctx context.Context, text string) ([]float32, error) {
	var lastErr error
	for attempt := 0; attempt < embedAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %w", models.ErrEmbeddingUnavailable, ctx.Err())
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}

		vec, err := c.embedOnce(ctx, text)
		if err == nil {
			if len(vec) != c.dim {
				return nil, fmt.Errorf("%w: got dimension %d, want %d", models.ErrEmbeddingUnavailable, len(vec), c.dim)
			}
			return vec, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %w", models.ErrEmbeddingUnavailable, lastErr)
}

func (c *OllamaClient) embedOnce(ctx context.Context, text string) ([]float32, error) {
	data, err := json.Marshal(embedRequest{Model: c.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embed", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embed response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama embed: status %d: %s", resp.StatusCode, string(body))
	}

	var result embedResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}

	if len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("ollama returned no embeddings")
	}

	return result.Embeddings[0], nil
}

// HealthCheck verifies Ollama is reachable.
func (c *OllamaClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ollama health check: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama health check: status %d", resp.StatusCode)
	}
	return nil
}
