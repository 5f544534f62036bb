package extraction

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

// LLMExtractor calls an OpenAI-compatible chat-completions endpoint to
// extract narrative facts.
type LLMExtractor struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

func NewLLMExtractor(baseURL, apiKey, model string) *LLMExtractor {
	return &LLMExtractor{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Extract runs one completion call and parses the resulting facts. Failures
// wrap models.ErrExtractorUnavailable so ingest can skip the batch without
// treating it as a caller error.
func (e *LLMExtractor) Extract(ctx context.Context, content string) ([]Fact, error) {
	if len(content) > MaxContentLength {
		content = content[:MaxContentLength]
	}
	if content == "" {
		return nil, nil
	}

	raw, err := e.complete(ctx, BuildUserPrompt(content))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrExtractorUnavailable, err)
	}

	facts, err := ParseResponse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrExtractorUnavailable, err)
	}
	return facts, nil
}

func (e *LLMExtractor) complete(ctx context.Context, userPrompt string) (string, error) {
	data, err := json.Marshal(chatRequest{
		Model: e.model,
		Messages: []chatMessage{
			{Role: "system", Content: SystemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: 0.1,
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read chat response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("chat completion: status %d: %s", resp.StatusCode, string(body))
	}

	var result chatResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return result.Choices[0].Message.Content, nil
}
