package temporal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/iammorganparry/hindsight/internal/models"
)

const parserSystemPrompt = `You resolve temporal expressions in search queries to date ranges.

Given a query and the current date, decide whether the query constrains
results to a time period. If it does, respond with ONLY:
{"start": "YYYY-MM-DD", "end": "YYYY-MM-DD"}
If it does not, respond with ONLY:
{"start": null, "end": null}

Seasons resolve to their calendar months ("last spring" with current date
2024-08-01 means 2024-03-01 to 2024-05-31).`

// LLMParser resolves temporal expressions via an OpenAI-compatible
// chat-completions endpoint, with a rule fast path for common phrases so
// cheap queries never hit the model.
type LLMParser struct {
	rules      *RuleParser
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

func NewLLMParser(baseURL, apiKey, model string) *LLMParser {
	return &LLMParser{
		rules:   NewRuleParser(),
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type parsedRange struct {
	Start *string `json:"start"`
	End   *string `json:"end"`
}

// ParseTime tries the rule parser first and falls back to the model.
// Failures wrap models.ErrTemporalParserUnavailable; the retriever treats
// that as "no range" and tags the trace.
func (p *LLMParser) ParseTime(ctx context.Context, query string, now time.Time) (*Range, error) {
	if r, err := p.rules.ParseTime(ctx, query, now); err == nil && r != nil {
		return r, nil
	}

	raw, err := p.complete(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrTemporalParserUnavailable, err)
	}

	var parsed parsedRange
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	if err := json.Unmarshal([]byte(strings.TrimSpace(cleaned)), &parsed); err != nil {
		return nil, fmt.Errorf("%w: decode range: %w", models.ErrTemporalParserUnavailable, err)
	}
	if parsed.Start == nil || parsed.End == nil {
		return nil, nil
	}

	start, err := time.ParseInLocation("2006-01-02", *parsed.Start, now.Location())
	if err != nil {
		return nil, fmt.Errorf("%w: bad start date %q", models.ErrTemporalParserUnavailable, *parsed.Start)
	}
	end, err := time.ParseInLocation("2006-01-02", *parsed.End, now.Location())
	if err != nil {
		return nil, fmt.Errorf("%w: bad end date %q", models.ErrTemporalParserUnavailable, *parsed.End)
	}
	end = end.Add(24*time.Hour - time.Second)
	if end.Before(start) {
		return nil, nil
	}
	return &Range{Start: start, End: end}, nil
}

func (p *LLMParser) complete(ctx context.Context, query string, now time.Time) (string, error) {
	body, err := json.Marshal(map[string]any{
		"model": p.model,
		"messages": []map[string]string{
			{"role": "system", "content": parserSystemPrompt},
			{"role": "user", "content": fmt.Sprintf("Current date: %s\nQuery: %s", now.Format("2006-01-02"), query)},
		},
		"temperature": 0.0,
		"stream":      false,
	})
	if err != nil {
		return "", fmt.Errorf("marshal parse request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build parse request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("temporal parse: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read parse response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("temporal parse: status %d: %s", resp.StatusCode, string(data))
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("decode parse response: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("temporal parse returned no choices")
	}
	return result.Choices[0].Message.Content, nil
}
