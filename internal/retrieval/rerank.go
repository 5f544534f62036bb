package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"time"

	"github.com/iammorganparry/hindsight/internal/embedding"
	"github.com/iammorganparry/hindsight/internal/models"
)

// Reranker scores query/document pairs with a cross-encoder. Scores are raw
// model logits; the client applies the logistic transform.
type Reranker interface {
	Rerank(ctx context.Context, query string, documents []string) ([]float64, error)
}

// HTTPReranker calls a cross-encoder service exposing a /rerank endpoint
// that accepts {query, documents} and returns {scores}.
type HTTPReranker struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

func NewHTTPReranker(baseURL, model string) *HTTPReranker {
	return &HTTPReranker{
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type rerankRequest struct {
	Model     string   `json:"model,omitempty"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankResponse struct {
	Scores []float64 `json:"scores"`
}

// Rerank returns one raw score per document, in input order. Failures wrap
// models.ErrRerankerDegraded; the retriever falls back to fused order.
func (r *HTTPReranker) Rerank(ctx context.Context, query string, documents []string) ([]float64, error) {
	if len(documents) == 0 {
		return nil, nil
	}

	data, err := json.Marshal(rerankRequest{Model: r.model, Query: query, Documents: documents})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal rerank request: %w", models.ErrRerankerDegraded, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/rerank", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: build rerank request: %w", models.ErrRerankerDegraded, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrRerankerDegraded, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read rerank response: %w", models.ErrRerankerDegraded, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", models.ErrRerankerDegraded, resp.StatusCode, string(body))
	}

	var result rerankResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("%w: decode rerank response: %w", models.ErrRerankerDegraded, err)
	}
	if len(result.Scores) != len(documents) {
		return nil, fmt.Errorf("%w: got %d scores for %d documents", models.ErrRerankerDegraded, len(result.Scores), len(documents))
	}
	return result.Scores, nil
}

// rerankCandidates scores fused candidates against the query and reorders
// them, score desc, id asc. Each document the cross-encoder sees is the
// unit text prefixed with its event date and optional context, so
// date-constrained queries punish date-distant units.
func rerankCandidates(ctx context.Context, rr Reranker, query string, units []*models.MemoryUnit) ([]scoredUnit, error) {
	if len(units) == 0 {
		return nil, nil
	}

	documents := make([]string, len(units))
	for i, u := range units {
		text := u.Text
		if u.Context != "" {
			text = u.Context + " " + text
		}
		documents[i] = embedding.AugmentDate(text, u.EventDate)
	}

	raw, err := rr.Rerank(ctx, query, documents)
	if err != nil {
		return nil, err
	}

	scored := make([]scoredUnit, len(units))
	for i, u := range units {
		scored[i] = scoredUnit{unit: u, score: logistic(raw[i])}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		return scored[i].unit.ID < scored[j].unit.ID
	})
	return scored, nil
}

type scoredUnit struct {
	unit  *models.MemoryUnit
	score float64
}

// logistic squashes a raw cross-encoder logit into (0, 1).
func logistic(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}
