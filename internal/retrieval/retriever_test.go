package retrieval

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iammorganparry/hindsight/internal/models"
	"github.com/iammorganparry/hindsight/internal/store"
	"github.com/iammorganparry/hindsight/internal/temporal"
)

// countingEmbedder returns one fixed vector and counts calls, so tests can
// assert which code paths touch the embedder at all.
type countingEmbedder struct {
	vec   []float32
	calls int
}

func (e *countingEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	e.calls++
	return e.vec, nil
}

func (e *countingEmbedder) Dimension() int { return len(e.vec) }

type stubParser struct {
	rng *temporal.Range
	err error
}

func (p *stubParser) ParseTime(_ context.Context, _ string, _ time.Time) (*temporal.Range, error) {
	return p.rng, p.err
}

// scriptedReranker scores each document through scoreFor; a nil scoreFor
// gives every document the same raw score, so id order decides.
type scriptedReranker struct {
	scoreFor func(doc string) float64
	err      error
}

func (r *scriptedReranker) Rerank(_ context.Context, _ string, docs []string) ([]float64, error) {
	if r.err != nil {
		return nil, r.err
	}
	out := make([]float64, len(docs))
	if r.scoreFor != nil {
		for i, d := range docs {
			out[i] = r.scoreFor(d)
		}
	}
	return out, nil
}

type searchFixture struct {
	units  *store.UnitStore
	links  *store.LinkStore
	emb    *countingEmbedder
	parser *stubParser
	rerank *scriptedReranker
	logger *slog.Logger
}

func newSearchFixture(t *testing.T) *searchFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	db, err := store.Open(":memory:", 4, logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return &searchFixture{
		units:  store.NewUnitStore(db),
		links:  store.NewLinkStore(db),
		emb:    &countingEmbedder{vec: []float32{1, 0, 0, 0}},
		parser: &stubParser{},
		rerank: &scriptedReranker{},
		logger: logger,
	}
}

func (f *searchFixture) retriever() *Retriever {
	return NewRetriever(f.units, f.links, f.emb, f.parser, f.rerank, wordCounter{},
		models.DefaultWeights(), 5*time.Second, f.logger)
}

func (f *searchFixture) addUnit(t *testing.T, id, agentID string, ft models.FactType, text string, emb []float32, eventDate time.Time) {
	t.Helper()
	require.NoError(t, f.units.Insert(&models.MemoryUnit{
		ID:        id,
		AgentID:   agentID,
		FactType:  ft,
		Text:      text,
		EventDate: eventDate,
		CreatedAt: eventDate,
		Embedding: emb,
	}))
}

func TestSearchValidation(t *testing.T) {
	f := newSearchFixture(t)
	r := f.retriever()
	ctx := context.Background()

	cases := []models.SearchRequest{
		{AgentID: "", Query: "pizza", ThinkingBudget: 100},
		{AgentID: "a1", Query: "   ", ThinkingBudget: 100},
		{AgentID: "a1", Query: "pizza", FactType: "gossip", ThinkingBudget: 100},
		{AgentID: "a1", Query: "pizza", ThinkingBudget: -1},
		{AgentID: "a1", Query: "pizza", ThinkingBudget: 100, MaxTokens: -5},
	}
	for _, req := range cases {
		_, err := r.Search(ctx, req)
		assert.ErrorIs(t, err, models.ErrInvalidInput)
	}
}

func TestSearchZeroThinkingBudget(t *testing.T) {
	f := newSearchFixture(t)
	r := f.retriever()

	resp, err := r.Search(context.Background(), models.SearchRequest{
		AgentID: "a1", Query: "pizza", ThinkingBudget: 0, EnableTrace: true,
	})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	require.NotNil(t, resp.Trace)
	assert.Equal(t, "pizza", resp.Trace.Query)

	// The short-circuit happens before any model call or store read.
	assert.Zero(t, f.emb.calls)
}

func TestSearchAgentIsolation(t *testing.T) {
	f := newSearchFixture(t)
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	f.addUnit(t, "mine", "a1", models.FactWorld, "ordered pizza from luigi", []float32{1, 0, 0, 0}, base)
	f.addUnit(t, "theirs", "a2", models.FactWorld, "ordered pizza from mario", []float32{1, 0, 0, 0}, base)

	r := f.retriever()
	resp, err := r.Search(context.Background(), models.SearchRequest{
		AgentID: "a1", Query: "pizza", ThinkingBudget: 100,
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "mine", resp.Results[0].Unit.ID)
}

func TestSearchFactTypeFilter(t *testing.T) {
	f := newSearchFixture(t)
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	f.addUnit(t, "w1", "a1", models.FactWorld, "the pizza place closes at ten", []float32{1, 0, 0, 0}, base)
	f.addUnit(t, "o1", "a1", models.FactOpinion, "that pizza place is overrated", []float32{1, 0, 0, 0}, base)

	r := f.retriever()
	resp, err := r.Search(context.Background(), models.SearchRequest{
		AgentID: "a1", Query: "pizza", FactType: models.FactWorld, ThinkingBudget: 100,
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "w1", resp.Results[0].Unit.ID)
}

func TestSearchRerankerOrdersResults(t *testing.T) {
	f := newSearchFixture(t)
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	f.addUnit(t, "friday", "a1", models.FactWorld, "pizza night is on friday", []float32{1, 0, 0, 0}, base)
	f.addUnit(t, "tuesday", "a1", models.FactWorld, "had pizza last tuesday", []float32{1, 0, 0, 0}, base)

	f.rerank.scoreFor = func(doc string) float64 {
		if strings.Contains(doc, "tuesday") {
			return 2.0
		}
		return -2.0
	}

	r := f.retriever()
	resp, err := r.Search(context.Background(), models.SearchRequest{
		AgentID: "a1", Query: "pizza", ThinkingBudget: 100,
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "tuesday", resp.Results[0].Unit.ID)
	assert.Equal(t, "friday", resp.Results[1].Unit.ID)
	assert.Greater(t, resp.Results[0].Score, resp.Results[1].Score)
}

func TestSearchRerankerDegradedFallsBackToFusedOrder(t *testing.T) {
	f := newSearchFixture(t)
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	f.addUnit(t, "u1", "a1", models.FactWorld, "pizza with anchovies", []float32{1, 0, 0, 0}, base)
	f.addUnit(t, "u2", "a1", models.FactWorld, "pizza with mushrooms", []float32{0.9, 0.1, 0, 0}, base)

	f.rerank.err = fmt.Errorf("%w: service down", models.ErrRerankerDegraded)

	r := f.retriever()
	resp, err := r.Search(context.Background(), models.SearchRequest{
		AgentID: "a1", Query: "pizza", ThinkingBudget: 100, EnableTrace: true,
	})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 2)
	require.NotNil(t, resp.Trace)
	assert.Contains(t, resp.Trace.Degraded, models.PathRerankerDegraded)
}

func TestSearchTemporalPathJoinsWhenRangeParsed(t *testing.T) {
	f := newSearchFixture(t)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	f.addUnit(t, "u1", "a1", models.FactWorld, "pizza for lunch", []float32{1, 0, 0, 0}, base)

	f.parser.rng = &temporal.Range{Start: base.Add(-24 * time.Hour), End: base.Add(24 * time.Hour)}

	r := f.retriever()
	resp, err := r.Search(context.Background(), models.SearchRequest{
		AgentID: "a1", Query: "pizza yesterday", ThinkingBudget: 100, EnableTrace: true,
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Trace)
	assert.Len(t, resp.Trace.Paths, 4)
	require.NotNil(t, resp.Trace.TemporalRange)
	assert.Equal(t, f.parser.rng.Start, resp.Trace.TemporalRange.Start)
	assert.Equal(t, f.parser.rng.End, resp.Trace.TemporalRange.End)
}

func TestSearchParserDegradedDropsTemporalPath(t *testing.T) {
	f := newSearchFixture(t)
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	f.addUnit(t, "u1", "a1", models.FactWorld, "pizza for lunch", []float32{1, 0, 0, 0}, base)

	f.parser.err = fmt.Errorf("%w: model offline", models.ErrTemporalParserUnavailable)

	r := f.retriever()
	resp, err := r.Search(context.Background(), models.SearchRequest{
		AgentID: "a1", Query: "pizza yesterday", ThinkingBudget: 100, EnableTrace: true,
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	require.NotNil(t, resp.Trace)
	assert.Contains(t, resp.Trace.Degraded, models.PathParserDegraded)
	assert.Len(t, resp.Trace.Paths, 3)
	assert.Nil(t, resp.Trace.TemporalRange)
}

func TestSearchTokenBudgetTrimsResults(t *testing.T) {
	f := newSearchFixture(t)
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	f.addUnit(t, "u-a", "a1", models.FactWorld, "pizza was great", []float32{1, 0, 0, 0}, base)
	f.addUnit(t, "u-b", "a1", models.FactWorld, "pizza was cold", []float32{1, 0, 0, 0}, base)

	r := f.retriever()
	resp, err := r.Search(context.Background(), models.SearchRequest{
		AgentID: "a1", Query: "pizza", ThinkingBudget: 100, MaxTokens: 4,
	})
	require.NoError(t, err)

	// Equal rerank scores tie-break by id, so u-a fills the 4-token budget
	// and u-b would overflow it.
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "u-a", resp.Results[0].Unit.ID)
	assert.LessOrEqual(t, resp.Results[0].Tokens, 4)
}

func TestSearchResultScoreBreakdown(t *testing.T) {
	f := newSearchFixture(t)
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	f.addUnit(t, "u1", "a1", models.FactWorld, "pizza for dinner", []float32{1, 0, 0, 0}, base)

	r := f.retriever()
	resp, err := r.Search(context.Background(), models.SearchRequest{
		AgentID: "a1", Query: "pizza", ThinkingBudget: 100,
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)

	res := resp.Results[0]
	assert.InDelta(t, 1.0, res.SemanticSim, 1e-6)
	assert.InDelta(t, 1.0, res.Activation, 1e-6)
	assert.Greater(t, res.Recency, 0.0)
	assert.LessOrEqual(t, res.Recency, 1.0)
	assert.Greater(t, res.FinalWeight, 0.0)
}

func TestSearchExpiredContextCollectsAllPaths(t *testing.T) {
	f := newSearchFixture(t)
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	f.addUnit(t, "u1", "a1", models.FactWorld, "pizza for lunch", []float32{1, 0, 0, 0}, base)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// An expired deadline degrades the paths instead of failing the query:
	// every path reports in, each tagged individually.
	resp, err := f.retriever().Search(ctx, models.SearchRequest{
		AgentID: "a1", Query: "pizza", ThinkingBudget: 100, EnableTrace: true,
	})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	require.NotNil(t, resp.Trace)
	assert.Len(t, resp.Trace.Paths, 3)
	assert.Contains(t, resp.Trace.Degraded, models.PathDeadlineExceeded+":"+models.PathSemantic)
	assert.Contains(t, resp.Trace.Degraded, models.PathDeadlineExceeded+":"+models.PathKeyword)
	assert.Contains(t, resp.Trace.Degraded, models.PathDeadlineExceeded+":"+models.PathGraph)
}

func TestSearchEmptyStore(t *testing.T) {
	f := newSearchFixture(t)
	r := f.retriever()

	resp, err := r.Search(context.Background(), models.SearchRequest{
		AgentID: "a1", Query: "anything at all", ThinkingBudget: 100,
	})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
}
