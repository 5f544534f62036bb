package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/iammorganparry/hindsight/internal/embedding"
	"github.com/iammorganparry/hindsight/internal/models"
	"github.com/iammorganparry/hindsight/internal/store"
	"github.com/iammorganparry/hindsight/internal/temporal"
)

const (
	DefaultThinkingBudget = 100
	DefaultMaxTokens      = 4096
	DefaultQueryTimeout   = 10 * time.Second
)

// Retriever fans a query out over the four retrieval paths, fuses the
// rankings, reranks, and trims to the token budget.
type Retriever struct {
	units         *store.UnitStore
	embedder      embedding.Embedder
	parser        temporal.Parser
	semantic      *SemanticRetriever
	keyword       *KeywordRetriever
	graph         *GraphRetriever
	temporalGraph *TemporalGraphRetriever
	reranker      Reranker
	budget        *BudgetFilter
	weights       models.Weights
	timeout       time.Duration
	logger        *slog.Logger

	// now is swapped in tests for reproducible recency scores.
	now func() time.Time
}

func NewRetriever(
	units *store.UnitStore,
	links *store.LinkStore,
	embedder embedding.Embedder,
	parser temporal.Parser,
	reranker Reranker,
	counter TokenCounter,
	weights models.Weights,
	timeout time.Duration,
	logger *slog.Logger,
) *Retriever {
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}
	if weights.Sum() == 0 {
		weights = models.DefaultWeights()
	}
	return &Retriever{
		units:         units,
		embedder:      embedder,
		parser:        parser,
		semantic:      NewSemanticRetriever(units),
		keyword:       NewKeywordRetriever(units),
		graph:         NewGraphRetriever(units, links),
		temporalGraph: NewTemporalGraphRetriever(units, links),
		reranker:      reranker,
		budget:        NewBudgetFilter(counter),
		weights:       weights,
		timeout:       timeout,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// pathResult carries one retrieval path's output back to the collector.
type pathResult struct {
	path  string
	list  []store.ScoredID
	trace *models.PathTrace
	err   error
}

// Search runs the full retrieval pipeline. An empty result is a valid
// answer; only invalid input or embedder failure is an error.
func (r *Retriever) Search(ctx context.Context, req models.SearchRequest) (*models.SearchResponse, error) {
	if req.AgentID == "" || strings.TrimSpace(req.Query) == "" {
		return nil, fmt.Errorf("%w: agent id and query are required", models.ErrInvalidInput)
	}
	if !models.ValidFactType(req.FactType) {
		return nil, fmt.Errorf("%w: unknown fact type %q", models.ErrInvalidInput, req.FactType)
	}
	if req.ThinkingBudget < 0 || req.MaxTokens < 0 {
		return nil, fmt.Errorf("%w: negative budget", models.ErrInvalidInput)
	}

	// A zero budget short-circuits before any store read. The API layer
	// fills in the default for requests that omit the field.
	if req.ThinkingBudget == 0 {
		resp := &models.SearchResponse{}
		if req.EnableTrace {
			resp.Trace = &models.SearchTrace{Query: req.Query, Stages: map[string]time.Duration{}}
		}
		return resp, nil
	}
	budget := req.ThinkingBudget
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = DefaultMaxTokens
	}

	weights := r.weights
	if req.Weights != nil {
		weights = *req.Weights
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	started := r.now()
	stages := make(map[string]time.Duration)
	var degraded []string

	queryVec, rng, parseDegraded, err := r.prepare(ctx, req.Query)
	if err != nil {
		return nil, err
	}
	degraded = append(degraded, parseDegraded...)
	stages["prepare"] = r.now().Sub(started)

	lists, pathTraces, pathDegraded := r.fanOut(ctx, req, queryVec, rng, budget)
	degraded = append(degraded, pathDegraded...)
	fanOutDone := r.now()
	stages["retrieve"] = fanOutDone.Sub(started) - stages["prepare"]

	fused := FuseRRF(lists...)
	if len(fused) > budget {
		fused = fused[:budget]
	}

	units := make([]*models.MemoryUnit, 0, len(fused))
	fusedScore := make(map[string]float64, len(fused))
	for _, f := range fused {
		u, err := r.units.Get(f.ID)
		if err != nil {
			// A unit deleted between fan-out and load is not an error.
			r.logger.Debug("fused candidate vanished", "unit", f.ID)
			continue
		}
		units = append(units, u)
		fusedScore[f.ID] = f.Score
	}

	scored, err := rerankCandidates(ctx, r.reranker, req.Query, units)
	if err != nil {
		// Reranker loss is graceful: fused order passes through.
		degraded = append(degraded, models.PathRerankerDegraded)
		r.logger.Warn("reranker degraded, using fused order", "error", err)
		scored = make([]scoredUnit, len(units))
		for i, u := range units {
			scored[i] = scoredUnit{unit: u, score: fusedScore[u.ID]}
		}
	}
	stages["rerank"] = r.now().Sub(fanOutDone)

	admitted, tokens := r.budget.Apply(scored, maxTokens)

	activation := collectScores(lists, pathTraces)
	results := make([]models.SearchResult, len(admitted))
	ids := make([]string, len(admitted))
	now := r.now()
	for i, c := range admitted {
		sem := activation.semantic[c.unit.ID]
		act := activation.graph[c.unit.ID]
		rec := recencyScore(c.unit.EventDate, now)
		freq := frequencyScore(c.unit.AccessCount)
		results[i] = models.SearchResult{
			Unit:        *c.unit,
			Score:       c.score,
			Activation:  act,
			SemanticSim: sem,
			Recency:     rec,
			Frequency:   freq,
			FinalWeight: finalWeight(weights, act, sem, rec, freq),
			Tokens:      tokens[i],
		}
		ids[i] = c.unit.ID
	}

	// Best-effort and async: lost increments are acceptable.
	go func() {
		if err := r.units.IncrementAccess(ids); err != nil {
			r.logger.Debug("access increment dropped", "error", err)
		}
	}()

	stages["total"] = r.now().Sub(started)
	resp := &models.SearchResponse{Results: results}
	if req.EnableTrace {
		trace := &models.SearchTrace{
			Query:    req.Query,
			Paths:    pathTraces,
			Degraded: degraded,
			Stages:   stages,
		}
		if rng != nil {
			trace.TemporalRange = &models.TraceRange{Start: rng.Start, End: rng.End}
		}
		resp.Trace = trace
	}

	r.logger.Info("search complete", "agent", req.AgentID,
		"results", len(results), "candidates", len(fused),
		"degraded", strings.Join(degraded, ","), "duration", stages["total"])
	return resp, nil
}

// prepare computes the query embedding and temporal range concurrently.
// Embedder failure is fatal to the query; parser failure only drops the
// temporal path.
func (r *Retriever) prepare(ctx context.Context, query string) ([]float32, *temporal.Range, []string, error) {
	var (
		wg       sync.WaitGroup
		queryVec []float32
		embedErr error
		rng      *temporal.Range
		parseErr error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		queryVec, embedErr = r.embedder.Embed(ctx, query)
	}()
	go func() {
		defer wg.Done()
		rng, parseErr = r.parser.ParseTime(ctx, query, r.now())
	}()
	wg.Wait()

	if embedErr != nil {
		return nil, nil, nil, fmt.Errorf("embed query: %w", embedErr)
	}

	var degraded []string
	if parseErr != nil {
		degraded = append(degraded, models.PathParserDegraded)
		r.logger.Warn("temporal parser degraded", "error", parseErr)
		rng = nil
	}
	return queryVec, rng, degraded, nil
}

// fanOut launches the retrieval paths in parallel and collects their lists.
// A path that misses the deadline contributes what it has: nothing.
func (r *Retriever) fanOut(ctx context.Context, req models.SearchRequest, queryVec []float32, rng *temporal.Range, budget int) ([][]store.ScoredID, []models.PathTrace, []string) {
	paths := 3
	if rng != nil {
		paths = 4
	}
	ch := make(chan pathResult, paths)

	runPath := func(name string, fn func(trace *models.PathTrace) ([]store.ScoredID, error)) {
		go func() {
			start := time.Now()
			trace := &models.PathTrace{Path: name}
			list, err := fn(trace)
			trace.Returned = len(list)
			trace.Duration = time.Since(start)
			ch <- pathResult{path: name, list: list, trace: trace, err: err}
		}()
	}

	runPath(models.PathSemantic, func(trace *models.PathTrace) ([]store.ScoredID, error) {
		list, err := r.semantic.Query(ctx, req.AgentID, req.FactType, queryVec, budget)
		for _, e := range list {
			trace.EntryPoints = append(trace.EntryPoints, models.EntryPoint{UnitID: e.ID, Similarity: e.Score})
		}
		return list, err
	})
	runPath(models.PathKeyword, func(_ *models.PathTrace) ([]store.ScoredID, error) {
		return r.keyword.Query(ctx, req.AgentID, req.FactType, req.Query, budget)
	})
	runPath(models.PathGraph, func(trace *models.PathTrace) ([]store.ScoredID, error) {
		return r.graph.Query(ctx, req.AgentID, req.FactType, queryVec, budget, trace)
	})
	if rng != nil {
		runPath(models.PathTemporalGraph, func(trace *models.PathTrace) ([]store.ScoredID, error) {
			return r.temporalGraph.Query(ctx, req.AgentID, req.FactType, queryVec, *rng, budget, trace)
		})
	}

	// Every path observes ctx and terminates promptly after the deadline, so
	// the collector can wait for all of them: a path that ran out of time
	// still contributes the partial ranking it accumulated.
	var (
		lists    [][]store.ScoredID
		traces   []models.PathTrace
		degraded []string
	)
	for i := 0; i < paths; i++ {
		res := <-ch
		switch {
		case res.err == nil:
			lists = append(lists, res.list)
		case errors.Is(res.err, context.DeadlineExceeded) || errors.Is(res.err, context.Canceled):
			degraded = append(degraded, models.PathDeadlineExceeded+":"+res.path)
			r.logger.Warn("retrieval path hit deadline", "path", res.path, "partial", len(res.list))
			lists = append(lists, res.list)
		default:
			degraded = append(degraded, res.path)
			r.logger.Warn("retrieval path degraded", "path", res.path, "error", res.err)
			lists = append(lists, nil)
		}
		traces = append(traces, *res.trace)
	}
	return lists, traces, degraded
}

// pathScores indexes the per-path scores so results carry their scoring
// breakdown.
type pathScores struct {
	semantic map[string]float64
	graph    map[string]float64
}

func collectScores(lists [][]store.ScoredID, traces []models.PathTrace) pathScores {
	ps := pathScores{
		semantic: make(map[string]float64),
		graph:    make(map[string]float64),
	}
	for i, trace := range traces {
		if i >= len(lists) {
			break
		}
		for _, item := range lists[i] {
			switch trace.Path {
			case models.PathSemantic:
				if item.Score > ps.semantic[item.ID] {
					ps.semantic[item.ID] = item.Score
				}
			case models.PathGraph, models.PathTemporalGraph:
				if item.Score > ps.graph[item.ID] {
					ps.graph[item.ID] = item.Score
				}
			}
		}
	}
	return ps
}
