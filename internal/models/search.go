package models

import "time"

// Weights are the linear-combination coefficients for the final ranking
// weight. They must sum to 1.
type Weights struct {
	Activation float64 `json:"activation"`
	Semantic   float64 `json:"semantic"`
	Recency    float64 `json:"recency"`
	Frequency  float64 `json:"frequency"`
}

// DefaultWeights returns the standard scoring mix.
func DefaultWeights() Weights {
	return Weights{Activation: 0.30, Semantic: 0.30, Recency: 0.25, Frequency: 0.15}
}

// Sum returns the total of all four coefficients.
func (w Weights) Sum() float64 {
	return w.Activation + w.Semantic + w.Recency + w.Frequency
}

// SearchRequest is the top-level retrieval input.
type SearchRequest struct {
	AgentID        string   `json:"agentId"`
	Query          string   `json:"query"`
	FactType       FactType `json:"factType,omitempty"`
	ThinkingBudget int      `json:"thinkingBudget,omitempty"` // 0 = empty result; API default 100
	MaxTokens      int      `json:"maxTokens,omitempty"`      // 0 = default 4096
	EnableTrace    bool     `json:"enableTrace,omitempty"`
	Weights        *Weights `json:"weights,omitempty"` // nil = defaults
}

// SearchResult is one returned unit with its scoring breakdown.
type SearchResult struct {
	Unit        MemoryUnit `json:"unit"`
	Score       float64    `json:"score"` // reranker (or RRF fallback) score
	Activation  float64    `json:"activation"`
	SemanticSim float64    `json:"semanticSim"`
	Recency     float64    `json:"recency"`
	Frequency   float64    `json:"frequency"`
	FinalWeight float64    `json:"finalWeight"`
	Tokens      int        `json:"tokens"`
}

// SearchResponse bundles results with the optional trace.
type SearchResponse struct {
	Results []SearchResult `json:"results"`
	Trace   *SearchTrace   `json:"trace,omitempty"`
}

// Retrieval path names, used in traces and degradation tags.
const (
	PathSemantic      = "semantic"
	PathKeyword       = "keyword"
	PathGraph         = "graph"
	PathTemporalGraph = "temporal_graph"
)

// Degradation tags surfaced in the trace when a stage falls back.
const (
	PathRerankerDegraded = "reranker-degraded"
	PathParserDegraded   = "temporal-parser-degraded"
	PathDeadlineExceeded = "deadline-exceeded"
)

// Pruning reasons recorded during graph traversal.
const (
	PruneVisited         = "already-visited"
	PruneActivationFloor = "below-activation-floor"
	PruneBudget          = "budget-exhausted"
	PruneLinkWeight      = "link-weight-below-threshold"
	PruneOutOfRange      = "outside-date-range"
	PruneLowSimilarity   = "below-similarity-floor"
)

// EntryPoint records a traversal seed and its similarity.
type EntryPoint struct {
	UnitID     string  `json:"unitId"`
	Similarity float64 `json:"similarity"`
}

// NodeVisit records one node expansion during spreading activation.
type NodeVisit struct {
	NodeID      string   `json:"nodeId"`
	Step        int      `json:"step"`
	ParentID    string   `json:"parentId,omitempty"`
	LinkType    LinkType `json:"linkType,omitempty"`
	LinkWeight  float64  `json:"linkWeight,omitempty"`
	Activation  float64  `json:"activation"`
	SemanticSim float64  `json:"semanticSim,omitempty"`
}

// PruneRecord explains why a frontier node was not expanded.
type PruneRecord struct {
	NodeID string `json:"nodeId"`
	Reason string `json:"reason"`
}

// PathTrace is the per-retrieval-path slice of the trace.
type PathTrace struct {
	Path        string        `json:"path"`
	EntryPoints []EntryPoint  `json:"entryPoints,omitempty"`
	Visits      []NodeVisit   `json:"visits,omitempty"`
	Prunes      []PruneRecord `json:"prunes,omitempty"`
	Returned    int           `json:"returned"`
	Duration    time.Duration `json:"durationNs"`
}

// SearchTrace is the full retrieval diagnostic, returned when requested.
type SearchTrace struct {
	Query         string                   `json:"query"`
	TemporalRange *TraceRange              `json:"temporalRange,omitempty"`
	Paths         []PathTrace              `json:"paths"`
	Degraded      []string                 `json:"degraded,omitempty"` // e.g. RerankerDegraded, DeadlineExceeded:semantic
	Stages        map[string]time.Duration `json:"stageDurationsNs"`
}

// TraceRange echoes the parsed temporal constraint.
type TraceRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// IngestResult summarizes one ingest call. Failures are per-fact; sibling
// facts still commit.
type IngestResult struct {
	UnitIDs  []string `json:"unitIds"`
	Skipped  []string `json:"skipped,omitempty"` // existing ids hit by the dedupe probe
	Failed   int      `json:"failed,omitempty"`
	Replaced int      `json:"replaced,omitempty"` // prior units removed by document upsert
}
