package models

import "errors"

// Error kinds surfaced by the engine. Callers match with errors.Is; wrapped
// messages carry the operation context.
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("conflict")

	// External collaborator failures.
	ErrEmbeddingUnavailable      = errors.New("embedding unavailable")
	ErrRerankerDegraded          = errors.New("reranker degraded")
	ErrExtractorUnavailable      = errors.New("extractor unavailable")
	ErrTemporalParserUnavailable = errors.New("temporal parser unavailable")

	ErrStoreUnavailable = errors.New("store unavailable")
	ErrDeadlineExceeded = errors.New("deadline exceeded")
)
