package extraction

import (
	"context"

	"github.com/iammorganparry/hindsight/internal/models"
)

// Mention is a named identity occurring in an extracted fact.
type Mention struct {
	Surface string            `json:"surface"`
	Type    models.EntityType `json:"type"`
}

// Fact is one self-contained narrative fact produced by the extractor.
// Text must stand alone: coreferences resolved, participants named.
type Fact struct {
	Text     string          `json:"text"`
	FactType models.FactType `json:"factType"`
	Mentions []Mention       `json:"mentions"`
}

// Extractor turns raw content into narrative facts with entity mentions.
// Implementations are model-bound and may be slow; callers pass a context.
type Extractor interface {
	Extract(ctx context.Context, content string) ([]Fact, error)
}

// MaxContentLength caps extractor input. Longer content is truncated, not
// rejected.
const MaxContentLength = 16000
