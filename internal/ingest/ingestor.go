package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iammorganparry/hindsight/internal/embedding"
	"github.com/iammorganparry/hindsight/internal/entity"
	"github.com/iammorganparry/hindsight/internal/extraction"
	"github.com/iammorganparry/hindsight/internal/linker"
	"github.com/iammorganparry/hindsight/internal/models"
	"github.com/iammorganparry/hindsight/internal/store"
)

// dedupeMinSim is the near-duplicate cosine threshold for the ingest probe.
const dedupeMinSim = 0.95

// Ingestor orchestrates the write path: extract, embed, dedupe, resolve,
// insert, link. Failures are per-fact; one bad fact never aborts its
// siblings.
type Ingestor struct {
	units     *store.UnitStore
	entities  *store.EntityStore
	resolver  *entity.Resolver
	linker    *linker.Builder
	extractor extraction.Extractor
	embedder  embedding.Embedder
	logger    *slog.Logger
}

func NewIngestor(
	units *store.UnitStore,
	entities *store.EntityStore,
	resolver *entity.Resolver,
	lb *linker.Builder,
	extractor extraction.Extractor,
	embedder embedding.Embedder,
	logger *slog.Logger,
) *Ingestor {
	return &Ingestor{
		units:     units,
		entities:  entities,
		resolver:  resolver,
		linker:    lb,
		extractor: extractor,
		embedder:  embedder,
		logger:    logger,
	}
}

// Ingest extracts facts from content and stores each as a memory unit.
// A non-empty documentID gives upsert semantics: prior units of that
// document are removed first, links and mentions cascading with them.
func (i *Ingestor) Ingest(ctx context.Context, agentID, content string, eventDate time.Time, documentID string) (*models.IngestResult, error) {
	if agentID == "" || strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%w: agent id and content are required", models.ErrInvalidInput)
	}
	if eventDate.IsZero() {
		eventDate = time.Now().UTC()
	}

	facts, err := i.extractor.Extract(ctx, content)
	if err != nil {
		return nil, fmt.Errorf("extract facts: %w", err)
	}

	result := &models.IngestResult{}

	if documentID != "" {
		replaced, err := i.units.DeleteDocument(agentID, documentID)
		if err != nil {
			return nil, fmt.Errorf("replace document %s: %w", documentID, err)
		}
		result.Replaced = replaced
	}

	for _, fact := range facts {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("%w: %w", models.ErrDeadlineExceeded, err)
		}
		if err := i.ingestFact(ctx, agentID, documentID, eventDate, fact, result); err != nil {
			result.Failed++
			i.logger.Warn("fact ingest failed", "agent", agentID, "error", err)
		}
	}

	i.logger.Info("ingest complete", "agent", agentID,
		"inserted", len(result.UnitIDs), "skipped", len(result.Skipped),
		"failed", result.Failed, "replaced", result.Replaced)
	return result, nil
}

func (i *Ingestor) ingestFact(ctx context.Context, agentID, documentID string, eventDate time.Time, fact extraction.Fact, result *models.IngestResult) error {
	vec, err := i.embedder.Embed(ctx, embedding.AugmentDate(fact.Text, eventDate))
	if err != nil {
		return fmt.Errorf("embed fact: %w", err)
	}

	// Dedupe probe: a near-identical embedding or an exact text hash means
	// this fact is already stored. Skip silently, surfacing the existing id.
	if existing, err := i.dedupeProbe(agentID, fact, vec); err != nil {
		return err
	} else if existing != "" {
		result.Skipped = append(result.Skipped, existing)
		return nil
	}

	// Sequential resolution within a fact: later mentions see the entity ids
	// of earlier siblings as co-occurrence evidence.
	var entityIDs []string
	for _, m := range fact.Mentions {
		id, _, err := i.resolver.Resolve(agentID, entity.Mention{
			Surface:     m.Surface,
			Type:        m.Type,
			EventDate:   eventDate,
			CoMentioned: entityIDs,
		})
		if err != nil {
			return fmt.Errorf("resolve mention %q: %w", m.Surface, err)
		}
		entityIDs = append(entityIDs, id)
	}

	u := &models.MemoryUnit{
		ID:         uuid.New().String(),
		AgentID:    agentID,
		FactType:   fact.FactType,
		Text:       fact.Text,
		DocumentID: documentID,
		EventDate:  eventDate,
		CreatedAt:  time.Now().UTC(),
		Embedding:  vec,
	}
	if err := i.units.Insert(u); err != nil {
		return fmt.Errorf("insert unit: %w", err)
	}

	for _, entityID := range entityIDs {
		if err := i.entities.AddMention(u.ID, entityID); err != nil {
			return fmt.Errorf("record mention: %w", err)
		}
	}

	// Link failures never roll back the unit; the repair pass retries them.
	if err := i.linker.BuildAll(u, entityIDs); err != nil {
		i.logger.Warn("link build failed, unit kept for repair", "unit", u.ID, "error", err)
	}

	result.UnitIDs = append(result.UnitIDs, u.ID)
	return nil
}

// dedupeProbe returns the id of an existing near-duplicate, or empty.
func (i *Ingestor) dedupeProbe(agentID string, fact extraction.Fact, vec []float32) (string, error) {
	matches, err := i.units.VectorKNN(agentID, fact.FactType, vec, 1, dedupeMinSim)
	if err != nil {
		return "", fmt.Errorf("dedupe knn: %w", err)
	}
	if len(matches) > 0 {
		return matches[0].ID, nil
	}

	existing, err := i.units.FindByTextHash(agentID, embedding.ContentHash(fact.Text))
	if err != nil {
		return "", fmt.Errorf("dedupe hash: %w", err)
	}
	return existing, nil
}
