package linker

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/iammorganparry/hindsight/internal/models"
	"github.com/iammorganparry/hindsight/internal/store"
)

const (
	// DefaultWindow is the temporal link window W.
	DefaultWindow = 24 * time.Hour
	// DefaultSemanticK and DefaultSemanticMinSim bound the semantic link KNN.
	DefaultSemanticK      = 20
	DefaultSemanticMinSim = 0.7

	temporalFloor = 0.3
	// temporalCap bounds fan-out: only the nearest units in time get a link.
	temporalCap = 10
)

// Config tunes link construction thresholds.
type Config struct {
	Window         time.Duration
	SemanticK      int
	SemanticMinSim float64
}

func DefaultConfig() Config {
	return Config{
		Window:         DefaultWindow,
		SemanticK:      DefaultSemanticK,
		SemanticMinSim: DefaultSemanticMinSim,
	}
}

// Builder creates temporal, semantic and entity links after a unit is
// inserted. The three classes are independent; all run against the same
// store snapshot.
type Builder struct {
	units    *store.UnitStore
	entities *store.EntityStore
	links    *store.LinkStore
	cfg      Config
	logger   *slog.Logger
}

func NewBuilder(units *store.UnitStore, entities *store.EntityStore, links *store.LinkStore, cfg Config, logger *slog.Logger) *Builder {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.SemanticK <= 0 {
		cfg.SemanticK = DefaultSemanticK
	}
	if cfg.SemanticMinSim <= 0 {
		cfg.SemanticMinSim = DefaultSemanticMinSim
	}
	return &Builder{units: units, entities: entities, links: links, cfg: cfg, logger: logger}
}

// BuildAll creates all three link classes for a freshly inserted unit.
// entityIDs are the unit's resolved entities. Failures here never roll back
// the unit; the caller logs and the repair pass retries.
func (b *Builder) BuildAll(u *models.MemoryUnit, entityIDs []string) error {
	var links []models.Link

	temporal, err := b.temporalLinks(u)
	if err != nil {
		return fmt.Errorf("temporal links: %w", err)
	}
	links = append(links, temporal...)

	semantic, err := b.semanticLinks(u)
	if err != nil {
		return fmt.Errorf("semantic links: %w", err)
	}
	links = append(links, semantic...)

	entity, err := b.entityLinks(u, entityIDs)
	if err != nil {
		return fmt.Errorf("entity links: %w", err)
	}
	links = append(links, entity...)

	if err := b.links.UpsertBatch(links); err != nil {
		return fmt.Errorf("upsert links: %w", err)
	}
	b.logger.Debug("links built", "unit", u.ID,
		"temporal", len(temporal), "semantic", len(semantic), "entity", len(entity))
	return nil
}

// temporalLinks connects u to units with event dates inside ±Window,
// weighted by closeness with a 0.3 floor. Fan-out is capped to the nearest
// neighbors in time.
func (b *Builder) temporalLinks(u *models.MemoryUnit) ([]models.Link, error) {
	window := b.cfg.Window
	neighbors, err := b.units.UnitsInRange(u.AgentID, "", u.EventDate.Add(-window), u.EventDate.Add(window))
	if err != nil {
		return nil, err
	}

	type candidate struct {
		id    string
		delta time.Duration
	}
	var cands []candidate
	for _, v := range neighbors {
		if v.ID == u.ID {
			continue
		}
		delta := u.EventDate.Sub(v.EventDate)
		if delta < 0 {
			delta = -delta
		}
		cands = append(cands, candidate{id: v.ID, delta: delta})
	}

	sort.Slice(cands, func(i, j int) bool {
		if cands[i].delta != cands[j].delta {
			return cands[i].delta < cands[j].delta
		}
		return cands[i].id < cands[j].id
	})
	if len(cands) > temporalCap {
		cands = cands[:temporalCap]
	}

	links := make([]models.Link, 0, len(cands))
	for _, c := range cands {
		weight := 1 - float64(c.delta)/float64(window)
		if weight < temporalFloor {
			weight = temporalFloor
		}
		links = append(links, models.Link{
			FromID: u.ID,
			ToID:   c.id,
			Type:   models.LinkTemporal,
			Weight: weight,
			Meta:   models.LinkMeta{TimeDeltaSeconds: c.delta.Seconds()},
		})
	}
	return links, nil
}

// semanticLinks connects u to its nearest neighbors in embedding space
// above the similarity threshold.
func (b *Builder) semanticLinks(u *models.MemoryUnit) ([]models.Link, error) {
	matches, err := b.units.VectorKNN(u.AgentID, "", u.Embedding, b.cfg.SemanticK, b.cfg.SemanticMinSim)
	if err != nil {
		return nil, err
	}

	links := make([]models.Link, 0, len(matches))
	for _, m := range matches {
		if m.ID == u.ID {
			continue
		}
		links = append(links, models.Link{
			FromID: u.ID,
			ToID:   m.ID,
			Type:   models.LinkSemantic,
			Weight: m.Score,
			Meta:   models.LinkMeta{Similarity: m.Score},
		})
	}
	return links, nil
}

// entityLinks connects u to every prior unit sharing one of its entities,
// at full weight. This keeps the per-entity subgraph complete.
func (b *Builder) entityLinks(u *models.MemoryUnit, entityIDs []string) ([]models.Link, error) {
	seen := make(map[string]bool)
	var links []models.Link
	for _, entityID := range entityIDs {
		unitIDs, err := b.entities.UnitsForEntity(entityID)
		if err != nil {
			return nil, err
		}
		for _, v := range unitIDs {
			if v == u.ID || seen[v] {
				continue
			}
			seen[v] = true
			links = append(links, models.Link{
				FromID: u.ID,
				ToID:   v,
				Type:   models.LinkEntity,
				Weight: 1.0,
				Meta:   models.LinkMeta{EntityID: entityID},
			})
		}
	}
	return links, nil
}

// Repair completes linking for units that were inserted but never linked,
// e.g. after a crash between insertion and link building. Returns how many
// units were repaired.
func (b *Builder) Repair(ctx context.Context, agentID string, limit int) (int, error) {
	ids, err := b.units.UnlinkedUnits(agentID, limit)
	if err != nil {
		return 0, err
	}

	repaired := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return repaired, err
		}
		u, err := b.units.Get(id)
		if err != nil {
			b.logger.Warn("repair: unit vanished", "unit", id, "error", err)
			continue
		}
		entityIDs, err := b.entities.MentionedEntities(id)
		if err != nil {
			return repaired, err
		}
		if err := b.BuildAll(u, entityIDs); err != nil {
			b.logger.Warn("repair: link build failed", "unit", id, "error", err)
			continue
		}
		repaired++
	}
	return repaired, nil
}
