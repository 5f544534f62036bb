package entity

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/agnivade/levenshtein"
	"github.com/google/uuid"

	"github.com/iammorganparry/hindsight/internal/models"
	"github.com/iammorganparry/hindsight/internal/store"
)

const (
	weightName     = 0.5
	weightCooccur  = 0.3
	weightTemporal = 0.2

	// Acceptance threshold, relaxed for an exact person-name match.
	thresholdDefault     = 0.6
	thresholdExactPerson = 0.4

	// Top-two scores this close are ambiguous; earlier first_seen wins.
	ambiguityMargin = 0.02

	temporalHorizon = 180 * 24 * time.Hour
)

// Mention is one entity occurrence awaiting resolution. CoMentioned holds
// the entity ids already resolved from the same fact; resolution is
// sequential within a fact so later mentions see earlier siblings.
type Mention struct {
	Surface     string
	Type        models.EntityType
	EventDate   time.Time
	CoMentioned []string
}

// Resolver maps mentions to canonical entities with a deterministic
// per-agent scoring policy.
type Resolver struct {
	entities *store.EntityStore
	logger   *slog.Logger
}

func NewResolver(entities *store.EntityStore, logger *slog.Logger) *Resolver {
	return &Resolver{entities: entities, logger: logger}
}

// Resolve returns the entity id for a mention, allocating a new entity when
// no candidate scores above threshold. The second return reports whether the
// entity was created.
func (r *Resolver) Resolve(agentID string, m Mention) (string, bool, error) {
	surface := strings.TrimSpace(m.Surface)
	if surface == "" {
		return "", false, fmt.Errorf("%w: empty mention surface", models.ErrInvalidInput)
	}

	candidates, err := r.entities.Candidates(agentID, m.Type)
	if err != nil {
		return "", false, err
	}

	best, bestScore, bestNameSim, err := r.pickCandidate(surface, m, candidates)
	if err != nil {
		return "", false, err
	}

	if best != nil {
		threshold := thresholdDefault
		if m.Type == models.EntityPerson && bestNameSim == 1.0 {
			threshold = thresholdExactPerson
		}
		if bestScore >= threshold {
			if err := r.entities.Touch(best.ID, surface, m.EventDate); err != nil {
				return "", false, err
			}
			r.logger.Debug("entity resolved", "surface", surface, "entity", best.ID, "score", bestScore)
			return best.ID, false, nil
		}
	}

	e := &models.Entity{
		ID:            uuid.New().String(),
		AgentID:       agentID,
		Type:          m.Type,
		CanonicalName: surface,
		Aliases:       []string{surface},
		FirstSeen:     m.EventDate,
		LastSeen:      m.EventDate,
	}
	if err := r.entities.Insert(e); err != nil {
		return "", false, err
	}
	r.logger.Debug("entity created", "surface", surface, "entity", e.ID, "type", m.Type)
	return e.ID, true, nil
}

// pickCandidate scores every candidate sharing a token with the surface and
// returns the winner with its combined score and name similarity.
func (r *Resolver) pickCandidate(surface string, m Mention, candidates []*models.Entity) (*models.Entity, float64, float64, error) {
	surfaceTokens := tokenize(surface)
	if len(surfaceTokens) == 0 {
		return nil, 0, 0, nil
	}

	type scored struct {
		entity  *models.Entity
		score   float64
		nameSim float64
	}
	var pool []scored

	for _, c := range candidates {
		if !sharesToken(surfaceTokens, c) {
			continue
		}

		nameSim := bestNameSimilarity(surface, c)
		cooccur, err := r.cooccurrence(c.ID, m.CoMentioned)
		if err != nil {
			return nil, 0, 0, err
		}
		temporal := temporalProximity(m.EventDate, c.LastSeen)

		s := weightName*nameSim + weightCooccur*cooccur + weightTemporal*temporal
		pool = append(pool, scored{entity: c, score: s, nameSim: nameSim})
	}

	if len(pool) == 0 {
		return nil, 0, 0, nil
	}

	sort.Slice(pool, func(i, j int) bool {
		if pool[i].score != pool[j].score {
			return pool[i].score > pool[j].score
		}
		if !pool[i].entity.FirstSeen.Equal(pool[j].entity.FirstSeen) {
			return pool[i].entity.FirstSeen.Before(pool[j].entity.FirstSeen)
		}
		return pool[i].entity.ID < pool[j].entity.ID
	})

	// Only the two top scorers can be ambiguous; when they sit within the
	// margin the earlier first_seen wins.
	best := pool[0]
	if len(pool) > 1 {
		second := pool[1]
		if best.score-second.score <= ambiguityMargin && second.entity.FirstSeen.Before(best.entity.FirstSeen) {
			best = second
		}
	}
	return best.entity, best.score, best.nameSim, nil
}

// cooccurrence returns the fraction of co-mentioned entities that have
// appeared alongside the candidate before.
func (r *Resolver) cooccurrence(candidateID string, coMentioned []string) (float64, error) {
	if len(coMentioned) == 0 {
		return 0, nil
	}
	hits := 0
	for _, coID := range coMentioned {
		n, err := r.entities.CooccurrenceCount(candidateID, coID)
		if err != nil {
			return 0, err
		}
		if n > 0 {
			hits++
		}
	}
	return float64(hits) / float64(len(coMentioned)), nil
}

// bestNameSimilarity takes the max edit similarity between the surface and
// the candidate's canonical name plus aliases.
func bestNameSimilarity(surface string, c *models.Entity) float64 {
	best := editSimilarity(surface, c.CanonicalName)
	for _, alias := range c.Aliases {
		if sim := editSimilarity(surface, alias); sim > best {
			best = sim
		}
	}
	return best
}

// editSimilarity is 1 - normalized Levenshtein distance over normalized
// strings.
func editSimilarity(a, b string) float64 {
	na, nb := normalize(a), normalize(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}
	dist := levenshtein.ComputeDistance(na, nb)
	max := len([]rune(na))
	if l := len([]rune(nb)); l > max {
		max = l
	}
	return 1 - float64(dist)/float64(max)
}

func temporalProximity(eventDate, lastSeen time.Time) float64 {
	delta := eventDate.Sub(lastSeen)
	if delta < 0 {
		delta = -delta
	}
	frac := float64(delta) / float64(temporalHorizon)
	if frac > 1 {
		frac = 1
	}
	return 1 - frac
}

func sharesToken(surfaceTokens map[string]bool, c *models.Entity) bool {
	for _, name := range append([]string{c.CanonicalName}, c.Aliases...) {
		for token := range tokenize(name) {
			if surfaceTokens[token] {
				return true
			}
		}
	}
	return false
}

// tokenize lowercases and splits on anything that is not a letter or digit.
func tokenize(s string) map[string]bool {
	tokens := make(map[string]bool)
	for _, t := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		tokens[t] = true
	}
	return tokens
}

func normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' {
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
