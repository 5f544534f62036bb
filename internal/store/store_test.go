package store

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iammorganparry/hindsight/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:", 4, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testUnit(agentID, text string, emb []float32, eventDate time.Time) *models.MemoryUnit {
	return &models.MemoryUnit{
		ID:        uuid.New().String(),
		AgentID:   agentID,
		FactType:  models.FactWorld,
		Text:      text,
		EventDate: eventDate,
		CreatedAt: time.Now().UTC(),
		Embedding: emb,
	}
}

func TestInsertAndGet(t *testing.T) {
	db := openTestDB(t)
	units := NewUnitStore(db)

	eventDate := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	u := testUnit("a1", "Alice works at Google.", []float32{1, 0, 0, 0}, eventDate)
	u.Context = "onboarding chat"
	require.NoError(t, units.Insert(u))

	got, err := units.Get(u.ID)
	require.NoError(t, err)
	assert.Equal(t, u.Text, got.Text)
	assert.Equal(t, "a1", got.AgentID)
	assert.Equal(t, models.FactWorld, got.FactType)
	assert.Equal(t, "onboarding chat", got.Context)
	assert.True(t, got.EventDate.Equal(eventDate))
	assert.NotEmpty(t, got.TextHash)
	assert.Len(t, got.Embedding, 4)
}

func TestGetMissing(t *testing.T) {
	db := openTestDB(t)
	units := NewUnitStore(db)

	_, err := units.Get("nope")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestInsertDuplicateID(t *testing.T) {
	db := openTestDB(t)
	units := NewUnitStore(db)

	u := testUnit("a1", "first", []float32{1, 0, 0, 0}, time.Now().UTC())
	require.NoError(t, units.Insert(u))

	dup := testUnit("a1", "second", []float32{0, 1, 0, 0}, time.Now().UTC())
	dup.ID = u.ID
	assert.ErrorIs(t, units.Insert(dup), models.ErrConflict)
}

func TestInsertDimensionMismatch(t *testing.T) {
	db := openTestDB(t)
	units := NewUnitStore(db)

	u := testUnit("a1", "bad", []float32{1, 0}, time.Now().UTC())
	assert.ErrorIs(t, units.Insert(u), models.ErrInvalidInput)
}

func TestVectorKNN(t *testing.T) {
	db := openTestDB(t)
	units := NewUnitStore(db)
	now := time.Now().UTC()

	exact := testUnit("a1", "exact match", []float32{1, 0, 0, 0}, now)
	near := testUnit("a1", "close match", []float32{0.9, 0.1, 0, 0}, now)
	far := testUnit("a1", "far away", []float32{0, 0, 1, 0}, now)
	other := testUnit("a2", "other agent", []float32{1, 0, 0, 0}, now)
	require.NoError(t, units.Insert(exact))
	require.NoError(t, units.Insert(near))
	require.NoError(t, units.Insert(far))
	require.NoError(t, units.Insert(other))

	results, err := units.VectorKNN("a1", "", []float32{1, 0, 0, 0}, 10, 0.5)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, exact.ID, results[0].ID)
	assert.Equal(t, near.ID, results[1].ID)
	assert.Greater(t, results[0].Score, results[1].Score)

	// No cross-agent leakage.
	for _, r := range results {
		assert.NotEqual(t, other.ID, r.ID)
	}
}

func TestVectorKNNFactTypeFilter(t *testing.T) {
	db := openTestDB(t)
	units := NewUnitStore(db)
	now := time.Now().UTC()

	world := testUnit("a1", "a world fact", []float32{1, 0, 0, 0}, now)
	opinion := testUnit("a1", "an opinion", []float32{1, 0, 0, 0}, now)
	opinion.FactType = models.FactOpinion
	require.NoError(t, units.Insert(world))
	require.NoError(t, units.Insert(opinion))

	results, err := units.VectorKNN("a1", models.FactOpinion, []float32{1, 0, 0, 0}, 10, 0.5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, opinion.ID, results[0].ID)
}

func TestVectorKNNZeroK(t *testing.T) {
	db := openTestDB(t)
	units := NewUnitStore(db)

	results, err := units.VectorKNN("a1", "", []float32{1, 0, 0, 0}, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestKeywordSearch(t *testing.T) {
	db := openTestDB(t)
	units := NewUnitStore(db)
	now := time.Now().UTC()

	hiking := testUnit("a1", "Alice loves hiking in Yosemite.", []float32{1, 0, 0, 0}, now)
	google := testUnit("a1", "Alice works at Google.", []float32{0, 1, 0, 0}, now)
	other := testUnit("a2", "Alice from another agent.", []float32{0, 0, 1, 0}, now)
	require.NoError(t, units.Insert(hiking))
	require.NoError(t, units.Insert(google))
	require.NoError(t, units.Insert(other))

	results, err := units.KeywordSearch("a1", "", `"hiking" OR "yosemite"`, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, hiking.ID, results[0].ID)

	both, err := units.KeywordSearch("a1", "", `"alice"`, 10)
	require.NoError(t, err)
	assert.Len(t, both, 2)
}

func TestUpsertLinkKeepsMaxWeight(t *testing.T) {
	db := openTestDB(t)
	links := NewLinkStore(db)

	l := models.Link{FromID: "u1", ToID: "u2", Type: models.LinkSemantic, Weight: 0.8,
		Meta: models.LinkMeta{Similarity: 0.8}}
	require.NoError(t, links.Upsert(l))

	weaker := l
	weaker.Weight = 0.5
	require.NoError(t, links.Upsert(weaker))

	neighbors, err := links.Neighbors("u1", "", 0)
	require.NoError(t, err)
	require.Len(t, neighbors, 1)
	assert.InDelta(t, 0.8, neighbors[0].Weight, 1e-9)

	// Stored in both directions.
	reverse, err := links.Neighbors("u2", "", 0)
	require.NoError(t, err)
	require.Len(t, reverse, 1)
	assert.Equal(t, "u1", reverse[0].ToID)
	assert.InDelta(t, 0.8, reverse[0].Weight, 1e-9)
}

func TestNeighborsFilters(t *testing.T) {
	db := openTestDB(t)
	links := NewLinkStore(db)

	require.NoError(t, links.UpsertBatch([]models.Link{
		{FromID: "u1", ToID: "u2", Type: models.LinkTemporal, Weight: 0.9,
			Meta: models.LinkMeta{TimeDeltaSeconds: 3600}},
		{FromID: "u1", ToID: "u3", Type: models.LinkSemantic, Weight: 0.75,
			Meta: models.LinkMeta{Similarity: 0.75}},
		{FromID: "u1", ToID: "u4", Type: models.LinkEntity, Weight: 0.05},
	}))

	all, err := links.Neighbors("u1", "", 0.1)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "u2", all[0].ToID) // strongest first
	assert.InDelta(t, 3600, all[0].Meta.TimeDeltaSeconds, 1e-9)

	temporalOnly, err := links.Neighbors("u1", models.LinkTemporal, 0.1)
	require.NoError(t, err)
	require.Len(t, temporalOnly, 1)
	assert.Equal(t, models.LinkTemporal, temporalOnly[0].Type)
}

func TestSelfLinkRejected(t *testing.T) {
	db := openTestDB(t)
	links := NewLinkStore(db)

	err := links.Upsert(models.Link{FromID: "u1", ToID: "u1", Type: models.LinkSemantic, Weight: 1})
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestDeleteUnitCascades(t *testing.T) {
	db := openTestDB(t)
	units := NewUnitStore(db)
	entities := NewEntityStore(db)
	links := NewLinkStore(db)
	now := time.Now().UTC()

	u1 := testUnit("a1", "unit one", []float32{1, 0, 0, 0}, now)
	u2 := testUnit("a1", "unit two", []float32{0, 1, 0, 0}, now)
	require.NoError(t, units.Insert(u1))
	require.NoError(t, units.Insert(u2))
	require.NoError(t, entities.AddMention(u1.ID, "e1"))
	require.NoError(t, links.Upsert(models.Link{FromID: u1.ID, ToID: u2.ID, Type: models.LinkEntity, Weight: 1}))

	require.NoError(t, units.Delete(u1.ID))

	_, err := units.Get(u1.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	// Traversal from the surviving neighbor no longer reaches it.
	neighbors, err := links.Neighbors(u2.ID, "", 0)
	require.NoError(t, err)
	assert.Empty(t, neighbors)

	mentioned, err := entities.MentionedEntities(u1.ID)
	require.NoError(t, err)
	assert.Empty(t, mentioned)
}

func TestDeleteDocument(t *testing.T) {
	db := openTestDB(t)
	units := NewUnitStore(db)
	now := time.Now().UTC()

	doc1 := testUnit("a1", "from doc", []float32{1, 0, 0, 0}, now)
	doc1.DocumentID = "doc-1"
	doc2 := testUnit("a1", "also from doc", []float32{0, 1, 0, 0}, now)
	doc2.DocumentID = "doc-1"
	keep := testUnit("a1", "no document", []float32{0, 0, 1, 0}, now)
	require.NoError(t, units.Insert(doc1))
	require.NoError(t, units.Insert(doc2))
	require.NoError(t, units.Insert(keep))

	removed, err := units.DeleteDocument("a1", "doc-1")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	_, err = units.Get(keep.ID)
	assert.NoError(t, err)
}

func TestDeleteAgent(t *testing.T) {
	db := openTestDB(t)
	units := NewUnitStore(db)
	entities := NewEntityStore(db)
	now := time.Now().UTC()

	mine := testUnit("a1", "mine", []float32{1, 0, 0, 0}, now)
	theirs := testUnit("a2", "theirs", []float32{0, 1, 0, 0}, now)
	require.NoError(t, units.Insert(mine))
	require.NoError(t, units.Insert(theirs))
	require.NoError(t, entities.Insert(&models.Entity{
		ID: "e1", AgentID: "a1", Type: models.EntityPerson,
		CanonicalName: "Alice", Aliases: []string{"Alice"},
		FirstSeen: now, LastSeen: now,
	}))

	require.NoError(t, units.DeleteAgent("a1"))

	_, err := units.Get(mine.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = units.Get(theirs.ID)
	assert.NoError(t, err)
	_, err = entities.Get("e1")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestFindByTextHash(t *testing.T) {
	db := openTestDB(t)
	units := NewUnitStore(db)

	u := testUnit("a1", "remember this", []float32{1, 0, 0, 0}, time.Now().UTC())
	require.NoError(t, units.Insert(u))

	got, err := units.Get(u.ID)
	require.NoError(t, err)

	id, err := units.FindByTextHash("a1", got.TextHash)
	require.NoError(t, err)
	assert.Equal(t, u.ID, id)

	// Same hash under a different agent misses.
	id, err = units.FindByTextHash("a2", got.TextHash)
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestUnitsInRange(t *testing.T) {
	db := openTestDB(t)
	units := NewUnitStore(db)

	base := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	early := testUnit("a1", "early", []float32{1, 0, 0, 0}, base.Add(-48*time.Hour))
	inside := testUnit("a1", "inside", []float32{0, 1, 0, 0}, base)
	edge := testUnit("a1", "edge", []float32{0, 0, 1, 0}, base.Add(24*time.Hour))
	require.NoError(t, units.Insert(early))
	require.NoError(t, units.Insert(inside))
	require.NoError(t, units.Insert(edge))

	got, err := units.UnitsInRange("a1", "", base.Add(-24*time.Hour), base.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, inside.ID, got[0].ID)
	assert.Equal(t, edge.ID, got[1].ID)
}

func TestEntityStore(t *testing.T) {
	db := openTestDB(t)
	entities := NewEntityStore(db)
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	e := &models.Entity{
		ID: "e1", AgentID: "a1", Type: models.EntityPerson,
		CanonicalName: "Alice Chen", Aliases: []string{"Alice Chen"},
		FirstSeen: now, LastSeen: now,
	}
	require.NoError(t, entities.Insert(e))

	later := now.Add(72 * time.Hour)
	require.NoError(t, entities.Touch("e1", "Alice", later))

	got, err := entities.Get("e1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Alice Chen", "Alice"}, got.Aliases)
	assert.True(t, got.LastSeen.Equal(later))

	// Touch with an older sighting keeps last_seen.
	require.NoError(t, entities.Touch("e1", "Alice", now))
	got, err = entities.Get("e1")
	require.NoError(t, err)
	assert.True(t, got.LastSeen.Equal(later))

	candidates, err := entities.Candidates("a1", models.EntityPerson)
	require.NoError(t, err)
	assert.Len(t, candidates, 1)

	candidates, err = entities.Candidates("a1", models.EntityOrg)
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestMentionsAndCooccurrence(t *testing.T) {
	db := openTestDB(t)
	entities := NewEntityStore(db)

	require.NoError(t, entities.AddMention("u1", "alice"))
	require.NoError(t, entities.AddMention("u1", "google"))
	require.NoError(t, entities.AddMention("u2", "alice"))
	// Duplicate mention is a no-op.
	require.NoError(t, entities.AddMention("u2", "alice"))

	forAlice, err := entities.UnitsForEntity("alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, forAlice)

	n, err := entities.CooccurrenceCount("alice", "google")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = entities.CooccurrenceCount("google", "bob")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestIncrementAccess(t *testing.T) {
	db := openTestDB(t)
	units := NewUnitStore(db)

	u := testUnit("a1", "counted", []float32{1, 0, 0, 0}, time.Now().UTC())
	require.NoError(t, units.Insert(u))

	require.NoError(t, units.IncrementAccess([]string{u.ID}))
	require.NoError(t, units.IncrementAccess([]string{u.ID}))
	require.NoError(t, units.IncrementAccess(nil))

	got, err := units.Get(u.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.AccessCount)
}

func TestUnlinkedUnits(t *testing.T) {
	db := openTestDB(t)
	units := NewUnitStore(db)
	links := NewLinkStore(db)
	now := time.Now().UTC()

	linked := testUnit("a1", "linked", []float32{1, 0, 0, 0}, now)
	lonely := testUnit("a1", "lonely", []float32{0, 1, 0, 0}, now)
	require.NoError(t, units.Insert(linked))
	require.NoError(t, units.Insert(lonely))
	require.NoError(t, links.Upsert(models.Link{
		FromID: linked.ID, ToID: lonely.ID, Type: models.LinkTemporal, Weight: 0.5,
	}))

	// Bidirectional storage means both ends have outgoing links; only a
	// truly isolated unit shows up.
	isolated := testUnit("a1", "isolated", []float32{0, 0, 1, 0}, now)
	require.NoError(t, units.Insert(isolated))

	ids, err := units.UnlinkedUnits("a1", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{isolated.ID}, ids)
}
