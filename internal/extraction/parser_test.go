package extraction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iammorganparry/hindsight/internal/models"
)

func TestParseResponseObject(t *testing.T) {
	raw := `{"facts": [
		{"text": "Alice works at Google.", "factType": "world",
		 "mentions": [{"surface": "Alice", "type": "PERSON"}, {"surface": "Google", "type": "ORG"}]},
		{"text": "I should follow up next week.", "factType": "agent", "mentions": []}
	]}`

	facts, err := ParseResponse(raw)
	require.NoError(t, err)
	require.Len(t, facts, 2)

	assert.Equal(t, models.FactWorld, facts[0].FactType)
	require.Len(t, facts[0].Mentions, 2)
	assert.Equal(t, "Alice", facts[0].Mentions[0].Surface)
	assert.Equal(t, models.EntityPerson, facts[0].Mentions[0].Type)

	assert.Equal(t, models.FactAgent, facts[1].FactType)
	assert.Empty(t, facts[1].Mentions)
}

func TestParseResponseCodeFence(t *testing.T) {
	raw := "```json\n{\"facts\": [{\"text\": \"Bob plays chess.\", \"factType\": \"world\"}]}\n```"

	facts, err := ParseResponse(raw)
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, "Bob plays chess.", facts[0].Text)
}

func TestParseResponseBareArray(t *testing.T) {
	raw := `[{"text": "Carol moved to Berlin.", "factType": "world"}]`

	facts, err := ParseResponse(raw)
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, "Carol moved to Berlin.", facts[0].Text)
}

func TestParseResponseDropsMalformedFacts(t *testing.T) {
	raw := `{"facts": [
		{"text": "", "factType": "world"},
		{"text": "   ", "factType": "world"},
		{"text": "Kept.", "factType": "world"}
	]}`

	facts, err := ParseResponse(raw)
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, "Kept.", facts[0].Text)
}

func TestParseResponseNormalizesTypes(t *testing.T) {
	raw := `{"facts": [
		{"text": "Weird labels survive normalized.", "factType": "GOSSIP",
		 "mentions": [{"surface": "thing", "type": "gadget"}, {"surface": "  ", "type": "PERSON"}]}
	]}`

	facts, err := ParseResponse(raw)
	require.NoError(t, err)
	require.Len(t, facts, 1)

	// Unknown fact types default to world; unknown entity types to CONCEPT.
	assert.Equal(t, models.FactWorld, facts[0].FactType)
	require.Len(t, facts[0].Mentions, 1)
	assert.Equal(t, models.EntityConcept, facts[0].Mentions[0].Type)
}

func TestParseResponseInvalidJSON(t *testing.T) {
	_, err := ParseResponse("the model rambled instead of emitting json")
	assert.Error(t, err)

	facts, err := ParseResponse("")
	require.NoError(t, err)
	assert.Empty(t, facts)
}
