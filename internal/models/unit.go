package models

import "time"

// FactType partitions memories into coarse retrieval classes.
type FactType string

const (
	FactWorld   FactType = "world"   // facts about the world
	FactAgent   FactType = "agent"   // first-person facts about the memory owner
	FactOpinion FactType = "opinion" // the owner's formed opinions
)

// ValidFactType reports whether t is one of the known fact types.
// The empty string is accepted as "no filter".
func ValidFactType(t FactType) bool {
	switch t {
	case "", FactWorld, FactAgent, FactOpinion:
		return true
	}
	return false
}

// MemoryUnit is the atomic retrievable fact. Text is immutable after
// insertion; updates create a new unit.
type MemoryUnit struct {
	ID          string    `json:"id"`
	AgentID     string    `json:"agentId"`
	FactType    FactType  `json:"factType"`
	Text        string    `json:"text"`
	Context     string    `json:"context,omitempty"`
	DocumentID  string    `json:"documentId,omitempty"`
	EventDate   time.Time `json:"eventDate"`
	CreatedAt   time.Time `json:"createdAt"`
	AccessCount int       `json:"accessCount"`
	TextHash    string    `json:"-"`
	Embedding   []float32 `json:"-"`
}

// EntityType classifies canonical entities.
type EntityType string

const (
	EntityPerson   EntityType = "PERSON"
	EntityOrg      EntityType = "ORG"
	EntityLocation EntityType = "LOCATION"
	EntityProduct  EntityType = "PRODUCT"
	EntityConcept  EntityType = "CONCEPT"
	EntityOther    EntityType = "OTHER"
)

// NormalizeEntityType maps an arbitrary extractor-provided type string to a
// known EntityType, defaulting to CONCEPT.
func NormalizeEntityType(s string) EntityType {
	switch EntityType(s) {
	case EntityPerson, EntityOrg, EntityLocation, EntityProduct, EntityConcept, EntityOther:
		return EntityType(s)
	}
	return EntityConcept
}

// Entity is a canonical identity shared across units of one agent.
type Entity struct {
	ID            string     `json:"id"`
	AgentID       string     `json:"agentId"`
	Type          EntityType `json:"type"`
	CanonicalName string     `json:"canonicalName"`
	Aliases       []string   `json:"aliases"`
	FirstSeen     time.Time  `json:"firstSeen"`
	LastSeen      time.Time  `json:"lastSeen"`
}

// LinkType is one of the three edge classes between units.
type LinkType string

const (
	LinkTemporal LinkType = "temporal"
	LinkSemantic LinkType = "semantic"
	LinkEntity   LinkType = "entity"
)

// LinkMeta carries type-specific edge metadata. Exactly one field is
// meaningful per link type.
type LinkMeta struct {
	EntityID         string  `json:"entityId,omitempty"`         // entity links
	Similarity       float64 `json:"similarity,omitempty"`       // semantic links
	TimeDeltaSeconds float64 `json:"timeDeltaSeconds,omitempty"` // temporal links
}

// Link is a weighted edge between two units. Links are stored in both
// directions, so traversal only ever follows from_id.
type Link struct {
	FromID string   `json:"fromId"`
	ToID   string   `json:"toId"`
	Type   LinkType `json:"linkType"`
	Weight float64  `json:"weight"`
	Meta   LinkMeta `json:"meta"`
}
