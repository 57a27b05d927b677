// Package entities contains core domain data structures.
package entities

import (
	"strings"
	"time"
)

// EntityType tags what kind of narrative element an entity is.
type EntityType string

const (
	EntityCharacter EntityType = "character"
	EntityLocation  EntityType = "location"
	EntityEvent     EntityType = "event"
	EntityScene     EntityType = "scene"
	EntityKnowledge EntityType = "knowledge"
	EntityFaction   EntityType = "faction"
	EntityItem      EntityType = "item"
)

// IsValid reports whether t is one of the known entity types.
func (t EntityType) IsValid() bool {
	for _, dt := range DefaultEntityTypes {
		if dt.Name == t {
			return true
		}
	}
	return false
}

// EntityID is a typed identifier of the form "<type>:<key>", e.g. "character:alice".
type EntityID string

// NewEntityID builds an EntityID from a type and a key.
func NewEntityID(t EntityType, key string) EntityID {
	return EntityID(string(t) + ":" + key)
}

// Type returns the type prefix of the id, or "" when the id has none.
func (id EntityID) Type() EntityType {
	prefix, _, ok := strings.Cut(string(id), ":")
	if !ok {
		return ""
	}
	return EntityType(prefix)
}

// Key returns the part after the type prefix.
func (id EntityID) Key() string {
	_, key, ok := strings.Cut(string(id), ":")
	if !ok {
		return string(id)
	}
	return key
}

// String implements fmt.Stringer.
func (id EntityID) String() string {
	return string(id)
}

// Entity is any named element of the world: characters, locations, events, scenes.
// Embedding is the entity's current vector; it is nil until the caller computes one.
type Entity struct {
	ID          EntityID   `json:"id" yaml:"id"`
	Type        EntityType `json:"type" yaml:"type"`
	Name        string     `json:"name" yaml:"name"`
	Description string     `json:"description,omitempty" yaml:"description,omitempty"`
	Categories  []string   `json:"categories,omitempty" yaml:"categories,omitempty"`
	Refs        []EntityID `json:"refs,omitempty" yaml:"refs,omitempty"` // Outgoing references checked for integrity

	// Event ordering. Sequence is the story order; OccurredAt the in-world date if known.
	Sequence   int        `json:"sequence,omitempty" yaml:"sequence,omitempty"`
	OccurredAt *time.Time `json:"occurred_at,omitempty" yaml:"occurred_at,omitempty"`

	Embedding []float32 `json:"embedding,omitempty" yaml:"embedding,omitempty"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// HasEmbedding reports whether the entity carries a vector.
func (e *Entity) HasEmbedding() bool {
	return len(e.Embedding) > 0
}

// Timestamp returns the moment the entity is anchored to in story time:
// OccurredAt when set, otherwise CreatedAt.
func (e *Entity) Timestamp() time.Time {
	if e.OccurredAt != nil {
		return *e.OccurredAt
	}
	return e.CreatedAt
}

// DisplayName returns Name, falling back to the id key.
func (e *Entity) DisplayName() string {
	if e.Name != "" {
		return e.Name
	}
	return e.ID.Key()
}

// Scene is the participation view of a scene entity.
type Scene struct {
	ID           EntityID   `json:"id" yaml:"id"`
	Title        string     `json:"title" yaml:"title"`
	EventID      EntityID   `json:"event_id,omitempty" yaml:"event_id,omitempty"`
	LocationID   EntityID   `json:"location_id,omitempty" yaml:"location_id,omitempty"`
	Participants []EntityID `json:"participants" yaml:"participants"`
	OccurredAt   time.Time  `json:"occurred_at" yaml:"occurred_at"`
}

// NormalizeName converts a name to lowercase for case-insensitive matching.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
