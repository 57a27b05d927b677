package entities

import "time"

// RelationType defines the kind of relationship between characters.
type RelationType string

const (
	RelationFamily       RelationType = "family"
	RelationRomantic     RelationType = "romantic"
	RelationProfessional RelationType = "professional"
	RelationSocial       RelationType = "social"
	RelationAntagonistic RelationType = "antagonistic"
	RelationMentorship   RelationType = "mentorship"
	RelationCustom       RelationType = "custom"
)

// RelationTypes lists every relationship type in a stable order.
var RelationTypes = []RelationType{
	RelationFamily,
	RelationRomantic,
	RelationProfessional,
	RelationSocial,
	RelationAntagonistic,
	RelationMentorship,
	RelationCustom,
}

// IsValid reports whether t is a known relationship type.
func (t RelationType) IsValid() bool {
	for _, rt := range RelationTypes {
		if rt == t {
			return true
		}
	}
	return false
}

// Family subtypes checked for circular parentage.
const (
	SubtypeParent = "parent"
	SubtypeChild  = "child"
)

// Relationship represents a connection from one character to another.
// Bidirectional relationships are traversable both ways.
type Relationship struct {
	ID            string       `json:"id" yaml:"id"`
	FromID        EntityID     `json:"from_id" yaml:"from"`
	ToID          EntityID     `json:"to_id" yaml:"to"`
	Type          RelationType `json:"type" yaml:"type"`
	Subtype       string       `json:"subtype,omitempty" yaml:"subtype,omitempty"`
	Label         string       `json:"label,omitempty" yaml:"label,omitempty"`
	Bidirectional bool         `json:"bidirectional" yaml:"bidirectional"`
	CreatedAt     time.Time    `json:"created_at" yaml:"created_at"`
}

// Other returns the endpoint opposite id, or "" if id is not an endpoint.
func (r *Relationship) Other(id EntityID) EntityID {
	switch id {
	case r.FromID:
		return r.ToID
	case r.ToID:
		return r.FromID
	}
	return ""
}
