package entities

import "time"

// Enforcement governs how strongly a universe fact constrains the world.
type Enforcement string

const (
	EnforcementInformational Enforcement = "informational"
	EnforcementWarning       Enforcement = "warning"
	EnforcementStrict        Enforcement = "strict"
)

// IsValid reports whether e is a known enforcement level.
func (e Enforcement) IsValid() bool {
	switch e {
	case EnforcementInformational, EnforcementWarning, EnforcementStrict:
		return true
	}
	return false
}

// UniverseFact is a rule of the world, e.g. "No magic works inside the Vault".
type UniverseFact struct {
	ID          string      `json:"id" yaml:"id"`
	Title       string      `json:"title" yaml:"title"`
	Description string      `json:"description" yaml:"description"`
	Categories  []string    `json:"categories,omitempty" yaml:"categories,omitempty"`
	Enforcement Enforcement `json:"enforcement" yaml:"enforcement"`
	AppliesTo   []EntityID  `json:"applies_to,omitempty" yaml:"applies_to,omitempty"`
	CreatedAt   time.Time   `json:"created_at" yaml:"created_at"`
}

// Decision is an authoring decision whose consequences may be traced later.
type Decision struct {
	ID                 string     `json:"id"`
	Description        string     `json:"description"`
	Reasoning          string     `json:"reasoning,omitempty"`
	AffectedEntities   []EntityID `json:"affected_entities,omitempty"`
	ImplicationsTraced bool       `json:"implications_traced"`
	CreatedAt          time.Time  `json:"created_at"`
}

// DeferredImplication is a follow-up on one entity postponed against a decision.
type DeferredImplication struct {
	DecisionID  string    `json:"decision_id"`
	EntityID    EntityID  `json:"entity_id"`
	Description string    `json:"description"`
	DeferredAt  time.Time `json:"deferred_at"`
	Resolved    bool      `json:"resolved"`
}
