package entities

import "time"

// Perception is how an observer sees a target at a moment in time.
// History for a pair is the ordered sequence of its records.
type Perception struct {
	ID         string    `json:"id" yaml:"id"`
	ObserverID EntityID  `json:"observer_id" yaml:"observer"`
	TargetID   EntityID  `json:"target_id" yaml:"target"`
	Text       string    `json:"text" yaml:"text"`
	Embedding  []float32 `json:"embedding,omitempty" yaml:"embedding,omitempty"`
	Feelings   string    `json:"feelings,omitempty" yaml:"feelings,omitempty"`
	Tension    *int      `json:"tension,omitempty" yaml:"tension,omitempty"` // 0-10
	History    string    `json:"history,omitempty" yaml:"history,omitempty"`
	RecordedAt time.Time `json:"recorded_at" yaml:"recorded_at"`
}

// PerceptionLess orders perceptions by RecordedAt. Ties keep ledger order,
// so use it with a stable sort.
func PerceptionLess(a, b *Perception) bool {
	return a.RecordedAt.Before(b.RecordedAt)
}

// ArcSnapshot is an entity's embedding captured at a point in time.
type ArcSnapshot struct {
	ID         string    `json:"id"`
	EntityID   EntityID  `json:"entity_id"`
	Embedding  []float32 `json:"embedding"`
	RecordedAt time.Time `json:"recorded_at"`
	EventID    EntityID  `json:"event_id,omitempty"`
}
