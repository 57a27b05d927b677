package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ersonp/narra-core/internal/domain/entities"
	apperrors "github.com/ersonp/narra-core/internal/domain/errors"
	"github.com/ersonp/narra-core/internal/domain/ports"
	"github.com/ersonp/narra-core/internal/domain/vector"
)

// shiftThreshold is the gap change below which a perception trend counts as stable.
const shiftThreshold = 0.02

// Shift trends.
const (
	ShiftImproving     = "improving"
	ShiftDeteriorating = "deteriorating"
	ShiftStable        = "stable"
)

// GapResult is the distance between how an observer sees a target and what the target is.
type GapResult struct {
	ObserverID   entities.EntityID `json:"observer_id"`
	TargetID     entities.EntityID `json:"target_id"`
	Gap          float64           `json:"gap"`
	Assessment   string            `json:"assessment"`
	PerceptionID string            `json:"perception_id"`
	Perception   string            `json:"perception,omitempty"`
	PerceivedAt  time.Time         `json:"perceived_at"`
}

// ObserverPair is an unordered pair of observers; A always sorts before B.
type ObserverPair struct {
	A entities.EntityID `json:"a"`
	B entities.EntityID `json:"b"`
}

// NewObserverPair returns the normalized pair of a and b.
func NewObserverPair(a, b entities.EntityID) ObserverPair {
	if b < a {
		a, b = b, a
	}
	return ObserverPair{A: a, B: b}
}

// PairAgreement is the agreement between two observers' views of a target.
type PairAgreement struct {
	ObserverPair
	Agreement float64 `json:"agreement"`
}

// ObserverEntry summarizes one observer within a perception matrix.
type ObserverEntry struct {
	ObserverID    entities.EntityID `json:"observer_id"`
	Gap           *float64          `json:"gap,omitempty"`
	AgreesWith    entities.EntityID `json:"agrees_with,omitempty"`
	DisagreesWith entities.EntityID `json:"disagrees_with,omitempty"`
}

// PerceptionMatrix holds pairwise agreement between observers of one target.
type PerceptionMatrix struct {
	TargetID  entities.EntityID   `json:"target_id"`
	Observers []ObserverEntry     `json:"observers"`
	Pairs     []PairAgreement     `json:"pairs"`
	Missing   []entities.EntityID `json:"missing,omitempty"`

	agreement map[ObserverPair]float64
}

// Agreement returns the agreement between a and b in either order.
func (m *PerceptionMatrix) Agreement(a, b entities.EntityID) (float64, bool) {
	v, ok := m.agreement[NewObserverPair(a, b)]
	return v, ok
}

// ShiftPoint is the gap of one historical perception.
type ShiftPoint struct {
	PerceptionID string    `json:"perception_id"`
	RecordedAt   time.Time `json:"recorded_at"`
	Gap          float64   `json:"gap"`
	AgainstSnap  bool      `json:"against_snapshot"`
}

// PerceptionShift is how an observer's accuracy about a target evolved.
type PerceptionShift struct {
	ObserverID entities.EntityID `json:"observer_id"`
	TargetID   entities.EntityID `json:"target_id"`
	Points     []ShiftPoint      `json:"points"`
	Trend      string            `json:"trend"`
	Skipped    int               `json:"skipped"`
}

// PerceptionService measures how accurately characters perceive each other.
type PerceptionService struct {
	entities    ports.EntityReader
	perceptions ports.PerceptionReader
	snapshots   ports.SnapshotStore
}

// NewPerceptionService creates a new PerceptionService.
func NewPerceptionService(
	entityReader ports.EntityReader,
	perceptions ports.PerceptionReader,
	snapshots ports.SnapshotStore,
) *PerceptionService {
	return &PerceptionService{
		entities:    entityReader,
		perceptions: perceptions,
		snapshots:   snapshots,
	}
}

// Gap compares the observer's latest perception of target with the target's
// current embedding.
func (s *PerceptionService) Gap(ctx context.Context, observerID, targetID entities.EntityID) (*GapResult, error) {
	target, err := s.entities.GetEntity(ctx, targetID)
	if err != nil {
		return nil, fmt.Errorf("getting target: %w", err)
	}
	if _, err := s.entities.GetEntity(ctx, observerID); err != nil {
		return nil, fmt.Errorf("getting observer: %w", err)
	}

	latest, err := s.latestPerception(ctx, observerID, targetID)
	if err != nil {
		return nil, err
	}
	if !target.HasEmbedding() {
		return nil, apperrors.MissingEmbedding("gap", string(targetID))
	}
	return gapAgainst(latest, target.Embedding)
}

func (s *PerceptionService) latestPerception(ctx context.Context, observerID, targetID entities.EntityID) (*entities.Perception, error) {
	list, err := s.perceptions.ListPerceptions(ctx, ports.PerceptionFilter{ObserverID: observerID, TargetID: targetID})
	if err != nil {
		return nil, fmt.Errorf("listing perceptions: %w", err)
	}
	if len(list) == 0 {
		return nil, apperrors.WithMetadata(apperrors.CodeMissingPerception,
			fmt.Sprintf("%s has no perception of %s", observerID, targetID),
			map[string]string{"op": "gap", "observer": string(observerID), "target": string(targetID)})
	}
	return &list[len(list)-1], nil
}

// gapAgainst measures a perception against an arbitrary reference embedding.
func gapAgainst(p *entities.Perception, reference []float32) (*GapResult, error) {
	if len(p.Embedding) == 0 {
		return nil, apperrors.MissingEmbedding("gap", p.ID)
	}
	d, err := vector.CosineDistance(p.Embedding, reference)
	if err != nil {
		return nil, fmt.Errorf("gap of %s on %s: %w", p.ObserverID, p.TargetID, err)
	}
	return &GapResult{
		ObserverID:   p.ObserverID,
		TargetID:     p.TargetID,
		Gap:          d,
		Assessment:   gapAssessment(d),
		PerceptionID: p.ID,
		Perception:   p.Text,
		PerceivedAt:  p.RecordedAt,
	}, nil
}

// Matrix computes pairwise agreement between observers of target. An empty
// observer list means every observer with a perception of the target.
func (s *PerceptionService) Matrix(ctx context.Context, targetID entities.EntityID, observers []entities.EntityID) (*PerceptionMatrix, error) {
	target, err := s.entities.GetEntity(ctx, targetID)
	if err != nil {
		return nil, fmt.Errorf("getting target: %w", err)
	}

	list, err := s.perceptions.ListPerceptions(ctx, ports.PerceptionFilter{TargetID: targetID})
	if err != nil {
		return nil, fmt.Errorf("listing perceptions: %w", err)
	}
	latest := make(map[entities.EntityID]entities.Perception)
	for _, p := range list {
		latest[p.ObserverID] = p // ascending order, last wins
	}

	if len(observers) == 0 {
		for id := range latest {
			observers = append(observers, id)
		}
	}
	observers = uniqueSorted(observers)

	m := &PerceptionMatrix{
		TargetID:  targetID,
		Observers: []ObserverEntry{},
		Pairs:     []PairAgreement{},
		agreement: make(map[ObserverPair]float64),
	}
	var present []entities.EntityID
	for _, id := range observers {
		if p, ok := latest[id]; ok && len(p.Embedding) > 0 {
			present = append(present, id)
		} else {
			m.Missing = append(m.Missing, id)
		}
	}

	for i := range present {
		for j := i + 1; j < len(present); j++ {
			a, b := latest[present[i]], latest[present[j]]
			d, err := vector.CosineDistance(a.Embedding, b.Embedding)
			if err != nil {
				return nil, fmt.Errorf("agreement of %s and %s: %w", a.ObserverID, b.ObserverID, err)
			}
			pair := NewObserverPair(a.ObserverID, b.ObserverID)
			m.agreement[pair] = 1 - d
			m.Pairs = append(m.Pairs, PairAgreement{ObserverPair: pair, Agreement: 1 - d})
		}
	}

	for _, id := range present {
		entry := ObserverEntry{ObserverID: id}
		if target.HasEmbedding() {
			p := latest[id]
			g, err := gapAgainst(&p, target.Embedding)
			if err != nil {
				return nil, err
			}
			entry.Gap = &g.Gap
		}
		best, worst := -2.0, 3.0
		for _, other := range present {
			if other == id {
				continue
			}
			v := m.agreement[NewObserverPair(id, other)]
			if v > best {
				best, entry.AgreesWith = v, other
			}
			if v < worst {
				worst, entry.DisagreesWith = v, other
			}
		}
		m.Observers = append(m.Observers, entry)
	}

	sort.SliceStable(m.Observers, func(i, j int) bool {
		a, b := m.Observers[i].Gap, m.Observers[j].Gap
		switch {
		case a != nil && b != nil && *a != *b:
			return *a < *b
		case a != nil && b == nil:
			return true
		case a == nil && b != nil:
			return false
		}
		return m.Observers[i].ObserverID < m.Observers[j].ObserverID
	})
	return m, nil
}

// Shift reports the gap of every historical perception of target by observer,
// each measured against the target's snapshot at or before it.
func (s *PerceptionService) Shift(ctx context.Context, observerID, targetID entities.EntityID) (*PerceptionShift, error) {
	target, err := s.entities.GetEntity(ctx, targetID)
	if err != nil {
		return nil, fmt.Errorf("getting target: %w", err)
	}
	list, err := s.perceptions.ListPerceptions(ctx, ports.PerceptionFilter{ObserverID: observerID, TargetID: targetID})
	if err != nil {
		return nil, fmt.Errorf("listing perceptions: %w", err)
	}
	if len(list) == 0 {
		return nil, apperrors.WithMetadata(apperrors.CodeMissingPerception,
			fmt.Sprintf("%s has no perception of %s", observerID, targetID),
			map[string]string{"op": "shift", "observer": string(observerID), "target": string(targetID)})
	}
	snaps, err := s.snapshots.ListSnapshots(ctx, targetID)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}

	shift := &PerceptionShift{ObserverID: observerID, TargetID: targetID, Points: []ShiftPoint{}}
	for i := range list {
		p := &list[i]
		if len(p.Embedding) == 0 {
			shift.Skipped++
			continue
		}
		reference, fromSnap := target.Embedding, false
		if snap, ok := latestAtOrBefore(snaps, p.RecordedAt); ok {
			reference, fromSnap = snap.Embedding, true
		}
		if len(reference) == 0 {
			return nil, apperrors.MissingEmbedding("shift", string(targetID))
		}
		g, err := gapAgainst(p, reference)
		if err != nil {
			return nil, err
		}
		shift.Points = append(shift.Points, ShiftPoint{
			PerceptionID: p.ID,
			RecordedAt:   p.RecordedAt,
			Gap:          g.Gap,
			AgainstSnap:  fromSnap,
		})
	}
	if len(shift.Points) == 0 {
		return nil, apperrors.MissingEmbedding("shift", string(observerID))
	}

	shift.Trend = ShiftStable
	if n := len(shift.Points); n > 1 {
		delta := shift.Points[n-1].Gap - shift.Points[0].Gap
		switch {
		case delta < -shiftThreshold:
			shift.Trend = ShiftImproving
		case delta > shiftThreshold:
			shift.Trend = ShiftDeteriorating
		}
	}
	return shift, nil
}

func gapAssessment(gap float64) string {
	switch {
	case gap < 0.05:
		return "remarkably accurate"
	case gap < 0.15:
		return "fairly accurate"
	case gap < 0.30:
		return "notable blind spots"
	case gap < 0.50:
		return "significantly distorted"
	default:
		return "dramatically wrong"
	}
}

func uniqueSorted(ids []entities.EntityID) []entities.EntityID {
	seen := make(map[entities.EntityID]bool, len(ids))
	out := make([]entities.EntityID, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
