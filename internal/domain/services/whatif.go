package services

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/ersonp/narra-core/internal/domain/entities"
	apperrors "github.com/ersonp/narra-core/internal/domain/errors"
	"github.com/ersonp/narra-core/internal/domain/ports"
	"github.com/ersonp/narra-core/internal/domain/vector"
)

// What-if defaults.
const (
	DefaultWhatIfBlend       = 0.15
	DefaultConflictThreshold = 0.7
)

// WhatIfConfig tunes the simulation. Zero fields select the defaults.
type WhatIfConfig struct {
	Blend             float64
	ConflictThreshold float64
}

// WhatIfInput names the hypothetical: CharacterID comes to hold a fact. The
// fact is either an existing ledger fact named by FactRef or free text.
type WhatIfInput struct {
	CharacterID entities.EntityID
	FactRef     string
	Fact        string
	TargetID    entities.EntityID
	Certainty   entities.Certainty // empty means knows
}

// GapChange is how one observer's perception gap would move.
type GapChange struct {
	ObserverID entities.EntityID `json:"observer_id"`
	Before     float64           `json:"before"`
	After      float64           `json:"after"`
	Delta      float64           `json:"delta"`
	Assessment string            `json:"assessment"`
}

// KnowledgeConflict is an existing record of the character close to the new fact.
type KnowledgeConflict struct {
	RecordID   string             `json:"record_id"`
	Fact       string             `json:"fact"`
	Certainty  entities.Certainty `json:"certainty"`
	Similarity float64            `json:"similarity"`
}

// WhatIfReport is the outcome of a simulated knowledge change. Nothing in it
// has been persisted.
type WhatIfReport struct {
	CharacterID   entities.EntityID   `json:"character_id"`
	Fact          string              `json:"fact"`
	FactRef       string              `json:"fact_ref,omitempty"`
	TargetID      entities.EntityID   `json:"target_id,omitempty"`
	Certainty     entities.Certainty  `json:"certainty"`
	AlreadyHeld   *entities.Certainty `json:"already_held,omitempty"`
	Shift         float64             `json:"shift"`
	Impact        string              `json:"impact"`
	GapChanges    []GapChange         `json:"gap_changes"`
	Conflicts     []KnowledgeConflict `json:"conflicts"`
	IronyCreated  []Asymmetry         `json:"irony_created"`
	IronyResolved []Asymmetry         `json:"irony_resolved"`
}

// WhatIfService simulates a character learning a fact without touching the world.
type WhatIfService struct {
	entities    ports.EntityReader
	knowledge   ports.KnowledgeReader
	perceptions ports.PerceptionReader
	scenes      ports.SceneIndex
	embedder    ports.Embedder
	cfg         WhatIfConfig
}

// NewWhatIfService creates a new WhatIfService. embedder may be nil, in which
// case only facts with stored embeddings can be simulated.
func NewWhatIfService(
	entityReader ports.EntityReader,
	knowledge ports.KnowledgeReader,
	perceptions ports.PerceptionReader,
	scenes ports.SceneIndex,
	embedder ports.Embedder,
	cfg WhatIfConfig,
) *WhatIfService {
	if cfg.Blend == 0 {
		cfg.Blend = DefaultWhatIfBlend
	}
	if cfg.ConflictThreshold == 0 {
		cfg.ConflictThreshold = DefaultConflictThreshold
	}
	return &WhatIfService{
		entities:    entityReader,
		knowledge:   knowledge,
		perceptions: perceptions,
		scenes:      scenes,
		embedder:    embedder,
		cfg:         cfg,
	}
}

// Simulate blends the fact into the character's embedding and reports what
// would change: the embedding shift, every observer's gap, conflicting
// knowledge and the irony created or resolved.
func (s *WhatIfService) Simulate(ctx context.Context, in WhatIfInput) (*WhatIfReport, error) {
	if in.Certainty == "" {
		in.Certainty = entities.CertaintyKnows
	}
	if !in.Certainty.IsValid() {
		return nil, apperrors.InvalidParameter("what-if", "certainty", fmt.Sprintf("unknown certainty %q", in.Certainty))
	}
	if in.FactRef == "" && strings.TrimSpace(in.Fact) == "" {
		return nil, apperrors.New(apperrors.CodeEmptyInput, "what-if needs a fact reference or fact text")
	}

	character, err := s.entities.GetEntity(ctx, in.CharacterID)
	if err != nil {
		return nil, fmt.Errorf("getting character: %w", err)
	}
	if !character.HasEmbedding() {
		return nil, apperrors.MissingEmbedding("what-if", string(in.CharacterID))
	}

	hypo, factEmb, err := s.resolveFact(ctx, in)
	if err != nil {
		return nil, err
	}

	blended, err := vector.Blend(character.Embedding, factEmb, s.cfg.Blend)
	if err != nil {
		return nil, fmt.Errorf("blending fact into %s: %w", in.CharacterID, err)
	}
	shift, err := vector.CosineDistance(character.Embedding, blended)
	if err != nil {
		return nil, err
	}

	report := &WhatIfReport{
		CharacterID: in.CharacterID,
		Fact:        hypo.Fact,
		FactRef:     hypo.FactRef,
		TargetID:    hypo.TargetID,
		Certainty:   hypo.Certainty,
		Shift:       shift,
		Impact:      impactLabel(shift),
	}

	held, err := s.knowledge.ListKnowledge(ctx, ports.KnowledgeFilter{CharacterIDs: []entities.EntityID{in.CharacterID}})
	if err != nil {
		return nil, fmt.Errorf("listing knowledge: %w", err)
	}
	key := hypo.FactKey()
	for i := range held {
		if held[i].FactKey() == key {
			c := held[i].Certainty
			report.AlreadyHeld = &c
		}
	}

	if report.Conflicts, err = s.conflicts(held, key, factEmb); err != nil {
		return nil, err
	}
	if report.GapChanges, err = s.gapChanges(ctx, in.CharacterID, character.Embedding, blended); err != nil {
		return nil, err
	}
	if report.IronyCreated, report.IronyResolved, err = s.ironyDiff(ctx, hypo); err != nil {
		return nil, err
	}
	return report, nil
}

// resolveFact builds the hypothetical ledger record and finds the fact's
// embedding: the latest stored one for a fact reference, else the embedder's.
func (s *WhatIfService) resolveFact(ctx context.Context, in WhatIfInput) (*entities.KnowledgeRecord, []float32, error) {
	hypo := &entities.KnowledgeRecord{
		ID:          "what-if",
		CharacterID: in.CharacterID,
		TargetID:    in.TargetID,
		FactRef:     in.FactRef,
		Fact:        in.Fact,
		Certainty:   in.Certainty,
		Method:      entities.MethodDeduced,
	}

	var factEmb []float32
	if in.FactRef != "" {
		existing, err := s.knowledge.ListKnowledge(ctx, ports.KnowledgeFilter{FactRef: in.FactRef})
		if err != nil {
			return nil, nil, fmt.Errorf("listing fact %s: %w", in.FactRef, err)
		}
		if len(existing) == 0 && hypo.Fact == "" {
			return nil, nil, apperrors.NotFound("what-if", in.FactRef)
		}
		for i := len(existing) - 1; i >= 0; i-- {
			r := &existing[i]
			if hypo.Fact == "" {
				hypo.Fact = r.Fact
			}
			if hypo.TargetID == "" {
				hypo.TargetID = r.TargetID
			}
			if factEmb == nil && len(r.Embedding) > 0 {
				factEmb = r.Embedding
			}
		}
	}

	if factEmb == nil {
		if s.embedder == nil {
			return nil, nil, apperrors.MissingEmbedding("what-if", hypo.FactKey())
		}
		emb, err := s.embedder.Embed(ctx, hypo.Fact)
		if err != nil {
			return nil, nil, fmt.Errorf("embedding fact: %w", err)
		}
		if len(emb) == 0 {
			return nil, nil, apperrors.MissingEmbedding("what-if", hypo.FactKey())
		}
		factEmb = emb
	}
	hypo.Embedding = factEmb

	at, err := s.hypotheticalTime(ctx, hypo)
	if err != nil {
		return nil, nil, err
	}
	hypo.LearnedAt = at
	return hypo, factEmb, nil
}

// hypotheticalTime places the record just after the latest ledger entry for
// its fact so it reads as the newest stance whatever the story's dates are.
// A fact with no ledger entries is dated now.
func (s *WhatIfService) hypotheticalTime(ctx context.Context, hypo *entities.KnowledgeRecord) (time.Time, error) {
	filter := ports.KnowledgeFilter{FactRef: hypo.FactRef}
	if hypo.FactRef == "" {
		filter.TargetID = hypo.TargetID
	}
	list, err := s.knowledge.ListKnowledge(ctx, filter)
	if err != nil {
		return time.Time{}, fmt.Errorf("listing fact %s: %w", hypo.FactKey(), err)
	}

	key := hypo.FactKey()
	var latest time.Time
	found := false
	for i := range list {
		if list[i].FactKey() != key {
			continue
		}
		if !found || list[i].LearnedAt.After(latest) {
			latest = list[i].LearnedAt
			found = true
		}
	}
	if !found {
		return timeNow(), nil
	}
	return latest.Add(time.Nanosecond), nil
}

func (s *WhatIfService) conflicts(held []entities.KnowledgeRecord, key string, factEmb []float32) ([]KnowledgeConflict, error) {
	out := []KnowledgeConflict{}
	for i := range held {
		r := &held[i]
		if len(r.Embedding) == 0 || r.FactKey() == key {
			continue
		}
		sim, err := vector.CosineSimilarity(factEmb, r.Embedding)
		if err != nil {
			return nil, fmt.Errorf("comparing with %s: %w", r.ID, err)
		}
		if sim > s.cfg.ConflictThreshold {
			out = append(out, KnowledgeConflict{RecordID: r.ID, Fact: r.Fact, Certainty: r.Certainty, Similarity: sim})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	return out, nil
}

// gapChanges re-measures every observer's latest perception of the character
// against the current and the hypothetical embedding.
func (s *WhatIfService) gapChanges(ctx context.Context, characterID entities.EntityID, current, blended []float32) ([]GapChange, error) {
	list, err := s.perceptions.ListPerceptions(ctx, ports.PerceptionFilter{TargetID: characterID})
	if err != nil {
		return nil, fmt.Errorf("listing perceptions: %w", err)
	}
	latest := make(map[entities.EntityID]*entities.Perception)
	for i := range list {
		if len(list[i].Embedding) > 0 {
			latest[list[i].ObserverID] = &list[i]
		}
	}

	out := make([]GapChange, 0, len(latest))
	for _, observer := range sortedKeys(latest) {
		p := latest[observer]
		before, err := gapAgainst(p, current)
		if err != nil {
			return nil, err
		}
		after, err := gapAgainst(p, blended)
		if err != nil {
			return nil, err
		}
		out = append(out, GapChange{
			ObserverID: observer,
			Before:     before.Gap,
			After:      after.Gap,
			Delta:      after.Gap - before.Gap,
			Assessment: after.Assessment,
		})
	}
	return out, nil
}

// ironyDiff runs irony detection over the ledger with and without the
// hypothetical record and returns the asymmetries that appear and vanish.
func (s *WhatIfService) ironyDiff(ctx context.Context, hypo *entities.KnowledgeRecord) (created, resolved []Asymmetry, err error) {
	opts := IronyOptions{TargetID: hypo.TargetID}

	before, err := NewIronyService(s.entities, s.knowledge, s.perceptions, s.scenes).Detect(ctx, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("irony before: %w", err)
	}
	overlay := &overlayKnowledge{base: s.knowledge, extra: *hypo}
	after, err := NewIronyService(s.entities, overlay, s.perceptions, s.scenes).Detect(ctx, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("irony after: %w", err)
	}

	created = diffAsymmetries(after.Asymmetries, before.Asymmetries)
	resolved = diffAsymmetries(before.Asymmetries, after.Asymmetries)
	return created, resolved, nil
}

// diffAsymmetries returns the members of a whose key is absent from b.
func diffAsymmetries(a, b []Asymmetry) []Asymmetry {
	keys := make(map[string]bool, len(b))
	for i := range b {
		keys[b[i].Key()] = true
	}
	out := []Asymmetry{}
	for i := range a {
		if !keys[a[i].Key()] {
			out = append(out, a[i])
		}
	}
	return out
}

// overlayKnowledge is a read view of a ledger with one extra record appended.
type overlayKnowledge struct {
	base  ports.KnowledgeReader
	extra entities.KnowledgeRecord
}

func (o *overlayKnowledge) ListKnowledge(ctx context.Context, f ports.KnowledgeFilter) ([]entities.KnowledgeRecord, error) {
	list, err := o.base.ListKnowledge(ctx, f)
	if err != nil {
		return nil, err
	}
	if !matchesKnowledge(&o.extra, f) {
		return list, nil
	}
	list = append(list, o.extra)
	sort.SliceStable(list, func(i, j int) bool { return entities.KnowledgeLess(&list[i], &list[j]) })
	return list, nil
}

func matchesKnowledge(r *entities.KnowledgeRecord, f ports.KnowledgeFilter) bool {
	if len(f.CharacterIDs) > 0 && !slices.Contains(f.CharacterIDs, r.CharacterID) {
		return false
	}
	if f.TargetID != "" && r.TargetID != f.TargetID {
		return false
	}
	return f.FactRef == "" || r.FactRef == f.FactRef
}

func impactLabel(shift float64) string {
	switch {
	case shift < 0.02:
		return "negligible"
	case shift < 0.05:
		return "minor"
	case shift < 0.10:
		return "moderate"
	case shift < 0.20:
		return "major"
	}
	return "transformative"
}
