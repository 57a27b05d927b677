package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/ersonp/narra-core/internal/domain/entities"
	apperrors "github.com/ersonp/narra-core/internal/domain/errors"
	"github.com/ersonp/narra-core/internal/domain/ports"
	"github.com/ersonp/narra-core/internal/infrastructure/parsers"
)

// ConflictStrategy defines how to handle entities that already exist during import.
type ConflictStrategy string

const (
	// ConflictSkip skips entities that already exist (by ID).
	ConflictSkip ConflictStrategy = "skip"
	// ConflictOverwrite overwrites existing entities with new data.
	ConflictOverwrite ConflictStrategy = "overwrite"
)

// ImportOptions controls import behavior.
type ImportOptions struct {
	DryRun     bool             // Validate without saving
	OnConflict ConflictStrategy // How to handle existing entities
	Embed      bool             // Embed entities, knowledge and perceptions that have no vector
}

// ImportError represents an error for a specific document item during import.
type ImportError struct {
	Section string // Document section, e.g. "entities"
	Index   int    // Position in the section (0-indexed)
	Field   string // Which field has the error
	Value   string // The invalid value
	Message string // Human-readable error message
}

func (e ImportError) Error() string {
	if e.Section == "" {
		return e.Message
	}
	if e.Field == "" {
		return fmt.Sprintf("%s[%d]: %s", e.Section, e.Index, e.Message)
	}
	return fmt.Sprintf("%s[%d].%s: %s", e.Section, e.Index, e.Field, e.Message)
}

// ImportResult contains the result of an import operation.
type ImportResult struct {
	Imported int           `json:"imported"`
	Skipped  int           `json:"skipped"`
	Embedded int           `json:"embedded"`
	Errors   []ImportError `json:"errors,omitempty"`
}

// ImportService loads world documents into the narrative store.
type ImportService struct {
	reader   ports.EntityReader
	writer   ports.NarrativeWriter
	embedder ports.Embedder
}

// NewImportService creates a new import service. embedder may be nil.
func NewImportService(reader ports.EntityReader, writer ports.NarrativeWriter, embedder ports.Embedder) *ImportService {
	return &ImportService{
		reader:   reader,
		writer:   writer,
		embedder: embedder,
	}
}

// Import validates doc and writes its valid items. Invalid items are reported
// in the result and never written.
func (s *ImportService) Import(ctx context.Context, doc *parsers.Document, opts ImportOptions) (*ImportResult, error) {
	result := &ImportResult{}
	valid := s.validate(doc, result)

	if opts.Embed {
		n, err := s.generateEmbeddings(ctx, valid)
		if err != nil {
			return nil, fmt.Errorf("generating embeddings: %w", err)
		}
		result.Embedded = n
	}

	// Handle dry run
	if opts.DryRun {
		result.Imported = valid.Len()
		return result, nil
	}

	if err := s.save(ctx, valid, opts.OnConflict, result); err != nil {
		return nil, fmt.Errorf("saving world: %w", err)
	}

	return result, nil
}

// validate returns the valid items of doc, recording the rest as errors.
func (s *ImportService) validate(doc *parsers.Document, result *ImportResult) *parsers.Document {
	valid := &parsers.Document{}
	fail := func(section string, i int, err *ImportError) {
		err.Section = section
		err.Index = i
		result.Errors = append(result.Errors, *err)
	}

	for i := range doc.Entities {
		if err := validateEntity(&doc.Entities[i]); err != nil {
			fail("entities", i, err)
			continue
		}
		valid.Entities = append(valid.Entities, doc.Entities[i])
	}
	for i := range doc.Knowledge {
		if err := validateKnowledge(&doc.Knowledge[i]); err != nil {
			fail("knowledge", i, err)
			continue
		}
		valid.Knowledge = append(valid.Knowledge, doc.Knowledge[i])
	}
	for i := range doc.Relationships {
		if err := validateRelationship(&doc.Relationships[i]); err != nil {
			fail("relationships", i, err)
			continue
		}
		valid.Relationships = append(valid.Relationships, doc.Relationships[i])
	}
	for i := range doc.Perceptions {
		if err := validatePerception(&doc.Perceptions[i]); err != nil {
			fail("perceptions", i, err)
			continue
		}
		valid.Perceptions = append(valid.Perceptions, doc.Perceptions[i])
	}
	for i := range doc.Scenes {
		if err := validateScene(&doc.Scenes[i]); err != nil {
			fail("scenes", i, err)
			continue
		}
		valid.Scenes = append(valid.Scenes, doc.Scenes[i])
	}
	for i := range doc.Facts {
		if err := validateFact(&doc.Facts[i]); err != nil {
			fail("facts", i, err)
			continue
		}
		valid.Facts = append(valid.Facts, doc.Facts[i])
	}
	for i := range doc.Snapshots {
		if err := validateSnapshot(&doc.Snapshots[i]); err != nil {
			fail("snapshots", i, err)
			continue
		}
		valid.Snapshots = append(valid.Snapshots, doc.Snapshots[i])
	}
	for i, id := range doc.Protected {
		if err := checkID("id", id); err != nil {
			fail("protected", i, err)
			continue
		}
		valid.Protected = append(valid.Protected, id)
	}

	return valid
}

// checkID rejects ids without a known type prefix.
func checkID(field string, id entities.EntityID) *ImportError {
	if id == "" {
		return &ImportError{Field: field, Message: "missing required field: " + field}
	}
	if !id.Type().IsValid() || id.Key() == "" {
		return &ImportError{Field: field, Value: string(id), Message: fmt.Sprintf("invalid id %q (expected <type>:<key>)", id)}
	}
	return nil
}

// checkOptionalID is checkID for fields that may be empty.
func checkOptionalID(field string, id entities.EntityID) *ImportError {
	if id == "" {
		return nil
	}
	return checkID(field, id)
}

func validateEntity(e *entities.Entity) *ImportError {
	if err := checkID("id", e.ID); err != nil {
		return err
	}
	if e.Type == "" {
		e.Type = e.ID.Type()
	}
	if e.Type != e.ID.Type() {
		return &ImportError{Field: "type", Value: string(e.Type), Message: fmt.Sprintf("type %q does not match id prefix", e.Type)}
	}
	for _, ref := range e.Refs {
		if err := checkID("refs", ref); err != nil {
			return err
		}
	}
	return nil
}

func validateKnowledge(k *entities.KnowledgeRecord) *ImportError {
	if err := checkID("character", k.CharacterID); err != nil {
		return err
	}
	if err := checkID("target", k.TargetID); err != nil {
		return err
	}
	if err := checkOptionalID("source", k.SourceCharacterID); err != nil {
		return err
	}
	if err := checkOptionalID("event", k.EventID); err != nil {
		return err
	}
	if k.Fact == "" && k.FactRef == "" {
		return &ImportError{Field: "fact", Message: "one of fact or fact_ref is required"}
	}
	if !k.Certainty.IsValid() {
		return &ImportError{Field: "certainty", Value: string(k.Certainty), Message: fmt.Sprintf("invalid certainty %q", k.Certainty)}
	}
	if k.Method != "" && !k.Method.IsValid() {
		return &ImportError{Field: "method", Value: string(k.Method), Message: fmt.Sprintf("invalid method %q", k.Method)}
	}
	if k.LearnedAt.IsZero() {
		return &ImportError{Field: "learned_at", Message: "missing required field: learned_at"}
	}
	return nil
}

func validateRelationship(r *entities.Relationship) *ImportError {
	if err := checkID("from", r.FromID); err != nil {
		return err
	}
	if err := checkID("to", r.ToID); err != nil {
		return err
	}
	if r.FromID == r.ToID {
		return &ImportError{Field: "to", Value: string(r.ToID), Message: "relationship endpoints must differ"}
	}
	if !r.Type.IsValid() {
		return &ImportError{Field: "type", Value: string(r.Type), Message: fmt.Sprintf("invalid relationship type %q", r.Type)}
	}
	return nil
}

func validatePerception(p *entities.Perception) *ImportError {
	if err := checkID("observer", p.ObserverID); err != nil {
		return err
	}
	if err := checkID("target", p.TargetID); err != nil {
		return err
	}
	if p.Tension != nil && (*p.Tension < 0 || *p.Tension > 10) {
		return &ImportError{Field: "tension", Value: fmt.Sprint(*p.Tension), Message: "tension must be between 0 and 10"}
	}
	if p.RecordedAt.IsZero() {
		return &ImportError{Field: "recorded_at", Message: "missing required field: recorded_at"}
	}
	return nil
}

func validateScene(s *entities.Scene) *ImportError {
	if err := checkID("id", s.ID); err != nil {
		return err
	}
	if s.ID.Type() != entities.EntityScene {
		return &ImportError{Field: "id", Value: string(s.ID), Message: "scene ids must use the scene prefix"}
	}
	if err := checkOptionalID("event_id", s.EventID); err != nil {
		return err
	}
	if err := checkOptionalID("location_id", s.LocationID); err != nil {
		return err
	}
	for _, p := range s.Participants {
		if err := checkID("participants", p); err != nil {
			return err
		}
	}
	if s.OccurredAt.IsZero() {
		return &ImportError{Field: "occurred_at", Message: "missing required field: occurred_at"}
	}
	return nil
}

func validateFact(f *entities.UniverseFact) *ImportError {
	if strings.TrimSpace(f.Title) == "" {
		return &ImportError{Field: "title", Message: "missing required field: title"}
	}
	if f.Enforcement == "" {
		f.Enforcement = entities.EnforcementInformational
	}
	if !f.Enforcement.IsValid() {
		return &ImportError{Field: "enforcement", Value: string(f.Enforcement), Message: fmt.Sprintf("invalid enforcement %q", f.Enforcement)}
	}
	for _, id := range f.AppliesTo {
		if err := checkID("applies_to", id); err != nil {
			return err
		}
	}
	return nil
}

func validateSnapshot(s *parsers.RawSnapshot) *ImportError {
	if err := checkID("entity", s.EntityID); err != nil {
		return err
	}
	if err := checkOptionalID("event", s.EventID); err != nil {
		return err
	}
	if len(s.Embedding) == 0 {
		return &ImportError{Field: "embedding", Message: "missing required field: embedding"}
	}
	if s.RecordedAt.IsZero() {
		return &ImportError{Field: "recorded_at", Message: "missing required field: recorded_at"}
	}
	return nil
}

// embedTarget is one text whose vector is written to dst.
type embedTarget struct {
	text string
	dst  *[]float32
}

// generateEmbeddings fills missing vectors with a single batch call.
func (s *ImportService) generateEmbeddings(ctx context.Context, doc *parsers.Document) (int, error) {
	var targets []embedTarget
	for i := range doc.Entities {
		e := &doc.Entities[i]
		if !e.HasEmbedding() {
			targets = append(targets, embedTarget{text: entityText(e), dst: &e.Embedding})
		}
	}
	for i := range doc.Knowledge {
		k := &doc.Knowledge[i]
		if len(k.Embedding) == 0 && k.Fact != "" {
			targets = append(targets, embedTarget{text: k.Fact, dst: &k.Embedding})
		}
	}
	for i := range doc.Perceptions {
		p := &doc.Perceptions[i]
		if len(p.Embedding) == 0 && p.Text != "" {
			targets = append(targets, embedTarget{text: p.Text, dst: &p.Embedding})
		}
	}
	if len(targets) == 0 {
		return 0, nil
	}
	if s.embedder == nil {
		return 0, apperrors.InvalidParameter("import", "embed", "no embedder configured")
	}

	texts := make([]string, len(targets))
	for i, t := range targets {
		texts[i] = t.text
	}

	embeddings, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, err
	}
	if len(embeddings) != len(targets) {
		return 0, fmt.Errorf("embedder returned %d vectors for %d texts", len(embeddings), len(targets))
	}

	for i, t := range targets {
		*t.dst = embeddings[i]
	}

	return len(targets), nil
}

// entityText is the text embedded for an entity.
func entityText(e *entities.Entity) string {
	if e.Description == "" {
		return e.DisplayName()
	}
	return e.DisplayName() + ": " + e.Description
}

// save writes doc in dependency order: entities first, then the records that
// reference them.
func (s *ImportService) save(ctx context.Context, doc *parsers.Document, onConflict ConflictStrategy, result *ImportResult) error {
	for i := range doc.Entities {
		e := &doc.Entities[i]
		if onConflict == ConflictSkip {
			exists, err := s.exists(ctx, e.ID)
			if err != nil {
				return err
			}
			if exists {
				result.Skipped++
				continue
			}
		}
		if err := s.writer.SaveEntity(ctx, e); err != nil {
			return fmt.Errorf("saving entity %s: %w", e.ID, err)
		}
		result.Imported++
	}

	for i := range doc.Scenes {
		if err := s.writer.SaveScene(ctx, &doc.Scenes[i]); err != nil {
			return fmt.Errorf("saving scene %s: %w", doc.Scenes[i].ID, err)
		}
		result.Imported++
	}
	for i := range doc.Relationships {
		if err := s.writer.SaveRelationship(ctx, &doc.Relationships[i]); err != nil {
			return fmt.Errorf("saving relationship %s->%s: %w", doc.Relationships[i].FromID, doc.Relationships[i].ToID, err)
		}
		result.Imported++
	}
	for i := range doc.Facts {
		if err := s.writer.SaveFact(ctx, &doc.Facts[i]); err != nil {
			return fmt.Errorf("saving fact %q: %w", doc.Facts[i].Title, err)
		}
		result.Imported++
	}
	for i := range doc.Knowledge {
		if err := s.writer.AppendKnowledge(ctx, &doc.Knowledge[i]); err != nil {
			return fmt.Errorf("appending knowledge of %s: %w", doc.Knowledge[i].CharacterID, err)
		}
		result.Imported++
	}
	for i := range doc.Perceptions {
		if err := s.writer.AppendPerception(ctx, &doc.Perceptions[i]); err != nil {
			return fmt.Errorf("appending perception %s->%s: %w", doc.Perceptions[i].ObserverID, doc.Perceptions[i].TargetID, err)
		}
		result.Imported++
	}
	for i := range doc.Snapshots {
		raw := &doc.Snapshots[i]
		err := s.writer.AppendSnapshot(ctx, &entities.ArcSnapshot{
			EntityID:   raw.EntityID,
			Embedding:  raw.Embedding,
			RecordedAt: raw.RecordedAt,
			EventID:    raw.EventID,
		})
		if apperrors.IsCode(err, apperrors.CodeOutOfOrderSnapshot) {
			// already loaded, or older than the stored timeline
			result.Skipped++
			continue
		}
		if err != nil {
			return fmt.Errorf("appending snapshot of %s: %w", raw.EntityID, err)
		}
		result.Imported++
	}
	for _, id := range doc.Protected {
		if err := s.writer.SetProtected(ctx, id, true); err != nil {
			return fmt.Errorf("protecting %s: %w", id, err)
		}
		result.Imported++
	}

	return nil
}

func (s *ImportService) exists(ctx context.Context, id entities.EntityID) (bool, error) {
	_, err := s.reader.GetEntity(ctx, id)
	if apperrors.IsCode(err, apperrors.CodeNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("looking up %s: %w", id, err)
	}
	return true, nil
}
