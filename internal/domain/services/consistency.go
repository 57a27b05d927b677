package services

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/ersonp/narra-core/internal/domain/entities"
	apperrors "github.com/ersonp/narra-core/internal/domain/errors"
	"github.com/ersonp/narra-core/internal/domain/ports"
)

// Severity grades a consistency violation.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

func severityRank(s Severity) int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityWarning:
		return 1
	}
	return 2
}

// Rule names.
const (
	RuleReferential  = "referential"
	RuleTimeline     = "timeline"
	RuleFact         = "fact"
	RuleRelationship = "relationship"
)

// Violation titles that carry a canned suggested fix.
const (
	titleMissingReference     = "Missing reference"
	titleEventOrder           = "Timeline: Event order conflict"
	titleMissingAnchor        = "Timeline: Missing scene anchor"
	titleInvalidAnchor        = "Timeline: Invalid scene anchor"
	titleKnowledgeBeforeLearn = "Timeline: Knowledge before learning"
	titleImpossibleState      = "Impossible relationship state"
	titleAsymmetry            = "Relationship asymmetry"
)

// negationWords are searched for shortly before a fact keyword.
var negationWords = []string{"no ", "not ", "cannot ", "never ", "without ", "lacks "}

// negationWindow is how many bytes before a keyword are searched for a negation.
const negationWindow = 20

// Violation is one consistency problem found on an entity.
type Violation struct {
	Rule         string              `json:"rule"`
	Severity     Severity            `json:"severity"`
	EntityID     entities.EntityID   `json:"entity_id"`
	Title        string              `json:"title"`
	Message      string              `json:"message"`
	Confidence   float64             `json:"confidence"`
	FactID       string              `json:"fact_id,omitempty"`
	RelatedIDs   []entities.EntityID `json:"related_ids,omitempty"`
	Intentional  bool                `json:"intentional,omitempty"`
	SuggestedFix string              `json:"suggested_fix,omitempty"`
}

// ValidationResult collects the violations of one or more entities.
type ValidationResult struct {
	EntityID    entities.EntityID `json:"entity_id,omitempty"`
	Checked     int               `json:"checked"`
	Violations  []Violation       `json:"violations"`
	Counts      map[Severity]int  `json:"counts"`
	IsValid     bool              `json:"is_valid"`
	HasBlocking bool              `json:"has_blocking"`
}

func newValidationResult(id entities.EntityID) *ValidationResult {
	return &ValidationResult{
		EntityID:   id,
		Violations: []Violation{},
		Counts:     map[Severity]int{SeverityCritical: 0, SeverityWarning: 0, SeverityInfo: 0},
		IsValid:    true,
	}
}

func (r *ValidationResult) add(vs ...Violation) {
	for _, v := range vs {
		if v.SuggestedFix == "" {
			v.SuggestedFix = suggestFix(&v)
		}
		r.Violations = append(r.Violations, v)
		r.Counts[v.Severity]++
		if v.Severity == SeverityCritical {
			r.IsValid = false
			r.HasBlocking = true
		}
	}
}

func (r *ValidationResult) sortViolations() {
	sort.SliceStable(r.Violations, func(i, j int) bool {
		a, b := &r.Violations[i], &r.Violations[j]
		if severityRank(a.Severity) != severityRank(b.Severity) {
			return severityRank(a.Severity) < severityRank(b.Severity)
		}
		if a.EntityID != b.EntityID {
			return a.EntityID < b.EntityID
		}
		if a.Rule != b.Rule {
			return a.Rule < b.Rule
		}
		return a.Message < b.Message
	})
}

// Investigation is a validation of an entity and everything connected to it.
type Investigation struct {
	ValidationResult
	Root     entities.EntityID `json:"root"`
	MaxDepth int               `json:"max_depth"`
	Visited  []Visit           `json:"visited"`
}

// ConsistencyService checks entities against referential, temporal and
// universe-fact rules.
type ConsistencyService struct {
	graph ports.GraphReader
	facts ports.FactReader
}

// NewConsistencyService creates a new ConsistencyService.
func NewConsistencyService(graph ports.GraphReader, facts ports.FactReader) *ConsistencyService {
	return &ConsistencyService{graph: graph, facts: facts}
}

// Validate checks a single entity.
func (s *ConsistencyService) Validate(ctx context.Context, id entities.EntityID) (*ValidationResult, error) {
	w := newReferenceWalker(s.graph)
	ok, err := w.exists(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.NotFound("validate", string(id))
	}

	result := newValidationResult(id)
	vs, err := s.check(ctx, w, id)
	if err != nil {
		return nil, err
	}
	result.Checked = 1
	result.add(vs...)
	result.sortViolations()
	return result, nil
}

// ValidateAll checks every entity of the given types. No types means everything.
func (s *ConsistencyService) ValidateAll(ctx context.Context, types []entities.EntityType) (*ValidationResult, error) {
	list, err := s.graph.ListEntitiesByType(ctx, types...)
	if err != nil {
		return nil, fmt.Errorf("listing entities: %w", err)
	}
	w := newReferenceWalker(s.graph)
	if err := w.load(ctx); err != nil {
		return nil, err
	}

	found := make([][]Violation, len(list))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fanOutLimit)
	for i := range list {
		g.Go(func() error {
			vs, err := s.check(gctx, w, list[i].ID)
			if err != nil {
				return err
			}
			found[i] = vs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := newValidationResult("")
	result.Checked = len(list)
	for _, vs := range found {
		result.add(vs...)
	}
	result.sortViolations()
	return result, nil
}

// Investigate validates id and every entity within maxDepth reference hops.
func (s *ConsistencyService) Investigate(ctx context.Context, id entities.EntityID, maxDepth int) (*Investigation, error) {
	if maxDepth < 0 || maxDepth > MaxImpactDepth {
		return nil, apperrors.InvalidParameter("investigate", "max_depth",
			fmt.Sprintf("%d is outside [0, %d]", maxDepth, MaxImpactDepth))
	}
	w := newReferenceWalker(s.graph)
	ok, err := w.exists(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.NotFound("investigate", string(id))
	}

	visits, err := w.walk(ctx, id, maxDepth)
	if err != nil {
		return nil, err
	}

	inv := &Investigation{
		ValidationResult: *newValidationResult(id),
		Root:             id,
		MaxDepth:         maxDepth,
		Visited:          visits,
	}
	if inv.Visited == nil {
		inv.Visited = []Visit{}
	}
	ids := []entities.EntityID{id}
	for _, v := range visits {
		ids = append(ids, v.EntityID)
	}
	for _, e := range ids {
		vs, err := s.check(ctx, w, e)
		if err != nil {
			return nil, err
		}
		inv.add(vs...)
	}
	inv.Checked = len(ids)
	inv.sortViolations()
	return inv, nil
}

// check runs every rule against one entity. w must be loaded.
func (s *ConsistencyService) check(ctx context.Context, w *referenceWalker, id entities.EntityID) ([]Violation, error) {
	e := w.known[id]
	var out []Violation

	rules := []func(context.Context, *referenceWalker, *entities.Entity) ([]Violation, error){
		s.checkReferences,
		s.checkTimeline,
		s.checkFacts,
		s.checkRelationships,
	}
	for _, rule := range rules {
		vs, err := rule(ctx, w, e)
		if err != nil {
			return nil, err
		}
		out = append(out, vs...)
	}
	return out, nil
}

func (s *ConsistencyService) checkReferences(ctx context.Context, w *referenceWalker, e *entities.Entity) ([]Violation, error) {
	var out []Violation
	missing := func(ref entities.EntityID, what string) {
		if ref == "" {
			return
		}
		if _, ok := w.known[ref]; ok {
			return
		}
		out = append(out, Violation{
			Rule:       RuleReferential,
			Severity:   SeverityCritical,
			EntityID:   e.ID,
			Title:      titleMissingReference,
			Message:    fmt.Sprintf("%s references %s %s which does not exist", e.ID, what, ref),
			Confidence: 1,
			RelatedIDs: []entities.EntityID{ref},
		})
	}

	for _, ref := range e.Refs {
		missing(ref, "entity")
	}

	if e.Type == entities.EntityScene {
		for i := range w.scenes {
			if w.scenes[i].ID == e.ID {
				for _, p := range w.scenes[i].Participants {
					missing(p, "participant")
				}
			}
		}
	}

	held, err := s.graph.ListKnowledge(ctx, ports.KnowledgeFilter{CharacterIDs: []entities.EntityID{e.ID}})
	if err != nil {
		return nil, fmt.Errorf("listing knowledge of %s: %w", e.ID, err)
	}
	for _, k := range held {
		missing(k.TargetID, "knowledge target")
		missing(k.SourceCharacterID, "knowledge source")
		missing(k.EventID, "learning event")
	}

	rels, err := s.graph.ListRelationships(ctx, ports.RelationshipFilter{EntityID: e.ID})
	if err != nil {
		return nil, fmt.Errorf("listing relationships of %s: %w", e.ID, err)
	}
	for i := range rels {
		missing(rels[i].Other(e.ID), "related entity")
	}
	return out, nil
}

func (s *ConsistencyService) checkTimeline(ctx context.Context, w *referenceWalker, e *entities.Entity) ([]Violation, error) {
	var out []Violation

	if e.Type == entities.EntityEvent && e.Sequence != 0 && e.OccurredAt != nil {
		for _, other := range sortedKeys(w.known) {
			o := w.known[other]
			if o.ID == e.ID || o.Type != entities.EntityEvent || o.Sequence == 0 || o.OccurredAt == nil {
				continue
			}
			seqBefore := e.Sequence < o.Sequence
			dateBefore := e.OccurredAt.Before(*o.OccurredAt)
			if e.Sequence != o.Sequence && !e.OccurredAt.Equal(*o.OccurredAt) && seqBefore != dateBefore {
				out = append(out, Violation{
					Rule:       RuleTimeline,
					Severity:   SeverityWarning,
					EntityID:   e.ID,
					Title:      titleEventOrder,
					Message:    fmt.Sprintf("%s (sequence %d) and %s (sequence %d) are dated in the opposite order", e.ID, e.Sequence, o.ID, o.Sequence),
					Confidence: 0.8,
					RelatedIDs: []entities.EntityID{o.ID},
				})
			}
		}
	}

	if e.Type == entities.EntityScene {
		for i := range w.scenes {
			sc := &w.scenes[i]
			if sc.ID != e.ID {
				continue
			}
			out = append(out, checkAnchor(w, e.ID, sc.EventID, entities.EntityEvent)...)
			out = append(out, checkAnchor(w, e.ID, sc.LocationID, entities.EntityLocation)...)
		}
	}

	held, err := s.graph.ListKnowledge(ctx, ports.KnowledgeFilter{CharacterIDs: []entities.EntityID{e.ID}})
	if err != nil {
		return nil, fmt.Errorf("listing knowledge of %s: %w", e.ID, err)
	}
	for _, k := range held {
		if k.EventID == "" {
			continue
		}
		event, ok := w.known[k.EventID]
		if !ok || event.OccurredAt == nil || !k.LearnedAt.Before(*event.OccurredAt) {
			continue
		}
		strict, err := s.strictFactApplies(ctx, k.TargetID)
		if err != nil {
			return nil, err
		}
		sev := SeverityWarning
		if strict {
			sev = SeverityCritical
		}
		out = append(out, Violation{
			Rule:     RuleTimeline,
			Severity: sev,
			EntityID: e.ID,
			Title:    titleKnowledgeBeforeLearn,
			Message: fmt.Sprintf("%s knows about %s at %s, before learning it at %s (%s)",
				e.ID, k.TargetID, k.LearnedAt.Format("2006-01-02"), event.DisplayName(), event.OccurredAt.Format("2006-01-02")),
			Confidence: 0.9,
			RelatedIDs: []entities.EntityID{k.TargetID, k.EventID},
		})
	}
	return out, nil
}

func checkAnchor(w *referenceWalker, scene, anchor entities.EntityID, want entities.EntityType) []Violation {
	if anchor == "" {
		return nil
	}
	target, ok := w.known[anchor]
	if !ok {
		return []Violation{{
			Rule:       RuleTimeline,
			Severity:   SeverityWarning,
			EntityID:   scene,
			Title:      titleMissingAnchor,
			Message:    fmt.Sprintf("%s is anchored to %s %s which does not exist", scene, want, anchor),
			Confidence: 1,
			RelatedIDs: []entities.EntityID{anchor},
		}}
	}
	if target.Type != want {
		return []Violation{{
			Rule:       RuleTimeline,
			Severity:   SeverityCritical,
			EntityID:   scene,
			Title:      titleInvalidAnchor,
			Message:    fmt.Sprintf("%s is anchored to %s, a %s rather than a %s", scene, anchor, target.Type, want),
			Confidence: 1,
			RelatedIDs: []entities.EntityID{anchor},
		}}
	}
	return nil
}

func (s *ConsistencyService) strictFactApplies(ctx context.Context, target entities.EntityID) (bool, error) {
	if target == "" {
		return false, nil
	}
	facts, err := s.facts.ListFacts(ctx, ports.FactFilter{EntityID: target})
	if err != nil {
		return false, fmt.Errorf("listing facts for %s: %w", target, err)
	}
	for _, f := range facts {
		if f.Enforcement == entities.EnforcementStrict {
			return true, nil
		}
	}
	return false, nil
}

func (s *ConsistencyService) checkFacts(ctx context.Context, _ *referenceWalker, e *entities.Entity) ([]Violation, error) {
	facts, err := s.facts.ListFacts(ctx, ports.FactFilter{EntityID: e.ID, Categories: e.Categories})
	if err != nil {
		return nil, fmt.Errorf("listing facts for %s: %w", e.ID, err)
	}

	text := strings.ToLower(e.Name + " " + e.Description)
	intentional := e.Type == entities.EntityKnowledge

	var out []Violation
	for _, f := range facts {
		title := strings.ToLower(f.Title)
		desc := strings.ToLower(f.Description)
		if !violatesFact(text, title, desc) {
			continue
		}
		confidence := factConfidence(text, title)
		out = append(out, Violation{
			Rule:        RuleFact,
			Severity:    factSeverity(f.Enforcement, confidence, intentional),
			EntityID:    e.ID,
			Title:       f.Title,
			Message:     fmt.Sprintf("Entity may violate fact: %s. %s", f.Title, f.Description),
			Confidence:  confidence,
			FactID:      f.ID,
			Intentional: intentional,
		})
	}
	return out, nil
}

// violatesFact looks for a negation shortly before any fact keyword, or for
// the forbidden term of a prohibition fact.
func violatesFact(text, title, desc string) bool {
	keywords := append(factKeywords(title), factKeywords(desc)...)
	for _, kw := range keywords {
		pos := strings.Index(text, kw)
		if pos < 0 {
			continue
		}
		window := text[max(0, pos-negationWindow):pos]
		for _, neg := range negationWords {
			if strings.Contains(window, neg) {
				return true
			}
		}
	}

	if strings.HasPrefix(title, "no ") || strings.Contains(desc, "prohibited") {
		forbidden := strings.TrimSpace(strings.TrimPrefix(title, "no "))
		if forbidden != "" && strings.Contains(text, forbidden) {
			return true
		}
	}
	return false
}

// factConfidence scales the share of title keywords present in text to [0.3, 0.9].
func factConfidence(text, title string) float64 {
	keywords := factKeywords(title)
	if len(keywords) == 0 {
		return 0.5
	}
	matched := 0
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			matched++
		}
	}
	return 0.3 + 0.6*float64(matched)/float64(len(keywords))
}

func factKeywords(s string) []string {
	var out []string
	for _, w := range strings.Fields(s) {
		if len(w) > 3 {
			out = append(out, w)
		}
	}
	return out
}

func factSeverity(enforcement entities.Enforcement, confidence float64, intentional bool) Severity {
	if intentional {
		return SeverityInfo
	}
	switch {
	case enforcement == entities.EnforcementStrict && confidence > 0.5:
		return SeverityCritical
	case enforcement == entities.EnforcementWarning && confidence > 0.5:
		return SeverityWarning
	}
	return SeverityInfo
}

// checkRelationships flags mutual parent or child claims and, between
// characters that perceive each other, diverging feelings.
func (s *ConsistencyService) checkRelationships(ctx context.Context, _ *referenceWalker, e *entities.Entity) ([]Violation, error) {
	if e.Type != entities.EntityCharacter {
		return nil, nil
	}
	rels, err := s.graph.ListRelationships(ctx, ports.RelationshipFilter{EntityID: e.ID})
	if err != nil {
		return nil, fmt.Errorf("listing relationships of %s: %w", e.ID, err)
	}

	claims := make(map[entities.EntityID]map[string]bool) // other -> "out:parent", "in:parent", ...
	types := make(map[entities.EntityID]map[entities.RelationType]bool)
	for _, r := range rels {
		other := r.Other(e.ID)
		if claims[other] == nil {
			claims[other] = make(map[string]bool)
			types[other] = make(map[entities.RelationType]bool)
		}
		types[other][r.Type] = true
		if r.Subtype == "" {
			continue
		}
		dir := "out:"
		if r.ToID == e.ID && r.FromID != e.ID {
			dir = "in:"
		}
		claims[other][dir+r.Subtype] = true
		if r.Bidirectional {
			claims[other]["out:"+r.Subtype] = true
			claims[other]["in:"+r.Subtype] = true
		}
	}

	var out []Violation
	for _, other := range sortedKeys(claims) {
		c := claims[other]
		for _, sub := range []string{entities.SubtypeParent, entities.SubtypeChild} {
			if c["out:"+sub] && c["in:"+sub] {
				out = append(out, Violation{
					Rule:       RuleRelationship,
					Severity:   SeverityCritical,
					EntityID:   e.ID,
					Title:      titleImpossibleState,
					Message:    fmt.Sprintf("Circular %s relationship: %s is %s of %s AND vice versa", sub, e.ID, sub, other),
					Confidence: 1,
					RelatedIDs: []entities.EntityID{other},
				})
			}
		}
	}

	outgoing, err := s.graph.ListPerceptions(ctx, ports.PerceptionFilter{ObserverID: e.ID})
	if err != nil {
		return nil, fmt.Errorf("listing perceptions by %s: %w", e.ID, err)
	}
	latest := make(map[entities.EntityID]entities.Perception)
	for _, p := range outgoing {
		latest[p.TargetID] = p
	}
	for _, other := range sortedKeys(latest) {
		ab := latest[other]
		back, err := s.graph.ListPerceptions(ctx, ports.PerceptionFilter{ObserverID: other, TargetID: e.ID})
		if err != nil {
			return nil, fmt.Errorf("listing perceptions by %s: %w", other, err)
		}
		if len(back) == 0 {
			continue
		}
		ba := back[len(back)-1]
		if ab.Feelings == "" || ba.Feelings == "" || strings.EqualFold(ab.Feelings, ba.Feelings) {
			continue
		}
		kind, sev := "relationship", SeverityInfo
		switch t := types[other]; {
		case t[entities.RelationFamily]:
			kind, sev = "family", SeverityWarning
		case t[entities.RelationProfessional]:
			kind, sev = "professional", SeverityWarning
		case t[entities.RelationRomantic]:
			kind = "romantic"
		case t[entities.RelationAntagonistic]:
			kind = "antagonistic"
		}
		out = append(out, Violation{
			Rule:     RuleRelationship,
			Severity: sev,
			EntityID: e.ID,
			Title:    titleAsymmetry,
			Message: fmt.Sprintf("Asymmetric %s relationship: %s feels '%s' but %s feels '%s'",
				kind, e.ID, ab.Feelings, other, ba.Feelings),
			Confidence: 0.6,
			RelatedIDs: []entities.EntityID{other},
		})
	}
	return out, nil
}

func suggestFix(v *Violation) string {
	switch v.Title {
	case titleKnowledgeBeforeLearn:
		return "Move the learning event before this knowledge, or correct when it was learned"
	case titleImpossibleState:
		return "Remove one parent/child relationship - characters cannot be mutual parents/children"
	case titleAsymmetry:
		return "Review if asymmetry is intentional dramatic tension or an error"
	case titleMissingReference:
		return "Create the missing entity or remove the reference"
	case titleMissingAnchor, titleInvalidAnchor:
		return "Anchor the scene to an existing entity of the right type"
	case titleEventOrder:
		return "Align the event's sequence number with its date"
	}
	if v.Rule == RuleFact {
		return "Review entity against the universe fact, update entity or adjust fact scope"
	}
	return ""
}
