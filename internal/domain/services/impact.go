package services

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/ersonp/narra-core/internal/domain/entities"
	apperrors "github.com/ersonp/narra-core/internal/domain/errors"
	"github.com/ersonp/narra-core/internal/domain/ports"
)

// Impact walk bounds.
const (
	MaxImpactDepth     = 8
	DefaultImpactDepth = 3
)

// ImpactSeverity grades how strongly a change reaches an entity.
type ImpactSeverity string

const (
	ImpactCritical ImpactSeverity = "critical"
	ImpactHigh     ImpactSeverity = "high"
	ImpactMedium   ImpactSeverity = "medium"
	ImpactLow      ImpactSeverity = "low"
)

func impactRank(s ImpactSeverity) int {
	switch s {
	case ImpactCritical:
		return 0
	case ImpactHigh:
		return 1
	case ImpactMedium:
		return 2
	}
	return 3
}

// impactSeverity maps walk distance and protection to a severity.
func impactSeverity(distance int, protected bool) ImpactSeverity {
	switch {
	case protected:
		return ImpactCritical
	case distance <= 1:
		return ImpactHigh
	case distance == 2:
		return ImpactMedium
	}
	return ImpactLow
}

// AffectedEntity is an entity a change may ripple into.
type AffectedEntity struct {
	EntityID  entities.EntityID   `json:"entity_id"`
	Name      string              `json:"name"`
	Type      entities.EntityType `json:"type"`
	Distance  int                 `json:"distance"`
	Direct    bool                `json:"direct"`
	Via       entities.EntityID   `json:"via"`
	Severity  ImpactSeverity      `json:"severity"`
	Protected bool                `json:"protected"`
	Reason    string              `json:"reason"`
}

// ImpactReport lists everything a change to one entity may affect.
type ImpactReport struct {
	EntityID           entities.EntityID      `json:"entity_id"`
	Description        string                 `json:"description,omitempty"`
	MaxDepth           int                    `json:"max_depth"`
	Affected           []AffectedEntity       `json:"affected"`
	Counts             map[ImpactSeverity]int `json:"counts"`
	Protected          bool                   `json:"protected"`
	HasProtectedImpact bool                   `json:"has_protected_impact"`
	Warnings           []string               `json:"warnings"`
}

// ImpactService estimates the ripple effects of changing an entity.
type ImpactService struct {
	graph        ports.GraphReader
	protection   ports.ProtectionReader
	defaultDepth int
}

// NewImpactService creates a new ImpactService. A zero depth selects DefaultImpactDepth.
func NewImpactService(graph ports.GraphReader, protection ports.ProtectionReader, defaultDepth int) *ImpactService {
	if defaultDepth == 0 {
		defaultDepth = DefaultImpactDepth
	}
	return &ImpactService{graph: graph, protection: protection, defaultDepth: defaultDepth}
}

// Analyze walks outward from id up to maxDepth hops. Zero maxDepth selects the
// configured default.
func (s *ImpactService) Analyze(ctx context.Context, id entities.EntityID, description string, maxDepth int) (*ImpactReport, error) {
	if maxDepth == 0 {
		maxDepth = s.defaultDepth
	}
	if maxDepth < 0 || maxDepth > MaxImpactDepth {
		return nil, apperrors.InvalidParameter("impact", "max_depth",
			fmt.Sprintf("%d is outside [1, %d]", maxDepth, MaxImpactDepth))
	}

	w := newReferenceWalker(s.graph)
	ok, err := w.exists(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.NotFound("impact", string(id))
	}

	protectedIDs, err := s.protection.ListProtected(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing protected entities: %w", err)
	}
	protected := make(map[entities.EntityID]bool, len(protectedIDs))
	for _, p := range protectedIDs {
		protected[p] = true
	}

	visits, err := w.walk(ctx, id, maxDepth)
	if err != nil {
		return nil, err
	}

	report := &ImpactReport{
		EntityID:    id,
		Description: description,
		MaxDepth:    maxDepth,
		Affected:    make([]AffectedEntity, 0, len(visits)),
		Counts:      map[ImpactSeverity]int{},
		Protected:   protected[id],
		Warnings:    []string{},
	}
	if report.Protected {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("%s is itself protected; changes require explicit review", id))
	}

	for _, v := range visits {
		e := w.known[v.EntityID]
		isProtected := protected[v.EntityID]
		a := AffectedEntity{
			EntityID:  v.EntityID,
			Name:      e.DisplayName(),
			Type:      e.Type,
			Distance:  v.Distance,
			Direct:    v.Distance == 1,
			Via:       v.Via,
			Severity:  impactSeverity(v.Distance, isProtected),
			Protected: isProtected,
		}
		switch {
		case isProtected:
			a.Reason = "protected entity, requires explicit review"
			report.HasProtectedImpact = true
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("protected entity %s may be affected by this change", v.EntityID))
		case a.Direct:
			a.Reason = "directly connected"
		default:
			a.Reason = fmt.Sprintf("connected through %s, %d hops away", v.Via, v.Distance)
		}
		report.Counts[a.Severity]++
		report.Affected = append(report.Affected, a)
	}

	sort.SliceStable(report.Affected, func(i, j int) bool {
		a, b := report.Affected[i], report.Affected[j]
		if impactRank(a.Severity) != impactRank(b.Severity) {
			return impactRank(a.Severity) < impactRank(b.Severity)
		}
		if a.Distance != b.Distance {
			return a.Distance < b.Distance
		}
		return a.EntityID < b.EntityID
	})
	return report, nil
}

// DecisionLog records authoring decisions and follow-ups deferred against them.
type DecisionLog struct {
	store ports.DecisionStore
}

// NewDecisionLog creates a new DecisionLog.
func NewDecisionLog(store ports.DecisionStore) *DecisionLog {
	return &DecisionLog{store: store}
}

// Record stores a decision. traced reports whether its implications were fully
// followed up at the time.
func (l *DecisionLog) Record(
	ctx context.Context,
	description, reasoning string,
	affected []entities.EntityID,
	traced bool,
) (*entities.Decision, error) {
	if strings.TrimSpace(description) == "" {
		return nil, apperrors.InvalidParameter("record decision", "description", "must not be empty")
	}
	d := &entities.Decision{
		ID:                 uuid.New().String(),
		Description:        description,
		Reasoning:          reasoning,
		AffectedEntities:   uniqueSorted(affected),
		ImplicationsTraced: traced,
		CreatedAt:          timeNow(),
	}
	if err := l.store.RecordDecision(ctx, d); err != nil {
		return nil, fmt.Errorf("recording decision: %w", err)
	}
	return d, nil
}

// Defer stores follow-ups for a decision, one per entity.
func (l *DecisionLog) Defer(ctx context.Context, decisionID string, followups map[entities.EntityID]string) ([]entities.DeferredImplication, error) {
	if decisionID == "" {
		return nil, apperrors.InvalidParameter("defer implications", "decision", "must not be empty")
	}
	if len(followups) == 0 {
		return nil, apperrors.New(apperrors.CodeEmptyInput, "no implications to defer")
	}
	now := timeNow()
	out := make([]entities.DeferredImplication, 0, len(followups))
	for _, id := range sortedKeys(followups) {
		out = append(out, entities.DeferredImplication{
			DecisionID:  decisionID,
			EntityID:    id,
			Description: followups[id],
			DeferredAt:  now,
		})
	}
	if err := l.store.DeferImplications(ctx, out); err != nil {
		return nil, fmt.Errorf("deferring implications: %w", err)
	}
	return out, nil
}

// Pending lists deferred implications, optionally including resolved ones.
func (l *DecisionLog) Pending(ctx context.Context, includeResolved bool) ([]entities.DeferredImplication, error) {
	list, err := l.store.ListDeferred(ctx, includeResolved)
	if err != nil {
		return nil, fmt.Errorf("listing deferred implications: %w", err)
	}
	if list == nil {
		list = []entities.DeferredImplication{}
	}
	return list, nil
}

// Resolve marks the implication of decisionID on entityID as handled.
func (l *DecisionLog) Resolve(ctx context.Context, decisionID string, entityID entities.EntityID) error {
	if err := l.store.ResolveImplication(ctx, decisionID, entityID); err != nil {
		return fmt.Errorf("resolving implication: %w", err)
	}
	return nil
}
