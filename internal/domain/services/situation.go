package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ersonp/narra-core/internal/domain/entities"
	apperrors "github.com/ersonp/narra-core/internal/domain/errors"
	"github.com/ersonp/narra-core/internal/domain/ports"
)

// Situation report section sizes.
const (
	SituationIronyLimit     = 5
	SituationTensionLimit   = 10
	SituationCentralLimit   = 3
	SituationMoverLimit     = 5
	HighTensionThreshold    = 7
	situationFalseBeliefCap = 10
)

// FalseBelief is a character whose latest stance on a fact is misinformed.
type FalseBelief struct {
	CharacterID entities.EntityID `json:"character_id"`
	TargetID    entities.EntityID `json:"target_id"`
	FactKey     string            `json:"fact_key"`
	Belief      string            `json:"belief"`
	Since       time.Time         `json:"since"`
}

// TensionPair is the latest perception between two characters when it runs hot.
type TensionPair struct {
	ObserverID entities.EntityID `json:"observer_id"`
	TargetID   entities.EntityID `json:"target_id"`
	Tension    int               `json:"tension"`
	Feelings   string            `json:"feelings,omitempty"`
}

// SituationReport summarizes the state of the narrative in one pass.
type SituationReport struct {
	IronyHighlights   []Asymmetry           `json:"irony_highlights"`
	FalseBeliefs      []FalseBelief         `json:"false_beliefs"`
	HighTensionPairs  []TensionPair         `json:"high_tension_pairs"`
	ThemeCount        int                   `json:"theme_count"`
	CentralCharacters []CharacterCentrality `json:"central_characters"`
	ArcMovers         []DriftResult         `json:"arc_movers,omitempty"`
	Suggestions       []string              `json:"suggestions"`
}

// SituationService composes the other analyses into a narrative overview.
type SituationService struct {
	irony       *IronyService
	centrality  *CentralityService
	themes      *ThemeService
	arcs        *ArcService
	knowledge   ports.KnowledgeReader
	perceptions ports.PerceptionReader
}

// NewSituationService creates a new SituationService. arcs may be nil, in
// which case the report carries no arc movers.
func NewSituationService(
	irony *IronyService,
	centrality *CentralityService,
	themes *ThemeService,
	arcs *ArcService,
	knowledge ports.KnowledgeReader,
	perceptions ports.PerceptionReader,
) *SituationService {
	return &SituationService{
		irony:       irony,
		centrality:  centrality,
		themes:      themes,
		arcs:        arcs,
		knowledge:   knowledge,
		perceptions: perceptions,
	}
}

// Report runs every section concurrently and derives suggestions from them.
func (s *SituationService) Report(ctx context.Context) (*SituationReport, error) {
	report := &SituationReport{}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		irony, err := s.irony.Detect(gctx, IronyOptions{Limit: SituationIronyLimit})
		if err != nil {
			return fmt.Errorf("irony: %w", err)
		}
		report.IronyHighlights = irony.Asymmetries
		return nil
	})
	g.Go(func() error {
		beliefs, err := s.falseBeliefs(gctx)
		if err != nil {
			return err
		}
		report.FalseBeliefs = beliefs
		return nil
	})
	g.Go(func() error {
		pairs, err := s.highTension(gctx)
		if err != nil {
			return err
		}
		report.HighTensionPairs = pairs
		return nil
	})
	g.Go(func() error {
		themes, err := s.themes.Cluster(gctx, ThemeOptions{
			Types: []entities.EntityType{entities.EntityCharacter, entities.EntityEvent, entities.EntityScene},
		})
		switch {
		case apperrors.IsCode(err, apperrors.CodeInsufficientEntities),
			apperrors.IsCode(err, apperrors.CodeDimensionMismatch):
			return nil
		case err != nil:
			return fmt.Errorf("themes: %w", err)
		}
		report.ThemeCount = themes.K
		return nil
	})
	g.Go(func() error {
		central, err := s.centrality.Compute(gctx, CentralityOptions{Limit: SituationCentralLimit})
		if err != nil {
			return fmt.Errorf("centrality: %w", err)
		}
		report.CentralCharacters = central.Characters
		return nil
	})
	if s.arcs != nil {
		g.Go(func() error {
			ranked, err := s.arcs.RankByDrift(gctx, []entities.EntityType{entities.EntityCharacter}, 0)
			if err != nil {
				return fmt.Errorf("arcs: %w", err)
			}
			for _, r := range ranked {
				if r.Drift <= 0 || len(report.ArcMovers) == SituationMoverLimit {
					break
				}
				report.ArcMovers = append(report.ArcMovers, r)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report.Suggestions = suggest(report)
	return report, nil
}

func (s *SituationService) falseBeliefs(ctx context.Context) ([]FalseBelief, error) {
	records, err := s.knowledge.ListKnowledge(ctx, ports.KnowledgeFilter{})
	if err != nil {
		return nil, fmt.Errorf("listing knowledge: %w", err)
	}

	facts := groupByFact(records)
	keys := make([]string, 0, len(facts))
	for k := range facts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := []FalseBelief{}
	for _, key := range keys {
		states := facts[key]
		ids := make([]entities.EntityID, 0, len(states))
		for id := range states {
			ids = append(ids, id)
		}
		ids = uniqueSorted(ids)
		for _, id := range ids {
			st := states[id]
			if st.state != StateMisinformed {
				continue
			}
			out = append(out, FalseBelief{
				CharacterID: id,
				TargetID:    st.latest.TargetID,
				FactKey:     key,
				Belief:      st.latest.Fact,
				Since:       st.latest.LearnedAt,
			})
		}
	}
	if len(out) > situationFalseBeliefCap {
		out = out[:situationFalseBeliefCap]
	}
	return out, nil
}

func (s *SituationService) highTension(ctx context.Context) ([]TensionPair, error) {
	perceptions, err := s.perceptions.ListPerceptions(ctx, ports.PerceptionFilter{})
	if err != nil {
		return nil, fmt.Errorf("listing perceptions: %w", err)
	}

	type direction struct{ from, to entities.EntityID }
	latest := make(map[direction]*entities.Perception)
	for i := range perceptions {
		p := &perceptions[i]
		latest[direction{p.ObserverID, p.TargetID}] = p
	}

	out := []TensionPair{}
	for _, p := range latest {
		if p.Tension == nil || *p.Tension < HighTensionThreshold {
			continue
		}
		out = append(out, TensionPair{
			ObserverID: p.ObserverID,
			TargetID:   p.TargetID,
			Tension:    *p.Tension,
			Feelings:   p.Feelings,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Tension != b.Tension {
			return a.Tension > b.Tension
		}
		if a.ObserverID != b.ObserverID {
			return a.ObserverID < b.ObserverID
		}
		return a.TargetID < b.TargetID
	})
	if len(out) > SituationTensionLimit {
		out = out[:SituationTensionLimit]
	}
	return out, nil
}

func suggest(r *SituationReport) []string {
	var out []string
	if len(r.IronyHighlights) > 0 {
		a := r.IronyHighlights[0]
		out = append(out, fmt.Sprintf("Consider a reveal scene: %s knows %q but %s does not.",
			a.InformedID, a.Fact, a.UninformedID))
	}
	if n := len(r.FalseBeliefs); n > 0 {
		out = append(out, fmt.Sprintf("%d false belief(s) are waiting to be corrected, starting with %s.",
			n, r.FalseBeliefs[0].CharacterID))
	}
	if len(r.HighTensionPairs) > 0 {
		p := r.HighTensionPairs[0]
		out = append(out, fmt.Sprintf("Tension between %s and %s is at %d/10 and could break into confrontation.",
			p.ObserverID, p.TargetID, p.Tension))
	}
	if len(out) == 0 {
		out = append(out, "The narrative is stable. Consider introducing a new secret or conflict.")
	}
	return out
}
