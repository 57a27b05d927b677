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

// KnowledgeState is a character's resolved stance toward one fact.
type KnowledgeState string

const (
	StateInformed    KnowledgeState = "informed"
	StateMisinformed KnowledgeState = "misinformed"
	StateUninformed  KnowledgeState = "uninformed"
	StateNeutral     KnowledgeState = "neutral"
)

// IronyOptions narrows an irony scan.
type IronyOptions struct {
	Characters []entities.EntityID // empty means every character
	TargetID   entities.EntityID
	Limit      int // 0 means no limit
}

// Asymmetry is one knowledge gap between two characters about a fact.
type Asymmetry struct {
	FactKey         string              `json:"fact_key"`
	Fact            string              `json:"fact"`
	TargetID        entities.EntityID   `json:"target_id"`
	InformedID      entities.EntityID   `json:"informed_id"`
	UninformedID    entities.EntityID   `json:"uninformed_id"`
	UninformedState KnowledgeState      `json:"uninformed_state"`
	Belief          string              `json:"belief,omitempty"`
	Onset           time.Time           `json:"onset"`
	Tension         *int                `json:"tension,omitempty"`
	SharedScenes    int                 `json:"shared_scenes"`
	SceneIDs        []entities.EntityID `json:"scene_ids,omitempty"`
}

// Key identifies the asymmetry independent of its scoring.
func (a *Asymmetry) Key() string {
	return a.FactKey + "#" + string(a.InformedID) + ">" + string(a.UninformedID)
}

// IronyReport is the ranked list of knowledge asymmetries.
type IronyReport struct {
	Asymmetries []Asymmetry `json:"asymmetries"`
	Facts       int         `json:"facts"`
	Characters  int         `json:"characters"`
}

// IronyService finds dramatic irony: facts one character knows and another does not.
type IronyService struct {
	entities    ports.EntityReader
	knowledge   ports.KnowledgeReader
	perceptions ports.PerceptionReader
	scenes      ports.SceneIndex
}

// NewIronyService creates a new IronyService.
func NewIronyService(
	entityReader ports.EntityReader,
	knowledge ports.KnowledgeReader,
	perceptions ports.PerceptionReader,
	scenes ports.SceneIndex,
) *IronyService {
	return &IronyService{
		entities:    entityReader,
		knowledge:   knowledge,
		perceptions: perceptions,
		scenes:      scenes,
	}
}

type factState struct {
	state  KnowledgeState
	latest *entities.KnowledgeRecord
	onset  time.Time
}

type characterPair struct {
	informed, other entities.EntityID
}

type pairContext struct {
	tension *int
	scenes  []entities.Scene
}

// Detect returns every knowledge asymmetry within the options' scope, ranked by
// tension, then fewest shared scenes, then earliest onset.
func (s *IronyService) Detect(ctx context.Context, opts IronyOptions) (*IronyReport, error) {
	if opts.Limit < 0 {
		return nil, apperrors.InvalidParameter("irony", "limit", "must not be negative")
	}

	characters, err := s.characterScope(ctx, opts.Characters)
	if err != nil {
		return nil, err
	}

	records, err := s.knowledge.ListKnowledge(ctx, ports.KnowledgeFilter{
		CharacterIDs: opts.Characters,
		TargetID:     opts.TargetID,
	})
	if err != nil {
		return nil, fmt.Errorf("listing knowledge: %w", err)
	}

	if len(opts.Characters) == 0 {
		seen := make(map[entities.EntityID]bool, len(characters))
		for _, id := range characters {
			seen[id] = true
		}
		for _, r := range records {
			if !seen[r.CharacterID] {
				seen[r.CharacterID] = true
				characters = append(characters, r.CharacterID)
			}
		}
		characters = uniqueSorted(characters)
	}

	facts := groupByFact(records)
	keys := make([]string, 0, len(facts))
	for k := range facts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var found []Asymmetry
	for _, key := range keys {
		states := facts[key]
		for _, informed := range characters {
			is := states[informed]
			if is == nil || is.state != StateInformed {
				continue
			}
			for _, other := range characters {
				if other == informed {
					continue
				}
				a := Asymmetry{
					FactKey:         key,
					Fact:            is.latest.Fact,
					TargetID:        is.latest.TargetID,
					InformedID:      informed,
					UninformedID:    other,
					UninformedState: StateUninformed,
					Onset:           is.onset,
				}
				if ot := states[other]; ot != nil {
					if ot.state != StateMisinformed {
						continue
					}
					a.UninformedState = StateMisinformed
					a.Belief = ot.latest.Fact
				}
				found = append(found, a)
			}
		}
	}

	if err := s.scorePairs(ctx, found); err != nil {
		return nil, err
	}
	sortAsymmetries(found)

	if opts.Limit > 0 && len(found) > opts.Limit {
		found = found[:opts.Limit]
	}
	if found == nil {
		found = []Asymmetry{}
	}
	return &IronyReport{Asymmetries: found, Facts: len(keys), Characters: len(characters)}, nil
}

func (s *IronyService) characterScope(ctx context.Context, scope []entities.EntityID) ([]entities.EntityID, error) {
	if len(scope) > 0 {
		return uniqueSorted(scope), nil
	}
	list, err := s.entities.ListEntitiesByType(ctx, entities.EntityCharacter)
	if err != nil {
		return nil, fmt.Errorf("listing characters: %w", err)
	}
	ids := make([]entities.EntityID, len(list))
	for i := range list {
		ids[i] = list[i].ID
	}
	return ids, nil
}

// groupByFact resolves each character's stance per fact. records must be in
// ledger order so the last record per character is the latest.
func groupByFact(records []entities.KnowledgeRecord) map[string]map[entities.EntityID]*factState {
	byFact := make(map[string]map[entities.EntityID][]*entities.KnowledgeRecord)
	for i := range records {
		r := &records[i]
		key := r.FactKey()
		if byFact[key] == nil {
			byFact[key] = make(map[entities.EntityID][]*entities.KnowledgeRecord)
		}
		byFact[key][r.CharacterID] = append(byFact[key][r.CharacterID], r)
	}

	out := make(map[string]map[entities.EntityID]*factState, len(byFact))
	for key, perChar := range byFact {
		out[key] = make(map[entities.EntityID]*factState, len(perChar))
		for id, recs := range perChar {
			latest := recs[len(recs)-1]
			st := &factState{latest: latest, state: StateNeutral}
			switch {
			case latest.Certainty.Informed():
				st.state = StateInformed
				i := len(recs) - 1
				for i > 0 && recs[i-1].Certainty.Informed() {
					i--
				}
				st.onset = recs[i].LearnedAt
			case latest.Certainty.Misinformed():
				st.state = StateMisinformed
			}
			out[key][id] = st
		}
	}
	return out
}

// scorePairs fills tension and shared scene counts, fetching each character
// pair once with bounded concurrency.
func (s *IronyService) scorePairs(ctx context.Context, found []Asymmetry) error {
	index := make(map[characterPair]int)
	var pairs []characterPair
	for _, a := range found {
		p := characterPair{informed: a.InformedID, other: a.UninformedID}
		if _, ok := index[p]; !ok {
			index[p] = len(pairs)
			pairs = append(pairs, p)
		}
	}

	results := make([]pairContext, len(pairs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fanOutLimit)
	for i, p := range pairs {
		g.Go(func() error {
			pc, err := s.pairContext(gctx, p.informed, p.other)
			if err != nil {
				return err
			}
			results[i] = pc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i := range found {
		a := &found[i]
		pc := results[index[characterPair{informed: a.InformedID, other: a.UninformedID}]]
		a.Tension = pc.tension
		for _, sc := range pc.scenes {
			if sc.OccurredAt.After(a.Onset) {
				a.SharedScenes++
				a.SceneIDs = append(a.SceneIDs, sc.ID)
			}
		}
	}
	return nil
}

func (s *IronyService) pairContext(ctx context.Context, a, b entities.EntityID) (pairContext, error) {
	var pc pairContext
	for _, dir := range [][2]entities.EntityID{{a, b}, {b, a}} {
		list, err := s.perceptions.ListPerceptions(ctx, ports.PerceptionFilter{ObserverID: dir[0], TargetID: dir[1]})
		if err != nil {
			return pc, fmt.Errorf("listing perceptions of %s by %s: %w", dir[1], dir[0], err)
		}
		if len(list) == 0 || list[len(list)-1].Tension == nil {
			continue
		}
		if t := *list[len(list)-1].Tension; pc.tension == nil || t > *pc.tension {
			pc.tension = &t
		}
	}

	scenes, err := s.scenes.ListScenesByParticipants(ctx, []entities.EntityID{a, b})
	if err != nil {
		return pc, fmt.Errorf("listing shared scenes of %s and %s: %w", a, b, err)
	}
	pc.scenes = scenes
	return pc, nil
}

func sortAsymmetries(list []Asymmetry) {
	sort.Slice(list, func(i, j int) bool {
		a, b := &list[i], &list[j]
		switch {
		case a.Tension != nil && b.Tension == nil:
			return true
		case a.Tension == nil && b.Tension != nil:
			return false
		case a.Tension != nil && *a.Tension != *b.Tension:
			return *a.Tension > *b.Tension
		}
		if a.SharedScenes != b.SharedScenes {
			return a.SharedScenes < b.SharedScenes
		}
		if !a.Onset.Equal(b.Onset) {
			return a.Onset.Before(b.Onset)
		}
		if a.FactKey != b.FactKey {
			return a.FactKey < b.FactKey
		}
		if a.InformedID != b.InformedID {
			return a.InformedID < b.InformedID
		}
		return a.UninformedID < b.UninformedID
	})
}
