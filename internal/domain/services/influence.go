package services

import (
	"context"
	"fmt"
	"sort"

	"github.com/ersonp/narra-core/internal/domain/entities"
	apperrors "github.com/ersonp/narra-core/internal/domain/errors"
	"github.com/ersonp/narra-core/internal/domain/ports"
)

// MaxInfluenceDepth is the hop ceiling for influence propagation.
const MaxInfluenceDepth = 8

// Influence defaults.
const (
	DefaultInfluenceDepth = 3
	DefaultMinLikelihood  = 0.05
)

// DefaultRelationWeights returns the per-type probability that information
// crosses a relationship.
func DefaultRelationWeights() map[entities.RelationType]float64 {
	return map[entities.RelationType]float64{
		entities.RelationFamily:       0.9,
		entities.RelationMentorship:   0.9,
		entities.RelationRomantic:     0.85,
		entities.RelationProfessional: 0.8,
		entities.RelationSocial:       0.7,
		entities.RelationCustom:       0.6,
		entities.RelationAntagonistic: 0.3,
	}
}

// InfluenceConfig holds propagation defaults. Zero values select the package defaults.
type InfluenceConfig struct {
	MaxDepth      int
	MinLikelihood float64
	Weights       map[entities.RelationType]float64
}

// InfluenceOptions describes one propagation. Zero MaxDepth and MinLikelihood
// select the configured defaults. A fact is named either by FactRef or by the
// FactKey irony reports, which also covers facts without a reference.
type InfluenceOptions struct {
	Seed          entities.EntityID
	FactRef       string
	FactKey       string
	MaxDepth      int
	MinLikelihood float64
}

// Reach is one entity reached from the seed.
type Reach struct {
	EntityID     entities.EntityID   `json:"entity_id"`
	Likelihood   float64             `json:"likelihood"`
	Hops         int                 `json:"hops"`
	Path         []entities.EntityID `json:"path"`
	ShortestPath []entities.EntityID `json:"shortest_path"`
	AlreadyKnows bool                `json:"already_knows,omitempty"`
}

// InfluenceReport lists everything the seed can plausibly reach.
type InfluenceReport struct {
	Seed          entities.EntityID   `json:"seed"`
	FactRef       string              `json:"fact_ref,omitempty"`
	FactKey       string              `json:"fact_key,omitempty"`
	MaxDepth      int                 `json:"max_depth"`
	MinLikelihood float64             `json:"min_likelihood"`
	Reached       []Reach             `json:"reached"`
	Unreached     []entities.EntityID `json:"unreached"`
}

type edge struct {
	to     entities.EntityID
	weight float64
}

type pathState struct {
	likelihood float64
	path       []entities.EntityID
}

// InfluenceService estimates how information spreads over relationships.
type InfluenceService struct {
	entities      ports.EntityReader
	relationships ports.RelationshipReader
	knowledge     ports.KnowledgeReader
	cfg           InfluenceConfig
}

// NewInfluenceService creates a new InfluenceService.
func NewInfluenceService(
	entityReader ports.EntityReader,
	relationships ports.RelationshipReader,
	knowledge ports.KnowledgeReader,
	cfg InfluenceConfig,
) *InfluenceService {
	if cfg.MaxDepth == 0 {
		cfg.MaxDepth = DefaultInfluenceDepth
	}
	if cfg.MinLikelihood == 0 {
		cfg.MinLikelihood = DefaultMinLikelihood
	}
	weights := DefaultRelationWeights()
	for t, w := range cfg.Weights {
		weights[t] = w
	}
	cfg.Weights = weights
	return &InfluenceService{
		entities:      entityReader,
		relationships: relationships,
		knowledge:     knowledge,
		cfg:           cfg,
	}
}

// Propagate computes, for every entity within MaxDepth hops of the seed, the
// most likely path by product of relationship weights.
func (s *InfluenceService) Propagate(ctx context.Context, opts InfluenceOptions) (*InfluenceReport, error) {
	if opts.MaxDepth == 0 {
		opts.MaxDepth = s.cfg.MaxDepth
	}
	if opts.MinLikelihood == 0 {
		opts.MinLikelihood = s.cfg.MinLikelihood
	}
	if opts.MaxDepth < 0 || opts.MaxDepth > MaxInfluenceDepth {
		return nil, apperrors.InvalidParameter("influence", "max_depth",
			fmt.Sprintf("%d is outside [0, %d]", opts.MaxDepth, MaxInfluenceDepth))
	}
	if opts.MinLikelihood < 0 || opts.MinLikelihood > 1 {
		return nil, apperrors.InvalidParameter("influence", "min_likelihood",
			fmt.Sprintf("%g is outside [0, 1]", opts.MinLikelihood))
	}

	if _, err := s.entities.GetEntity(ctx, opts.Seed); err != nil {
		return nil, fmt.Errorf("getting seed: %w", err)
	}

	factKey, err := influenceFactKey(opts)
	if err != nil {
		return nil, err
	}
	knowers, err := s.factHolders(ctx, opts.Seed, opts.FactRef, factKey)
	if err != nil {
		return nil, err
	}

	graph, err := s.buildGraph(ctx)
	if err != nil {
		return nil, err
	}

	best := maxProductPaths(graph, opts.Seed, opts.MaxDepth, opts.MinLikelihood)
	shortest := shortestPaths(graph, opts.Seed, opts.MaxDepth)

	report := &InfluenceReport{
		Seed:          opts.Seed,
		FactRef:       opts.FactRef,
		FactKey:       factKey,
		MaxDepth:      opts.MaxDepth,
		MinLikelihood: opts.MinLikelihood,
		Reached:       []Reach{},
		Unreached:     []entities.EntityID{},
	}
	for id, st := range best {
		report.Reached = append(report.Reached, Reach{
			EntityID:     id,
			Likelihood:   st.likelihood,
			Hops:         len(st.path) - 1,
			Path:         st.path,
			ShortestPath: shortest[id],
			AlreadyKnows: knowers[id],
		})
	}
	sort.Slice(report.Reached, func(i, j int) bool {
		a, b := report.Reached[i], report.Reached[j]
		if a.Likelihood != b.Likelihood {
			return a.Likelihood > b.Likelihood
		}
		if a.Hops != b.Hops {
			return a.Hops < b.Hops
		}
		return a.EntityID < b.EntityID
	})

	characters, err := s.entities.ListEntitiesByType(ctx, entities.EntityCharacter)
	if err != nil {
		return nil, fmt.Errorf("listing characters: %w", err)
	}
	for _, c := range characters {
		if _, ok := best[c.ID]; !ok && c.ID != opts.Seed {
			report.Unreached = append(report.Unreached, c.ID)
		}
	}
	return report, nil
}

// influenceFactKey resolves the fact named by opts. Empty means no fact.
func influenceFactKey(opts InfluenceOptions) (string, error) {
	if opts.FactRef == "" {
		return opts.FactKey, nil
	}
	key := (&entities.KnowledgeRecord{FactRef: opts.FactRef}).FactKey()
	if opts.FactKey != "" && opts.FactKey != key {
		return "", apperrors.InvalidParameter("influence", "fact_key",
			fmt.Sprintf("%q does not name fact reference %q", opts.FactKey, opts.FactRef))
	}
	return key, nil
}

// factHolders returns each character's latest stance toward the fact as
// informed or not. The seed's latest stance must be informed.
func (s *InfluenceService) factHolders(ctx context.Context, seed entities.EntityID, factRef, key string) (map[entities.EntityID]bool, error) {
	knowers := map[entities.EntityID]bool{}
	if key == "" {
		return knowers, nil
	}
	records, err := s.knowledge.ListKnowledge(ctx, ports.KnowledgeFilter{FactRef: factRef})
	if err != nil {
		return nil, fmt.Errorf("listing knowledge: %w", err)
	}

	var seedLatest *entities.KnowledgeRecord
	for i := range records {
		r := &records[i]
		if r.FactKey() != key {
			continue
		}
		// ledger order: latest wins
		knowers[r.CharacterID] = r.Certainty.Informed()
		if r.CharacterID == seed {
			seedLatest = r
		}
	}
	switch {
	case seedLatest == nil:
		return nil, apperrors.InvalidParameter("influence", "fact",
			fmt.Sprintf("%s holds no record of %q", seed, key))
	case !seedLatest.Certainty.Informed():
		return nil, apperrors.InvalidParameter("influence", "fact",
			fmt.Sprintf("%s does not hold %q (latest stance: %s)", seed, key, seedLatest.Certainty))
	}
	return knowers, nil
}

// buildGraph weighs relationship edges by type. Types without a weight use the
// custom weight.
func (s *InfluenceService) buildGraph(ctx context.Context) (map[entities.EntityID][]edge, error) {
	return relationGraph(ctx, s.relationships, func(t entities.RelationType) float64 {
		if w, ok := s.cfg.Weights[t]; ok {
			return w
		}
		return s.cfg.Weights[entities.RelationCustom]
	})
}

// relationGraph loads every relationship as directed edges, adding the reverse
// of bidirectional ones. Parallel edges keep the highest weight. Neighbors are
// sorted by ID.
func relationGraph(
	ctx context.Context,
	reader ports.RelationshipReader,
	weight func(entities.RelationType) float64,
) (map[entities.EntityID][]edge, error) {
	rels, err := reader.ListRelationships(ctx, ports.RelationshipFilter{})
	if err != nil {
		return nil, fmt.Errorf("listing relationships: %w", err)
	}

	strongest := make(map[entities.EntityID]map[entities.EntityID]float64)
	add := func(from, to entities.EntityID, w float64) {
		if strongest[from] == nil {
			strongest[from] = make(map[entities.EntityID]float64)
		}
		if w > strongest[from][to] {
			strongest[from][to] = w
		}
	}
	for _, r := range rels {
		w := weight(r.Type)
		add(r.FromID, r.ToID, w)
		if r.Bidirectional {
			add(r.ToID, r.FromID, w)
		}
	}

	graph := make(map[entities.EntityID][]edge, len(strongest))
	for from, tos := range strongest {
		list := make([]edge, 0, len(tos))
		for to, w := range tos {
			list = append(list, edge{to: to, weight: w})
		}
		sort.Slice(list, func(i, j int) bool { return list[i].to < list[j].to })
		graph[from] = list
	}
	return graph, nil
}

// maxProductPaths relaxes layer by layer: layer k holds the best path of
// exactly k hops to each node. The overall best keeps the earliest layer on ties.
func maxProductPaths(graph map[entities.EntityID][]edge, seed entities.EntityID, maxDepth int, minLikelihood float64) map[entities.EntityID]pathState {
	best := make(map[entities.EntityID]pathState)
	layer := map[entities.EntityID]pathState{seed: {likelihood: 1, path: []entities.EntityID{seed}}}

	for depth := 1; depth <= maxDepth && len(layer) > 0; depth++ {
		next := make(map[entities.EntityID]pathState)
		for _, u := range sortedKeys(layer) {
			cur := layer[u]
			for _, e := range graph[u] {
				if e.to == seed {
					continue
				}
				l := cur.likelihood * e.weight
				if l < minLikelihood {
					continue
				}
				if prev, ok := next[e.to]; ok && prev.likelihood >= l {
					continue
				}
				path := make([]entities.EntityID, len(cur.path), len(cur.path)+1)
				copy(path, cur.path)
				next[e.to] = pathState{likelihood: l, path: append(path, e.to)}
			}
		}
		for v, st := range next {
			if prev, ok := best[v]; !ok || st.likelihood > prev.likelihood {
				best[v] = st
			}
		}
		layer = next
	}
	return best
}

// shortestPaths runs a breadth-first search, visiting neighbors in id order.
func shortestPaths(graph map[entities.EntityID][]edge, seed entities.EntityID, maxDepth int) map[entities.EntityID][]entities.EntityID {
	paths := map[entities.EntityID][]entities.EntityID{seed: {seed}}
	frontier := []entities.EntityID{seed}
	for depth := 1; depth <= maxDepth && len(frontier) > 0; depth++ {
		var next []entities.EntityID
		for _, u := range frontier {
			for _, e := range graph[u] {
				if _, seen := paths[e.to]; seen {
					continue
				}
				p := make([]entities.EntityID, len(paths[u]), len(paths[u])+1)
				copy(p, paths[u])
				paths[e.to] = append(p, e.to)
				next = append(next, e.to)
			}
		}
		frontier = next
	}
	delete(paths, seed)
	return paths
}

func sortedKeys[V any](m map[entities.EntityID]V) []entities.EntityID {
	keys := make([]entities.EntityID, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
