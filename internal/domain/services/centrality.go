package services

import (
	"context"
	"fmt"
	"sort"

	"github.com/ersonp/narra-core/internal/domain/entities"
	apperrors "github.com/ersonp/narra-core/internal/domain/errors"
	"github.com/ersonp/narra-core/internal/domain/ports"
)

// Centrality metrics.
const (
	MetricDegree      = "degree"
	MetricBetweenness = "betweenness"
	MetricCloseness   = "closeness"
)

// DefaultCentralityScopeHops bounds a scoped centrality run around its focus.
const DefaultCentralityScopeHops = 3

// Narrative roles derived from centrality.
const (
	RoleIsolated   = "isolated"
	RoleHub        = "hub"
	RoleBridge     = "bridge"
	RolePeripheral = "peripheral"
	RoleConnected  = "connected"
)

// CentralityOptions describes one centrality run. An empty Scope covers every
// character. Zero ScopeHops selects DefaultCentralityScopeHops and an empty
// Metric ranks by degree.
type CentralityOptions struct {
	Scope     entities.EntityID
	ScopeHops int
	Metric    string
	Limit     int // 0 means no limit
}

// CharacterCentrality is one character's position in the social graph.
type CharacterCentrality struct {
	EntityID    entities.EntityID `json:"entity_id"`
	Name        string            `json:"name"`
	Degree      float64           `json:"degree"`
	Betweenness float64           `json:"betweenness"`
	Closeness   float64           `json:"closeness"`
	Role        string            `json:"role"`
}

// CentralityReport ranks characters by the requested metric.
type CentralityReport struct {
	Metric     string                `json:"metric"`
	Scope      entities.EntityID     `json:"scope,omitempty"`
	Nodes      int                   `json:"nodes"`
	Edges      int                   `json:"edges"`
	Characters []CharacterCentrality `json:"characters"`
}

// CentralityService measures how central each character is in the directed
// graph of relationships and perceptions between characters.
type CentralityService struct {
	entities      ports.EntityReader
	relationships ports.RelationshipReader
	perceptions   ports.PerceptionReader
}

// NewCentralityService creates a new CentralityService.
func NewCentralityService(
	entityReader ports.EntityReader,
	relationships ports.RelationshipReader,
	perceptions ports.PerceptionReader,
) *CentralityService {
	return &CentralityService{
		entities:      entityReader,
		relationships: relationships,
		perceptions:   perceptions,
	}
}

// Compute returns normalized degree, betweenness and closeness for every
// character in scope, ranked by the requested metric, then by ID.
func (s *CentralityService) Compute(ctx context.Context, opts CentralityOptions) (*CentralityReport, error) {
	if opts.Metric == "" {
		opts.Metric = MetricDegree
	}
	if opts.ScopeHops == 0 {
		opts.ScopeHops = DefaultCentralityScopeHops
	}
	switch {
	case opts.Metric != MetricDegree && opts.Metric != MetricBetweenness && opts.Metric != MetricCloseness:
		return nil, apperrors.InvalidParameter("centrality", "metric", fmt.Sprintf("unknown metric %q", opts.Metric))
	case opts.Limit < 0:
		return nil, apperrors.InvalidParameter("centrality", "limit", "must not be negative")
	case opts.ScopeHops < 0 || opts.ScopeHops > MaxInfluenceDepth:
		return nil, apperrors.InvalidParameter("centrality", "scope_hops",
			fmt.Sprintf("%d is outside [0, %d]", opts.ScopeHops, MaxInfluenceDepth))
	}
	if opts.Scope != "" {
		if _, err := s.entities.GetEntity(ctx, opts.Scope); err != nil {
			return nil, fmt.Errorf("getting scope: %w", err)
		}
	}

	graph, err := s.socialGraph(ctx)
	if err != nil {
		return nil, err
	}
	characters, err := s.entities.ListEntitiesByType(ctx, entities.EntityCharacter)
	if err != nil {
		return nil, fmt.Errorf("listing characters: %w", err)
	}

	var inScope map[entities.EntityID]bool
	if opts.Scope != "" {
		inScope = withinHops(graph, opts.Scope, opts.ScopeHops)
	}
	var nodes []entities.Entity
	for _, c := range characters {
		if inScope == nil || inScope[c.ID] {
			nodes = append(nodes, c)
		}
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })

	index := make(map[entities.EntityID]int, len(nodes))
	for i := range nodes {
		index[nodes[i].ID] = i
	}
	adj := make([][]int, len(nodes))
	edges := 0
	for i := range nodes {
		for _, e := range graph[nodes[i].ID] {
			if j, ok := index[e.to]; ok && j != i {
				adj[i] = append(adj[i], j)
				edges++
			}
		}
	}

	degree := degreeCentrality(adj)
	betweenness := betweennessCentrality(adj)
	closeness := closenessCentrality(adj)

	report := &CentralityReport{
		Metric:     opts.Metric,
		Scope:      opts.Scope,
		Nodes:      len(nodes),
		Edges:      edges,
		Characters: make([]CharacterCentrality, len(nodes)),
	}
	for i := range nodes {
		report.Characters[i] = CharacterCentrality{
			EntityID:    nodes[i].ID,
			Name:        nodes[i].DisplayName(),
			Degree:      degree[i],
			Betweenness: betweenness[i],
			Closeness:   closeness[i],
			Role:        narrativeRole(degree[i], betweenness[i]),
		}
	}

	metric := func(c *CharacterCentrality) float64 {
		switch opts.Metric {
		case MetricBetweenness:
			return c.Betweenness
		case MetricCloseness:
			return c.Closeness
		}
		return c.Degree
	}
	sort.SliceStable(report.Characters, func(i, j int) bool {
		a, b := metric(&report.Characters[i]), metric(&report.Characters[j])
		if a != b {
			return a > b
		}
		return report.Characters[i].EntityID < report.Characters[j].EntityID
	})
	if opts.Limit > 0 && len(report.Characters) > opts.Limit {
		report.Characters = report.Characters[:opts.Limit]
	}
	return report, nil
}

// socialGraph merges relationship edges with observer to target perception
// edges. Weights are irrelevant here and set to 1.
func (s *CentralityService) socialGraph(ctx context.Context) (map[entities.EntityID][]edge, error) {
	graph, err := relationGraph(ctx, s.relationships, func(entities.RelationType) float64 { return 1 })
	if err != nil {
		return nil, err
	}
	perceptions, err := s.perceptions.ListPerceptions(ctx, ports.PerceptionFilter{})
	if err != nil {
		return nil, fmt.Errorf("listing perceptions: %w", err)
	}
	for _, p := range perceptions {
		if !containsEdge(graph[p.ObserverID], p.TargetID) {
			graph[p.ObserverID] = append(graph[p.ObserverID], edge{to: p.TargetID, weight: 1})
		}
	}
	for id, list := range graph {
		sort.Slice(list, func(i, j int) bool { return list[i].to < list[j].to })
		graph[id] = list
	}
	return graph, nil
}

func containsEdge(list []edge, to entities.EntityID) bool {
	for _, e := range list {
		if e.to == to {
			return true
		}
	}
	return false
}

// withinHops returns every node reachable from root in at most maxHops,
// following edges in either direction.
func withinHops(graph map[entities.EntityID][]edge, root entities.EntityID, maxHops int) map[entities.EntityID]bool {
	undirected := make(map[entities.EntityID][]entities.EntityID)
	for from, list := range graph {
		for _, e := range list {
			undirected[from] = append(undirected[from], e.to)
			undirected[e.to] = append(undirected[e.to], from)
		}
	}

	seen := map[entities.EntityID]bool{root: true}
	frontier := []entities.EntityID{root}
	for hop := 0; hop < maxHops && len(frontier) > 0; hop++ {
		var next []entities.EntityID
		for _, u := range frontier {
			for _, v := range undirected[u] {
				if !seen[v] {
					seen[v] = true
					next = append(next, v)
				}
			}
		}
		frontier = next
	}
	return seen
}

// degreeCentrality is in plus out degree over n-1.
func degreeCentrality(adj [][]int) []float64 {
	n := len(adj)
	out := make([]float64, n)
	if n < 2 {
		return out
	}
	for u, list := range adj {
		out[u] += float64(len(list))
		for _, v := range list {
			out[v]++
		}
	}
	for i := range out {
		out[i] /= float64(n - 1)
	}
	return out
}

// betweennessCentrality runs Brandes' algorithm over the unweighted directed
// graph, normalized by (n-1)(n-2).
func betweennessCentrality(adj [][]int) []float64 {
	n := len(adj)
	cb := make([]float64, n)
	if n < 3 {
		return cb
	}

	sigma := make([]float64, n)
	dist := make([]int, n)
	delta := make([]float64, n)
	pred := make([][]int, n)
	for s := range adj {
		for i := range n {
			sigma[i], dist[i], delta[i], pred[i] = 0, -1, 0, pred[i][:0]
		}
		sigma[s], dist[s] = 1, 0

		stack := make([]int, 0, n)
		queue := []int{s}
		for len(queue) > 0 {
			v := queue[0]
			queue = queue[1:]
			stack = append(stack, v)
			for _, w := range adj[v] {
				if dist[w] < 0 {
					dist[w] = dist[v] + 1
					queue = append(queue, w)
				}
				if dist[w] == dist[v]+1 {
					sigma[w] += sigma[v]
					pred[w] = append(pred[w], v)
				}
			}
		}

		for i := len(stack) - 1; i >= 0; i-- {
			w := stack[i]
			for _, v := range pred[w] {
				delta[v] += sigma[v] / sigma[w] * (1 + delta[w])
			}
			if w != s {
				cb[w] += delta[w]
			}
		}
	}

	scale := 1 / float64((n-1)*(n-2))
	for i := range cb {
		cb[i] *= scale
	}
	return cb
}

// closenessCentrality uses outgoing shortest paths with the Wasserman-Faust
// correction, so nodes that reach only part of the graph score lower.
func closenessCentrality(adj [][]int) []float64 {
	n := len(adj)
	out := make([]float64, n)
	if n < 2 {
		return out
	}
	dist := make([]int, n)
	for s := range adj {
		for i := range dist {
			dist[i] = -1
		}
		dist[s] = 0
		queue := []int{s}
		reached, total := 0, 0
		for len(queue) > 0 {
			v := queue[0]
			queue = queue[1:]
			for _, w := range adj[v] {
				if dist[w] < 0 {
					dist[w] = dist[v] + 1
					reached++
					total += dist[w]
					queue = append(queue, w)
				}
			}
		}
		if total > 0 {
			r := float64(reached)
			out[s] = (r / float64(total)) * (r / float64(n-1))
		}
	}
	return out
}

func narrativeRole(degree, betweenness float64) string {
	switch {
	case degree == 0:
		return RoleIsolated
	case degree > 0.5:
		return RoleHub
	case betweenness > 0.3:
		return RoleBridge
	case degree < 0.2 && betweenness < 0.1:
		return RolePeripheral
	}
	return RoleConnected
}
