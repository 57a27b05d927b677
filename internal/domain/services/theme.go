package services

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"

	"github.com/ersonp/narra-core/internal/domain/entities"
	apperrors "github.com/ersonp/narra-core/internal/domain/errors"
	"github.com/ersonp/narra-core/internal/domain/ports"
	"github.com/ersonp/narra-core/internal/domain/vector"
)

// Clustering defaults.
const (
	DefaultClusterIterations = 300
	DefaultClusterEpsilon    = 1e-4
)

// Seeding strategies for k-means.
const (
	SeedingFarthest = "farthest"
	SeedingRandom   = "random"
)

// ThemeConfig holds clustering defaults. Zero values select the package defaults.
type ThemeConfig struct {
	Iterations int
	Epsilon    float64
	Seeding    string
	Seed       int64
}

// ThemeOptions describes one clustering run. K 0 picks ceil(sqrt(n/2)).
// Zero Iterations and Epsilon and an empty Seeding use the configured values.
type ThemeOptions struct {
	Types      []entities.EntityType
	K          int
	Iterations int
	Epsilon    float64
	Seeding    string
}

// ClusterMember is one entity within a cluster.
type ClusterMember struct {
	EntityID   entities.EntityID   `json:"entity_id"`
	Name       string              `json:"name"`
	Type       entities.EntityType `json:"type"`
	Centrality float64             `json:"centrality"`
}

// Cluster is one emergent theme.
type Cluster struct {
	Index       int                         `json:"index"`
	Label       string                      `json:"label"`
	Members     []ClusterMember             `json:"members"`
	Composition map[entities.EntityType]int `json:"composition"`

	centroid []float32
}

// Size returns the number of members.
func (c *Cluster) Size() int {
	return len(c.Members)
}

// Count returns how many members have type t.
func (c *Cluster) Count(t entities.EntityType) int {
	return c.Composition[t]
}

// ThemeReport is the outcome of a clustering run. K counts the non-empty
// clusters and can fall below RequestedK when embeddings coincide.
type ThemeReport struct {
	RequestedK        int                 `json:"requested_k"`
	K                 int                 `json:"k"`
	Note              string              `json:"note,omitempty"`
	Iterations        int                 `json:"iterations"`
	Converged         bool                `json:"converged"`
	Seeding           string              `json:"seeding"`
	Clusters          []Cluster           `json:"clusters"`
	WithoutEmbeddings []entities.EntityID `json:"without_embeddings"`
}

// Expectation reads: clusters with at least MinWhen entities of WhenType need
// at least MinRequired entities of RequireType.
type Expectation struct {
	WhenType    entities.EntityType `json:"when_type" yaml:"when_type"`
	MinWhen     int                 `json:"min_when" yaml:"min_when"`
	RequireType entities.EntityType `json:"require_type" yaml:"require_type"`
	MinRequired int                 `json:"min_required" yaml:"min_required"`
}

// DefaultExpectations returns the expectations applied when none are given.
func DefaultExpectations() []Expectation {
	return []Expectation{{
		WhenType:    entities.EntityCharacter,
		MinWhen:     3,
		RequireType: entities.EntityLocation,
		MinRequired: 1,
	}}
}

// ThematicGap is a cluster failing an expectation.
type ThematicGap struct {
	ClusterIndex int         `json:"cluster_index"`
	Label        string      `json:"label"`
	Expectation  Expectation `json:"expectation"`
	Have         int         `json:"have"`
	Missing      int         `json:"missing"`
}

// ThemeService groups entities into emergent themes by embedding similarity.
type ThemeService struct {
	entities ports.EntityReader
	cfg      ThemeConfig
}

// NewThemeService creates a new ThemeService.
func NewThemeService(entityReader ports.EntityReader, cfg ThemeConfig) *ThemeService {
	if cfg.Iterations == 0 {
		cfg.Iterations = DefaultClusterIterations
	}
	if cfg.Epsilon == 0 {
		cfg.Epsilon = DefaultClusterEpsilon
	}
	if cfg.Seeding == "" {
		cfg.Seeding = SeedingFarthest
	}
	return &ThemeService{entities: entityReader, cfg: cfg}
}

// Cluster runs k-means over the embeddings of the requested entity types.
func (s *ThemeService) Cluster(ctx context.Context, opts ThemeOptions) (*ThemeReport, error) {
	if opts.Iterations == 0 {
		opts.Iterations = s.cfg.Iterations
	}
	if opts.Epsilon == 0 {
		opts.Epsilon = s.cfg.Epsilon
	}
	if opts.Seeding == "" {
		opts.Seeding = s.cfg.Seeding
	}
	switch {
	case opts.K < 0:
		return nil, apperrors.InvalidParameter("themes", "k", "must not be negative")
	case opts.Iterations < 1:
		return nil, apperrors.InvalidParameter("themes", "iterations", "must be at least 1")
	case opts.Epsilon < 0:
		return nil, apperrors.InvalidParameter("themes", "epsilon", "must not be negative")
	case opts.Seeding != SeedingFarthest && opts.Seeding != SeedingRandom:
		return nil, apperrors.InvalidParameter("themes", "seeding", fmt.Sprintf("unknown strategy %q", opts.Seeding))
	}

	list, err := s.entities.ListEntitiesByType(ctx, opts.Types...)
	if err != nil {
		return nil, fmt.Errorf("listing entities: %w", err)
	}

	report := &ThemeReport{Seeding: opts.Seeding, WithoutEmbeddings: []entities.EntityID{}}
	var points []entities.Entity
	for _, e := range list {
		if e.HasEmbedding() {
			points = append(points, e)
		} else {
			report.WithoutEmbeddings = append(report.WithoutEmbeddings, e.ID)
		}
	}
	sort.Slice(points, func(i, j int) bool { return points[i].ID < points[j].ID })

	n := len(points)
	k := opts.K
	if k == 0 {
		k = max(1, min(n, int(math.Ceil(math.Sqrt(float64(n)/2)))))
	}
	if n == 0 || n < k {
		return nil, apperrors.WithMetadata(apperrors.CodeInsufficientEntities,
			fmt.Sprintf("need at least %d embedded entities, have %d", max(k, 1), n),
			map[string]string{"op": "themes"})
	}
	for i := 1; i < n; i++ {
		if len(points[i].Embedding) != len(points[0].Embedding) {
			return nil, apperrors.WithMetadata(apperrors.CodeDimensionMismatch,
				fmt.Sprintf("%s has %d dimensions, expected %d", points[i].ID, len(points[i].Embedding), len(points[0].Embedding)),
				map[string]string{"op": "themes", "id": string(points[i].ID)})
		}
	}

	vecs := make([][]float32, n)
	for i := range points {
		vecs[i] = points[i].Embedding
	}

	var centroids [][]float32
	if opts.Seeding == SeedingRandom {
		centroids = seedRandom(vecs, k, s.cfg.Seed)
	} else {
		centroids = seedFarthest(vecs, k)
	}

	assign := make([]int, n)
	for it := 1; it <= opts.Iterations; it++ {
		for i, v := range vecs {
			assign[i] = nearestCentroid(v, centroids)
		}
		moved := recomputeCentroids(vecs, assign, centroids)
		report.Iterations = it
		if moved <= opts.Epsilon {
			report.Converged = true
			break
		}
	}
	for i, v := range vecs {
		assign[i] = nearestCentroid(v, centroids)
	}

	report.Clusters = buildClusters(points, assign, centroids)
	report.RequestedK = k
	report.K = len(report.Clusters)
	if report.K < k {
		report.Note = fmt.Sprintf("%d of %d clusters came out empty because entities share embeddings", k-report.K, k)
	}
	return report, nil
}

// seedFarthest starts from the first point then repeatedly takes the point
// farthest from its nearest chosen seed; ties go to the lower index.
func seedFarthest(vecs [][]float32, k int) [][]float32 {
	chosen := []int{0}
	minDist := make([]float64, len(vecs))
	for i, v := range vecs {
		minDist[i], _ = vector.Euclidean(v, vecs[0])
	}
	for len(chosen) < k {
		pick := -1
		for i := range vecs {
			if pick == -1 || minDist[i] > minDist[pick] {
				pick = i
			}
		}
		chosen = append(chosen, pick)
		for i, v := range vecs {
			if d, _ := vector.Euclidean(v, vecs[pick]); d < minDist[i] {
				minDist[i] = d
			}
		}
	}
	return cloneVectors(vecs, chosen)
}

func seedRandom(vecs [][]float32, k int, seed int64) [][]float32 {
	r := rand.New(rand.NewSource(seed))
	return cloneVectors(vecs, r.Perm(len(vecs))[:k])
}

func cloneVectors(vecs [][]float32, idx []int) [][]float32 {
	out := make([][]float32, len(idx))
	for i, j := range idx {
		out[i] = append([]float32(nil), vecs[j]...)
	}
	return out
}

func nearestCentroid(v []float32, centroids [][]float32) int {
	best, bestDist := 0, math.Inf(1)
	for c, centroid := range centroids {
		if d, _ := vector.Euclidean(v, centroid); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

// recomputeCentroids moves each centroid to the mean of its members and
// returns the largest movement. Empty clusters keep their centroid.
func recomputeCentroids(vecs [][]float32, assign []int, centroids [][]float32) float64 {
	groups := make([][][]float32, len(centroids))
	for i, c := range assign {
		groups[c] = append(groups[c], vecs[i])
	}
	var moved float64
	for c, members := range groups {
		if len(members) == 0 {
			continue
		}
		next, err := vector.Centroid(members)
		if err != nil {
			continue
		}
		if d, _ := vector.Euclidean(centroids[c], next); d > moved {
			moved = d
		}
		centroids[c] = next
	}
	return moved
}

func buildClusters(points []entities.Entity, assign []int, centroids [][]float32) []Cluster {
	clusters := make([]Cluster, len(centroids))
	for c := range clusters {
		clusters[c] = Cluster{Composition: map[entities.EntityType]int{}, centroid: centroids[c]}
	}
	for i := range points {
		c := &clusters[assign[i]]
		d, _ := vector.Euclidean(points[i].Embedding, c.centroid)
		c.Members = append(c.Members, ClusterMember{
			EntityID:   points[i].ID,
			Name:       points[i].DisplayName(),
			Type:       points[i].Type,
			Centrality: 1 / (1 + d),
		})
		c.Composition[points[i].Type]++
	}

	out := clusters[:0]
	for _, c := range clusters {
		if len(c.Members) == 0 {
			continue
		}
		sort.Slice(c.Members, func(i, j int) bool {
			if c.Members[i].Centrality != c.Members[j].Centrality {
				return c.Members[i].Centrality > c.Members[j].Centrality
			}
			return c.Members[i].EntityID < c.Members[j].EntityID
		})
		names := make([]string, 0, 3)
		for _, m := range c.Members[:min(3, len(c.Members))] {
			names = append(names, m.Name)
		}
		c.Label = strings.Join(names, ", ")
		out = append(out, c)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if len(out[i].Members) != len(out[j].Members) {
			return len(out[i].Members) > len(out[j].Members)
		}
		return smallestMember(&out[i]) < smallestMember(&out[j])
	})
	for i := range out {
		out[i].Index = i
	}
	return out
}

func smallestMember(c *Cluster) entities.EntityID {
	lowest := c.Members[0].EntityID
	for _, m := range c.Members[1:] {
		if m.EntityID < lowest {
			lowest = m.EntityID
		}
	}
	return lowest
}

// ThematicGaps reports clusters that fail an expectation. No expectations
// means DefaultExpectations.
func ThematicGaps(report *ThemeReport, expectations []Expectation) []ThematicGap {
	if len(expectations) == 0 {
		expectations = DefaultExpectations()
	}
	gaps := []ThematicGap{}
	for _, c := range report.Clusters {
		for _, exp := range expectations {
			if c.Count(exp.WhenType) < exp.MinWhen {
				continue
			}
			if have := c.Count(exp.RequireType); have < exp.MinRequired {
				gaps = append(gaps, ThematicGap{
					ClusterIndex: c.Index,
					Label:        c.Label,
					Expectation:  exp,
					Have:         have,
					Missing:      exp.MinRequired - have,
				})
			}
		}
	}
	return gaps
}
