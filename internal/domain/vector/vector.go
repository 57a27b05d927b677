// Package vector provides the similarity math shared by every analysis.
//
// All functions are pure. Inputs are float32 embeddings as produced by the
// embedder; arithmetic is carried out in float64.
package vector

import (
	"fmt"
	"math"
	"sort"

	apperrors "github.com/ersonp/narra-core/internal/domain/errors"
)

// Candidate is an identified vector considered by NearestK.
type Candidate struct {
	ID     string
	Vector []float32
}

// Neighbor is a candidate paired with its distance to a query.
type Neighbor struct {
	ID       string  `json:"id"`
	Distance float64 `json:"distance"`
}

func dimensionMismatch(a, b int) error {
	return apperrors.WithMetadata(apperrors.CodeDimensionMismatch,
		fmt.Sprintf("vector dimensions differ: %d vs %d", a, b),
		map[string]string{"left": fmt.Sprint(a), "right": fmt.Sprint(b)})
}

// CosineSimilarity returns the cosine of the angle between a and b.
// A zero-norm vector has similarity 0 with everything.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, dimensionMismatch(len(a), len(b))
	}

	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}

	sim := dot / math.Sqrt(na*nb)
	return clamp(sim, -1, 1), nil
}

// CosineDistance returns 1 - CosineSimilarity, in [0, 2].
func CosineDistance(a, b []float32) (float64, error) {
	sim, err := CosineSimilarity(a, b)
	if err != nil {
		return 0, err
	}
	return 1 - sim, nil
}

// Euclidean returns the L2 distance between a and b.
func Euclidean(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, dimensionMismatch(len(a), len(b))
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum), nil
}

// Centroid returns the element-wise mean of vectors.
func Centroid(vectors [][]float32) ([]float32, error) {
	if len(vectors) == 0 {
		return nil, apperrors.New(apperrors.CodeEmptyInput, "centroid of zero vectors")
	}

	dim := len(vectors[0])
	sum := make([]float64, dim)
	for _, v := range vectors {
		if len(v) != dim {
			return nil, dimensionMismatch(dim, len(v))
		}
		for i, x := range v {
			sum[i] += float64(x)
		}
	}

	out := make([]float32, dim)
	n := float64(len(vectors))
	for i, s := range sum {
		out[i] = float32(s / n)
	}
	return out, nil
}

// Subtract returns a - b.
func Subtract(a, b []float32) ([]float32, error) {
	if len(a) != len(b) {
		return nil, dimensionMismatch(len(a), len(b))
	}
	out := make([]float32, len(a))
	for i := range a {
		out[i] = a[i] - b[i]
	}
	return out, nil
}

// Blend returns (1-t)*a + t*b. t is clamped to [0, 1].
func Blend(a, b []float32, t float64) ([]float32, error) {
	if len(a) != len(b) {
		return nil, dimensionMismatch(len(a), len(b))
	}
	t = clamp(t, 0, 1)
	out := make([]float32, len(a))
	for i := range a {
		out[i] = float32((1-t)*float64(a[i]) + t*float64(b[i]))
	}
	return out, nil
}

// Midpoint returns the point halfway between a and b.
func Midpoint(a, b []float32) ([]float32, error) {
	return Blend(a, b, 0.5)
}

// Normalize returns v scaled to unit length. A zero vector is returned unchanged.
func Normalize(v []float32) []float32 {
	var n float64
	for _, x := range v {
		n += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if n == 0 {
		copy(out, v)
		return out
	}
	n = math.Sqrt(n)
	for i, x := range v {
		out[i] = float32(float64(x) / n)
	}
	return out
}

// NearestK returns up to k candidates closest to query by cosine distance.
// Ties are broken by candidate ID so the result is deterministic.
// k <= 0 returns every candidate in order.
func NearestK(query []float32, candidates []Candidate, k int) ([]Neighbor, error) {
	neighbors := make([]Neighbor, 0, len(candidates))
	for _, c := range candidates {
		d, err := CosineDistance(query, c.Vector)
		if err != nil {
			return nil, fmt.Errorf("candidate %s: %w", c.ID, err)
		}
		neighbors = append(neighbors, Neighbor{ID: c.ID, Distance: d})
	}

	sort.Slice(neighbors, func(i, j int) bool {
		if neighbors[i].Distance != neighbors[j].Distance {
			return neighbors[i].Distance < neighbors[j].Distance
		}
		return neighbors[i].ID < neighbors[j].ID
	})

	if k > 0 && k < len(neighbors) {
		neighbors = neighbors[:k]
	}
	return neighbors, nil
}

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}
