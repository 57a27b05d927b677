package services

import (
	"math"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/ersonp/narra-core/internal/domain/entities"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// day returns baseTime shifted by n days.
func day(n int) time.Time {
	return baseTime.AddDate(0, 0, n)
}

// unitAt returns a 2D unit vector whose cosine similarity to (1, 0) is c.
func unitAt(c float64) []float32 {
	return []float32{float32(c), float32(math.Sqrt(1 - c*c))}
}

func character(id, name string, emb []float32) entities.Entity {
	return entities.Entity{ID: entities.EntityID(id), Type: entities.EntityCharacter, Name: name, Embedding: emb}
}

func intPtr(v int) *int {
	return &v
}
