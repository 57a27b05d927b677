package handlers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ersonp/narra-core/internal/domain/entities"
	apperrors "github.com/ersonp/narra-core/internal/domain/errors"
	"github.com/ersonp/narra-core/internal/domain/mocks"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func day(n int) time.Time {
	return t0.AddDate(0, 0, n)
}

// testWorld holds three characters around one secret: alice knows the crown
// is fake, carol wrongly believes it genuine and bob has never heard of it.
func testWorld() *mocks.Store {
	return mocks.NewStore().
		AddEntities(
			entities.Entity{ID: "character:alice", Name: "Alice", Embedding: []float32{1, 0}},
			entities.Entity{ID: "character:bob", Name: "Bob", Embedding: []float32{0, 1}},
			entities.Entity{ID: "character:carol", Name: "Carol", Embedding: []float32{0.6, 0.8}},
			entities.Entity{ID: "character:dave", Name: "Dave"},
			entities.Entity{ID: "location:vault", Name: "Vault", Embedding: []float32{1, 0.1}},
			entities.Entity{ID: "item:crown", Name: "Crown"},
		).
		AddKnowledge(
			entities.KnowledgeRecord{CharacterID: "character:alice", TargetID: "item:crown", FactRef: "crown",
				Fact: "The crown is fake", Certainty: entities.CertaintyKnows, LearnedAt: day(1)},
			entities.KnowledgeRecord{CharacterID: "character:carol", TargetID: "item:crown", FactRef: "crown",
				Fact: "The crown is genuine", Certainty: entities.CertaintyBelievesWrongly, LearnedAt: day(2)},
		).
		AddRelationships(
			entities.Relationship{FromID: "character:alice", ToID: "character:bob", Type: entities.RelationFamily},
		).
		AddPerceptions(
			entities.Perception{ObserverID: "character:bob", TargetID: "character:alice", Text: "honest",
				Embedding: []float32{1, 0}, RecordedAt: day(3)},
		)
}

func requireCode(t *testing.T, err error, code apperrors.Code) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, code, apperrors.GetCode(err), err.Error())
}
