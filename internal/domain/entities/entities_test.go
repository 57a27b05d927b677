package entities

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEntityID_Parts(t *testing.T) {
	tests := []struct {
		id       EntityID
		wantType EntityType
		wantKey  string
	}{
		{"character:alice", EntityCharacter, "alice"},
		{"event:the:fall", EntityEvent, "the:fall"},
		{"orphan", "", "orphan"},
	}

	for _, tt := range tests {
		t.Run(string(tt.id), func(t *testing.T) {
			assert.Equal(t, tt.wantType, tt.id.Type())
			assert.Equal(t, tt.wantKey, tt.id.Key())
		})
	}

	assert.Equal(t, EntityID("location:vault"), NewEntityID(EntityLocation, "vault"))
}

func TestCertainty_Classification(t *testing.T) {
	tests := []struct {
		certainty   Certainty
		informed    bool
		misinformed bool
	}{
		{CertaintyKnows, true, false},
		{CertaintySuspects, false, false},
		{CertaintyUncertain, false, false},
		{CertaintyAssumes, false, false},
		{CertaintyBelievesWrongly, false, true},
		{CertaintyDenies, false, true},
		{CertaintyForgotten, false, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.certainty), func(t *testing.T) {
			assert.True(t, tt.certainty.IsValid())
			assert.Equal(t, tt.informed, tt.certainty.Informed())
			assert.Equal(t, tt.misinformed, tt.certainty.Misinformed())
		})
	}

	assert.False(t, Certainty("certain").IsValid())
}

func TestKnowledgeRecord_FactKey(t *testing.T) {
	a := KnowledgeRecord{TargetID: "character:bob", Fact: "Bob is  the heir."}
	b := KnowledgeRecord{TargetID: "character:bob", Fact: "bob is the HEIR"}
	c := KnowledgeRecord{TargetID: "character:bob", Fact: "Bob is the heir", FactRef: "heir"}

	assert.Equal(t, a.FactKey(), b.FactKey())
	assert.NotEqual(t, a.FactKey(), c.FactKey())
	assert.Equal(t, "ref:heir", c.FactKey())
}

func TestEntity_Timestamp(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	occurred := time.Date(1200, 6, 1, 0, 0, 0, 0, time.UTC)

	e := Entity{CreatedAt: created}
	assert.Equal(t, created, e.Timestamp())

	e.OccurredAt = &occurred
	assert.Equal(t, occurred, e.Timestamp())
}

func TestParseEntityTypes(t *testing.T) {
	got, ok := ParseEntityTypes([]string{"Character", " location "})
	assert.True(t, ok)
	assert.Equal(t, []EntityType{EntityCharacter, EntityLocation}, got)

	_, ok = ParseEntityTypes([]string{"dragon"})
	assert.False(t, ok)

	got, ok = ParseEntityTypes(nil)
	assert.True(t, ok)
	assert.Nil(t, got)
}

func TestRelationship_Other(t *testing.T) {
	r := Relationship{FromID: "character:a", ToID: "character:b"}

	assert.Equal(t, EntityID("character:b"), r.Other("character:a"))
	assert.Equal(t, EntityID("character:a"), r.Other("character:b"))
	assert.Equal(t, EntityID(""), r.Other("character:c"))
	assert.True(t, RelationMentorship.IsValid())
	assert.False(t, RelationType("nemesis").IsValid())
}
