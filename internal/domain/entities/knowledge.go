package entities

import (
	"strings"
	"time"
	"unicode"
)

// Certainty is a character's epistemic stance toward a fact.
type Certainty string

const (
	CertaintyKnows           Certainty = "knows"
	CertaintySuspects        Certainty = "suspects"
	CertaintyBelievesWrongly Certainty = "believes_wrongly"
	CertaintyUncertain       Certainty = "uncertain"
	CertaintyAssumes         Certainty = "assumes"
	CertaintyDenies          Certainty = "denies"
	CertaintyForgotten       Certainty = "forgotten"
)

var certainties = []Certainty{
	CertaintyKnows, CertaintySuspects, CertaintyBelievesWrongly, CertaintyUncertain,
	CertaintyAssumes, CertaintyDenies, CertaintyForgotten,
}

// IsValid reports whether c is a known certainty level.
func (c Certainty) IsValid() bool {
	for _, v := range certainties {
		if v == c {
			return true
		}
	}
	return false
}

// Informed reports whether the stance counts as holding the truth.
func (c Certainty) Informed() bool {
	return c == CertaintyKnows
}

// Misinformed reports whether the stance contradicts or has lost the truth.
func (c Certainty) Misinformed() bool {
	switch c {
	case CertaintyBelievesWrongly, CertaintyDenies, CertaintyForgotten:
		return true
	}
	return false
}

// LearningMethod records how a character came by a piece of knowledge.
type LearningMethod string

const (
	MethodTold       LearningMethod = "told"
	MethodOverheard  LearningMethod = "overheard"
	MethodWitnessed  LearningMethod = "witnessed"
	MethodDiscovered LearningMethod = "discovered"
	MethodDeduced    LearningMethod = "deduced"
	MethodRead       LearningMethod = "read"
	MethodRemembered LearningMethod = "remembered"
	MethodInitial    LearningMethod = "initial"
)

var methods = []LearningMethod{
	MethodTold, MethodOverheard, MethodWitnessed, MethodDiscovered,
	MethodDeduced, MethodRead, MethodRemembered, MethodInitial,
}

// IsValid reports whether m is a known learning method.
func (m LearningMethod) IsValid() bool {
	for _, v := range methods {
		if v == m {
			return true
		}
	}
	return false
}

// KnowledgeRecord is one append-only ledger entry: a character's stance toward
// a fact at a moment in time. Corrections are new records, never edits.
type KnowledgeRecord struct {
	ID                string         `json:"id" yaml:"id"`
	CharacterID       EntityID       `json:"character_id" yaml:"character"`
	TargetID          EntityID       `json:"target_id" yaml:"target"`
	FactRef           string         `json:"fact_ref,omitempty" yaml:"fact_ref,omitempty"`
	Fact              string         `json:"fact" yaml:"fact"`
	Embedding         []float32      `json:"embedding,omitempty" yaml:"embedding,omitempty"`
	Certainty         Certainty      `json:"certainty" yaml:"certainty"`
	Method            LearningMethod `json:"method" yaml:"method"`
	SourceCharacterID EntityID       `json:"source_character_id,omitempty" yaml:"source,omitempty"`
	EventID           EntityID       `json:"event_id,omitempty" yaml:"event,omitempty"`
	LearnedAt         time.Time      `json:"learned_at" yaml:"learned_at"`
}

// FactKey identifies the fact a record speaks about. An explicit FactRef wins;
// otherwise the target and the normalized fact text form the key.
func (k *KnowledgeRecord) FactKey() string {
	if k.FactRef != "" {
		return "ref:" + k.FactRef
	}
	return string(k.TargetID) + "|" + NormalizeFact(k.Fact)
}

// NormalizeFact lowercases, collapses whitespace and drops trailing punctuation
// so that trivially different phrasings of one fact group together.
func NormalizeFact(s string) string {
	s = strings.Join(strings.Fields(strings.ToLower(s)), " ")
	return strings.TrimRightFunc(s, unicode.IsPunct)
}

// KnowledgeLess orders records by LearnedAt. Records learned at the same
// instant keep ledger order, so use it with a stable sort.
func KnowledgeLess(a, b *KnowledgeRecord) bool {
	return a.LearnedAt.Before(b.LearnedAt)
}
