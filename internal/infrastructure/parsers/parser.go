// Package parsers reads world documents from YAML, JSON and CSV sources.
package parsers

import (
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/ersonp/narra-core/internal/domain/entities"
)

// Document is a world description as read from a file, before validation.
type Document struct {
	Entities      []entities.Entity          `json:"entities,omitempty" yaml:"entities,omitempty"`
	Knowledge     []entities.KnowledgeRecord `json:"knowledge,omitempty" yaml:"knowledge,omitempty"`
	Relationships []entities.Relationship    `json:"relationships,omitempty" yaml:"relationships,omitempty"`
	Perceptions   []entities.Perception      `json:"perceptions,omitempty" yaml:"perceptions,omitempty"`
	Scenes        []entities.Scene           `json:"scenes,omitempty" yaml:"scenes,omitempty"`
	Facts         []entities.UniverseFact    `json:"facts,omitempty" yaml:"facts,omitempty"`
	Snapshots     []RawSnapshot              `json:"snapshots,omitempty" yaml:"snapshots,omitempty"`
	Protected     []entities.EntityID        `json:"protected,omitempty" yaml:"protected,omitempty"`
}

// RawSnapshot is an arc snapshot as written in a world document.
type RawSnapshot struct {
	EntityID   entities.EntityID `json:"entity" yaml:"entity"`
	Embedding  []float32         `json:"embedding" yaml:"embedding"`
	RecordedAt time.Time         `json:"recorded_at" yaml:"recorded_at"`
	EventID    entities.EntityID `json:"event,omitempty" yaml:"event,omitempty"`
}

// Len returns the number of items across all sections.
func (d *Document) Len() int {
	return len(d.Entities) + len(d.Knowledge) + len(d.Relationships) + len(d.Perceptions) +
		len(d.Scenes) + len(d.Facts) + len(d.Snapshots) + len(d.Protected)
}

// Parser defines the interface for parsing world documents.
type Parser interface {
	Parse(r io.Reader) (*Document, error)
}

// ForFormat returns the appropriate parser for the given format.
// Supported formats: "yaml", "yml", "json", "csv".
func ForFormat(format string) Parser {
	switch strings.ToLower(format) {
	case "yaml", "yml":
		return &YAMLParser{}
	case "json":
		return &JSONParser{}
	case "csv":
		return &CSVParser{}
	default:
		return nil
	}
}

// ForFile returns the appropriate parser based on file extension.
func ForFile(filename string) Parser {
	return ForFormat(strings.TrimPrefix(filepath.Ext(filename), "."))
}
