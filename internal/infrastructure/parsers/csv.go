package parsers

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/ersonp/narra-core/internal/domain/entities"
)

// CSVParser parses knowledge ledger rows from CSV format.
type CSVParser struct{}

// Parse reads CSV from the reader and returns a document holding only knowledge records.
// Expected columns: character, target, fact, certainty, learned_at.
// Optional columns: id, fact_ref, method, source, event, embedding.
func (p *CSVParser) Parse(r io.Reader) (*Document, error) {
	reader := csv.NewReader(r)

	colIndex, err := p.readHeader(reader)
	if err != nil {
		return nil, err
	}

	records, err := p.readRecords(reader, colIndex)
	if err != nil {
		return nil, err
	}
	return &Document{Knowledge: records}, nil
}

// readHeader reads and validates the CSV header row.
func (p *CSVParser) readHeader(reader *csv.Reader) (map[string]int, error) {
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading CSV header: %w", err)
	}

	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.TrimSpace(col)] = i
	}

	requiredCols := []string{"character", "target", "fact", "certainty", "learned_at"}
	for _, col := range requiredCols {
		if _, ok := colIndex[col]; !ok {
			return nil, fmt.Errorf("missing required column: %s", col)
		}
	}

	return colIndex, nil
}

// readRecords reads all data rows and converts them to knowledge records.
func (p *CSVParser) readRecords(reader *csv.Reader, colIndex map[string]int) ([]entities.KnowledgeRecord, error) {
	var records []entities.KnowledgeRecord
	lineNum := 1 // Header is line 1

	for {
		lineNum++
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}

		record, err := p.parseRecord(row, colIndex, lineNum)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	return records, nil
}

// parseRecord converts a CSV row to a knowledge record.
func (p *CSVParser) parseRecord(row []string, colIndex map[string]int, lineNum int) (entities.KnowledgeRecord, error) {
	record := entities.KnowledgeRecord{
		ID:                getColumn(row, colIndex, "id"),
		CharacterID:       entities.EntityID(getColumn(row, colIndex, "character")),
		TargetID:          entities.EntityID(getColumn(row, colIndex, "target")),
		FactRef:           getColumn(row, colIndex, "fact_ref"),
		Fact:              getColumn(row, colIndex, "fact"),
		Certainty:         entities.Certainty(getColumn(row, colIndex, "certainty")),
		Method:            entities.LearningMethod(getColumn(row, colIndex, "method")),
		SourceCharacterID: entities.EntityID(getColumn(row, colIndex, "source")),
		EventID:           entities.EntityID(getColumn(row, colIndex, "event")),
	}

	learnedAt := getColumn(row, colIndex, "learned_at")
	t, err := time.Parse(time.RFC3339, learnedAt)
	if err != nil {
		return entities.KnowledgeRecord{}, fmt.Errorf("line %d: invalid learned_at value %q: %w", lineNum, learnedAt, err)
	}
	record.LearnedAt = t

	if raw := getColumn(row, colIndex, "embedding"); raw != "" {
		emb, err := parseVector(raw)
		if err != nil {
			return entities.KnowledgeRecord{}, fmt.Errorf("line %d: invalid embedding: %w", lineNum, err)
		}
		record.Embedding = emb
	}

	return record, nil
}

// parseVector reads space-separated floats.
func parseVector(s string) ([]float32, error) {
	fields := strings.Fields(s)
	out := make([]float32, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 32)
		if err != nil {
			return nil, err
		}
		out[i] = float32(v)
	}
	return out, nil
}

// getColumn safely retrieves a trimmed column value from a row.
func getColumn(row []string, colIndex map[string]int, col string) string {
	if idx, ok := colIndex[col]; ok && idx < len(row) {
		return strings.TrimSpace(row[idx])
	}
	return ""
}
