package parsers

import (
	"encoding/json"
	"fmt"
	"io"
)

// JSONParser parses world documents from JSON format.
type JSONParser struct{}

// Parse reads a JSON object from the reader. Unknown keys are rejected.
func (p *JSONParser) Parse(r io.Reader) (*Document, error) {
	var doc Document

	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parsing JSON: %w", err)
	}

	return &doc, nil
}
