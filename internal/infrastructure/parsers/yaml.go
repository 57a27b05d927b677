package parsers

import (
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// YAMLParser parses world documents from YAML format.
type YAMLParser struct{}

// Parse reads a YAML document from the reader. Unknown keys are rejected and
// an empty input yields an empty document.
func (p *YAMLParser) Parse(r io.Reader) (*Document, error) {
	var doc Document

	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}

	return &doc, nil
}
