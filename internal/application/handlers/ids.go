// Package handlers adapts raw string input from the CLI and MCP tools to the
// analysis services and returns their structured reports.
package handlers

import (
	"fmt"
	"strings"

	"github.com/ersonp/narra-core/internal/domain/entities"
	apperrors "github.com/ersonp/narra-core/internal/domain/errors"
)

// ParseID validates a raw "type:key" entity ID. param names the argument in errors.
func ParseID(param, raw string) (entities.EntityID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", apperrors.InvalidParameter("parse id", param, "must not be empty")
	}
	id := entities.EntityID(raw)
	if !id.Type().IsValid() || id.Key() == "" {
		return "", apperrors.InvalidParameter("parse id", param, fmt.Sprintf("%q is not of the form type:key", raw))
	}
	return id, nil
}

// ParseOptionalID is ParseID that accepts an empty value.
func ParseOptionalID(param, raw string) (entities.EntityID, error) {
	if strings.TrimSpace(raw) == "" {
		return "", nil
	}
	return ParseID(param, raw)
}

// ParseIDs validates a list of raw entity IDs.
func ParseIDs(param string, raw []string) ([]entities.EntityID, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make([]entities.EntityID, 0, len(raw))
	for _, r := range raw {
		id, err := ParseID(param, r)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

// ParseTypes validates entity type names. No names means every type.
func ParseTypes(raw []string) ([]entities.EntityType, error) {
	types, ok := entities.ParseEntityTypes(raw)
	if !ok {
		return nil, apperrors.InvalidParameter("parse types", "types",
			fmt.Sprintf("unknown type in %v", raw))
	}
	return types, nil
}

// cacheKey joins the parts of a report cache key.
func cacheKey(kind string, parts ...any) string {
	var b strings.Builder
	b.WriteString(kind)
	for _, p := range parts {
		fmt.Fprintf(&b, "|%v", p)
	}
	return b.String()
}
