// Package errors provides structured error codes for the analytics domain.
package errors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an error that carries no domain code.
	CodeUnknown Code = "UNKNOWN"

	// CodeNotFound means an entity or record is absent.
	CodeNotFound Code = "NOT_FOUND"
	// CodeDimensionMismatch means embeddings of differing size were compared.
	CodeDimensionMismatch Code = "DIMENSION_MISMATCH"
	// CodeMissingEmbedding means a required vector is absent.
	CodeMissingEmbedding Code = "MISSING_EMBEDDING"
	// CodeMissingPerception means an observer has no perception of a target.
	CodeMissingPerception Code = "MISSING_PERCEPTION"
	// CodeInsufficientHistory means too few snapshots for a meaningful result.
	CodeInsufficientHistory Code = "INSUFFICIENT_HISTORY"
	// CodeInsufficientEntities means too few entities for a meaningful result.
	CodeInsufficientEntities Code = "INSUFFICIENT_ENTITIES"
	// CodeOutOfOrderSnapshot means a snapshot append violated monotonic time.
	CodeOutOfOrderSnapshot Code = "OUT_OF_ORDER_SNAPSHOT"
	// CodeNoSnapshotBeforeEvent means no snapshot exists at or before an event.
	CodeNoSnapshotBeforeEvent Code = "NO_SNAPSHOT_BEFORE_EVENT"
	// CodeInvalidParameter means a caller-supplied parameter is out of range.
	CodeInvalidParameter Code = "INVALID_PARAMETER"
	// CodeEmptyInput means an operation received no input values.
	CodeEmptyInput Code = "EMPTY_INPUT"
)

// Error is the domain error type with structured metadata.
type Error struct {
	Code     Code              // Machine-readable error code
	Message  string            // Human-readable message
	Metadata map[string]string // Context such as operation and entity id
	Cause    error             // Wrapped underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if len(e.Metadata) == 0 {
		return e.Message
	}

	keys := make([]string, 0, len(e.Metadata))
	for k := range e.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(e.Message)
	b.WriteString(" (")
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s=%s", k, e.Metadata[k])
	}
	b.WriteString(")")
	return b.String()
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates a simple domain error with a code and message.
func New(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// WithMetadata creates a domain error with context metadata.
func WithMetadata(code Code, message string, metadata map[string]string) *Error {
	return &Error{
		Code:     code,
		Message:  message,
		Metadata: metadata,
	}
}

// Wrap creates a domain error that wraps an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// GetCode extracts the error code from any error.
// Returns CodeUnknown if the error is not a domain error.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// IsCode checks if the error has the specified code.
func IsCode(err error, code Code) bool {
	return GetCode(err) == code
}

// GetMetadata extracts metadata from an error if present.
func GetMetadata(err error) map[string]string {
	var e *Error
	if errors.As(err, &e) {
		return e.Metadata
	}
	return nil
}

// NotFound builds a CodeNotFound error for the given entity or record.
func NotFound(op, id string) *Error {
	return WithMetadata(CodeNotFound, "not found", map[string]string{"op": op, "id": id})
}

// MissingEmbedding builds a CodeMissingEmbedding error for the given id.
func MissingEmbedding(op, id string) *Error {
	return WithMetadata(CodeMissingEmbedding, "embedding is missing", map[string]string{"op": op, "id": id})
}

// InvalidParameter builds a CodeInvalidParameter error naming the parameter.
func InvalidParameter(op, param, reason string) *Error {
	return WithMetadata(CodeInvalidParameter, fmt.Sprintf("invalid %s: %s", param, reason), map[string]string{"op": op, "param": param})
}
