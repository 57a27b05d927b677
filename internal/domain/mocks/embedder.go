// Package mocks provides in-memory implementations of the domain ports for testing.
package mocks

import (
	"context"
	"sync/atomic"
)

// Embedder is a mock implementation of ports.Embedder.
// Texts found in ByText get their own vector; everything else gets EmbeddingResult.
type Embedder struct {
	EmbeddingResult []float32
	ByText          map[string][]float32
	Err             error

	calls atomic.Int64
}

// Calls returns how many texts were embedded.
func (m *Embedder) Calls() int64 {
	return m.calls.Load()
}

// Embed returns the configured embedding or error.
func (m *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.calls.Add(1)
	if v, ok := m.ByText[text]; ok {
		return v, nil
	}
	return m.EmbeddingResult, nil
}

// EmbedBatch returns embeddings for multiple texts.
func (m *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	result := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := m.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		result[i] = v
	}
	return result, nil
}
