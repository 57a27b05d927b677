package ports

import "context"

// Embedder turns text into vectors. The analytics assume embeddings already
// exist; only what-if simulation embeds on demand.
type Embedder interface {
	// Embed generates a vector embedding for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates vector embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}
