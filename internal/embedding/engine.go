// Package embedding turns free text into vectors for the retrieval index.
package embedding

import "context"

// Engine generates embeddings for retrieval queries and catalog documents.
type Engine interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Name() string
}
