// Package embedder turns finding code snippets into fixed-length vectors.
package embedder

import "context"

// Dimensions is the vector length every Embedder used with the store must
// produce.
const Dimensions = 768

// Embedder maps a code snippet and its pattern type to a vector.
type Embedder interface {
	Embed(ctx context.Context, snippet, patternType string) ([]float32, error)
	// Dim reports the expected vector length.
	Dim() int
	// Name identifies the embedding scheme; a change forces re-embedding.
	Name() string
}
