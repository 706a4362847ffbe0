// Package embedding produces vectors for chunk texts using a local model or a
// remote provider API.
package embedding

import (
	"context"

	"github.com/cloo-solutions/docpipe/internal/domain"
)

// Provider embeds a batch of texts. The result has the same length and order
// as the input.
type Provider interface {
	EmbedMany(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
	Type() domain.EmbeddingType
}
