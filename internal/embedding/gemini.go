package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiAdapter embeds through the Gemini batch embedding endpoint. A client is
// opened per call so the adapter holds no connection between runs. Each call,
// client setup included, is bounded by timeout.
type GeminiAdapter struct {
	apiKey   string
	model    string
	endpoint string
	timeout  time.Duration
}

// NewGeminiAdapter returns an adapter for model. An empty endpoint uses the
// public Gemini API.
func NewGeminiAdapter(apiKey, model, endpoint string, timeout time.Duration) *GeminiAdapter {
	return &GeminiAdapter{apiKey: apiKey, model: model, endpoint: endpoint, timeout: timeout}
}

func (a *GeminiAdapter) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	opts := []option.ClientOption{option.WithAPIKey(a.apiKey)}
	if a.endpoint != "" {
		opts = append(opts, option.WithEndpoint(a.endpoint))
	}
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	defer client.Close()

	em := client.EmbeddingModel(a.model)
	batch := em.NewBatch()
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}

	resp, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("gemini batch embed: %w", err)
	}

	out := make([][]float32, 0, len(resp.Embeddings))
	for _, e := range resp.Embeddings {
		out = append(out, e.Values)
	}
	return out, nil
}
