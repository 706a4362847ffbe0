package embedding

import (
	"context"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/llms/ollama"
)

// OllamaModelPrefix selects a model served by a local Ollama instance, for
// example "ollama/nomic-embed-text".
const OllamaModelPrefix = "ollama/"

// OllamaModel embeds through an Ollama server on the local host.
type OllamaModel struct {
	llm  *ollama.LLM
	name string
}

func NewOllamaModel(serverURL, model string) (*OllamaModel, error) {
	opts := []ollama.Option{ollama.WithModel(model)}
	if serverURL != "" {
		opts = append(opts, ollama.WithServerURL(serverURL))
	}
	llm, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create ollama client: %w", err)
	}
	return &OllamaModel{llm: llm, name: OllamaModelPrefix + model}, nil
}

func (m *OllamaModel) Name() string { return m.name }

func (m *OllamaModel) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := m.llm.CreateEmbedding(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, errors.New("ollama returned no embedding")
	}
	return vecs[0], nil
}
