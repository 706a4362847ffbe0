package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cloo-solutions/docpipe/internal/domain"
	"github.com/panjf2000/ants/v2"
)

// LocalModel embeds a single text without leaving the host.
type LocalModel interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Name() string
}

// LocalProvider fans a batch out over a bounded worker pool.
type LocalProvider struct {
	model  LocalModel
	pool   *ants.Pool
	logger *slog.Logger
}

func NewLocalProvider(model LocalModel, pool *ants.Pool, logger *slog.Logger) *LocalProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalProvider{
		model:  model,
		pool:   pool,
		logger: logger.With("component", "local-embedder", "model", model.Name()),
	}
}

func (p *LocalProvider) Model() string              { return p.model.Name() }
func (p *LocalProvider) Type() domain.EmbeddingType { return domain.EmbeddingTypeLocal }

func (p *LocalProvider) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	if len(texts) == 0 {
		return out, nil
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}

	for i, text := range texts {
		wg.Add(1)
		err := p.pool.Submit(func() {
			defer wg.Done()
			if err := ctx.Err(); err != nil {
				fail(err)
				return
			}
			vec, err := p.model.Embed(ctx, text)
			if err != nil {
				fail(fmt.Errorf("text %d: %w", i, err))
				return
			}
			out[i] = vec
		})
		if err != nil {
			wg.Done()
			fail(fmt.Errorf("submit text %d: %w", i, err))
			break
		}
	}
	wg.Wait()

	if firstErr != nil {
		p.logger.Error("local embedding failed", "count", len(texts), "error", firstErr)
		return nil, domain.NewProviderError("local embedding failed", firstErr)
	}

	p.logger.Debug("embedded texts", "count", len(texts))
	return out, nil
}
