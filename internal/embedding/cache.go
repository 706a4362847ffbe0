package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"

	"github.com/cloo-solutions/docpipe/internal/domain"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
)

// Cache stores vectors keyed by (type, scope, model, sha256(text)) so
// reprocessing with an unchanged configuration does not call the provider
// again. The scope separates same-named models that produce different
// vectors, such as one model name served by two providers.
type Cache struct {
	db     *badger.DB
	logger *slog.Logger
}

type badgerLogger struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerLogger)(nil)

func (bl *badgerLogger) Errorf(msg string, items ...any) {
	bl.logger.Error(fmt.Sprintf(msg, items...))
}

func (bl *badgerLogger) Warningf(msg string, items ...any) {
	bl.logger.Warn(fmt.Sprintf(msg, items...))
}

func (bl *badgerLogger) Infof(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

func (bl *badgerLogger) Debugf(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

// OpenCache opens a cache in dir, creating it if needed. An empty dir keeps
// the cache in memory.
func OpenCache(dir string, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "embedding-cache")

	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
		opts = badger.DefaultOptions(dir)
	}
	opts.Logger = &badgerLogger{logger: logger}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open embedding cache: %w", err)
	}
	return &Cache{db: db, logger: logger}, nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}

// Wrap returns p with cache lookups in front of it. scope identifies the
// provider endpoint and any setting that changes the vectors.
func (c *Cache) Wrap(p Provider, scope string) Provider {
	return &cachedProvider{inner: p, cache: c, scope: scope}
}

func cacheKey(t domain.EmbeddingType, scope, model, text string) []byte {
	sum := sha256.Sum256([]byte(text))
	scopeSum := sha256.Sum256([]byte(scope))
	return []byte("emb/" + string(t) + "/" + hex.EncodeToString(scopeSum[:8]) + "/" + model + "/" + hex.EncodeToString(sum[:]))
}

func (c *Cache) get(keys [][]byte) ([][]float32, error) {
	out := make([][]float32, len(keys))
	err := c.db.View(func(txn *badger.Txn) error {
		for i, k := range keys {
			item, err := txn.Get(k)
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if err := item.Value(func(val []byte) error {
				out[i] = decodeVector(val)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

func (c *Cache) put(keys [][]byte, vecs [][]float32) error {
	return c.db.Update(func(txn *badger.Txn) error {
		for i, k := range keys {
			if err := txn.Set(k, encodeVector(vecs[i])); err != nil {
				return err
			}
		}
		return nil
	})
}

func encodeVector(v []float32) []byte {
	b := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(f))
	}
	return b
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}

type cachedProvider struct {
	inner Provider
	cache *Cache
	scope string
}

func (p *cachedProvider) Model() string              { return p.inner.Model() }
func (p *cachedProvider) Type() domain.EmbeddingType { return p.inner.Type() }

// EmbedMany serves hits from the cache and sends only misses to the wrapped
// provider. Cache failures degrade to calling the provider.
func (p *cachedProvider) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	keys := make([][]byte, len(texts))
	for i, t := range texts {
		keys[i] = cacheKey(p.inner.Type(), p.scope, p.inner.Model(), t)
	}

	out, err := p.cache.get(keys)
	if err != nil {
		p.cache.logger.Warn("cache read failed", "error", err)
		return p.inner.EmbedMany(ctx, texts)
	}

	var missIdx []int
	var missTexts []string
	var missKeys [][]byte
	for i, v := range out {
		if v == nil {
			missIdx = append(missIdx, i)
			missTexts = append(missTexts, texts[i])
			missKeys = append(missKeys, keys[i])
		}
	}
	if len(missIdx) == 0 {
		return out, nil
	}

	vecs, err := p.inner.EmbedMany(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, domain.NewProviderError(
			fmt.Sprintf("provider returned %d embeddings for %d texts", len(vecs), len(missTexts)), nil)
	}
	for j, i := range missIdx {
		out[i] = vecs[j]
	}

	if err := p.cache.put(missKeys, vecs); err != nil {
		p.cache.logger.Warn("cache write failed", "error", err)
	}
	p.cache.logger.Debug("embedding cache", "hits", len(texts)-len(missIdx), "misses", len(missIdx))
	return out, nil
}
