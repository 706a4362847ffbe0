package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/cloo-solutions/docpipe/internal/domain"
	"github.com/panjf2000/ants/v2"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

const (
	ProviderOpenAI   = "openai"
	ProviderDeepSeek = "deepseek"
	ProviderQwen     = "qwen"
	ProviderMoonshot = "moonshot"
	ProviderGemini   = "gemini"
)

type remoteSpec struct {
	baseURL      string
	defaultModel string
}

var remoteProviders = map[string]remoteSpec{
	ProviderOpenAI:   {defaultModel: string(openai.SmallEmbedding3)},
	ProviderDeepSeek: {baseURL: "https://api.deepseek.com/v1"},
	ProviderQwen:     {baseURL: "https://dashscope.aliyuncs.com/compatible-mode/v1", defaultModel: "text-embedding-v3"},
	ProviderMoonshot: {baseURL: "https://api.moonshot.cn/v1"},
	ProviderGemini:   {defaultModel: "gemini-embedding-001"},
}

// IsRemoteProvider reports whether name is a supported remote provider.
func IsRemoteProvider(name string) bool {
	_, ok := remoteProviders[strings.ToLower(name)]
	return ok
}

// Options configures the providers a Factory builds.
type Options struct {
	LocalModel      string
	LocalDimensions int
	LocalWorkers    int
	OllamaURL       string

	RemoteProvider    string
	RemoteModel       string
	Timeout           time.Duration
	MaxRetries        int
	RetryBaseDelay    time.Duration
	RequestsPerSecond float64
	BatchSize         int

	// BaseURLs overrides a provider's endpoint: a base URL for the
	// OpenAI-compatible providers, a host:port for gemini.
	BaseURLs map[string]string
}

// APIFactory opens the transport for a remote provider.
type APIFactory func(ctx context.Context, provider, baseURL, apiKey, model string, timeout time.Duration) (EmbeddingAPI, error)

// FactoryOption customises a Factory.
type FactoryOption func(*Factory)

// WithCache puts c in front of every provider the factory builds.
func WithCache(c *Cache) FactoryOption {
	return func(f *Factory) { f.cache = c }
}

// WithAPIFactory replaces the remote transport constructor.
func WithAPIFactory(fn APIFactory) FactoryOption {
	return func(f *Factory) { f.newAPI = fn }
}

// Factory builds providers from an embedding config, resolving models and
// credentials once per build.
type Factory struct {
	opts   Options
	keys   *KeyResolver
	pool   *ants.Pool
	cache  *Cache
	newAPI APIFactory
	logger *slog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	hashing  *HashingModel
}

func NewFactory(opts Options, keys *KeyResolver, logger *slog.Logger, fopts ...FactoryOption) (*Factory, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if keys == nil {
		keys = NewKeyResolver(nil, nil)
	}
	workers := opts.LocalWorkers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("create embedding pool: %w", err)
	}

	f := &Factory{
		opts:     opts,
		keys:     keys,
		pool:     pool,
		newAPI:   defaultAPIFactory,
		logger:   logger,
		limiters: make(map[string]*rate.Limiter),
		hashing:  NewHashingModel(opts.LocalDimensions),
	}
	for _, o := range fopts {
		o(f)
	}
	return f, nil
}

// Release stops the local worker pool.
func (f *Factory) Release() {
	f.pool.Release()
}

func defaultAPIFactory(ctx context.Context, provider, baseURL, apiKey, model string, timeout time.Duration) (EmbeddingAPI, error) {
	if provider == ProviderGemini {
		return NewGeminiAdapter(apiKey, model, baseURL, timeout), nil
	}
	return NewOpenAIAdapter(baseURL, apiKey, model, timeout), nil
}

// Check validates cfg without resolving credentials or touching the network.
func (f *Factory) Check(cfg domain.EmbeddingConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	switch cfg.Type {
	case domain.EmbeddingTypeLocal:
		_, err := f.localModelName(cfg.Model)
		return err
	default:
		_, _, err := f.remoteTarget(cfg)
		return err
	}
}

// Build returns a provider for cfg. Remote builds fail with a
// ProviderAuthError when no credential resolves.
func (f *Factory) Build(ctx context.Context, cfg domain.EmbeddingConfig, identity string) (Provider, error) {
	if err := f.Check(cfg); err != nil {
		return nil, err
	}

	var (
		p   Provider
		err error
	)
	switch cfg.Type {
	case domain.EmbeddingTypeLocal:
		p, err = f.buildLocal(cfg)
	default:
		p, err = f.buildRemote(ctx, cfg, identity)
	}
	if err != nil {
		return nil, err
	}

	if f.cache != nil {
		p = f.cache.Wrap(p, f.cacheScope(cfg))
	}
	return p, nil
}

// cacheScope names what besides type and model decides the vectors: the
// remote provider and its endpoint, the Ollama host, or the hashing width.
func (f *Factory) cacheScope(cfg domain.EmbeddingConfig) string {
	if cfg.Type == domain.EmbeddingTypeLocal {
		name, _ := f.localModelName(cfg.Model)
		if name == HashingModelName {
			return fmt.Sprintf("%s/%d", HashingModelName, f.hashing.Dimensions())
		}
		return "ollama@" + f.opts.OllamaURL
	}
	provider, _, _ := f.remoteTarget(cfg)
	return provider + "@" + f.baseURL(provider)
}

func (f *Factory) baseURL(provider string) string {
	if u := f.opts.BaseURLs[provider]; u != "" {
		return u
	}
	return remoteProviders[provider].baseURL
}

func (f *Factory) localModelName(name string) (string, error) {
	if name == "" {
		name = f.opts.LocalModel
	}
	if name == "" {
		name = HashingModelName
	}
	if name == HashingModelName {
		return name, nil
	}
	if strings.HasPrefix(name, OllamaModelPrefix) && len(name) > len(OllamaModelPrefix) {
		return name, nil
	}
	return "", domain.NewConfigError(fmt.Sprintf("unknown local embedding model %q", name))
}

func (f *Factory) buildLocal(cfg domain.EmbeddingConfig) (Provider, error) {
	name, err := f.localModelName(cfg.Model)
	if err != nil {
		return nil, err
	}

	var model LocalModel = f.hashing
	if name != HashingModelName {
		om, err := NewOllamaModel(f.opts.OllamaURL, strings.TrimPrefix(name, OllamaModelPrefix))
		if err != nil {
			return nil, domain.NewProviderError("local model unavailable", err)
		}
		model = om
	}
	return NewLocalProvider(model, f.pool, f.logger), nil
}

func (f *Factory) remoteTarget(cfg domain.EmbeddingConfig) (string, string, error) {
	provider := strings.ToLower(cfg.Provider)
	if provider == "" {
		provider = f.opts.RemoteProvider
	}
	if provider == "" {
		provider = ProviderOpenAI
	}

	spec, ok := remoteProviders[provider]
	if !ok {
		return "", "", domain.NewConfigError(fmt.Sprintf("unknown embedding provider %q", provider))
	}

	model := cfg.Model
	if model == "" && provider == f.opts.RemoteProvider {
		model = f.opts.RemoteModel
	}
	if model == "" {
		model = spec.defaultModel
	}
	if model == "" {
		return "", "", domain.NewConfigError(fmt.Sprintf("embedding model is required for provider %q", provider))
	}
	return provider, model, nil
}

func (f *Factory) buildRemote(ctx context.Context, cfg domain.EmbeddingConfig, identity string) (Provider, error) {
	provider, model, err := f.remoteTarget(cfg)
	if err != nil {
		return nil, err
	}

	key, source, err := f.keys.Resolve(ctx, provider, cfg.APIKey, identity)
	if err != nil {
		return nil, err
	}

	api, err := f.newAPI(ctx, provider, f.baseURL(provider), key, model, f.timeout())
	if err != nil {
		return nil, domain.NewProviderError(fmt.Sprintf("failed to create %s client", provider), err)
	}

	f.logger.Debug("built remote embedding provider", "provider", provider, "model", model, "key_source", source)

	return NewRemoteProvider(api, RemoteConfig{
		Provider:    provider,
		Model:       model,
		Limiter:     f.limiter(provider),
		MaxAttempts: f.opts.MaxRetries + 1,
		BaseDelay:   f.opts.RetryBaseDelay,
		BatchSize:   f.opts.BatchSize,
	}, f.logger), nil
}

func (f *Factory) timeout() time.Duration {
	if f.opts.Timeout > 0 {
		return f.opts.Timeout
	}
	return 30 * time.Second
}

// limiter returns the shared pacing limiter for provider.
func (f *Factory) limiter(provider string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()

	if l, ok := f.limiters[provider]; ok {
		return l
	}
	l := rate.NewLimiter(rate.Inf, 1)
	if rps := f.opts.RequestsPerSecond; rps > 0 {
		l = rate.NewLimiter(rate.Limit(rps), max(1, int(rps)))
	}
	f.limiters[provider] = l
	return l
}
