package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/cloo-solutions/docpipe/internal/domain"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// DefaultRemoteBatchSize bounds the number of texts sent in one request.
const DefaultRemoteBatchSize = 64

// EmbeddingAPI is the transport to a remote embedding endpoint.
type EmbeddingAPI interface {
	CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

// RemoteProvider calls a provider API with pacing, bounded retries for
// transient failures, and error classification.
type RemoteProvider struct {
	api         EmbeddingAPI
	provider    string
	model       string
	limiter     *rate.Limiter
	maxAttempts int
	baseDelay   time.Duration
	batchSize   int
	logger      *slog.Logger
}

type RemoteConfig struct {
	Provider    string
	Model       string
	Limiter     *rate.Limiter
	MaxAttempts int
	BaseDelay   time.Duration
	BatchSize   int
}

func NewRemoteProvider(api EmbeddingAPI, cfg RemoteConfig, logger *slog.Logger) *RemoteProvider {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Limiter == nil {
		cfg.Limiter = rate.NewLimiter(rate.Inf, 1)
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultRemoteBatchSize
	}
	return &RemoteProvider{
		api:         api,
		provider:    cfg.Provider,
		model:       cfg.Model,
		limiter:     cfg.Limiter,
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   cfg.BaseDelay,
		batchSize:   cfg.BatchSize,
		logger:      logger.With("component", "remote-embedder", "provider", cfg.Provider, "model", cfg.Model),
	}
}

func (p *RemoteProvider) Model() string              { return p.model }
func (p *RemoteProvider) Type() domain.EmbeddingType { return domain.EmbeddingTypeRemote }

func (p *RemoteProvider) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))

	for start := 0; start < len(texts); start += p.batchSize {
		end := min(start+p.batchSize, len(texts))
		batch := texts[start:end]

		if err := p.limiter.Wait(ctx); err != nil {
			return nil, domain.NewProviderError("rate limiter wait aborted", err)
		}

		var vecs [][]float32
		err := RetryWithBackoff(ctx, func() error {
			var callErr error
			vecs, callErr = p.api.CreateEmbeddings(ctx, batch)
			return callErr
		}, p.maxAttempts, p.baseDelay, isTransient)
		if err != nil {
			classified := classifyRemoteError(p.provider, err)
			p.logger.Error("remote embedding failed", "batch_start", start, "count", len(batch), "error", err)
			return nil, classified
		}

		if len(vecs) != len(batch) {
			return nil, domain.NewProviderError(
				fmt.Sprintf("%s returned %d embeddings for %d texts", p.provider, len(vecs), len(batch)), nil)
		}
		out = append(out, vecs...)
	}

	p.logger.Debug("embedded texts", "count", len(texts))
	return out, nil
}

// httpStatus extracts the HTTP status carried by err, mapping gRPC codes onto
// their HTTP equivalents.
func httpStatus(err error) (int, bool) {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return apiErr.HTTPStatusCode, true
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return reqErr.HTTPStatusCode, true
	}
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return gErr.Code, true
	}
	if st, ok := status.FromError(err); ok && st.Code() != codes.OK && st.Code() != codes.Unknown {
		switch st.Code() {
		case codes.ResourceExhausted:
			return http.StatusTooManyRequests, true
		case codes.Unauthenticated:
			return http.StatusUnauthorized, true
		case codes.PermissionDenied:
			return http.StatusForbidden, true
		case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
			return http.StatusBadRequest, true
		case codes.NotFound:
			return http.StatusNotFound, true
		case codes.DeadlineExceeded:
			return http.StatusGatewayTimeout, true
		case codes.Unavailable:
			return http.StatusServiceUnavailable, true
		default:
			return http.StatusInternalServerError, true
		}
	}
	return 0, false
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// isTransient reports whether err is worth retrying: timeouts and 5xx only.
func isTransient(err error) bool {
	if code, ok := httpStatus(err); ok {
		return code >= 500
	}
	return isTimeout(err)
}

func classifyRemoteError(provider string, err error) error {
	if errors.Is(err, context.Canceled) {
		return domain.NewProviderError(fmt.Sprintf("%s request cancelled", provider), err)
	}

	code, ok := httpStatus(err)
	switch {
	case ok && code == http.StatusTooManyRequests:
		return domain.NewProviderRateLimitError(fmt.Sprintf("%s rate limit exceeded", provider), err)
	case ok && (code == http.StatusUnauthorized || code == http.StatusForbidden):
		return domain.NewProviderAuthError(fmt.Sprintf("%s rejected the api key", provider), err)
	case ok:
		return domain.NewProviderError(fmt.Sprintf("%s returned status %d", provider, code), err)
	case isTimeout(err):
		return domain.NewProviderError(fmt.Sprintf("%s request timed out", provider), err)
	}
	return domain.NewProviderError(fmt.Sprintf("%s request failed", provider), err)
}
