package fetch

import (
	"context"
	"errors"
	"net/http"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	"github.com/datallboy/mediafetch/internal/domain"
	"github.com/datallboy/mediafetch/internal/infra/logger"
)

// DirectFetcher is the plain download facility used for ordinary external
// URLs. Unlike the chain strategies it retries transient failures itself.
type DirectFetcher struct {
	whole        *WholeFetcher
	retries      int
	log          *logger.Logger
	buildBackoff func() backoff.BackOff
}

func NewDirectFetcher(whole *WholeFetcher, retries int, log *logger.Logger) *DirectFetcher {
	return &DirectFetcher{
		whole:   whole,
		retries: retries,
		log:     log.With("direct"),
		buildBackoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 10 * time.Second
			b.MaxElapsedTime = 2 * time.Minute
			return b
		},
	}
}

func (f *DirectFetcher) Fetch(ctx context.Context, url string, kind domain.MediaKind) (*domain.Outcome, error) {
	var out *domain.Outcome
	attempt := 0

	op := func() error {
		attempt++
		res, err := f.whole.Fetch(ctx, url, kind)
		if err == nil {
			out = res
			return nil
		}
		if !isRetryable(err) {
			return backoff.Permanent(err)
		}
		f.log.Warn("Attempt %d for %s failed: %v", attempt, url, err)
		return err
	}

	b := backoff.WithContext(backoff.WithMaxRetries(f.buildBackoff(), uint64(f.retries)), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return nil, err
	}
	return out, nil
}

// isRetryable returns true for transport failures and throttling/server errors.
func isRetryable(err error) bool {
	if errors.Is(err, domain.ErrInvalidRequest) {
		return false
	}
	if errors.Is(err, domain.ErrTransientFetch) {
		return true
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.Code {
		case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
	}
	return false
}
