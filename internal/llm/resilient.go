package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sashabaranov/go-openai"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/kaya7oast/FSDP-sub000/pkg/logger"
	"github.com/kaya7oast/FSDP-sub000/pkg/metrics"
)

// ResilienceConfig bounds how long and how often a provider is tried.
type ResilienceConfig struct {
	Timeout          time.Duration
	MaxRetries       int
	InitialBackoff   time.Duration
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

// DefaultResilienceConfig returns the production defaults.
func DefaultResilienceConfig() ResilienceConfig {
	return ResilienceConfig{
		Timeout:          30 * time.Second,
		MaxRetries:       2,
		InitialBackoff:   500 * time.Millisecond,
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
	}
}

// Resilient decorates an Adapter with a per-attempt timeout, bounded
// exponential backoff for transient failures and a circuit breaker.
type Resilient struct {
	next    Adapter
	cfg     ResilienceConfig
	breaker *gobreaker.CircuitBreaker[*CompletionResponse]
	logger  *logger.Logger
}

// NewResilient wraps next.
func NewResilient(next Adapter, cfg ResilienceConfig, log *logger.Logger) *Resilient {
	r := &Resilient{
		next:   next,
		cfg:    cfg,
		logger: log,
	}

	r.breaker = gobreaker.NewCircuitBreaker[*CompletionResponse](gobreaker.Settings{
		Name:        "provider-" + next.Name(),
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Info("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			// configuration and caller problems say nothing about provider health
			var missing *MissingCredentialError
			return errors.As(err, &missing) || errors.Is(err, context.Canceled)
		},
	})

	return r
}

// Name returns the wrapped provider name.
func (r *Resilient) Name() string {
	return r.next.Name()
}

// Complete runs the wrapped adapter under the breaker and retry policy.
func (r *Resilient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	resp, err := r.breaker.Execute(func() (*CompletionResponse, error) {
		return r.completeWithRetry(ctx, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("circuit breaker open for %s: %w", r.next.Name(), err)
	}
	return resp, err
}

func (r *Resilient) completeWithRetry(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.cfg.InitialBackoff
	policy.MaxElapsedTime = 0

	var (
		resp    *CompletionResponse
		attempt int
	)

	operation := func() error {
		attempt++

		attemptCtx := ctx
		if r.cfg.Timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
			defer cancel()
		}

		out, err := r.next.Complete(attemptCtx, req)
		if err == nil {
			resp = out
			return nil
		}

		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%s timed out after %s: %w", r.next.Name(), r.cfg.Timeout, err)
		}
		if !Retryable(ctx, err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, delay time.Duration) {
		metrics.ProviderRetriesTotal.WithLabelValues(r.next.Name()).Inc()
		r.logger.Warn("retrying provider request",
			zap.String("provider", r.next.Name()),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(r.cfg.MaxRetries)), ctx)
	if err := backoff.RetryNotify(operation, b, notify); err != nil {
		return nil, err
	}
	return resp, nil
}

// Retryable reports whether err is a transient provider failure worth
// another attempt.
func Retryable(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() != nil {
		return false
	}

	var missing *MissingCredentialError
	if errors.As(err, &missing) || errors.Is(err, context.Canceled) {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return retryableStatus(statusErr.StatusCode)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.HTTPStatusCode)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return retryableStatus(reqErr.HTTPStatusCode)
	}

	// network errors, timeouts and unclassified SDK errors
	return true
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500
}
