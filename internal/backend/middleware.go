package backend

import (
	"context"
	"time"

	errs "taskorch/internal/errors"
	"taskorch/internal/logging"
)

// Middleware decorates a Backend.
type Middleware func(Backend) Backend

// Chain applies mws so the first middleware is the outermost.
func Chain(b Backend, mws ...Middleware) Backend {
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] != nil {
			b = mws[i](b)
		}
	}
	return b
}

// WithRetry retries transient failures according to policy. A policy with
// MaxAttempts 0 calls the backend once.
func WithRetry(policy errs.RetryPolicy, logger logging.Logger) Middleware {
	return func(next Backend) Backend {
		if policy.MaxAttempts <= 0 {
			return next
		}
		return Func(func(ctx context.Context, req Request) (*Response, error) {
			return errs.RetryWithResult(ctx, policy, logger, func(ctx context.Context) (*Response, error) {
				return next.Invoke(ctx, req)
			})
		})
	}
}

// WithCircuitBreaker rejects calls while the named breaker is open. Context
// cancellation does not count as a backend failure.
func WithCircuitBreaker(name string, config errs.CircuitBreakerConfig, logger logging.Logger) Middleware {
	return func(next Backend) Backend {
		cb := errs.NewCircuitBreaker(name, config, logger)
		return Func(func(ctx context.Context, req Request) (*Response, error) {
			if err := cb.Allow(); err != nil {
				return nil, err
			}
			resp, err := next.Invoke(ctx, req)
			if err != nil && ctx.Err() != nil {
				return nil, err
			}
			cb.Mark(err)
			return resp, err
		})
	}
}

// Recorder observes backend invocations.
type Recorder interface {
	RecordInvocation(ctx context.Context, model string, duration time.Duration, err error)
}

// WithMetrics reports each invocation to recorder.
func WithMetrics(recorder Recorder) Middleware {
	return func(next Backend) Backend {
		if recorder == nil {
			return next
		}
		return Func(func(ctx context.Context, req Request) (*Response, error) {
			start := time.Now()
			resp, err := next.Invoke(ctx, req)
			recorder.RecordInvocation(ctx, req.Model, time.Since(start), err)
			return resp, err
		})
	}
}
