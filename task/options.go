package task

import (
	"context"
	"time"

	"github.com/vk/taskgridgo/breaker"
	"github.com/vk/taskgridgo/registry"
	"github.com/vk/taskgridgo/taskctx"
)

type options struct {
	timeout        time.Duration
	attempts       int
	retryDelay     time.Duration
	backoffFactor  float64
	retryOnTimeout bool
	fallback       func(ctx context.Context, cause error) (any, error)
	reg            *registry.Registry
	executor       string
	breaker        *breaker.Breaker
	listener       Listener
	snapshot       *taskctx.Snapshot
}

func defaultOptions() options {
	return options{
		attempts:      1,
		retryDelay:    100 * time.Millisecond,
		backoffFactor: 1,
	}
}

// Option configures a Unit.
type Option func(*options)

// WithTimeout bounds every attempt. On expiry the caller receives
// *TimeoutError and the work's context is cancelled.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d < 0 {
			panic("task: WithTimeout requires a non-negative duration")
		}
		o.timeout = d
	}
}

// WithAttempts sets the maximum number of attempts (default 1, i.e. no
// retries). Attempts of one unit are strictly sequential.
func WithAttempts(n int) Option {
	return func(o *options) {
		if n < 1 {
			panic("task: WithAttempts requires n >= 1")
		}
		o.attempts = n
	}
}

// WithRetryDelay sets the delay before a retry attempt (default 100ms).
func WithRetryDelay(d time.Duration) Option {
	return func(o *options) {
		if d < 0 {
			panic("task: WithRetryDelay requires a non-negative duration")
		}
		o.retryDelay = d
	}
}

// WithBackoffFactor multiplies the retry delay after each failed attempt.
// A factor of 1 (the default) keeps the delay fixed.
func WithBackoffFactor(f float64) Option {
	return func(o *options) {
		if f < 1 {
			panic("task: WithBackoffFactor requires f >= 1")
		}
		o.backoffFactor = f
	}
}

// WithRetryOnTimeout includes *TimeoutError in the set of retryable
// failures. By default a timed-out attempt is not retried.
func WithRetryOnTimeout() Option {
	return func(o *options) {
		o.retryOnTimeout = true
	}
}

// WithFallback returns value instead of the final error when every attempt
// has failed.
func WithFallback(value any) Option {
	return func(o *options) {
		o.fallback = func(context.Context, error) (any, error) {
			return value, nil
		}
	}
}

// WithFallbackFunc invokes fn with the final error when every attempt has
// failed; fn's result replaces the failure.
func WithFallbackFunc(fn func(ctx context.Context, cause error) (any, error)) Option {
	return func(o *options) {
		o.fallback = fn
	}
}

// WithExecutor routes attempts to the named pool in reg. Without this
// option attempts run synchronously on the caller's goroutine (a configured
// timeout still forces asynchronous execution so the caller can observe the
// deadline).
func WithExecutor(reg *registry.Registry, name string) Option {
	return func(o *options) {
		o.reg = reg
		o.executor = name
	}
}

// WithBreaker gates every attempt through b.
func WithBreaker(b *breaker.Breaker) Option {
	return func(o *options) {
		o.breaker = b
	}
}

// WithListener merges l into the unit's lifecycle hooks.
func WithListener(l Listener) Option {
	return func(o *options) {
		o.listener = o.listener.Merge(l)
	}
}

// WithSnapshot binds the captured ambient values onto the work's context
// before every attempt.
func WithSnapshot(s taskctx.Snapshot) Option {
	return func(o *options) {
		o.snapshot = &s
	}
}
