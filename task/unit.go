// Package task provides the unit of resilient execution: a named work
// function bound to a policy of timeout, retry with backoff, fallback,
// executor routing, and circuit breaking. Composition layers (flows,
// graphs, scopes) build on this unit rather than re-implementing the
// policy mechanics.
package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vk/taskgridgo/taskctx"
)

// Work is a single unit of work. It must honour ctx cancellation at its
// suspension points; a cancelled unit is signalled but not forcibly stopped.
type Work func(ctx context.Context) (any, error)

// Unit is a named unit of work bound to an execution policy: timeout,
// retry with backoff, fallback, executor strategy, and an optional circuit
// breaker. A Unit is immutable and safe to execute repeatedly, though the
// attempts of any single Execute call are strictly sequential.
type Unit struct {
	name string
	work Work
	opts options
}

// New creates a Unit. The zero policy runs work once, synchronously, on the
// caller's goroutine.
func New(name string, work Work, opts ...Option) *Unit {
	if work == nil {
		panic("task: New requires a non-nil work function")
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Unit{name: name, work: work, opts: o}
}

// Name returns the unit's name.
func (u *Unit) Name() string { return u.name }

// Run is shorthand for New(name, work, opts...).Execute(ctx).
func Run(ctx context.Context, name string, work Work, opts ...Option) (any, error) {
	return New(name, work, opts...).Execute(ctx)
}

// Execute runs the unit under its policy and returns the value of the first
// successful attempt, the fallback result, or the last error.
func (u *Unit) Execute(ctx context.Context) (any, error) {
	if u.opts.snapshot != nil {
		ctx = u.opts.snapshot.Bind(ctx)
	}
	logger := taskctx.Logger(ctx).With("task", u.name)

	delay := u.opts.retryDelay
	var lastErr error

retries:
	for attempt := 1; ; attempt++ {
		u.opts.listener.emit(u.opts.listener.OnAttemptStart, Event{Task: u.name, Attempt: attempt})

		start := time.Now()
		value, err := u.attempt(ctx)
		elapsed := time.Since(start)

		if err == nil {
			u.opts.listener.emit(u.opts.listener.OnAttemptSuccess,
				Event{Task: u.name, Attempt: attempt, Value: value, Duration: elapsed})
			u.opts.listener.emit(u.opts.listener.OnFinalSuccess,
				Event{Task: u.name, Attempt: attempt, Value: value, Duration: elapsed})
			return value, nil
		}

		lastErr = err
		logger.Warn("Task attempt failed.", "attempt", attempt, "error", err)
		u.opts.listener.emit(u.opts.listener.OnAttemptFailure,
			Event{Task: u.name, Attempt: attempt, Err: err, Duration: elapsed})

		if attempt >= u.opts.attempts || !u.retryable(err) || ctx.Err() != nil {
			break
		}

		logger.Debug("Scheduling retry.", "attempt", attempt, "delay", delay)
		u.opts.listener.emit(u.opts.listener.OnRetryScheduled,
			Event{Task: u.name, Attempt: attempt, Err: err, Delay: delay})

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			break retries
		}
		if u.opts.backoffFactor > 1 {
			delay = time.Duration(float64(delay) * u.opts.backoffFactor)
		}
	}

	if u.opts.fallback != nil {
		value, err := u.opts.fallback(ctx, lastErr)
		if err == nil {
			logger.Debug("Task recovered via fallback.", "cause", lastErr)
			u.opts.listener.emit(u.opts.listener.OnFinalSuccess,
				Event{Task: u.name, Value: value})
			return value, nil
		}
		lastErr = err
	}

	logger.Error("Task failed.", "error", lastErr)
	u.opts.listener.emit(u.opts.listener.OnFinalFailure, Event{Task: u.name, Err: lastErr})
	return nil, lastErr
}

// retryable reports whether err may be retried under the unit's policy.
func (u *Unit) retryable(err error) bool {
	var te *TimeoutError
	if errors.As(err, &te) {
		return u.opts.retryOnTimeout
	}
	return true
}

// attempt runs a single attempt, gated by the breaker if one is configured.
func (u *Unit) attempt(ctx context.Context) (any, error) {
	if u.opts.breaker != nil {
		return u.opts.breaker.Execute(ctx, u.dispatch)
	}
	return u.dispatch(ctx)
}

// dispatch submits one attempt to the configured executor and waits for it,
// enforcing the attempt timeout.
func (u *Unit) dispatch(ctx context.Context) (any, error) {
	// Caller-thread fast path: no pool and no deadline to enforce.
	if u.opts.executor == "" && u.opts.timeout == 0 {
		return u.invoke(ctx)
	}

	var attemptCtx context.Context
	var cancel context.CancelFunc
	if u.opts.timeout > 0 {
		attemptCtx, cancel = context.WithTimeoutCause(ctx, u.opts.timeout,
			&TimeoutError{Task: u.name, Limit: u.opts.timeout})
	} else {
		attemptCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	type outcome struct {
		value any
		err   error
	}
	// Buffered so the worker can always complete its send; a late result
	// is simply discarded.
	resCh := make(chan outcome, 1)
	run := func() {
		value, err := u.invoke(attemptCtx)
		resCh <- outcome{value: value, err: err}
	}

	if u.opts.executor != "" {
		entry, err := u.opts.reg.Get(u.opts.executor)
		if err != nil {
			return nil, err
		}
		if err := entry.Submit(attemptCtx, run); err != nil {
			// A submit refused because the attempt deadline expired while
			// queued reports the same *TimeoutError as an expired run.
			if attemptCtx.Err() != nil {
				return nil, context.Cause(attemptCtx)
			}
			return nil, err
		}
	} else {
		go run()
	}

	select {
	case out := <-resCh:
		// Work that observes the deadline and returns ctx.Err() itself
		// reports the same typed cause as an expired wait.
		if out.err != nil && attemptCtx.Err() != nil &&
			(errors.Is(out.err, context.DeadlineExceeded) || errors.Is(out.err, context.Canceled)) {
			return nil, context.Cause(attemptCtx)
		}
		return out.value, out.err
	case <-attemptCtx.Done():
		return nil, context.Cause(attemptCtx)
	}
}

// invoke calls the raw work with panic recovery.
func (u *Unit) invoke(ctx context.Context) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			value = nil
			err = NewPanicError(u.name, r)
		}
	}()
	return u.work(ctx)
}

// Await converts an any-typed task result into T. It passes errors through
// and fails if the value is not a T.
func Await[T any](value any, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	typed, ok := value.(T)
	if !ok {
		return zero, fmt.Errorf("task: result is %T, not %T", value, zero)
	}
	return typed, nil
}
