// Package flow provides fan-out/fan-in aggregation of independent named
// tasks. A Flow launches every declared task concurrently, waits for the
// whole set (or the first failure under fail-fast, or the flow deadline),
// and returns a Result mapping every name to exactly one outcome.
package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vk/taskgridgo/registry"
	"github.com/vk/taskgridgo/task"
	"github.com/vk/taskgridgo/taskctx"
)

// ConfigError reports an invalid flow declaration.
type ConfigError struct {
	Name   string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("flow task %q: %s", e.Name, e.Reason)
}

type flowOptions struct {
	timeout  time.Duration
	failFast bool
	reg      *registry.Registry
	executor string
	listener task.Listener
}

// Option configures a Flow.
type Option func(*flowOptions)

// WithTimeout bounds the whole flow. Tasks still running at the deadline
// are cancelled and recorded with *task.TimeoutError.
func WithTimeout(d time.Duration) Option {
	return func(o *flowOptions) {
		if d <= 0 {
			panic("flow: WithTimeout requires a positive duration")
		}
		o.timeout = d
	}
}

// WithFailFast cancels all still-running siblings the instant any task
// fails; Execute returns as soon as that failure is known. Without it the
// flow waits for every task regardless of individual failures.
func WithFailFast() Option {
	return func(o *flowOptions) {
		o.failFast = true
	}
}

// WithExecutor routes every task in the flow to the named pool. Individual
// tasks may override it with their own task.WithExecutor option.
func WithExecutor(reg *registry.Registry, name string) Option {
	return func(o *flowOptions) {
		o.reg = reg
		o.executor = name
	}
}

// WithListener merges l into every task's lifecycle hooks.
func WithListener(l task.Listener) Option {
	return func(o *flowOptions) {
		o.listener = o.listener.Merge(l)
	}
}

type taskSpec struct {
	name string
	work task.Work
	opts []task.Option
}

// Flow is a builder for one fan-out/fan-in execution. Declare tasks with
// Task, then call Execute. Task declarations imply no ordering.
type Flow struct {
	opts  flowOptions
	specs []taskSpec
}

// New creates an empty Flow.
func New(opts ...Option) *Flow {
	var o flowOptions
	for _, opt := range opts {
		opt(&o)
	}
	return &Flow{opts: o}
}

// Task declares an independent named task. Returns the Flow for chaining.
func (f *Flow) Task(name string, work task.Work, opts ...task.Option) *Flow {
	f.specs = append(f.specs, taskSpec{name: name, work: work, opts: opts})
	return f
}

// Execute runs every declared task concurrently and returns the aggregated
// Result. The returned error is non-nil only for invalid declarations and,
// under fail-fast, for the first task failure; per-task failures otherwise
// surface through Result.HasErrors and Result.Errors.
func (f *Flow) Execute(ctx context.Context) (*Result, error) {
	names := make([]string, 0, len(f.specs))
	seen := make(map[string]struct{}, len(f.specs))
	for _, spec := range f.specs {
		if spec.name == "" {
			return nil, &ConfigError{Name: spec.name, Reason: "name must not be empty"}
		}
		if spec.work == nil {
			return nil, &ConfigError{Name: spec.name, Reason: "work must not be nil"}
		}
		if _, dup := seen[spec.name]; dup {
			return nil, &ConfigError{Name: spec.name, Reason: "declared twice"}
		}
		seen[spec.name] = struct{}{}
		names = append(names, spec.name)
	}

	logger := taskctx.Logger(ctx)
	startedAt := time.Now()
	res := NewResult(names)

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	if f.opts.timeout > 0 {
		var cancelTimeout context.CancelFunc
		runCtx, cancelTimeout = context.WithTimeoutCause(runCtx, f.opts.timeout,
			&task.TimeoutError{Limit: f.opts.timeout})
		defer cancelTimeout()
	}

	var (
		wg       sync.WaitGroup
		failOnce sync.Once
		firstErr error
	)
	fail := func(name string, err error) {
		failOnce.Do(func() {
			firstErr = fmt.Errorf("flow: task %q failed: %w", name, err)
			cancel(firstErr)
		})
	}

	logger.Debug("Flow starting.", "tasks", len(f.specs), "fail_fast", f.opts.failFast)
	wg.Add(len(f.specs))
	for _, spec := range f.specs {
		go func(spec taskSpec) {
			defer wg.Done()

			opts := f.taskOptions(spec)
			value, err := task.New(spec.name, spec.work, opts...).Execute(runCtx)
			if err == nil {
				res.RecordSuccess(spec.name, value)
				return
			}
			f.recordFailure(runCtx, res, spec.name, err)
			if f.opts.failFast {
				fail(spec.name, err)
			}
		}(spec)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-runCtx.Done():
		// Deadline or fail-fast: assign outcomes to whatever is still
		// pending instead of waiting for non-cooperative work. Stragglers
		// that finish later are discarded by the record-once Result.
		cause := context.Cause(runCtx)
		for _, name := range res.pending() {
			var te *task.TimeoutError
			if errors.As(cause, &te) {
				res.RecordFailure(name, &task.TimeoutError{Task: name, Limit: te.Limit})
			} else {
				res.RecordCancelled(name, cause)
			}
		}
	}

	res.Finalize(startedAt)
	logger.Debug("Flow finished.", "metrics", res.Metrics())
	if f.opts.failFast && firstErr != nil {
		return res, firstErr
	}
	return res, nil
}

// taskOptions builds the effective option list for one task: flow-level
// executor and listener first, so per-task options can override them.
func (f *Flow) taskOptions(spec taskSpec) []task.Option {
	var opts []task.Option
	if f.opts.executor != "" {
		opts = append(opts, task.WithExecutor(f.opts.reg, f.opts.executor))
	}
	opts = append(opts, task.WithListener(f.opts.listener))
	return append(opts, spec.opts...)
}

// recordFailure classifies one task error into failed vs cancelled. A task
// that cooperatively surfaces the flow deadline is recorded with the same
// *task.TimeoutError it would get had the flow assigned the outcome itself.
func (f *Flow) recordFailure(runCtx context.Context, res *Result, name string, err error) {
	var te *task.TimeoutError
	if errors.As(err, &te) {
		res.RecordFailure(name, err)
		return
	}
	if runCtx.Err() != nil {
		cause := context.Cause(runCtx)
		if errors.As(cause, &te) && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, cause)) {
			res.RecordFailure(name, &task.TimeoutError{Task: name, Limit: te.Limit})
			return
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, cause) {
			res.RecordCancelled(name, err)
			return
		}
	}
	res.RecordFailure(name, err)
}
