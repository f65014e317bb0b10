// Package scope provides a structured-concurrency boundary: children forked
// inside a scope never outlive it. Join waits for all children or the first
// failure, whichever comes first; on failure the remaining children are
// cancelled and the failure propagates once cancellation completes.
package scope

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/vk/taskgridgo/task"
	"github.com/vk/taskgridgo/taskctx"
)

// ClosedError reports a fork after close, or a second close.
type ClosedError struct {
	Scope string
}

func (e *ClosedError) Error() string {
	return fmt.Sprintf("scope %q is closed", e.Scope)
}

// ChildError wraps a child failure with the names of the scope and child.
type ChildError struct {
	Scope string
	Child string
	Err   error
}

func (e *ChildError) Error() string {
	return fmt.Sprintf("scope %q: child %q failed: %v", e.Scope, e.Child, e.Err)
}

func (e *ChildError) Unwrap() error { return e.Err }

type scopeOptions struct {
	limit int
}

// Option configures a Scope.
type Option func(*scopeOptions)

// WithLimit bounds the number of children executing concurrently. Children
// beyond the limit wait for a slot or for scope cancellation. Zero (the
// default) means unlimited.
func WithLimit(n int) Option {
	return func(o *scopeOptions) {
		if n < 0 {
			panic("scope: WithLimit requires a non-negative limit")
		}
		o.limit = n
	}
}

// Pending is the handle for one forked child.
type Pending struct {
	name string
	ch   chan outcome
}

type outcome struct {
	value any
	err   error
}

// Wait blocks until the child completes and returns its value or error.
func (p *Pending) Wait() (any, error) {
	out := <-p.ch
	return out.value, out.err
}

// Name returns the child's name.
func (p *Pending) Name() string { return p.name }

// Scope is a structured-concurrency boundary. It exclusively owns the
// lifecycle of the children it forks: no other component may cancel or
// await them.
type Scope struct {
	name   string
	ctx    context.Context
	cancel context.CancelCauseFunc
	sem    chan struct{}

	wg sync.WaitGroup

	mu     sync.Mutex
	closed bool

	errOnce  sync.Once
	firstErr error
}

// Open begins a scope. The ambient context gains a fresh scope id, and the
// scope's context is cancelled when the scope fails or closes.
func Open(ctx context.Context, name string, opts ...Option) *Scope {
	var o scopeOptions
	for _, opt := range opts {
		opt(&o)
	}

	ctx = taskctx.WithScopeID(ctx, taskctx.NewScopeID())
	ctx, cancel := context.WithCancelCause(ctx)

	s := &Scope{
		name:   name,
		ctx:    ctx,
		cancel: cancel,
	}
	if o.limit > 0 {
		s.sem = make(chan struct{}, o.limit)
	}
	taskctx.Logger(ctx).Debug("Scope opened.", "scope", name, "scope_id", taskctx.ScopeID(ctx))
	return s
}

// Context returns the scope's context. It is cancelled when a child fails
// or the scope closes.
func (s *Scope) Context() context.Context {
	return s.ctx
}

// Fork schedules work as a child of the scope. The child runs with the
// ambient values captured at fork time and a fresh span id. Forking after
// close fails with *ClosedError.
func (s *Scope) Fork(name string, work task.Work) (*Pending, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, &ClosedError{Scope: s.name}
	}
	// Add inside the lock so Close cannot observe an empty WaitGroup
	// between the closed check and the child registration.
	s.wg.Add(1)
	s.mu.Unlock()

	snapshot := taskctx.Capture(s.ctx)
	p := &Pending{name: name, ch: make(chan outcome, 1)}

	go func() {
		defer s.wg.Done()

		if s.sem != nil {
			select {
			case s.sem <- struct{}{}:
				defer func() { <-s.sem }()
			case <-s.ctx.Done():
				// Cancelled while waiting for a slot.
				p.ch <- outcome{err: context.Cause(s.ctx)}
				return
			}
		}
		if err := s.ctx.Err(); err != nil {
			p.ch <- outcome{err: context.Cause(s.ctx)}
			return
		}

		childCtx := snapshot.Bind(s.ctx)
		childCtx = taskctx.WithSpanID(childCtx, taskctx.NewSpanID())

		value, err := run(childCtx, name, work)
		p.ch <- outcome{value: value, err: err}

		// A child surfacing the scope's own cancellation is not a new
		// failure; recording it would make a clean Close report an error.
		if err != nil && !s.isCancellation(err) {
			s.fail(name, err)
		}
	}()

	return p, nil
}

// run invokes the child's work with panic recovery.
func run(ctx context.Context, name string, work task.Work) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			value = nil
			err = task.NewPanicError(name, r)
		}
	}()
	return work(ctx)
}

// isCancellation reports whether err merely echoes the scope's cancelled
// context.
func (s *Scope) isCancellation(err error) bool {
	if s.ctx.Err() == nil {
		return false
	}
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Cause(s.ctx))
}

// fail records the first child failure and cancels the siblings.
func (s *Scope) fail(child string, err error) {
	s.errOnce.Do(func() {
		s.firstErr = &ChildError{Scope: s.name, Child: child, Err: err}
		taskctx.Logger(s.ctx).Warn("Scope child failed, cancelling siblings.",
			"scope", s.name, "child", child, "error", err)
		s.cancel(s.firstErr)
	})
}

// Join suspends the caller until every child has completed or the first
// child has failed. On failure the remaining children are cancelled and
// Join returns that failure once cancellation has completed: the
// WaitGroup only drains after every cancelled child has returned.
func (s *Scope) Join() error {
	s.wg.Wait()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firstErr
}

// Close ends the scope. Every forked child is completed or cancelled
// before Close returns; no child outlives the scope. Closing twice fails
// with *ClosedError. The returned error is otherwise the first child
// failure, if any.
func (s *Scope) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return &ClosedError{Scope: s.name}
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel(nil)
	s.wg.Wait()
	taskctx.Logger(s.ctx).Debug("Scope closed.", "scope", s.name)

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firstErr
}

// Run opens a scope, invokes fn with it, and guarantees cleanup: the scope
// is joined and closed before Run returns. The first error, whether from
// fn, a child, or a misuse of the scope, is returned.
func Run(ctx context.Context, name string, fn func(s *Scope) error, opts ...Option) error {
	s := Open(ctx, name, opts...)

	fnErr := fn(s)
	joinErr := s.Join()
	closeErr := s.Close()

	if fnErr != nil {
		return fnErr
	}
	if joinErr != nil {
		return joinErr
	}
	return closeErr
}
