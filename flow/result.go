package flow

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Status is the final outcome class of a declared task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
	StatusCancelled Status = "cancelled"
)

// ErrUnknownTask indicates a name that was never declared on the flow or graph.
var ErrUnknownTask = errors.New("flow: unknown task")

// Metrics aggregates run-level measurements for one execution.
type Metrics struct {
	StartedAt      time.Time
	CompletedAt    time.Time
	Duration       time.Duration
	TasksTotal     int
	TasksSucceeded int
	TasksFailed    int
	TasksSkipped   int
	TasksCancelled int
}

// Result maps every declared task name to exactly one outcome. Once the
// producing flow or graph has finished, each name is Succeeded, Failed,
// Skipped, or Cancelled; the first outcome recorded for a name wins and
// later ones (for example a straggler finishing after cancellation) are
// discarded.
type Result struct {
	mu       sync.RWMutex
	order    []string
	statuses map[string]Status
	values   map[string]any
	errs     map[string]error
	metrics  Metrics
}

// NewResult creates a Result with every name pending. It is exported for
// the flow and graph executors; library users receive populated Results.
func NewResult(names []string) *Result {
	statuses := make(map[string]Status, len(names))
	for _, name := range names {
		statuses[name] = StatusPending
	}
	return &Result{
		order:    append([]string(nil), names...),
		statuses: statuses,
		values:   make(map[string]any, len(names)),
		errs:     make(map[string]error, len(names)),
	}
}

// RecordSuccess stores a successful outcome for name.
func (r *Result) RecordSuccess(name string, value any) {
	r.record(name, StatusSucceeded, value, nil)
}

// RecordFailure stores a failed outcome for name.
func (r *Result) RecordFailure(name string, err error) {
	r.record(name, StatusFailed, nil, err)
}

// RecordSkipped marks name as never executed because a dependency failed.
func (r *Result) RecordSkipped(name string, err error) {
	r.record(name, StatusSkipped, nil, err)
}

// RecordCancelled marks name as cancelled before completion.
func (r *Result) RecordCancelled(name string, err error) {
	r.record(name, StatusCancelled, nil, err)
}

func (r *Result) record(name string, status Status, value any, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.statuses[name]
	if !ok || current != StatusPending {
		return
	}
	r.statuses[name] = status
	if err != nil {
		r.errs[name] = err
	} else {
		r.values[name] = value
	}
}

// Finalize computes the run metrics. The executor calls it once after every
// declared task has an outcome.
func (r *Result) Finalize(startedAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := Metrics{
		StartedAt:   startedAt,
		CompletedAt: time.Now(),
		TasksTotal:  len(r.order),
	}
	m.Duration = m.CompletedAt.Sub(m.StartedAt)
	for _, status := range r.statuses {
		switch status {
		case StatusSucceeded:
			m.TasksSucceeded++
		case StatusFailed:
			m.TasksFailed++
		case StatusSkipped:
			m.TasksSkipped++
		case StatusCancelled:
			m.TasksCancelled++
		}
	}
	r.metrics = m
}

// Get returns the value recorded for name, or its recorded error.
func (r *Result) Get(name string) (any, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status, ok := r.statuses[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTask, name)
	}
	if err, ok := r.errs[name]; ok {
		return nil, err
	}
	if status != StatusSucceeded {
		return nil, fmt.Errorf("flow: task %q has no outcome yet", name)
	}
	return r.values[name], nil
}

// Value returns the recorded value for name, or nil.
func (r *Result) Value(name string) any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.values[name]
}

// Err returns the recorded error for name, or nil.
func (r *Result) Err(name string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.errs[name]
}

// Status returns the outcome class recorded for name.
func (r *Result) Status(name string) Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status, ok := r.statuses[name]
	if !ok {
		return StatusPending
	}
	return status
}

// HasErrors reports whether any task ended with an error.
func (r *Result) HasErrors() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.errs) > 0
}

// Errors returns a copy of the per-task failures.
func (r *Result) Errors() map[string]error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]error, len(r.errs))
	for name, err := range r.errs {
		out[name] = err
	}
	return out
}

// Names returns the declared task names in declaration order.
func (r *Result) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Metrics returns the run-level measurements recorded by Finalize.
func (r *Result) Metrics() Metrics {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.metrics
}

// pending returns the names that still have no outcome.
func (r *Result) pending() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []string
	for _, name := range r.order {
		if r.statuses[name] == StatusPending {
			names = append(names, name)
		}
	}
	return names
}
