package graph

import (
	"errors"
	"fmt"
)

// CycleError reports that the declared edges do not form a DAG. It is
// returned by Validate and Execute before any task runs.
type CycleError struct {
	Task string // a task on the detected cycle
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("graph: cycle detected involving task %q", e.Task)
}

// UnknownDependencyError reports an edge that references an undeclared task.
type UnknownDependencyError struct {
	Task       string
	Dependency string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("graph: task %q depends on undeclared task %q", e.Task, e.Dependency)
}

// SkippedError marks a task that was never executed because an upstream
// dependency failed. It propagates transitively: a dependent of a skipped
// task is itself skipped with the skip as its cause.
type SkippedError struct {
	Task       string
	Dependency string // the direct upstream task that failed or was skipped
	Cause      error
}

func (e *SkippedError) Error() string {
	return fmt.Sprintf("graph: task %q skipped due to upstream failure of %q: %v",
		e.Task, e.Dependency, e.Cause)
}

func (e *SkippedError) Unwrap() error { return e.Cause }

// ErrNotDependency indicates a task asked the resolver for a result it
// never declared a dependency on.
var ErrNotDependency = errors.New("graph: not a declared dependency")
