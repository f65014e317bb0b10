package task

import (
	"fmt"
	"runtime"
	"time"
)

// TimeoutError reports that an attempt exceeded the configured deadline.
// The underlying work was signalled to cancel but may still be running;
// its eventual result is discarded.
type TimeoutError struct {
	Task  string
	Limit time.Duration
}

func (e *TimeoutError) Error() string {
	if e.Task == "" {
		return fmt.Sprintf("timed out after %s", e.Limit)
	}
	return fmt.Sprintf("task %q timed out after %s", e.Task, e.Limit)
}

// PanicError wraps a panic recovered from a unit of work, together with the
// goroutine stack captured at the point of the panic.
type PanicError struct {
	Task  string
	Value any
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task %q panicked: %v\n\n%s", e.Task, e.Value, e.Stack)
}

// NewPanicError captures the current goroutine stack and wraps the
// recovered value v. Call it from inside the deferred recover handler.
func NewPanicError(task string, v any) *PanicError {
	// 8 KiB covers most stacks; runtime.Stack truncates gracefully.
	buf := make([]byte, 8192)
	n := runtime.Stack(buf, false)
	return &PanicError{
		Task:  task,
		Value: v,
		Stack: string(buf[:n]),
	}
}
