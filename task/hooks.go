package task

import "time"

// Event describes a lifecycle notification for one unit of work.
type Event struct {
	Task     string
	Attempt  int           // 1-based attempt number
	Value    any           // set on success events
	Err      error         // set on failure events
	Delay    time.Duration // set on retry-scheduled events
	Duration time.Duration // wall-clock time of the attempt, where known
}

// HookFunc is invoked for a single lifecycle notification. Hooks run inline
// on the executing goroutine and must not block for long.
type HookFunc func(Event)

// Listener aggregates optional lifecycle callbacks. The zero value is a
// listener that observes nothing.
type Listener struct {
	OnAttemptStart   HookFunc
	OnAttemptSuccess HookFunc
	OnAttemptFailure HookFunc
	OnRetryScheduled HookFunc
	OnFinalSuccess   HookFunc
	OnFinalFailure   HookFunc
}

// Merge combines two listeners, running the receiver's hooks first.
func (l Listener) Merge(other Listener) Listener {
	return Listener{
		OnAttemptStart:   chainHooks(l.OnAttemptStart, other.OnAttemptStart),
		OnAttemptSuccess: chainHooks(l.OnAttemptSuccess, other.OnAttemptSuccess),
		OnAttemptFailure: chainHooks(l.OnAttemptFailure, other.OnAttemptFailure),
		OnRetryScheduled: chainHooks(l.OnRetryScheduled, other.OnRetryScheduled),
		OnFinalSuccess:   chainHooks(l.OnFinalSuccess, other.OnFinalSuccess),
		OnFinalFailure:   chainHooks(l.OnFinalFailure, other.OnFinalFailure),
	}
}

func chainHooks(first, second HookFunc) HookFunc {
	switch {
	case first == nil:
		return second
	case second == nil:
		return first
	default:
		return func(e Event) {
			first(e)
			second(e)
		}
	}
}

func (l Listener) emit(hook HookFunc, e Event) {
	if hook != nil {
		hook(e)
	}
}
