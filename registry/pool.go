package registry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrPoolClosed is returned by Submit when the registry has been closed.
var ErrPoolClosed = errors.New("registry: executor pool is closed")

// Stats is a point-in-time snapshot of an entry's activity.
type Stats struct {
	Submitted  int64 // total units submitted
	Completed  int64 // units finished
	InFlight   int64 // units currently executing
	QueueDepth int   // units waiting in a cpu pool queue
	Workers    int   // worker count for cpu pools, 0 for io
}

// Entry is one registered executor. It is immutable after registration;
// the underlying pool is created lazily on first Submit.
type Entry struct {
	name     string
	kind     Kind
	capacity int

	once sync.Once
	pool atomic.Pointer[workerPool]

	submitted atomic.Int64
	completed atomic.Int64
	inFlight  atomic.Int64
}

// Name returns the registered name.
func (e *Entry) Name() string { return e.name }

// Kind returns the registered kind.
func (e *Entry) Kind() Kind { return e.kind }

// Capacity returns the registered capacity. It is 0 for io entries.
func (e *Entry) Capacity() int { return e.capacity }

// Submit schedules fn on the entry's pool. For io entries fn gets its own
// lightweight worker immediately. For cpu entries fn is queued behind the
// bounded worker set; Submit blocks while the queue is full and returns
// ctx.Err() if ctx is cancelled first.
func (e *Entry) Submit(ctx context.Context, fn func()) error {
	switch e.kind {
	case IO:
		e.submitted.Add(1)
		e.inFlight.Add(1)
		go func() {
			defer func() {
				e.inFlight.Add(-1)
				e.completed.Add(1)
			}()
			fn()
		}()
		return nil
	case CPU:
		e.once.Do(func() {
			e.pool.Store(newWorkerPool(e, e.capacity))
		})
		return e.pool.Load().submit(ctx, fn)
	default:
		return &ConfigError{Name: e.name, Reason: "unknown executor kind"}
	}
}

// Stats returns a snapshot of the entry's counters.
func (e *Entry) Stats() Stats {
	s := Stats{
		Submitted: e.submitted.Load(),
		Completed: e.completed.Load(),
		InFlight:  e.inFlight.Load(),
	}
	if e.kind == CPU {
		s.Workers = e.capacity
		if pool := e.pool.Load(); pool != nil {
			s.QueueDepth = len(pool.tasks)
		}
	}
	return s
}

func (e *Entry) close() {
	if pool := e.pool.Load(); pool != nil {
		pool.close()
	}
}

// workerPool is the bounded worker set behind a cpu entry.
type workerPool struct {
	entry  *Entry
	tasks  chan func()
	wg     sync.WaitGroup
	closed atomic.Bool
}

func newWorkerPool(entry *Entry, workers int) *workerPool {
	p := &workerPool{
		entry: entry,
		tasks: make(chan func(), workers*2),
	}
	p.wg.Add(workers)
	for range workers {
		go p.worker()
	}
	return p
}

func (p *workerPool) worker() {
	defer p.wg.Done()
	for fn := range p.tasks {
		p.entry.inFlight.Add(1)
		fn()
		p.entry.inFlight.Add(-1)
		p.entry.completed.Add(1)
	}
}

func (p *workerPool) submit(ctx context.Context, fn func()) (err error) {
	if p.closed.Load() {
		return ErrPoolClosed
	}

	// Guard against the race between the closed check above and close()
	// closing the tasks channel: a send on a closed channel panics, so we
	// recover and report the pool as closed.
	defer func() {
		if r := recover(); r != nil {
			err = ErrPoolClosed
		}
	}()

	select {
	case p.tasks <- fn:
		p.entry.submitted.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *workerPool) close() {
	if p.closed.CompareAndSwap(false, true) {
		close(p.tasks)
	}
	p.wg.Wait()
}
