package graph

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vk/taskgridgo/flow"
	"github.com/vk/taskgridgo/registry"
	"github.com/vk/taskgridgo/task"
	"github.com/vk/taskgridgo/taskctx"
)

// runState is the per-execution scheduling state of one node. Graphs keep
// no execution state on the nodes themselves, so repeated executions are
// independent.
type runState struct {
	node      *Node
	remaining atomic.Int32
	// resolveOnce guards the single outcome of the node: executed,
	// skipped, or cancelled.
	resolveOnce sync.Once
}

// run holds everything one Execute call needs.
type run struct {
	graph      *Graph
	res        *flow.Result
	states     map[string]*runState
	dependents map[string][]string
	ready      chan *runState
	wg         sync.WaitGroup
	ctx        context.Context
}

// Execute validates the graph, then schedules it topologically: a task is
// queued once its remaining-dependency count reaches zero, and workers
// drain the queue concurrently. The returned Result has the same shape as
// a ParallelFlow result; Execute itself errs only on invalid declarations.
func (g *Graph) Execute(ctx context.Context) (*flow.Result, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}

	logger := taskctx.Logger(ctx)
	startedAt := time.Now()
	res := flow.NewResult(g.order)
	if len(g.order) == 0 {
		res.Finalize(startedAt)
		return res, nil
	}

	r := &run{
		graph:      g,
		res:        res,
		states:     make(map[string]*runState, len(g.order)),
		dependents: make(map[string][]string, len(g.order)),
		// Buffered for every node so queue sends never block a worker.
		ready: make(chan *runState, len(g.order)),
		ctx:   ctx,
	}
	for _, name := range g.order {
		node := g.nodes[name]
		st := &runState{node: node}
		st.remaining.Store(int32(len(node.deps)))
		r.states[name] = st
		for _, dep := range node.deps {
			r.dependents[dep] = append(r.dependents[dep], name)
		}
	}

	roots := 0
	for _, name := range g.order {
		if st := r.states[name]; st.remaining.Load() == 0 {
			r.ready <- st
			roots++
		}
	}
	logger.Debug("Graph execution starting.", "tasks", len(g.order), "roots", roots)

	r.wg.Add(len(g.order))
	workers := g.workerCount()
	for i := 0; i < workers; i++ {
		go r.worker(i)
	}

	r.wg.Wait()
	close(r.ready)

	res.Finalize(startedAt)
	logger.Debug("Graph execution finished.", "metrics", res.Metrics())
	return res, nil
}

// workerCount derives the scheduling concurrency: an explicit option wins,
// then the capacity of a configured cpu pool, then one worker per task.
func (g *Graph) workerCount() int {
	if g.opts.workers > 0 {
		return g.opts.workers
	}
	if g.opts.executor != "" && g.opts.reg != nil {
		if entry, err := g.opts.reg.Get(g.opts.executor); err == nil && entry.Kind() == registry.CPU {
			return entry.Capacity()
		}
	}
	return len(g.order)
}

// worker is the processing loop for a single concurrent worker.
func (r *run) worker(id int) {
	logger := taskctx.Logger(r.ctx).With("worker", id)

	for st := range r.ready {
		name := st.node.name

		if r.ctx.Err() != nil {
			cause := cancellationCause(r.ctx)
			st.resolveOnce.Do(func() {
				logger.Debug("Context cancelled, not starting task.", "task", name)
				r.res.RecordCancelled(name, cause)
				r.wg.Done()
			})
			r.cascadeCancel(name, cause)
			continue
		}

		value, err := r.execute(st.node)
		if err != nil {
			if r.ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.Cause(r.ctx))) {
				st.resolveOnce.Do(func() {
					r.res.RecordCancelled(name, err)
					r.wg.Done()
				})
				r.cascadeCancel(name, err)
				continue
			}
			logger.Error("Task execution failed.", "task", name, "error", err)
			st.resolveOnce.Do(func() {
				r.res.RecordFailure(name, err)
				r.wg.Done()
			})
			r.cascadeSkip(name, err)
			continue
		}

		st.resolveOnce.Do(func() {
			r.res.RecordSuccess(name, value)
			r.wg.Done()
		})

		for _, depName := range r.dependents[name] {
			if r.states[depName].remaining.Add(-1) == 0 {
				r.ready <- r.states[depName]
			}
		}
	}
}

// execute runs one node through a task unit with the graph-level options
// applied first so node options can override them.
func (r *run) execute(node *Node) (any, error) {
	resolver := &depResolver{res: r.res, node: node}
	work := func(ctx context.Context) (any, error) {
		return node.work(ctx, resolver)
	}

	var opts []task.Option
	if r.graph.opts.executor != "" {
		opts = append(opts, task.WithExecutor(r.graph.opts.reg, r.graph.opts.executor))
	}
	opts = append(opts, task.WithListener(r.graph.opts.listener))
	opts = append(opts, node.opts...)

	return task.New(node.name, work, opts...).Execute(r.ctx)
}

// cascadeSkip marks every transitive dependent of name as skipped, exactly
// once each, without ever invoking their work.
func (r *run) cascadeSkip(name string, cause error) {
	for _, depName := range r.dependents[name] {
		dst := r.states[depName]
		dst.resolveOnce.Do(func() {
			err := &SkippedError{Task: depName, Dependency: name, Cause: cause}
			r.res.RecordSkipped(depName, err)
			r.wg.Done()
			r.cascadeSkip(depName, err)
		})
	}
}

// cascadeCancel resolves every transitive dependent of a cancelled node so
// no declared task is left without an outcome.
func (r *run) cascadeCancel(name string, cause error) {
	for _, depName := range r.dependents[name] {
		dst := r.states[depName]
		dst.resolveOnce.Do(func() {
			r.res.RecordCancelled(depName, cause)
			r.wg.Done()
			r.cascadeCancel(depName, cause)
		})
	}
}

func cancellationCause(ctx context.Context) error {
	if cause := context.Cause(ctx); cause != nil {
		return cause
	}
	return ctx.Err()
}

// depResolver restricts result access to the node's declared dependencies.
type depResolver struct {
	res  *flow.Result
	node *Node
}

func (r *depResolver) Value(name string) (any, error) {
	if _, ok := r.node.depSet[name]; !ok {
		return nil, fmt.Errorf("%w: task %q does not depend on %q", ErrNotDependency, r.node.name, name)
	}
	return r.res.Get(name)
}
