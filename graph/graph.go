// Package graph provides dependency-ordered execution of named tasks over
// a directed acyclic graph. A task becomes eligible only once all of its
// declared dependencies have completed successfully; eligible tasks run
// concurrently. When a dependency fails, every transitive dependent is
// recorded as skipped and never executed.
package graph

import (
	"context"
	"fmt"

	"github.com/vk/taskgridgo/registry"
	"github.com/vk/taskgridgo/task"
)

// Resolver exposes already-completed upstream results to a running task.
// Only declared dependencies may be read.
type Resolver interface {
	Value(name string) (any, error)
}

// Work is a unit of graph work. The resolver gives access to the results
// of the task's declared dependencies, which are guaranteed complete.
type Work func(ctx context.Context, deps Resolver) (any, error)

// Plain adapts a dependency-free task.Work into graph Work.
func Plain(w task.Work) Work {
	return func(ctx context.Context, _ Resolver) (any, error) {
		return w(ctx)
	}
}

type graphOptions struct {
	workers  int
	reg      *registry.Registry
	executor string
	listener task.Listener
}

// Option configures a Graph.
type Option func(*graphOptions)

// WithWorkers bounds the number of scheduling workers. The default is the
// capacity of the configured cpu executor, or one worker per task.
func WithWorkers(n int) Option {
	return func(o *graphOptions) {
		if n < 1 {
			panic("graph: WithWorkers requires n >= 1")
		}
		o.workers = n
	}
}

// WithExecutor routes every task in the graph to the named pool.
// Individual tasks may override it with their own task.WithExecutor option.
func WithExecutor(reg *registry.Registry, name string) Option {
	return func(o *graphOptions) {
		o.reg = reg
		o.executor = name
	}
}

// WithListener merges l into every task's lifecycle hooks.
func WithListener(l task.Listener) Option {
	return func(o *graphOptions) {
		o.listener = o.listener.Merge(l)
	}
}

// Node is one declared task in a Graph.
type Node struct {
	name   string
	work   Work
	opts   []task.Option
	deps   []string
	depSet map[string]struct{}
}

// DependsOn declares that the node may not start until every named task has
// completed successfully. Returns the node for chaining. Dependencies may
// be declared before the tasks they reference.
func (n *Node) DependsOn(names ...string) *Node {
	for _, name := range names {
		if _, ok := n.depSet[name]; ok {
			continue
		}
		n.depSet[name] = struct{}{}
		n.deps = append(n.deps, name)
	}
	return n
}

// Graph is a builder for one dependency-ordered execution. Declare tasks
// with Task and edges with Node.DependsOn, then call Execute. A validated
// graph is reusable: executions share no state.
type Graph struct {
	opts    graphOptions
	nodes   map[string]*Node
	order   []string
	declErr error
}

// New creates an empty Graph.
func New(opts ...Option) *Graph {
	var o graphOptions
	for _, opt := range opts {
		opt(&o)
	}
	return &Graph{
		opts:  o,
		nodes: make(map[string]*Node),
	}
}

// Task declares a named task and returns its node for edge declaration.
func (g *Graph) Task(name string, work Work, opts ...task.Option) *Node {
	node := &Node{
		name:   name,
		work:   work,
		opts:   opts,
		depSet: make(map[string]struct{}),
	}
	if g.declErr == nil {
		switch {
		case name == "":
			g.declErr = fmt.Errorf("graph: task name must not be empty")
		case work == nil:
			g.declErr = fmt.Errorf("graph: task %q: work must not be nil", name)
		}
	}
	if _, dup := g.nodes[name]; dup {
		if g.declErr == nil {
			g.declErr = fmt.Errorf("graph: task %q declared twice", name)
		}
		return node
	}
	g.nodes[name] = node
	g.order = append(g.order, name)
	return node
}

// Validate checks the declarations: every referenced dependency must be a
// declared task (*UnknownDependencyError) and the edge set must form a DAG
// (*CycleError). Execute runs the same validation before any task starts.
func (g *Graph) Validate() error {
	if g.declErr != nil {
		return g.declErr
	}

	for _, name := range g.order {
		for _, dep := range g.nodes[name].deps {
			if _, ok := g.nodes[dep]; !ok {
				return &UnknownDependencyError{Task: name, Dependency: dep}
			}
		}
	}

	return g.detectCycles()
}

// detectCycles runs a depth-first search with the classic three sets:
// permanent (fully visited, known safe), temporary (on the current
// recursion stack), and unvisited.
func (g *Graph) detectCycles() error {
	permanent := make(map[string]bool, len(g.nodes))
	temporary := make(map[string]bool)

	var visit func(name string) error
	visit = func(name string) error {
		if permanent[name] {
			return nil
		}
		if temporary[name] {
			// A node already on the recursion stack means a cycle.
			return &CycleError{Task: name}
		}

		temporary[name] = true
		for _, dep := range g.nodes[name].deps {
			if err := visit(dep); err != nil {
				return err
			}
		}
		delete(temporary, name)
		permanent[name] = true
		return nil
	}

	for _, name := range g.order {
		if !permanent[name] {
			if err := visit(name); err != nil {
				return err
			}
		}
	}
	return nil
}
