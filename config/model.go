// Package config loads the runtime configuration from HCL files and
// translates it into executor registrations, breaker settings, and named
// task policies. Work functions are code; configuration only shapes how
// they run.
package config

import (
	"context"
	"fmt"
	"time"

	"github.com/vk/taskgridgo/breaker"
	"github.com/vk/taskgridgo/registry"
	"github.com/vk/taskgridgo/task"
)

// ConfigError reports an invalid or inconsistent configuration, naming the
// file and block it came from.
type ConfigError struct {
	File   string
	Block  string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	msg := e.Reason
	if e.Err != nil {
		if msg != "" {
			msg = fmt.Sprintf("%s: %v", msg, e.Err)
		} else {
			msg = e.Err.Error()
		}
	}
	switch {
	case e.File != "" && e.Block != "":
		return fmt.Sprintf("config: %s: %s: %s", e.File, e.Block, msg)
	case e.File != "":
		return fmt.Sprintf("config: %s: %s", e.File, msg)
	default:
		return fmt.Sprintf("config: %s", msg)
	}
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Runtime holds the process-level settings from the `runtime` block.
type Runtime struct {
	LogLevel  string
	LogFormat string
}

// Executor is a declared pool: a name, a kind, and for cpu pools a worker
// capacity.
type Executor struct {
	Name     string
	Kind     registry.Kind
	Capacity int
}

// BreakerSpec is a declared circuit breaker and its settings.
type BreakerSpec struct {
	Name     string
	Settings breaker.Settings
}

// Policy is a named bundle of execution options. Zero-valued fields were
// absent from the block and contribute no option.
type Policy struct {
	Name           string
	Timeout        time.Duration
	Attempts       int
	RetryDelay     time.Duration
	BackoffFactor  float64
	RetryOnTimeout bool
	// CacheTTL is how long a result may be served from a cache by the
	// caller. The runtime itself does not cache; the value is translated
	// and exposed for the consuming layer.
	CacheTTL time.Duration
	Executor string
	Breaker  string
}

// Model is the fully translated and validated configuration.
type Model struct {
	Runtime   Runtime
	Executors map[string]*Executor
	Breakers  map[string]*BreakerSpec
	Policies  map[string]*Policy

	executorOrder []string
	breakerOrder  []string
	policyOrder   []string
}

func newModel() *Model {
	return &Model{
		Runtime:   Runtime{LogLevel: "info", LogFormat: "text"},
		Executors: make(map[string]*Executor),
		Breakers:  make(map[string]*BreakerSpec),
		Policies:  make(map[string]*Policy),
	}
}

// ExecutorNames returns the declared executor names in file order.
func (m *Model) ExecutorNames() []string { return m.executorOrder }

// BreakerNames returns the declared breaker names in file order.
func (m *Model) BreakerNames() []string { return m.breakerOrder }

// PolicyNames returns the declared policy names in file order.
func (m *Model) PolicyNames() []string { return m.policyOrder }

// Apply registers every declared executor with reg and materializes every
// declared breaker in group.
func (m *Model) Apply(ctx context.Context, reg *registry.Registry, group *breaker.Group) error {
	for _, name := range m.executorOrder {
		ex := m.Executors[name]
		if err := reg.Register(ctx, ex.Name, ex.Kind, ex.Capacity); err != nil {
			return err
		}
	}
	for _, name := range m.breakerOrder {
		spec := m.Breakers[name]
		group.Get(spec.Name, spec.Settings)
	}
	return nil
}

// TaskOptions translates the named policy into task options, resolving its
// executor and breaker references against reg and group. Apply must have
// run first so the references resolve.
func (m *Model) TaskOptions(policy string, reg *registry.Registry, group *breaker.Group) ([]task.Option, error) {
	p, ok := m.Policies[policy]
	if !ok {
		return nil, &ConfigError{
			Block:  fmt.Sprintf("policy %q", policy),
			Reason: "not declared",
		}
	}

	var opts []task.Option
	if p.Timeout > 0 {
		opts = append(opts, task.WithTimeout(p.Timeout))
	}
	if p.Attempts > 0 {
		opts = append(opts, task.WithAttempts(p.Attempts))
	}
	if p.RetryDelay > 0 {
		opts = append(opts, task.WithRetryDelay(p.RetryDelay))
	}
	if p.BackoffFactor > 1 {
		opts = append(opts, task.WithBackoffFactor(p.BackoffFactor))
	}
	if p.RetryOnTimeout {
		opts = append(opts, task.WithRetryOnTimeout())
	}
	if p.Executor != "" {
		opts = append(opts, task.WithExecutor(reg, p.Executor))
	}
	if p.Breaker != "" {
		b, ok := group.Lookup(p.Breaker)
		if !ok {
			return nil, &ConfigError{
				Block:  fmt.Sprintf("policy %q", policy),
				Reason: fmt.Sprintf("breaker %q has not been materialized", p.Breaker),
			}
		}
		opts = append(opts, task.WithBreaker(b))
	}
	return opts, nil
}
