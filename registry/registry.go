// Package registry owns the named pools of execution capacity used by task
// units and flows. Entries are registered once at process start, are
// immutable afterwards, and create their underlying worker pools lazily on
// first use.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/vk/taskgridgo/taskctx"
)

// Kind categorizes an executor pool.
type Kind int

const (
	// IO pools admit effectively unbounded concurrent lightweight workers.
	IO Kind = iota
	// CPU pools are bounded to a fixed number of workers.
	CPU
)

// String returns the configuration name of the kind.
func (k Kind) String() string {
	switch k {
	case IO:
		return "io"
	case CPU:
		return "cpu"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind converts a configuration string into a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "io":
		return IO, nil
	case "cpu":
		return CPU, nil
	default:
		return 0, fmt.Errorf("unknown executor kind %q: must be 'io' or 'cpu'", s)
	}
}

// ConfigError reports an invalid executor registration.
type ConfigError struct {
	Name   string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("executor %q: %s", e.Name, e.Reason)
}

// NotFoundError reports a lookup of an unregistered executor name.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("executor %q is not registered", e.Name)
}

// Registry holds the named executor entries for a process. Create one with
// New, register entries during startup, and share the instance with every
// component that submits work.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		entries: make(map[string]*Entry),
	}
}

// Register declares a named executor. Registering the same name with the
// same kind and capacity again is a no-op; a conflicting redeclaration
// fails with *ConfigError. CPU pools require capacity > 0.
func (r *Registry) Register(ctx context.Context, name string, kind Kind, capacity int) error {
	if name == "" {
		return &ConfigError{Name: name, Reason: "name must not be empty"}
	}
	if kind == CPU && capacity <= 0 {
		return &ConfigError{Name: name, Reason: "cpu pools require capacity > 0"}
	}
	if capacity < 0 {
		return &ConfigError{Name: name, Reason: "capacity must not be negative"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entries[name]; ok {
		if existing.kind == kind && existing.capacity == capacity {
			return nil
		}
		return &ConfigError{
			Name: name,
			Reason: fmt.Sprintf("already registered as %s/%d, redeclared as %s/%d",
				existing.kind, existing.capacity, kind, capacity),
		}
	}

	taskctx.Logger(ctx).Debug("Registering executor.", "name", name, "kind", kind.String(), "capacity", capacity)
	r.entries[name] = &Entry{name: name, kind: kind, capacity: capacity}
	return nil
}

// Get returns the entry registered under name, or *NotFoundError.
func (r *Registry) Get(name string) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[name]
	if !ok {
		return nil, &NotFoundError{Name: name}
	}
	return entry, nil
}

// Names returns the registered executor names in unspecified order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	return names
}

// Close shuts down every pool that was actually created and waits for their
// in-flight work to finish. Intended for explicit process teardown.
func (r *Registry) Close() {
	r.mu.Lock()
	entries := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.Unlock()

	for _, e := range entries {
		e.close()
	}
}
