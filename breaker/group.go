package breaker

import "sync"

// Group shares breakers by resource name. Every caller that asks for the
// same name gets the same *Breaker instance, so failure counts and state
// are process-wide per resource.
type Group struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewGroup creates an empty Group.
func NewGroup() *Group {
	return &Group{breakers: make(map[string]*Breaker)}
}

// Get returns the breaker registered under name, creating it with the
// given settings on first use. Settings of an existing breaker are kept;
// later callers' settings are ignored.
func (g *Group) Get(name string, settings Settings) *Breaker {
	g.mu.Lock()
	defer g.mu.Unlock()

	if b, ok := g.breakers[name]; ok {
		return b
	}
	b := New(name, settings)
	g.breakers[name] = b
	return b
}

// Lookup returns the breaker registered under name, if any.
func (g *Group) Lookup(name string) (*Breaker, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	b, ok := g.breakers[name]
	return b, ok
}

// Names returns the registered breaker names in unspecified order.
func (g *Group) Names() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	names := make([]string, 0, len(g.breakers))
	for name := range g.breakers {
		names = append(names, name)
	}
	return names
}
