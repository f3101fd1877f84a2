package hook

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrHandlerNotFound indicates a contract referenced a handler name with
// no catalog entry.
var ErrHandlerNotFound = errors.New("handler not found")

// Factory builds a hook implementation bound to one declaration, giving
// the handler access to the hook's static config.
type Factory func(h Hook) Func

// Catalog maps handler names to implementations. Contracts declare hooks
// by handler name; whoever assembles a pipeline binds them through a
// catalog.
type Catalog struct {
	mu        sync.RWMutex
	handlers  map[string]Func
	factories map[string]Factory
}

// NewCatalog creates an empty handler catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		handlers:  make(map[string]Func),
		factories: make(map[string]Factory),
	}
}

// Register adds a config-independent handler under the given name,
// replacing any existing entry.
func (c *Catalog) Register(name string, fn Func) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[name] = fn
}

// RegisterFactory adds a handler factory under the given name. Factories
// take precedence over plain handlers with the same name.
func (c *Catalog) RegisterFactory(name string, f Factory) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.factories[name] = f
}

// Bind resolves the implementation for one hook declaration.
func (c *Catalog) Bind(h Hook) (Func, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if f, ok := c.factories[h.Handler]; ok {
		return f(h), nil
	}
	if fn, ok := c.handlers[h.Handler]; ok {
		return fn, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrHandlerNotFound, h.Handler)
}

// Lookup returns the plain handler registered under name.
func (c *Catalog) Lookup(name string) (Func, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	fn, ok := c.handlers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHandlerNotFound, name)
	}
	return fn, nil
}

// Names returns the registered handler names, sorted.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.handlers)+len(c.factories))
	for name := range c.handlers {
		names = append(names, name)
	}
	for name := range c.factories {
		if _, dup := c.handlers[name]; !dup {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
