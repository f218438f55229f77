// Package catalog exposes executables under public names with JSON input and
// output, so transports can call them without knowing their Go types.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
)

var (
	ErrNotFound     = errors.New("catalog: endpoint not found")
	ErrDuplicate    = errors.New("catalog: duplicate endpoint")
	ErrInvalidInput = errors.New("catalog: invalid input")
)

// Handler runs one call against an endpoint. input is JSON; an empty input
// means no value. The returned output is marshalled by the transport.
type Handler func(ctx context.Context, input []byte) (any, error)

// Kind is the shape of the executable behind an endpoint.
type Kind string

const (
	KindFunction Kind = "function"
	KindProducer Kind = "producer"
	KindConsumer Kind = "consumer"
	KindAction   Kind = "action"
)

// Endpoint describes a named entry.
type Endpoint struct {
	Name       string `json:"name"`
	Kind       Kind   `json:"kind"`
	Executable string `json:"executable"`
	Input      string `json:"input,omitempty"`
	Output     string `json:"output,omitempty"`

	handle Handler
}

// Catalog maps endpoint names to handlers. It is safe for concurrent use.
type Catalog struct {
	mu        sync.RWMutex
	endpoints map[string]Endpoint
}

func New() *Catalog { return &Catalog{endpoints: make(map[string]Endpoint)} }

// Add registers e under name.
func (c *Catalog) Add(name string, e Endpoint) error {
	if name == "" {
		return fmt.Errorf("catalog: empty endpoint name")
	}
	if e.handle == nil {
		return fmt.Errorf("catalog: endpoint %q has no handler", name)
	}
	e.Name = name
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.endpoints[name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicate, name)
	}
	c.endpoints[name] = e
	return nil
}

// MustAdd is Add that panics on error, for wiring at startup.
func (c *Catalog) MustAdd(name string, e Endpoint) {
	if err := c.Add(name, e); err != nil {
		panic(err)
	}
}

// Names returns the registered names in sorted order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	out := make([]string, 0, len(c.endpoints))
	for n := range c.endpoints {
		out = append(out, n)
	}
	c.mu.RUnlock()
	slices.Sort(out)
	return out
}

// Endpoints returns the registered endpoints sorted by name.
func (c *Catalog) Endpoints() []Endpoint {
	names := c.Names()
	out := make([]Endpoint, 0, len(names))
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, n := range names {
		if e, ok := c.endpoints[n]; ok {
			out = append(out, e)
		}
	}
	return out
}

// Lookup returns the endpoint registered under name.
func (c *Catalog) Lookup(name string) (Endpoint, bool) {
	c.mu.RLock()
	e, ok := c.endpoints[name]
	c.mu.RUnlock()
	return e, ok
}

// Call runs the endpoint registered under name.
func (c *Catalog) Call(ctx context.Context, name string, input []byte) (any, error) {
	e, ok := c.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return e.handle(ctx, input)
}
