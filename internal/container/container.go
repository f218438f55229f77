// Package container is a small type-keyed dependency container.
//
// Services are registered against a Go type (usually an interface) with a
// factory and a Lifetime, and are resolved through a Scope. Registration is
// keyed by reflect.Type; the generic helpers Register, RegisterInstance,
// Resolve and ResolveAll recover static types at the call site.
//
// Several registrations may exist for one type. Resolve returns the most
// recently registered one, ResolveAll returns every one of them in
// registration order. This is what the executor relies on to discover
// interceptors.
package container

import (
	"context"
	"reflect"
	"slices"
	"sync"
	"sync/atomic"
)

// Lifetime controls how long a resolved instance is reused.
type Lifetime int

const (
	// Transient services are built on every resolution.
	Transient Lifetime = iota
	// Scoped services are built once per Scope.
	Scoped
	// Singleton services are built once per Container on its root scope.
	Singleton
)

func (l Lifetime) String() string {
	switch l {
	case Transient:
		return "transient"
	case Scoped:
		return "scoped"
	case Singleton:
		return "singleton"
	default:
		return "unknown"
	}
}

type registration struct {
	typ      reflect.Type
	lifetime Lifetime
	factory  func(Scope) (any, error)
}

// Container holds registrations and the singleton cache.
// Registering is safe while scopes are open; a scope sees the registrations
// present at the time it resolves.
type Container struct {
	mu     sync.RWMutex
	regs   map[reflect.Type][]*registration
	onEnd  []func(Scope)
	root   *scope
	closed atomic.Bool
}

// New creates an empty Container.
func New() *Container {
	c := &Container{regs: make(map[reflect.Type][]*registration)}
	c.root = newScope(c, context.Background(), true)
	return c
}

// TypeOf returns the registration key for T.
func TypeOf[T any]() reflect.Type { return reflect.TypeOf((*T)(nil)).Elem() }

// Register adds a factory for T with the given lifetime.
func Register[T any](c *Container, lifetime Lifetime, factory func(Scope) (T, error)) {
	c.add(TypeOf[T](), lifetime, func(s Scope) (any, error) {
		v, err := factory(s)
		if err != nil {
			return nil, err
		}
		return v, nil
	})
}

// RegisterInstance registers an already built value of T as a singleton.
func RegisterInstance[T any](c *Container, v T) {
	c.add(TypeOf[T](), Singleton, func(Scope) (any, error) { return v, nil })
}

func (c *Container) add(t reflect.Type, lifetime Lifetime, factory func(Scope) (any, error)) {
	c.mu.Lock()
	c.regs[t] = append(c.regs[t], &registration{typ: t, lifetime: lifetime, factory: factory})
	c.mu.Unlock()
}

func (c *Container) lookup(t reflect.Type) []*registration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	regs := c.regs[t]
	if len(regs) == 0 {
		return nil
	}
	return append([]*registration(nil), regs...)
}

// Registered reports whether at least one registration exists for t.
func (c *Container) Registered(t reflect.Type) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.regs[t]) > 0
}

// OnScopeEnd adds a handler invoked when any scope opened from c is closed,
// before the scope releases its instances.
func (c *Container) OnScopeEnd(h func(Scope)) {
	c.mu.Lock()
	c.onEnd = append(c.onEnd, h)
	c.mu.Unlock()
}

func (c *Container) endHandlers() []func(Scope) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.onEnd)
}

// OpenScope starts a new resolution scope bound to ctx.
// The caller owns the scope and must Close it.
func (c *Container) OpenScope(ctx context.Context) (Scope, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return newScope(c, ctx, false), nil
}

// Close releases singletons that implement io.Closer. Scopes opened later fail.
func (c *Container) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.root.release()
}
