package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"slices"
	"sync"
)

// Scope resolves instances. Scoped instances live as long as the scope;
// instances implementing io.Closer that the scope created are closed with it.
//
// A scope is meant to be owned by a single unit of work. Resolving from
// several goroutines is safe but may build a scoped instance more than once.
type Scope interface {
	// Context returns the context the scope was opened with.
	Context() context.Context
	// Resolve returns the most recently registered instance for t.
	Resolve(t reflect.Type) (any, error)
	// ResolveAll returns one instance per registration for t, in
	// registration order. It returns an empty slice when nothing is registered.
	ResolveAll(t reflect.Type) ([]any, error)
	// Close runs scope end handlers and releases scope-owned instances.
	Close() error
}

type scope struct {
	c    *Container
	ctx  context.Context
	root bool

	mu        sync.Mutex
	instances map[*registration]any
	closers   []io.Closer
	closed    bool

	singletonMu sync.Map // *registration -> *sync.Mutex
}

func newScope(c *Container, ctx context.Context, root bool) *scope {
	return &scope{c: c, ctx: ctx, root: root, instances: make(map[*registration]any)}
}

func (s *scope) Context() context.Context { return s.ctx }

func (s *scope) Resolve(t reflect.Type) (any, error) { return s.resolveType(t, nil) }

func (s *scope) ResolveAll(t reflect.Type) ([]any, error) { return s.resolveAll(t, nil) }

func (s *scope) Close() error {
	if s.root {
		return nil
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	for _, h := range s.c.endHandlers() {
		h(s)
	}
	return s.release()
}

func (s *scope) release() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	closers := s.closers
	s.closers = nil
	s.instances = nil
	s.mu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *scope) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *scope) resolveType(t reflect.Type, path []*registration) (any, error) {
	if s.isClosed() {
		return nil, &ResolutionError{Type: t, Err: ErrClosed}
	}
	regs := s.c.lookup(t)
	if len(regs) == 0 {
		return nil, &ResolutionError{Type: t, Err: ErrNotRegistered}
	}
	return s.build(regs[len(regs)-1], path)
}

func (s *scope) resolveAll(t reflect.Type, path []*registration) ([]any, error) {
	if s.isClosed() {
		return nil, &ResolutionError{Type: t, Err: ErrClosed}
	}
	regs := s.c.lookup(t)
	out := make([]any, 0, len(regs))
	for _, reg := range regs {
		v, err := s.build(reg, path)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *scope) build(reg *registration, path []*registration) (any, error) {
	if slices.Contains(path, reg) {
		return nil, &ResolutionError{Type: reg.typ, Err: ErrCircular}
	}
	next := append(slices.Clip(path), reg)

	switch reg.lifetime {
	case Singleton:
		if !s.root {
			return s.c.root.build(reg, path)
		}
		lock := s.singletonLock(reg)
		lock.Lock()
		defer lock.Unlock()
		return s.cached(reg, next)
	case Scoped:
		return s.cached(reg, next)
	default:
		v, err := s.create(reg, next)
		if err != nil {
			return nil, err
		}
		s.track(v)
		return v, nil
	}
}

func (s *scope) singletonLock(reg *registration) *sync.Mutex {
	l, _ := s.singletonMu.LoadOrStore(reg, &sync.Mutex{})
	return l.(*sync.Mutex)
}

func (s *scope) cached(reg *registration, path []*registration) (any, error) {
	s.mu.Lock()
	if v, ok := s.instances[reg]; ok {
		s.mu.Unlock()
		return v, nil
	}
	s.mu.Unlock()

	v, err := s.create(reg, path)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, &ResolutionError{Type: reg.typ, Err: ErrClosed}
	}
	if prev, ok := s.instances[reg]; ok {
		return prev, nil
	}
	s.instances[reg] = v
	if cl, ok := v.(io.Closer); ok {
		s.closers = append(s.closers, cl)
	}
	return v, nil
}

func (s *scope) create(reg *registration, path []*registration) (any, error) {
	v, err := reg.factory(&view{s: s, path: path})
	if err != nil {
		var re *ResolutionError
		if errors.As(err, &re) && re.Type == reg.typ {
			return nil, err
		}
		return nil, &ResolutionError{Type: reg.typ, Err: err}
	}
	return v, nil
}

func (s *scope) track(v any) {
	cl, ok := v.(io.Closer)
	if !ok {
		return
	}
	s.mu.Lock()
	s.closers = append(s.closers, cl)
	s.mu.Unlock()
}

// view is the Scope handed to factories. It carries the resolution path so
// cycles are reported instead of recursing forever.
type view struct {
	s    *scope
	path []*registration
}

func (v *view) Context() context.Context { return v.s.ctx }

func (v *view) Resolve(t reflect.Type) (any, error) { return v.s.resolveType(t, v.path) }

func (v *view) ResolveAll(t reflect.Type) ([]any, error) { return v.s.resolveAll(t, v.path) }

// Close is a no-op: factories do not own the scope they resolve from.
func (v *view) Close() error { return nil }

// Resolve returns the instance registered for T.
func Resolve[T any](s Scope) (T, error) {
	var zero T
	t := TypeOf[T]()
	v, err := s.Resolve(t)
	if err != nil {
		return zero, err
	}
	return assign[T](t, v)
}

// ResolveAll returns every instance registered for T in registration order.
func ResolveAll[T any](s Scope) ([]T, error) {
	t := TypeOf[T]()
	vs, err := s.ResolveAll(t)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(vs))
	for _, v := range vs {
		tv, err := assign[T](t, v)
		if err != nil {
			return nil, err
		}
		out = append(out, tv)
	}
	return out, nil
}

func assign[T any](t reflect.Type, v any) (T, error) {
	var zero T
	if v == nil {
		return zero, nil
	}
	tv, ok := v.(T)
	if !ok {
		return zero, &ResolutionError{Type: t, Err: fmt.Errorf("instance of type %T is not assignable", v)}
	}
	return tv, nil
}
