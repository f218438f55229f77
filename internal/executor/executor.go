package executor

import (
	"context"
	"reflect"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	container "github.com/hanpama/executables/internal/container"
	eventbus "github.com/hanpama/executables/internal/eventbus"
	events "github.com/hanpama/executables/internal/events"
)

// ScopeOpener opens the resolution scope used by one execution.
// *container.Container implements it.
type ScopeOpener interface {
	OpenScope(ctx context.Context) (container.Scope, error)
}

// ErrorHandler observes a failed execution while its scope is still open.
// It runs after the After chain and cannot change the returned error.
type ErrorHandler func(ctx context.Context, err error, scope container.Scope)

type Options struct {
	ErrorHandler ErrorHandler
}

type Option func(*Options)

func WithErrorHandler(h ErrorHandler) Option { return func(o *Options) { o.ErrorHandler = h } }

// Executor resolves executables in a dedicated scope per call and runs them
// inside their interceptor chain. It holds no per-execution state and is safe
// for concurrent use.
type Executor struct {
	scopes ScopeOpener
	opt    Options
}

func NewExecutor(scopes ScopeOpener, opts ...Option) *Executor {
	var op Options
	for _, f := range opts {
		f(&op)
	}
	return &Executor{scopes: scopes, opt: op}
}

// Execute resolves E and runs it.
func Execute[E Action](x *Executor) error {
	_, err := run(context.Background(), x, false, Empty{}, syncChainFor[E, Empty, Empty],
		func(_ context.Context, e E, _ Empty) (Empty, error) { return Empty{}, e.Execute() })
	return err
}

// ExecuteIn resolves E and runs it with input.
func ExecuteIn[E Consumer[In], In any](x *Executor, input In) error {
	_, err := run(context.Background(), x, false, input, syncChainFor[E, In, Empty],
		func(_ context.Context, e E, in In) (Empty, error) { return Empty{}, e.Execute(in) })
	return err
}

// ExecuteOut resolves E, runs it and returns its output.
func ExecuteOut[E Producer[Out], Out any](x *Executor) (Out, error) {
	return run(context.Background(), x, false, Empty{}, syncChainFor[E, Empty, Out],
		func(_ context.Context, e E, _ Empty) (Out, error) { return e.Execute() })
}

// ExecuteInOut resolves E, runs it with input and returns its output.
func ExecuteInOut[E Function[In, Out], In, Out any](x *Executor, input In) (Out, error) {
	return run(context.Background(), x, false, input, syncChainFor[E, In, Out],
		func(_ context.Context, e E, in In) (Out, error) { return e.Execute(in) })
}

// runner is a selected chain bound to one (E, In, Out) triple.
type runner[E, In, Out any] interface {
	len() int
	before(ctx context.Context, executable E, input In) error
	after(ctx context.Context, executable E, input In, output Out, err error) error
}

type syncChain[E, In, Out any] struct {
	Chain[Interceptor, SpecificInterceptor[E, In, Out]]
}

func syncChainFor[E, In, Out any](scope container.Scope) (runner[E, In, Out], error) {
	general, err := container.ResolveAll[Interceptor](scope)
	if err != nil {
		return nil, err
	}
	specific, err := container.ResolveAll[SpecificInterceptor[E, In, Out]](scope)
	if err != nil {
		return nil, err
	}
	return syncChain[E, In, Out]{Select(general, specific)}, nil
}

func (c syncChain[E, In, Out]) len() int { return len(c.links) }

func (c syncChain[E, In, Out]) before(_ context.Context, exe E, input In) error {
	for _, l := range c.links {
		var err error
		if l.IsGeneral {
			err = l.General.Before(exe, input)
		} else {
			err = l.Specific.Before(exe, input)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (c syncChain[E, In, Out]) after(_ context.Context, exe E, input In, output Out, failure error) error {
	for i := len(c.links) - 1; i >= 0; i-- {
		l := c.links[i]
		var err error
		if l.IsGeneral {
			err = l.General.After(exe, input, output, failure)
		} else {
			err = l.Specific.After(exe, input, output, failure)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

type outcome[Out any] struct {
	output Out
	err    error
	panic  *PanicError
}

func (o outcome[Out]) failure() error {
	if o.panic != nil {
		return o.panic
	}
	return o.err
}

func run[E, In, Out any](
	ctx context.Context,
	x *Executor,
	async bool,
	input In,
	chainFor func(container.Scope) (runner[E, In, Out], error),
	call func(context.Context, E, In) (Out, error),
) (output Out, err error) {
	var zero Out
	id := uuid.NewString()
	name := typeName[E]()
	links := 0
	var failure error
	start := time.Now()
	eventbus.Publish(ctx, events.ExecutionStart{ID: id, Executable: name, Async: async})
	defer func() {
		// a panic from an interceptor is recorded like one from the executable
		r := recover()
		if _, ok := failure.(*PanicError); r != nil && !ok {
			failure = &PanicError{Value: r, Stack: debug.Stack()}
		}
		if failure == nil {
			failure = err
		}
		eventbus.Publish(ctx, events.ExecutionFinish{
			ID:           id,
			Executable:   name,
			Async:        async,
			Interceptors: links,
			Err:          failure,
			Duration:     time.Since(start),
		})
		if r != nil {
			panic(r)
		}
	}()

	scope, err := x.scopes.OpenScope(ctx)
	if err != nil {
		return zero, err
	}
	defer func() {
		if cerr := scope.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	executable, err := container.Resolve[E](scope)
	if err != nil {
		return zero, err
	}
	chain, err := chainFor(scope)
	if err != nil {
		return zero, err
	}
	links = chain.len()

	if err := chain.before(ctx, executable, input); err != nil {
		return zero, err
	}

	res := invoke(ctx, call, executable, input)
	failure = res.failure()
	if failure != nil {
		res.output = zero
	}

	if err := chain.after(ctx, executable, input, res.output, failure); err != nil && res.panic == nil {
		return zero, err
	}
	if failure != nil && x.opt.ErrorHandler != nil {
		x.opt.ErrorHandler(ctx, failure, scope)
	}
	if res.panic != nil {
		panic(res.panic.Value)
	}
	if res.err != nil {
		return zero, res.err
	}
	return res.output, nil
}

func invoke[E, In, Out any](ctx context.Context, call func(context.Context, E, In) (Out, error), executable E, input In) (res outcome[Out]) {
	defer func() {
		if r := recover(); r != nil {
			res.panic = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	res.output, res.err = call(ctx, executable, input)
	return res
}

func typeName[T any]() string {
	return reflect.TypeOf((*T)(nil)).Elem().String()
}
