package executor

import (
	"context"

	container "github.com/hanpama/executables/internal/container"
)

// ExecuteAsync resolves E and runs it under ctx.
func ExecuteAsync[E ActionAsync](ctx context.Context, x *Executor) error {
	_, err := run(ctx, x, true, Empty{}, asyncChainFor[E, Empty, Empty],
		func(ctx context.Context, e E, _ Empty) (Empty, error) { return Empty{}, e.ExecuteAsync(ctx) })
	return err
}

// ExecuteInAsync resolves E and runs it with input under ctx.
func ExecuteInAsync[E ConsumerAsync[In], In any](ctx context.Context, x *Executor, input In) error {
	_, err := run(ctx, x, true, input, asyncChainFor[E, In, Empty],
		func(ctx context.Context, e E, in In) (Empty, error) { return Empty{}, e.ExecuteAsync(ctx, in) })
	return err
}

// ExecuteOutAsync resolves E, runs it under ctx and returns its output.
func ExecuteOutAsync[E ProducerAsync[Out], Out any](ctx context.Context, x *Executor) (Out, error) {
	return run(ctx, x, true, Empty{}, asyncChainFor[E, Empty, Out],
		func(ctx context.Context, e E, _ Empty) (Out, error) { return e.ExecuteAsync(ctx) })
}

// ExecuteInOutAsync resolves E, runs it with input under ctx and returns its output.
func ExecuteInOutAsync[E FunctionAsync[In, Out], In, Out any](ctx context.Context, x *Executor, input In) (Out, error) {
	return run(ctx, x, true, input, asyncChainFor[E, In, Out],
		func(ctx context.Context, e E, in In) (Out, error) { return e.ExecuteAsync(ctx, in) })
}

type asyncChain[E, In, Out any] struct {
	Chain[AsyncInterceptor, SpecificAsyncInterceptor[E, In, Out]]
}

func asyncChainFor[E, In, Out any](scope container.Scope) (runner[E, In, Out], error) {
	general, err := container.ResolveAll[AsyncInterceptor](scope)
	if err != nil {
		return nil, err
	}
	specific, err := container.ResolveAll[SpecificAsyncInterceptor[E, In, Out]](scope)
	if err != nil {
		return nil, err
	}
	return asyncChain[E, In, Out]{Select(general, specific)}, nil
}

func (c asyncChain[E, In, Out]) len() int { return len(c.links) }

func (c asyncChain[E, In, Out]) before(ctx context.Context, exe E, input In) error {
	for _, l := range c.links {
		var err error
		if l.IsGeneral {
			err = l.General.BeforeAsync(ctx, exe, input)
		} else {
			err = l.Specific.BeforeAsync(ctx, exe, input)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (c asyncChain[E, In, Out]) after(ctx context.Context, exe E, input In, output Out, failure error) error {
	for i := len(c.links) - 1; i >= 0; i-- {
		l := c.links[i]
		var err error
		if l.IsGeneral {
			err = l.General.AfterAsync(ctx, exe, input, output, failure)
		} else {
			err = l.Specific.AfterAsync(ctx, exe, input, output, failure)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
