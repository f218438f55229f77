package executor

import "context"

// Empty stands in for the input of executables that take none and the output
// of executables that produce none, so interceptors always see a value.
type Empty struct{}

// Action takes no input and produces no output.
type Action interface {
	Execute() error
}

// Consumer takes an input and produces no output.
type Consumer[In any] interface {
	Execute(input In) error
}

// Producer takes no input and produces an output.
type Producer[Out any] interface {
	Execute() (Out, error)
}

// Function takes an input and produces an output.
type Function[In, Out any] interface {
	Execute(input In) (Out, error)
}

// ActionAsync is the context-aware twin of Action.
type ActionAsync interface {
	ExecuteAsync(ctx context.Context) error
}

// ConsumerAsync is the context-aware twin of Consumer.
type ConsumerAsync[In any] interface {
	ExecuteAsync(ctx context.Context, input In) error
}

// ProducerAsync is the context-aware twin of Producer.
type ProducerAsync[Out any] interface {
	ExecuteAsync(ctx context.Context) (Out, error)
}

// FunctionAsync is the context-aware twin of Function.
type FunctionAsync[In, Out any] interface {
	ExecuteAsync(ctx context.Context, input In) (Out, error)
}
