package executor

import "context"

// Ordered is implemented by every interceptor. Lower indexes run Before
// earlier and After later.
type Ordered interface {
	OrderingIndex() int
}

// Interceptor observes every synchronous execution regardless of executable type.
// The executable, input and output are passed as they were resolved; input
// and output are Empty for shapes without them.
type Interceptor interface {
	Ordered
	Before(executable any, input any) error
	After(executable any, input any, output any, err error) error
}

// SpecificInterceptor observes synchronous executions of executable type E
// with input In and output Out.
type SpecificInterceptor[E, In, Out any] interface {
	Ordered
	Before(executable E, input In) error
	After(executable E, input In, output Out, err error) error
}

// AsyncInterceptor observes every asynchronous execution.
type AsyncInterceptor interface {
	Ordered
	BeforeAsync(ctx context.Context, executable any, input any) error
	AfterAsync(ctx context.Context, executable any, input any, output any, err error) error
}

// SpecificAsyncInterceptor observes asynchronous executions of E.
type SpecificAsyncInterceptor[E, In, Out any] interface {
	Ordered
	BeforeAsync(ctx context.Context, executable E, input In) error
	AfterAsync(ctx context.Context, executable E, input In, output Out, err error) error
}

// DiscardOthers marks an interceptor that, when it wins selection, runs alone.
type DiscardOthers interface {
	DiscardOthers()
}

// DiscardNonSpecific marks a specific interceptor that excludes general
// interceptors, and that wins a discard tie against a general interceptor
// regardless of ordering.
type DiscardNonSpecific interface {
	DiscardNonSpecific()
}

// Ordering implements Ordered; embed it to give an interceptor its index.
type Ordering int

func (o Ordering) OrderingIndex() int { return int(o) }

// DiscardsOthers implements DiscardOthers when embedded.
type DiscardsOthers struct{}

func (DiscardsOthers) DiscardOthers() {}

// DiscardsNonSpecific implements DiscardNonSpecific when embedded.
type DiscardsNonSpecific struct{}

func (DiscardsNonSpecific) DiscardNonSpecific() {}
