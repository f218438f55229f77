// Package executor runs executables resolved from a container inside a chain
// of interceptors.
//
// # Executables
//
// An executable is any type implementing one of eight shapes: Action,
// Consumer, Producer and Function, plus their Async twins which receive a
// context. Shapes without an input or output use Empty in its place when they
// are reported to interceptors.
//
// # Execution
//
// Every call to one of the Execute* functions:
//  1. Opens a scope on the container. The scope lives exactly as long as the
//     call and is closed on every path, including panics.
//  2. Resolves the executable type from the scope.
//  3. Resolves general and specific interceptors from the same scope and
//     selects the chain (see Select).
//  4. Runs Before on every interceptor in ascending order.
//  5. Invokes the executable. A returned error or a panic becomes the failure.
//  6. Runs After on every interceptor in descending order with the input, the
//     output (zero on failure) and the failure.
//  7. Returns the output, returns the error, or re-panics with the original
//     value.
//
// An error returned by Before stops the call immediately: neither the
// executable nor any After runs. An error returned by After stops the
// remaining After calls and replaces the result, unless the executable
// panicked.
//
// # Interceptors
//
// Synchronous entry points consult Interceptor and SpecificInterceptor;
// asynchronous ones consult AsyncInterceptor and SpecificAsyncInterceptor.
// A specific interceptor is registered under the exact (E, In, Out) triple it
// observes, for example
//
//	container.Register[executor.SpecificInterceptor[*Greet, string, string]](c, container.Transient, ...)
//
// Embed Ordering to give an interceptor its index and DiscardsOthers or
// DiscardsNonSpecific to mark it.
//
// # Events
//
// Each execution publishes events.ExecutionStart and events.ExecutionFinish
// on the event bus.
package executor
