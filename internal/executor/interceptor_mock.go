package executor

import (
	"context"
	"sync"
)

// Phases recorded by the mock interceptors.
const (
	PhaseBefore = "before"
	PhaseAfter  = "after"
)

// Call represents a single interceptor invocation record.
type Call struct {
	Interceptor string
	Phase       string
	Async       bool
	Input       any
	Output      any // set for PhaseAfter only
	Err         string
}

// CallLog collects calls from any number of mock interceptors in the order
// they happened.
type CallLog struct {
	mu    sync.Mutex
	calls []Call
}

func (l *CallLog) record(c Call) {
	l.mu.Lock()
	l.calls = append(l.calls, c)
	l.mu.Unlock()
}

// Note records an arbitrary marker, such as the executable running.
func (l *CallLog) Note(name string) { l.record(Call{Interceptor: name}) }

// GetCalls returns a snapshot of the recorded calls.
func (l *CallLog) GetCalls() []Call {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Call, len(l.calls))
	copy(out, l.calls)
	return out
}

// ResetCalls clears the log.
func (l *CallLog) ResetCalls() {
	l.mu.Lock()
	l.calls = nil
	l.mu.Unlock()
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// MockInterceptor is a general interceptor, sync and async, that records into Log.
// BeforeErr and AfterErr are returned from the respective phase.
type MockInterceptor struct {
	Ordering
	Name      string
	Log       *CallLog
	BeforeErr error
	AfterErr  error
}

func (m MockInterceptor) Before(_ any, input any) error {
	m.Log.record(Call{Interceptor: m.Name, Phase: PhaseBefore, Input: input})
	return m.BeforeErr
}

func (m MockInterceptor) After(_ any, input any, output any, err error) error {
	m.Log.record(Call{Interceptor: m.Name, Phase: PhaseAfter, Input: input, Output: output, Err: errString(err)})
	return m.AfterErr
}

func (m MockInterceptor) BeforeAsync(_ context.Context, _ any, input any) error {
	m.Log.record(Call{Interceptor: m.Name, Phase: PhaseBefore, Async: true, Input: input})
	return m.BeforeErr
}

func (m MockInterceptor) AfterAsync(_ context.Context, _ any, input any, output any, err error) error {
	m.Log.record(Call{Interceptor: m.Name, Phase: PhaseAfter, Async: true, Input: input, Output: output, Err: errString(err)})
	return m.AfterErr
}

// MockSpecificInterceptor records like MockInterceptor but only observes E.
type MockSpecificInterceptor[E, In, Out any] struct {
	Ordering
	Name      string
	Log       *CallLog
	BeforeErr error
	AfterErr  error
}

func (m MockSpecificInterceptor[E, In, Out]) Before(_ E, input In) error {
	m.Log.record(Call{Interceptor: m.Name, Phase: PhaseBefore, Input: input})
	return m.BeforeErr
}

func (m MockSpecificInterceptor[E, In, Out]) After(_ E, input In, output Out, err error) error {
	m.Log.record(Call{Interceptor: m.Name, Phase: PhaseAfter, Input: input, Output: output, Err: errString(err)})
	return m.AfterErr
}

func (m MockSpecificInterceptor[E, In, Out]) BeforeAsync(_ context.Context, _ E, input In) error {
	m.Log.record(Call{Interceptor: m.Name, Phase: PhaseBefore, Async: true, Input: input})
	return m.BeforeErr
}

func (m MockSpecificInterceptor[E, In, Out]) AfterAsync(_ context.Context, _ E, input In, output Out, err error) error {
	m.Log.record(Call{Interceptor: m.Name, Phase: PhaseAfter, Async: true, Input: input, Output: output, Err: errString(err)})
	return m.AfterErr
}

// MockDiscardingInterceptor is a MockInterceptor that discards others.
type MockDiscardingInterceptor struct {
	MockInterceptor
	DiscardsOthers
}

// MockDiscardingSpecificInterceptor is a MockSpecificInterceptor that discards others.
type MockDiscardingSpecificInterceptor[E, In, Out any] struct {
	MockSpecificInterceptor[E, In, Out]
	DiscardsOthers
}

// MockExclusiveInterceptor is a MockSpecificInterceptor that discards non-specific interceptors.
type MockExclusiveInterceptor[E, In, Out any] struct {
	MockSpecificInterceptor[E, In, Out]
	DiscardsNonSpecific
}

// MockExclusiveDiscardingInterceptor discards both others and non-specific interceptors.
type MockExclusiveDiscardingInterceptor[E, In, Out any] struct {
	MockSpecificInterceptor[E, In, Out]
	DiscardsOthers
	DiscardsNonSpecific
}
