package executor

import "fmt"

// PanicError carries a panic raised by an executable to the After chain.
// The executor re-panics with Value once the chain has run.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("executor: panic: %v", e.Value) }

func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
