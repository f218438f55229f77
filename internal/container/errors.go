package container

import (
	"errors"
	"fmt"
	"reflect"
)

var (
	// ErrNotRegistered indicates no registration exists for the requested type.
	ErrNotRegistered = errors.New("container: not registered")
	// ErrCircular indicates a factory (transitively) resolved its own type.
	ErrCircular = errors.New("container: circular dependency")
	// ErrClosed indicates the scope or container has already been closed.
	ErrClosed = errors.New("container: closed")
)

// ResolutionError reports a failure to produce an instance of Type.
type ResolutionError struct {
	Type reflect.Type
	Err  error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("container: resolve %s: %v", typeName(e.Type), e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

func typeName(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	return t.String()
}
