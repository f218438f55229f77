package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"

	executor "github.com/hanpama/executables/internal/executor"
)

// Function exposes the asynchronous function E.
func Function[E executor.FunctionAsync[In, Out], In, Out any](x *executor.Executor) Endpoint {
	return Endpoint{
		Kind:       KindFunction,
		Executable: typeName[E](),
		Input:      typeName[In](),
		Output:     typeName[Out](),
		handle: func(ctx context.Context, raw []byte) (any, error) {
			in, err := decode[In](raw)
			if err != nil {
				return nil, err
			}
			return executor.ExecuteInOutAsync[E, In, Out](ctx, x, in)
		},
	}
}

// Producer exposes the asynchronous producer E. Input is ignored.
func Producer[E executor.ProducerAsync[Out], Out any](x *executor.Executor) Endpoint {
	return Endpoint{
		Kind:       KindProducer,
		Executable: typeName[E](),
		Output:     typeName[Out](),
		handle: func(ctx context.Context, _ []byte) (any, error) {
			return executor.ExecuteOutAsync[E, Out](ctx, x)
		},
	}
}

// Consumer exposes the asynchronous consumer E. Its output is nil.
func Consumer[E executor.ConsumerAsync[In], In any](x *executor.Executor) Endpoint {
	return Endpoint{
		Kind:       KindConsumer,
		Executable: typeName[E](),
		Input:      typeName[In](),
		handle: func(ctx context.Context, raw []byte) (any, error) {
			in, err := decode[In](raw)
			if err != nil {
				return nil, err
			}
			return nil, executor.ExecuteInAsync[E, In](ctx, x, in)
		},
	}
}

// Action exposes the asynchronous action E.
func Action[E executor.ActionAsync](x *executor.Executor) Endpoint {
	return Endpoint{
		Kind:       KindAction,
		Executable: typeName[E](),
		handle: func(ctx context.Context, _ []byte) (any, error) {
			return nil, executor.ExecuteAsync[E](ctx, x)
		},
	}
}

// Handle wraps a plain handler, for endpoints not backed by an executable.
func Handle(kind Kind, h Handler) Endpoint {
	return Endpoint{Kind: kind, Executable: "func", handle: h}
}

func decode[T any](raw []byte) (T, error) {
	var v T
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return v, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return v, fmt.Errorf("%w: trailing data", ErrInvalidInput)
	}
	return v, nil
}

func typeName[T any]() string { return reflect.TypeOf((*T)(nil)).Elem().String() }
