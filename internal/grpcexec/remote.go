package grpcexec

import (
	"context"
	"encoding/json"
	"fmt"

	executor "github.com/hanpama/executables/internal/executor"
)

// Remote is an asynchronous function that runs a named endpoint on a remote
// Executor service. Registered in a container it is intercepted like any
// local executable. Embed it in a named type to register several remotes
// with the same input and output types.
type Remote[In, Out any] struct {
	client *Client
	name   string
}

var _ executor.FunctionAsync[string, string] = Remote[string, string]{}

func NewRemote[In, Out any](client *Client, name string) Remote[In, Out] {
	return Remote[In, Out]{client: client, name: name}
}

// Name returns the remote endpoint name.
func (r Remote[In, Out]) Name() string { return r.name }

func (r Remote[In, Out]) ExecuteAsync(ctx context.Context, input In) (Out, error) {
	var out Out
	raw, err := json.Marshal(input)
	if err != nil {
		return out, fmt.Errorf("grpcexec: %s: encode input: %w", r.name, err)
	}
	res, err := r.client.Call(ctx, r.name, raw)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(res, &out); err != nil {
		return out, fmt.Errorf("grpcexec: %s: decode output: %w", r.name, err)
	}
	return out, nil
}
