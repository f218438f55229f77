package grpcexec

import "errors"

var (
	// ErrNoEndpoints indicates the provider has no address for an endpoint.
	ErrNoEndpoints = errors.New("grpcexec: no endpoints available")

	// ErrClosed is returned by calls on a closed Client.
	ErrClosed = errors.New("grpcexec: client closed")
)
