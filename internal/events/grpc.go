package events

import (
	"time"

	"google.golang.org/grpc/codes"
)

// GRPCClientStart is emitted before a remote execution call.
type GRPCClientStart struct {
	ID       string
	Endpoint string
	Target   string
}

// GRPCClientFinish is emitted after a remote execution call completes.
type GRPCClientFinish struct {
	ID       string
	Endpoint string
	Target   string
	Code     codes.Code
	Err      error
	Duration time.Duration
}

// GRPCServerFinish is emitted after the server handled one Execute call.
type GRPCServerFinish struct {
	Endpoint string
	Code     codes.Code
	Duration time.Duration
}
