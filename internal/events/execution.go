package events

import "time"

// ExecutionStart is emitted after an execution is assigned its ID and before
// its scope opens.
type ExecutionStart struct {
	ID         string
	Executable string
	Async      bool
}

// ExecutionFinish is emitted once an execution returns or panics.
// Interceptors is the size of the selected chain, 0 when resolution failed.
type ExecutionFinish struct {
	ID           string
	Executable   string
	Async        bool
	Interceptors int
	Err          error
	Duration     time.Duration
}
