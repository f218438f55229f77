package events

import (
	"net/http"
	"time"
)

// HTTPStart is emitted when an HTTP request is received.
// Context carries the request ID.
type HTTPStart struct {
	Request  *http.Request
	Endpoint string
}

// HTTPFinish is emitted after the handler completes.
type HTTPFinish struct {
	Request  *http.Request
	Endpoint string
	Status   int
	Duration time.Duration
}
