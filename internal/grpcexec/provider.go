package grpcexec

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// Wildcard is the StaticEndpoints key used for names without their own entry.
const Wildcard = "*"

// EndpointProvider returns the addresses serving an endpoint name.
// Implementations must be safe for concurrent use.
type EndpointProvider interface {
	Endpoints(ctx context.Context, name string) ([]string, error)
}

// StaticEndpoints is a provider backed by an in-memory map.
type StaticEndpoints struct {
	mu   sync.RWMutex
	data map[string][]string
}

func NewStaticEndpoints(m map[string][]string) *StaticEndpoints {
	s := &StaticEndpoints{data: make(map[string][]string, len(m))}
	for k, v := range m {
		s.data[k] = slices.Clone(v)
	}
	return s
}

// Set replaces the addresses for name. An empty list removes it.
func (s *StaticEndpoints) Set(name string, addrs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(addrs) == 0 {
		delete(s.data, name)
		return
	}
	s.data[name] = slices.Clone(addrs)
}

func (s *StaticEndpoints) Endpoints(_ context.Context, name string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.data[name]
	if len(arr) == 0 {
		arr = s.data[Wildcard]
	}
	if len(arr) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrNoEndpoints, name)
	}
	return slices.Clone(arr), nil
}
