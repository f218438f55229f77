package interceptors

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	executor "github.com/hanpama/executables/internal/executor"
)

// Throttle paces executions with a token bucket per executable type. It
// never fails an execution: Before delays until a token is available, and
// BeforeAsync stops waiting once its context is done and lets the executable
// observe the cancellation itself.
type Throttle struct {
	executor.Ordering

	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	sleep   func(time.Duration)

	mu    sync.Mutex
	byKey map[string]*bucket
	hits  uint64
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

var (
	_ executor.Interceptor      = (*Throttle)(nil)
	_ executor.AsyncInterceptor = (*Throttle)(nil)
)

// NewThrottle allows rps executions per second per executable type with the
// given burst. Buckets idle for longer than idleTTL are evicted.
func NewThrottle(rps float64, burst int, idleTTL time.Duration, order int) (*Throttle, error) {
	if rps <= 0 || burst <= 0 {
		return nil, fmt.Errorf("interceptors: invalid throttle rate %v burst %d", rps, burst)
	}
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}
	return &Throttle{
		Ordering: executor.Ordering(order),
		limit:    rate.Limit(rps),
		burst:    burst,
		idleTTL:  idleTTL,
		sleep:    time.Sleep,
		byKey:    make(map[string]*bucket),
	}, nil
}

func (t *Throttle) Before(exe any, _ any) error {
	if d := t.limiter(name(exe), time.Now()).Reserve().Delay(); d > 0 {
		t.sleep(d)
	}
	return nil
}

func (t *Throttle) After(any, any, any, error) error { return nil }

func (t *Throttle) BeforeAsync(ctx context.Context, exe any, _ any) error {
	r := t.limiter(name(exe), time.Now()).Reserve()
	d := r.Delay()
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		// give the token back to later callers
		r.Cancel()
	}
	return nil
}

func (t *Throttle) AfterAsync(context.Context, any, any, any, error) error { return nil }

func (t *Throttle) limiter(key string, now time.Time) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()

	b, ok := t.byKey[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(t.limit, t.burst)}
		t.byKey[key] = b
	}
	b.lastSeen = now

	t.hits++
	if t.hits%512 == 0 {
		cutoff := now.Add(-t.idleTTL)
		for k, v := range t.byKey {
			if v.lastSeen.Before(cutoff) {
				delete(t.byKey, k)
			}
		}
	}
	return b.limiter
}
