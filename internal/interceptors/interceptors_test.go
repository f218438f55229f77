package interceptors

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/require"

	container "github.com/hanpama/executables/internal/container"
	executor "github.com/hanpama/executables/internal/executor"
	reqid "github.com/hanpama/executables/internal/reqid"
)

type double struct{}

func (double) Execute(n int) (int, error) { return n * 2, nil }

func (double) ExecuteAsync(_ context.Context, n int) (int, error) { return n * 2, nil }

var errOdd = errors.New("odd")

type even struct{}

func (even) Execute(n int) (int, error) {
	if n%2 != 0 {
		return 0, errOdd
	}
	return n, nil
}

func newExecutor(t *testing.T, sync executor.Interceptor, async executor.AsyncInterceptor) *executor.Executor {
	t.Helper()
	c := container.New()
	t.Cleanup(func() { _ = c.Close() })
	container.RegisterInstance(c, double{})
	container.RegisterInstance(c, even{})
	if sync != nil {
		container.RegisterInstance(c, sync)
	}
	if async != nil {
		container.RegisterInstance(c, async)
	}
	return executor.NewExecutor(c)
}

func TestLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := log.NewWithOptions(&buf, log.Options{Level: log.DebugLevel})
	l := NewLogging(logger, 0)
	x := newExecutor(t, l, l)

	got, err := executor.ExecuteInOut[double, int, int](x, 2)
	require.NoError(t, err)
	require.Equal(t, 4, got)
	require.Contains(t, buf.String(), "executing")
	require.Contains(t, buf.String(), "interceptors.double")

	buf.Reset()
	_, err = executor.ExecuteInOut[even, int, int](x, 3)
	require.ErrorIs(t, err, errOdd)
	require.Contains(t, buf.String(), "execution failed")
	require.Contains(t, buf.String(), "odd")

	buf.Reset()
	ctx, id := reqid.NewContext(context.Background())
	_, err = executor.ExecuteInOutAsync[double, int, int](ctx, x, 1)
	require.NoError(t, err)
	require.Contains(t, buf.String(), id)
	require.Contains(t, buf.String(), "async")
}

func TestLogging_QuietAtInfo(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogging(log.NewWithOptions(&buf, log.Options{Level: log.InfoLevel}), 0)
	x := newExecutor(t, l, nil)

	_, err := executor.ExecuteInOut[double, int, int](x, 2)
	require.NoError(t, err)
	require.Empty(t, buf.String())
}

func TestNewThrottle_Invalid(t *testing.T) {
	_, err := NewThrottle(0, 1, 0, 0)
	require.Error(t, err)
	_, err = NewThrottle(1, 0, 0, 0)
	require.Error(t, err)
}

func TestThrottle_SyncDelaysInsteadOfFailing(t *testing.T) {
	th, err := NewThrottle(1, 2, time.Minute, -10)
	require.NoError(t, err)
	require.Equal(t, -10, th.OrderingIndex())
	var slept []time.Duration
	th.sleep = func(d time.Duration) { slept = append(slept, d) }
	x := newExecutor(t, th, nil)

	for i := 0; i < 3; i++ {
		got, err := executor.ExecuteInOut[double, int, int](x, i)
		require.NoError(t, err)
		require.Equal(t, i*2, got)
	}
	require.Len(t, slept, 1)
	require.Greater(t, slept[0], 500*time.Millisecond)

	// buckets are per executable type
	_, err = executor.ExecuteInOut[even, int, int](x, 2)
	require.NoError(t, err)
	require.Len(t, slept, 1)
}

func TestThrottle_AsyncStopsWaitingWhenContextDone(t *testing.T) {
	th, err := NewThrottle(0.001, 1, 0, 0)
	require.NoError(t, err)
	x := newExecutor(t, nil, th)

	_, err = executor.ExecuteInOutAsync[double, int, int](context.Background(), x, 1)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	got, err := executor.ExecuteInOutAsync[double, int, int](ctx, x, 4)
	require.NoError(t, err)
	require.Equal(t, 8, got)
	require.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}

func TestThrottle_AsyncRefills(t *testing.T) {
	th, err := NewThrottle(200, 1, 0, 0)
	require.NoError(t, err)
	x := newExecutor(t, nil, th)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for i := 0; i < 3; i++ {
		_, err := executor.ExecuteInOutAsync[double, int, int](ctx, x, i)
		require.NoError(t, err)
	}
}
