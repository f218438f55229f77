package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"

	eventbus "github.com/hanpama/executables/internal/eventbus"
	events "github.com/hanpama/executables/internal/events"
)

func TestAttach(t *testing.T) {
	b := eventbus.New()
	m := New()
	detach := m.Attach(b)
	ctx := context.Background()

	eventbus.Emit(ctx, b, events.ExecutionStart{ID: "1", Executable: "demo.Greet"})
	require.Equal(t, 1.0, testutil.ToFloat64(m.inflight.WithLabelValues("demo.Greet")))

	eventbus.Emit(ctx, b, events.ExecutionFinish{ID: "1", Executable: "demo.Greet", Interceptors: 2, Duration: time.Millisecond})
	eventbus.Emit(ctx, b, events.ExecutionFinish{ID: "2", Executable: "demo.Greet", Async: true, Err: errors.New("x")})
	require.Equal(t, -1.0, testutil.ToFloat64(m.inflight.WithLabelValues("demo.Greet")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.executions.WithLabelValues("demo.Greet", "false", OutcomeOK)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.executions.WithLabelValues("demo.Greet", "true", OutcomeError)))
	require.Equal(t, 1, testutil.CollectAndCount(m.duration))

	eventbus.Emit(ctx, b, events.HTTPFinish{Endpoint: "greet", Status: 200})
	eventbus.Emit(ctx, b, events.GRPCClientFinish{Endpoint: "greet", Code: codes.Unavailable})
	eventbus.Emit(ctx, b, events.GRPCServerFinish{Endpoint: "greet", Code: codes.OK})
	require.Equal(t, 1.0, testutil.ToFloat64(m.httpReqs.WithLabelValues("greet", "200")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.grpcClient.WithLabelValues("greet", "Unavailable")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.grpcServer.WithLabelValues("greet", "OK")))

	detach()
	eventbus.Emit(ctx, b, events.HTTPFinish{Endpoint: "greet", Status: 200})
	require.Equal(t, 1.0, testutil.ToFloat64(m.httpReqs.WithLabelValues("greet", "200")))
}

func TestHandler(t *testing.T) {
	b := eventbus.New()
	m := New()
	m.Attach(b)
	eventbus.Emit(context.Background(), b, events.ExecutionFinish{Executable: "demo.Greet"})

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `executables_executions_total{async="false",executable="demo.Greet",outcome="ok"} 1`)
}
