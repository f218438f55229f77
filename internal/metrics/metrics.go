// Package metrics turns bus events into Prometheus metrics.
package metrics

import (
	"context"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	eventbus "github.com/hanpama/executables/internal/eventbus"
	events "github.com/hanpama/executables/internal/events"
)

const namespace = "executables"

// Outcome label values.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Metrics owns a registry with the collectors fed by Attach.
type Metrics struct {
	reg *prometheus.Registry

	inflight    *prometheus.GaugeVec
	executions  *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	chainLength *prometheus.HistogramVec
	httpReqs    *prometheus.CounterVec
	httpLatency *prometheus.HistogramVec
	grpcClient  *prometheus.CounterVec
	grpcServer  *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		inflight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "executions_in_flight",
			Help: "Executions currently running.",
		}, []string{"executable"}),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "executions_total",
			Help: "Finished executions by outcome.",
		}, []string{"executable", "async", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "execution_duration_seconds",
			Help:    "Execution latency including scope and interceptors.",
			Buckets: prometheus.DefBuckets,
		}, []string{"executable"}),
		chainLength: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "execution_interceptors",
			Help:    "Interceptors selected per execution.",
			Buckets: []float64{0, 1, 2, 4, 8, 16},
		}, []string{"executable"}),
		httpReqs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "HTTP requests by endpoint and status.",
		}, []string{"endpoint", "status"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
		grpcClient: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "grpc", Name: "client_calls_total",
			Help: "Remote execution calls by endpoint and code.",
		}, []string{"endpoint", "code"}),
		grpcServer: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "grpc", Name: "server_calls_total",
			Help: "Served Execute calls by endpoint and code.",
		}, []string{"endpoint", "code"}),
	}
	m.reg.MustRegister(
		m.inflight, m.executions, m.duration, m.chainLength,
		m.httpReqs, m.httpLatency, m.grpcClient, m.grpcServer,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Attach subscribes m to b and returns a function that detaches it.
func (m *Metrics) Attach(b *eventbus.Bus) (detach func()) {
	offs := []func(){
		eventbus.On(b, func(_ context.Context, e events.ExecutionStart) {
			m.inflight.WithLabelValues(e.Executable).Inc()
		}),
		eventbus.On(b, func(_ context.Context, e events.ExecutionFinish) {
			m.inflight.WithLabelValues(e.Executable).Dec()
			m.executions.WithLabelValues(e.Executable, strconv.FormatBool(e.Async), outcome(e.Err)).Inc()
			m.duration.WithLabelValues(e.Executable).Observe(e.Duration.Seconds())
			m.chainLength.WithLabelValues(e.Executable).Observe(float64(e.Interceptors))
		}),
		eventbus.On(b, func(_ context.Context, e events.HTTPFinish) {
			m.httpReqs.WithLabelValues(e.Endpoint, strconv.Itoa(e.Status)).Inc()
			m.httpLatency.WithLabelValues(e.Endpoint).Observe(e.Duration.Seconds())
		}),
		eventbus.On(b, func(_ context.Context, e events.GRPCClientFinish) {
			m.grpcClient.WithLabelValues(e.Endpoint, e.Code.String()).Inc()
		}),
		eventbus.On(b, func(_ context.Context, e events.GRPCServerFinish) {
			m.grpcServer.WithLabelValues(e.Endpoint, e.Code.String()).Inc()
		}),
	}
	return func() {
		for _, off := range offs {
			off()
		}
	}
}

func outcome(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeOK
}
