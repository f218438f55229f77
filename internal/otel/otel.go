package otel

import (
	"context"
	"sync"

	eventbus "github.com/hanpama/executables/internal/eventbus"
	events "github.com/hanpama/executables/internal/events"
	reqid "github.com/hanpama/executables/internal/reqid"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

// Setup configures OpenTelemetry and attaches eventbus subscribers to the
// global bus. If endpoint is empty, no telemetry is configured.
func Setup(endpoint, service string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := otlptracegrpc.New(context.Background(),
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure())
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(service),
		)),
	)
	otel.SetTracerProvider(tp)

	var detach func()
	if b := eventbus.Current(); b != nil {
		detach = Attach(b, otel.Tracer("executables"))
	}
	return func(ctx context.Context) error {
		if detach != nil {
			detach()
		}
		return tp.Shutdown(ctx)
	}, nil
}

// Attach turns events published on b into spans from tracer.
func Attach(b *eventbus.Bus, tracer trace.Tracer) (detach func()) {
	s := &subscriber{tracer: tracer}
	return s.register(b)
}

type subscriber struct {
	tracer    trace.Tracer
	httpSpans sync.Map // request id -> trace.Span
	execSpans sync.Map // execution id -> trace.Span
	grpcSpans sync.Map // call id -> trace.Span
}

// parent returns ctx carrying the HTTP span of the current request, if any.
func (s *subscriber) parent(ctx context.Context) context.Context {
	if trace.SpanFromContext(ctx).SpanContext().IsValid() {
		return ctx
	}
	if rid, ok := reqid.FromContext(ctx); ok {
		if v, ok := s.httpSpans.Load(rid); ok {
			return trace.ContextWithSpan(ctx, v.(trace.Span))
		}
	}
	return ctx
}

func end(m *sync.Map, key string, fn func(trace.Span)) {
	v, ok := m.LoadAndDelete(key)
	if !ok {
		return
	}
	span := v.(trace.Span)
	fn(span)
	span.End()
}

func (s *subscriber) register(b *eventbus.Bus) func() {
	offs := []func(){
		eventbus.On(b, func(ctx context.Context, e events.HTTPStart) {
			rid, _ := reqid.FromContext(ctx)
			_, span := s.tracer.Start(ctx, "http.request")
			span.SetAttributes(
				semconv.HTTPMethodKey.String(e.Request.Method),
				attribute.String("http.target", e.Request.URL.Path),
				attribute.String("executables.endpoint", e.Endpoint),
			)
			s.httpSpans.Store(rid, span)
		}),
		eventbus.On(b, func(ctx context.Context, e events.HTTPFinish) {
			rid, _ := reqid.FromContext(ctx)
			end(&s.httpSpans, rid, func(span trace.Span) {
				span.SetAttributes(semconv.HTTPStatusCodeKey.Int(e.Status))
				if e.Status >= 500 {
					span.SetStatus(codes.Error, "")
				}
			})
		}),
		eventbus.On(b, func(ctx context.Context, e events.ExecutionStart) {
			_, span := s.tracer.Start(s.parent(ctx), "execute "+e.Executable)
			span.SetAttributes(
				attribute.String("executables.executable", e.Executable),
				attribute.String("executables.execution_id", e.ID),
				attribute.Bool("executables.async", e.Async),
			)
			s.execSpans.Store(e.ID, span)
		}),
		eventbus.On(b, func(_ context.Context, e events.ExecutionFinish) {
			end(&s.execSpans, e.ID, func(span trace.Span) {
				span.SetAttributes(attribute.Int("executables.interceptors", e.Interceptors))
				if e.Err != nil {
					span.RecordError(e.Err)
					span.SetStatus(codes.Error, e.Err.Error())
				}
			})
		}),
		eventbus.On(b, func(ctx context.Context, e events.GRPCClientStart) {
			_, span := s.tracer.Start(s.parent(ctx), "grpc.client")
			span.SetAttributes(
				semconv.RPCServiceKey.String("executables.v1.Executor"),
				semconv.RPCMethodKey.String("Execute"),
				attribute.String("executables.endpoint", e.Endpoint),
				attribute.String("net.peer.name", e.Target),
			)
			s.grpcSpans.Store(e.ID, span)
		}),
		eventbus.On(b, func(_ context.Context, e events.GRPCClientFinish) {
			end(&s.grpcSpans, e.ID, func(span trace.Span) {
				span.SetAttributes(attribute.String("grpc.code", e.Code.String()))
				if e.Err != nil {
					span.RecordError(e.Err)
					span.SetStatus(codes.Error, e.Err.Error())
				}
			})
		}),
	}
	return func() {
		for _, off := range offs {
			off()
		}
	}
}
