package obs

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracerConfig holds configuration for the session tracer. Trimmed from
// the teacher's multi-exporter Config to the stdout exporter this core's
// tracing surface needs (the OTLP exporters and metrics SDK are not wired,
// see DESIGN.md).
type TracerConfig struct {
	// Enabled controls whether tracing is active. Default: false (no-op).
	Enabled bool

	// ServiceName identifies this binary in emitted spans.
	ServiceName string
}

// DefaultTracerConfig returns tracing disabled.
func DefaultTracerConfig() TracerConfig {
	return TracerConfig{Enabled: false, ServiceName: "goiperf"}
}

// Tracer wraps OpenTelemetry tracing for the FSM and stream worker
// lifetimes.
type Tracer struct {
	config   TracerConfig
	provider trace.TracerProvider
	tracer   trace.Tracer
	shutdown func(context.Context) error
	mu       sync.Mutex
}

// NewTracer creates a Tracer. When cfg.Enabled is false the returned
// Tracer is backed by a no-op provider so StartStreamSpan and
// StartStateSpan are always safe to call unconditionally from FSM/stream
// code.
func NewTracer(cfg TracerConfig) (*Tracer, error) {
	t := &Tracer{config: cfg}

	if !cfg.Enabled {
		t.provider = noop.NewTracerProvider()
		t.tracer = t.provider.Tracer(cfg.ServiceName)
		t.shutdown = func(context.Context) error { return nil }
		return t, nil
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("obs: create stdout exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes("", semconv.ServiceName(cfg.ServiceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("obs: build resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	t.provider = tp
	t.tracer = tp.Tracer(cfg.ServiceName)
	t.shutdown = tp.Shutdown
	return t, nil
}

// Shutdown flushes any pending spans.
func (t *Tracer) Shutdown(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.shutdown != nil {
		return t.shutdown(ctx)
	}
	return nil
}

// StreamSpanOptions describes a span around one stream worker's lifetime.
type StreamSpanOptions struct {
	SessionID string
	StreamID  int
	Transport string
	Role      string // "sender" or "receiver"
}

// StartStreamSpan starts a span covering one stream worker's run loop.
func (t *Tracer) StartStreamSpan(ctx context.Context, opts StreamSpanOptions) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, fmt.Sprintf("stream.%s.%s", opts.Transport, opts.Role),
		trace.WithAttributes(
			attribute.String("goiperf.session_id", opts.SessionID),
			attribute.Int("goiperf.stream_id", opts.StreamID),
			attribute.String("goiperf.transport", opts.Transport),
			attribute.String("goiperf.stream_role", opts.Role),
		),
	)
}

// StartStateSpan starts a span covering one FSM state transition.
func (t *Tracer) StartStateSpan(ctx context.Context, sessionID, state string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, fmt.Sprintf("fsm.%s", state),
		trace.WithAttributes(
			attribute.String("goiperf.session_id", sessionID),
			attribute.String("goiperf.state", state),
		),
	)
}
