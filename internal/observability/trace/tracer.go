// Package trace provides distributed tracing for verl-prime.
// It integrates the OpenTelemetry SDK to create and manage spans around
// training steps and their phases, exporting through OTLP/gRPC.
package trace

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// ============================================================================
// Tracer Interface
// ============================================================================

// Tracer defines the distributed tracing interface
type Tracer interface {
	// Start creates a new span
	Start(ctx context.Context, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span)

	// GetTraceID returns trace ID from context
	GetTraceID(ctx context.Context) string

	// GetSpanID returns span ID from context
	GetSpanID(ctx context.Context) string

	// InjectContext injects trace context into carrier
	InjectContext(ctx context.Context, carrier propagation.TextMapCarrier)

	// ExtractContext extracts trace context from carrier
	ExtractContext(ctx context.Context, carrier propagation.TextMapCarrier) context.Context

	// Shutdown gracefully shuts down the tracer
	Shutdown(ctx context.Context) error
}

// ============================================================================
// OpenTelemetry Tracer Implementation
// ============================================================================

// OtelTracer wraps OpenTelemetry tracer
type OtelTracer struct {
	tracer         trace.Tracer
	provider       *sdktrace.TracerProvider
	propagator     propagation.TextMapPropagator
	serviceName    string
	serviceVersion string
}

// TracerConfig defines tracer configuration
type TracerConfig struct {
	// Service name
	ServiceName string

	// Service version
	ServiceVersion string

	// Environment (development, staging, production)
	Environment string

	// Endpoint for the OTLP/gRPC exporter
	Endpoint string

	// Sampling rate (0.0 - 1.0)
	SamplingRate float64
}

// NewTracer creates a new OpenTelemetry tracer
func NewTracer(cfg TracerConfig) (Tracer, error) {
	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := createOTLPExporter(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create exporter: %w", err)
	}

	sampler := sdktrace.ParentBased(
		sdktrace.TraceIDRatioBased(cfg.SamplingRate),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	otel.SetTracerProvider(tp)

	propagator := propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)
	otel.SetTextMapPropagator(propagator)

	tracer := tp.Tracer(
		cfg.ServiceName,
		trace.WithInstrumentationVersion(cfg.ServiceVersion),
	)

	return &OtelTracer{
		tracer:         tracer,
		provider:       tp,
		propagator:     propagator,
		serviceName:    cfg.ServiceName,
		serviceVersion: cfg.ServiceVersion,
	}, nil
}

// createOTLPExporter creates an OTLP/gRPC exporter
func createOTLPExporter(endpoint string) (sdktrace.SpanExporter, error) {
	ctx := context.Background()
	client := otlptracegrpc.NewClient(
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	return otlptrace.New(ctx, client)
}

// ============================================================================
// Tracer Methods
// ============================================================================

// Start creates a new span
func (t *OtelTracer) Start(ctx context.Context, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, spanName, opts...)
}

// GetTraceID returns trace ID from context
func (t *OtelTracer) GetTraceID(ctx context.Context) string {
	spanCtx := trace.SpanContextFromContext(ctx)
	if spanCtx.HasTraceID() {
		return spanCtx.TraceID().String()
	}
	return ""
}

// GetSpanID returns span ID from context
func (t *OtelTracer) GetSpanID(ctx context.Context) string {
	spanCtx := trace.SpanContextFromContext(ctx)
	if spanCtx.HasSpanID() {
		return spanCtx.SpanID().String()
	}
	return ""
}

// InjectContext injects trace context into carrier
func (t *OtelTracer) InjectContext(ctx context.Context, carrier propagation.TextMapCarrier) {
	t.propagator.Inject(ctx, carrier)
}

// ExtractContext extracts trace context from carrier
func (t *OtelTracer) ExtractContext(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	return t.propagator.Extract(ctx, carrier)
}

// Shutdown gracefully shuts down the tracer
func (t *OtelTracer) Shutdown(ctx context.Context) error {
	return t.provider.Shutdown(ctx)
}

// ============================================================================
// No-op Tracer
// ============================================================================

// NoopTracer discards all spans; used when tracing is disabled
type NoopTracer struct {
	tracer trace.Tracer
}

// NewNoopTracer creates a no-op tracer
func NewNoopTracer() Tracer {
	return &NoopTracer{tracer: noop.NewTracerProvider().Tracer("noop")}
}

func (t *NoopTracer) Start(ctx context.Context, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, spanName, opts...)
}

func (t *NoopTracer) GetTraceID(ctx context.Context) string { return "" }

func (t *NoopTracer) GetSpanID(ctx context.Context) string { return "" }

func (t *NoopTracer) InjectContext(ctx context.Context, carrier propagation.TextMapCarrier) {}

func (t *NoopTracer) ExtractContext(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	return ctx
}

func (t *NoopTracer) Shutdown(ctx context.Context) error { return nil }

// ============================================================================
// Span Helpers
// ============================================================================

// SetSpanAttributes sets attributes on current span
func SetSpanAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attrs...)
}

// RecordSpanError records an error on current span
func RecordSpanError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// AddSpanEvent adds an event to current span
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// ============================================================================
// Pre-defined Attributes
// ============================================================================

// RunIDAttr tags a span with the training run identifier
func RunIDAttr(runID string) attribute.KeyValue {
	return attribute.String("run.id", runID)
}

// StepAttr tags a span with the training step
func StepAttr(step int64) attribute.KeyValue {
	return attribute.Int64("run.step", step)
}

// PhaseAttr tags a span with the step phase name
func PhaseAttr(phase string) attribute.KeyValue {
	return attribute.String("run.phase", phase)
}

// GroupCountAttr tags a span with the number of trajectory groups
func GroupCountAttr(n int) attribute.KeyValue {
	return attribute.Int("batch.groups", n)
}

// TrajectoryCountAttr tags a span with the number of trajectories
func TrajectoryCountAttr(n int) attribute.KeyValue {
	return attribute.Int("batch.trajectories", n)
}
