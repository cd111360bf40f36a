// Package observability provides OpenTelemetry tracing and metrics for
// command deployments and invocations.
//
// Deployments and invocations are measured with the RED pattern: a counter
// per outcome, an error counter and a latency histogram.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/Mindburn-Labs/cmdkit"

// Config configures the OTLP exporters.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string // gRPC, e.g. "localhost:4317"
	SampleRate     float64
	BatchTimeout   time.Duration
	ExportInterval time.Duration
	Enabled        bool
	Insecure       bool
}

// DefaultConfig returns telemetry disabled, with local collector defaults.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "cmdkit",
		ServiceVersion: "2.1.3",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		ExportInterval: 15 * time.Second,
		Enabled:        false,
		Insecure:       true,
	}
}

// Recorder is the instrumentation surface used by the orchestrator and the
// verb protocol.
type Recorder interface {
	// StartSpan opens a span; the returned func ends it, recording err.
	StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error))
	RecordDeployment(ctx context.Context, command, outcome string, duration time.Duration)
	RecordInvocation(ctx context.Context, command, verb string, duration time.Duration, failed bool)
}

// Provider owns the trace and metric providers and implements Recorder.
type Provider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	deployments        metric.Int64Counter
	deploymentDuration metric.Float64Histogram
	invocations        metric.Int64Counter
	invocationErrors   metric.Int64Counter
	invocationDuration metric.Float64Histogram
}

// New creates a provider exporting over OTLP/gRPC. A disabled config yields
// a provider whose tracer and meter are the global no-ops.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}

	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "observability"),
	}

	if !config.Enabled {
		p.logger.DebugContext(ctx, "observability disabled")
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	if err := p.initTraceProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to init trace provider: %w", err)
	}
	if err := p.initMetricProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to init metric provider: %w", err)
	}

	p.tracer = p.tracerProvider.Tracer(instrumentationName,
		trace.WithInstrumentationVersion(config.ServiceVersion))
	if err := p.initInstruments(p.meterProvider.Meter(instrumentationName,
		metric.WithInstrumentationVersion(config.ServiceVersion))); err != nil {
		return nil, fmt.Errorf("failed to init instruments: %w", err)
	}

	p.logger.InfoContext(ctx, "observability initialized",
		"service", config.ServiceName,
		"environment", config.Environment,
		"endpoint", config.OTLPEndpoint,
		"sample_rate", config.SampleRate,
	)
	return p, nil
}

// NewWithProviders wires externally built providers, e.g. a manual metric
// reader in tests.
func NewWithProviders(mp metric.MeterProvider, tp trace.TracerProvider) (*Provider, error) {
	p := &Provider{
		config: DefaultConfig(),
		logger: slog.Default().With("component", "observability"),
		tracer: tp.Tracer(instrumentationName),
	}
	if err := p.initInstruments(mp.Meter(instrumentationName)); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Provider) initTraceProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint)}
	if p.config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create trace exporter: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case p.config.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case p.config.SampleRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(p.config.SampleRate)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(p.config.BatchTimeout)),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return nil
}

func (p *Provider) initMetricProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(p.config.OTLPEndpoint)}
	if p.config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create metric exporter: %w", err)
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(p.config.ExportInterval),
		)),
	)
	otel.SetMeterProvider(p.meterProvider)
	return nil
}

func (p *Provider) initInstruments(meter metric.Meter) error {
	var err error
	p.meter = meter

	p.deployments, err = meter.Int64Counter("cmdkit.deployments.total",
		metric.WithDescription("Deployment attempts by outcome"),
		metric.WithUnit("{deployment}"),
	)
	if err != nil {
		return err
	}

	p.deploymentDuration, err = meter.Float64Histogram("cmdkit.deployment.duration",
		metric.WithDescription("Deployment duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
	)
	if err != nil {
		return err
	}

	p.invocations, err = meter.Int64Counter("cmdkit.invocations.total",
		metric.WithDescription("Command invocations by verb"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return err
	}

	p.invocationErrors, err = meter.Int64Counter("cmdkit.invocation.errors",
		metric.WithDescription("Command invocations that produced error events"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return err
	}

	p.invocationDuration, err = meter.Float64Histogram("cmdkit.invocation.duration",
		metric.WithDescription("Command invocation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 300),
	)
	return err
}

// Shutdown flushes and stops the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "failed to shutdown trace provider", "error", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "failed to shutdown metric provider", "error", err)
		}
	}
	return nil
}

func (p *Provider) Tracer() trace.Tracer {
	if p.tracer == nil {
		return otel.Tracer(instrumentationName)
	}
	return p.tracer
}

func (p *Provider) Meter() metric.Meter {
	if p.meter == nil {
		return otel.Meter(instrumentationName)
	}
	return p.meter
}

func (p *Provider) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, span := p.Tracer().Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

func (p *Provider) RecordDeployment(ctx context.Context, command, outcome string, duration time.Duration) {
	attrs := metric.WithAttributes(AttrCommandName.String(command), AttrOutcome.String(outcome))
	if p.deployments != nil {
		p.deployments.Add(ctx, 1, attrs)
	}
	if p.deploymentDuration != nil {
		p.deploymentDuration.Record(ctx, duration.Seconds(), attrs)
	}
}

func (p *Provider) RecordInvocation(ctx context.Context, command, verb string, duration time.Duration, failed bool) {
	attrs := metric.WithAttributes(AttrCommandName.String(command), AttrVerb.String(verb))
	if p.invocations != nil {
		p.invocations.Add(ctx, 1, attrs)
	}
	if failed && p.invocationErrors != nil {
		p.invocationErrors.Add(ctx, 1, attrs)
	}
	if p.invocationDuration != nil {
		p.invocationDuration.Record(ctx, duration.Seconds(), attrs)
	}
}

// Nop discards everything.
type Nop struct{}

func (Nop) StartSpan(ctx context.Context, _ string, _ ...attribute.KeyValue) (context.Context, func(error)) {
	return ctx, func(error) {}
}

func (Nop) RecordDeployment(context.Context, string, string, time.Duration) {}

func (Nop) RecordInvocation(context.Context, string, string, time.Duration, bool) {}
