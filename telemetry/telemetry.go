// Package telemetry wires OpenTelemetry tracing and metrics for the
// policy engine. The Provider doubles as a decision sink so decision
// counters and latency histograms are recorded alongside the audit trail.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/aspen-pdp/aspen/pdp"
)

// Config holds the telemetry configuration.
type Config struct {
	// ServiceName is the name of the service (e.g., "aspen").
	ServiceName string

	// ServiceVersion is the version of the service.
	ServiceVersion string

	// Environment is the deployment environment (e.g., "production").
	Environment string

	// OTLPEndpoint is the OTLP exporter endpoint for traces.
	// Leave empty to disable trace export.
	OTLPEndpoint string

	// SamplingRate is the trace sampling rate (0.0-1.0).
	SamplingRate float64

	// Enabled determines if telemetry is active.
	Enabled bool
}

// DefaultConfig returns a default telemetry configuration.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "aspen",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		SamplingRate:   1.0,
		Enabled:        true,
	}
}

// Provider manages OpenTelemetry tracer and meter providers.
type Provider struct {
	config         Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter

	// Metrics
	decisionCounter metric.Int64Counter
	evalDuration    metric.Float64Histogram
	activeStreams   metric.Int64UpDownCounter
	reloadCounter   metric.Int64Counter
}

// NewProvider creates a new telemetry provider.
func NewProvider(cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{config: cfg}, nil
	}

	p := &Provider{config: cfg}

	// Create resource
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			attribute.String("environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, err
	}

	// Setup tracing
	if err := p.setupTracing(res); err != nil {
		return nil, err
	}

	// Setup metrics
	if err := p.setupMetrics(res); err != nil {
		return nil, err
	}

	// Initialize metrics instruments
	if err := p.initMetrics(); err != nil {
		return nil, err
	}

	return p, nil
}

func (p *Provider) setupTracing(res *resource.Resource) error {
	var sampler sdktrace.Sampler
	if p.config.SamplingRate >= 1.0 {
		sampler = sdktrace.AlwaysSample()
	} else if p.config.SamplingRate <= 0 {
		sampler = sdktrace.NeverSample()
	} else {
		sampler = sdktrace.TraceIDRatioBased(p.config.SamplingRate)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sampler),
		sdktrace.WithResource(res),
	}

	// Add OTLP exporter if configured
	if p.config.OTLPEndpoint != "" {
		exporter, err := otlptracegrpc.New(
			context.Background(),
			otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return err
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	p.tracerProvider = sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(p.tracerProvider)

	p.tracer = p.tracerProvider.Tracer(p.config.ServiceName)

	return nil
}

func (p *Provider) setupMetrics(res *resource.Resource) error {
	exporter, err := prometheus.New()
	if err != nil {
		return err
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(p.meterProvider)

	p.meter = p.meterProvider.Meter(p.config.ServiceName)

	return nil
}

func (p *Provider) initMetrics() error {
	var err error

	// Decision counter
	p.decisionCounter, err = p.meter.Int64Counter(
		"aspen.decisions.total",
		metric.WithDescription("Total number of authorization decisions"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}

	// Evaluation duration histogram
	p.evalDuration, err = p.meter.Float64Histogram(
		"aspen.evaluation.duration",
		metric.WithDescription("Policy evaluation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	// Active decision streams gauge
	p.activeStreams, err = p.meter.Int64UpDownCounter(
		"aspen.streams.active",
		metric.WithDescription("Number of active decision streams"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}

	// Policy reload counter
	p.reloadCounter, err = p.meter.Int64Counter(
		"aspen.policies.reloads.total",
		metric.WithDescription("Total number of policy document reloads"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}

	return nil
}

// Shutdown gracefully shuts down the telemetry providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			return err
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Tracer returns the tracer instance.
func (p *Provider) Tracer() trace.Tracer {
	if p.tracer == nil {
		return otel.Tracer(p.config.ServiceName)
	}
	return p.tracer
}

// OnDecision implements pdp.DecisionSink: every decision increments the
// decision counter and records the evaluation latency.
func (p *Provider) OnDecision(ctx context.Context, _ pdp.AuthorizationSubscription, dec pdp.AuthorizationDecision, elapsed time.Duration) {
	if p.decisionCounter == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("decision", dec.Decision.String()),
		attribute.Bool("transformed", dec.Resource != nil),
	)
	p.decisionCounter.Add(ctx, 1, attrs)
	p.evalDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// StreamOpened records a new continuous decision stream.
func (p *Provider) StreamOpened(ctx context.Context) {
	if p.activeStreams != nil {
		p.activeStreams.Add(ctx, 1)
	}
}

// StreamClosed records the end of a continuous decision stream.
func (p *Provider) StreamClosed(ctx context.Context) {
	if p.activeStreams != nil {
		p.activeStreams.Add(ctx, -1)
	}
}

// PoliciesReloaded records one reload of the policy document set.
func (p *Provider) PoliciesReloaded(ctx context.Context) {
	if p.reloadCounter != nil {
		p.reloadCounter.Add(ctx, 1)
	}
}
