// Package tracing configures OpenTelemetry trace export. Spans are created
// around analysis, retrieval, judging, root-cause analysis and corpus loads.
package tracing

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/moolen/sleuth/internal/logging"
)

// ServiceName is reported as service.name on every span.
const ServiceName = "sleuth"

const exporterSetupTimeout = 5 * time.Second

// Config selects where spans are exported.
type Config struct {
	Enabled bool
	// Endpoint is the OTLP gRPC collector address, e.g. "otel-collector:4317".
	Endpoint    string
	TLSCAPath   string
	TLSInsecure bool
	// SampleRatio keeps this fraction of root traces. Zero or anything at or
	// above one samples everything.
	SampleRatio float64
	Version     string
}

// Provider owns the SDK tracer provider and implements lifecycle.Component.
// A disabled Provider hands out no-op tracers.
type Provider struct {
	sdk    *sdktrace.TracerProvider
	logger *logging.Logger
}

// NewProvider builds the exporter and installs the provider globally so
// that otel.Tracer calls in the analysis packages pick it up.
func NewProvider(cfg Config) (*Provider, error) {
	logger := logging.GetLogger("tracing")
	if !cfg.Enabled {
		logger.Debug("Tracing disabled")
		return &Provider{logger: logger}, nil
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("tracing enabled but endpoint not configured")
	}

	opts, err := exporterOptions(cfg, logger)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), exporterSetupTimeout)
	defer cancel()

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}
	res, err := newResource(ctx, cfg.Version)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Info("Tracing initialized with endpoint: %s", cfg.Endpoint)
	return &Provider{sdk: tp, logger: logger}, nil
}

func exporterOptions(cfg Config, logger *logging.Logger) ([]otlptracegrpc.Option, error) {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}

	if cfg.TLSCAPath == "" && !cfg.TLSInsecure {
		return append(opts,
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		), nil
	}

	tc, err := tlsConfig(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.TLSInsecure {
		logger.Warn("Tracing TLS certificate verification is disabled")
	} else {
		logger.Info("Tracing TLS uses CA from %s", cfg.TLSCAPath)
	}
	return append(opts, otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(credentials.NewTLS(tc)))), nil
}

func newResource(ctx context.Context, version string) (*resource.Resource, error) {
	if version == "" {
		version = "dev"
	}
	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(ServiceName),
		semconv.ServiceVersion(version),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}

func sampler(ratio float64) sdktrace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return sdktrace.AlwaysSample()
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

func tlsConfig(cfg Config) (*tls.Config, error) {
	if cfg.TLSInsecure {
		return &tls.Config{
			InsecureSkipVerify: true, //nolint:gosec // opt-in via tracing.tls_insecure
			MinVersion:         tls.VersionTLS12,
		}, nil
	}
	pem, err := os.ReadFile(cfg.TLSCAPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", cfg.TLSCAPath)
	}
	return &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

// Start implements lifecycle.Component. The exporter is already set up.
func (p *Provider) Start(context.Context) error { return nil }

// Stop flushes pending spans and shuts the exporter down.
func (p *Provider) Stop(ctx context.Context) error {
	if p.sdk == nil {
		return nil
	}
	if err := p.sdk.Shutdown(ctx); err != nil {
		p.logger.Error("Error shutting down tracer provider: %v", err)
		return err
	}
	p.logger.Info("Tracing provider stopped")
	return nil
}

// Name implements lifecycle.Component.
func (p *Provider) Name() string { return "tracing" }

// Tracer returns a named tracer, or a no-op tracer when tracing is disabled.
func (p *Provider) Tracer(name string) trace.Tracer {
	if p.sdk == nil {
		return noop.NewTracerProvider().Tracer(name)
	}
	return p.sdk.Tracer(name)
}

// IsEnabled reports whether spans are exported.
func (p *Provider) IsEnabled() bool { return p.sdk != nil }
