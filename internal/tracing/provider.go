package tracing

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	bridgelog "github.com/gxo-labs/cncbridge/pkg/cncbridge/v1/log"
	bridgetracing "github.com/gxo-labs/cncbridge/pkg/cncbridge/v1/tracing"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/encoding/gzip"
)

const (
	defaultGRPCEndpoint = "localhost:4317"
	defaultHTTPEndpoint = "localhost:4318"
	defaultServiceName  = "cncbridge"
	defaultTimeout      = 10 * time.Second
)

// OtelTracerProvider implements bridgetracing.TracerProvider with either the
// OpenTelemetry SDK or a no-op provider.
type OtelTracerProvider struct {
	provider    trace.TracerProvider
	sdkProvider *sdktrace.TracerProvider
}

// NewNoOpProvider returns a provider whose tracers record nothing.
func NewNoOpProvider() *OtelTracerProvider {
	return &OtelTracerProvider{provider: noop.NewTracerProvider()}
}

// NewProviderFromEnv builds an SDK provider from the standard OTEL_*
// variables. Tracing stays off (no-op) unless OTEL_EXPORTER_OTLP_ENDPOINT or
// OTEL_EXPORTER_OTLP_PROTOCOL is set; OTEL_SDK_DISABLED=true always wins.
// Exporter failures degrade to no-op with a warning rather than an error.
func NewProviderFromEnv(ctx context.Context, log bridgelog.Logger) *OtelTracerProvider {
	log = log.With("component", "Tracing")
	if strings.EqualFold(os.Getenv("OTEL_SDK_DISABLED"), "true") {
		log.Infof("OpenTelemetry tracing disabled via OTEL_SDK_DISABLED")
		return NewNoOpProvider()
	}
	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") == "" && os.Getenv("OTEL_EXPORTER_OTLP_PROTOCOL") == "" {
		log.Debugf("No OTLP endpoint configured, tracing is a no-op")
		return NewNoOpProvider()
	}

	res, err := resource.New(ctx,
		resource.WithSchemaURL(semconv.SchemaURL),
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName())),
		resource.WithProcess(), resource.WithOS(), resource.WithHost(),
	)
	if err != nil {
		log.Warnf("Failed to build OTel resource, using default: %v", err)
		res = resource.Default()
	}

	exporter, err := newExporter(ctx, exporterConfigFromEnv(), log)
	if err != nil {
		log.Warnf("Failed to create OTLP exporter, tracing is a no-op: %v", err)
		return NewNoOpProvider()
	}

	sdkTP := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)
	return &OtelTracerProvider{provider: sdkTP, sdkProvider: sdkTP}
}

type exporterConfig struct {
	protocol    string
	endpoint    string
	urlPath     string
	headers     map[string]string
	timeout     time.Duration
	compression string
	insecure    bool
}

func exporterConfigFromEnv() exporterConfig {
	cfg := exporterConfig{
		protocol:    strings.ToLower(os.Getenv("OTEL_EXPORTER_OTLP_PROTOCOL")),
		endpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		urlPath:     os.Getenv("OTEL_EXPORTER_OTLP_TRACES_URL_PATH"),
		headers:     parseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		timeout:     parseTimeout(os.Getenv("OTEL_EXPORTER_OTLP_TIMEOUT"), defaultTimeout),
		compression: strings.ToLower(os.Getenv("OTEL_EXPORTER_OTLP_COMPRESSION")),
		insecure: isTrue(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")) ||
			isTrue(os.Getenv("OTEL_EXPORTER_OTLP_TRACES_INSECURE")),
	}
	if cfg.protocol == "" {
		cfg.protocol = "grpc"
	}
	return cfg
}

func newExporter(ctx context.Context, cfg exporterConfig, log bridgelog.Logger) (sdktrace.SpanExporter, error) {
	switch cfg.protocol {
	case "grpc":
		endpoint := stripScheme(cfg.endpoint, defaultGRPCEndpoint)
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithHeaders(cfg.headers),
			otlptracegrpc.WithTimeout(cfg.timeout),
		}
		if cfg.insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		} else {
			opts = append(opts, otlptracegrpc.WithTLSCredentials(credentials.NewClientTLSFromCert(nil, "")))
		}
		if cfg.compression == "gzip" {
			opts = append(opts, otlptracegrpc.WithCompressor(gzip.Name))
		}
		log.Infof("Exporting traces over OTLP/gRPC to %s (insecure=%t)", endpoint, cfg.insecure)
		return otlptracegrpc.New(ctx, opts...)

	case "http", "http/protobuf":
		endpoint := stripScheme(cfg.endpoint, defaultHTTPEndpoint)
		urlPath := cfg.urlPath
		if urlPath == "" {
			urlPath = "/v1/traces"
		}
		opts := []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(endpoint),
			otlptracehttp.WithURLPath(urlPath),
			otlptracehttp.WithHeaders(cfg.headers),
			otlptracehttp.WithTimeout(cfg.timeout),
		}
		if cfg.insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		if cfg.compression == "gzip" {
			opts = append(opts, otlptracehttp.WithCompression(otlptracehttp.GzipCompression))
		}
		log.Infof("Exporting traces over OTLP/HTTP to %s%s (insecure=%t)", endpoint, urlPath, cfg.insecure)
		return otlptracehttp.New(ctx, opts...)

	default:
		return nil, fmt.Errorf("unsupported OTLP protocol: %s", cfg.protocol)
	}
}

// GetTracer returns a named tracer from the underlying provider.
func (p *OtelTracerProvider) GetTracer(name string, opts ...trace.TracerOption) trace.Tracer {
	if p.provider == nil {
		return noop.NewTracerProvider().Tracer(name, opts...)
	}
	return p.provider.Tracer(name, opts...)
}

// Shutdown flushes and stops the SDK provider and its exporter. It does
// nothing for a no-op provider.
func (p *OtelTracerProvider) Shutdown(ctx context.Context) error {
	if p.sdkProvider == nil {
		return nil
	}
	if err := p.sdkProvider.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("shutting down tracer provider: %w", err)
	}
	return nil
}

// IsEffectivelyNoOp reports whether spans from this provider are discarded.
func (p *OtelTracerProvider) IsEffectivelyNoOp() bool {
	return p.sdkProvider == nil
}

func serviceName() string {
	if name := os.Getenv("OTEL_SERVICE_NAME"); name != "" {
		return name
	}
	return defaultServiceName
}

// stripScheme removes an http(s):// prefix, since the exporters' WithEndpoint
// options expect host:port.
func stripScheme(endpoint, def string) string {
	if endpoint == "" {
		return def
	}
	endpoint = strings.TrimPrefix(endpoint, "https://")
	endpoint = strings.TrimPrefix(endpoint, "http://")
	return strings.TrimSuffix(endpoint, "/")
}

// parseHeaders converts "k1=v1,k2=v2" into a map.
func parseHeaders(headerStr string) map[string]string {
	headers := make(map[string]string)
	for _, pair := range strings.Split(headerStr, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		key = strings.TrimSpace(key)
		if ok && key != "" {
			headers[key] = strings.TrimSpace(value)
		}
	}
	return headers
}

// parseTimeout accepts integer milliseconds (the OTLP convention) or a Go
// duration string.
func parseTimeout(timeoutStr string, def time.Duration) time.Duration {
	if timeoutStr == "" {
		return def
	}
	if ms, err := strconv.ParseInt(timeoutStr, 10, 64); err == nil {
		if ms < 0 {
			return def
		}
		return time.Duration(ms) * time.Millisecond
	}
	if d, err := time.ParseDuration(timeoutStr); err == nil && d >= 0 {
		return d
	}
	return def
}

func isTrue(v string) bool {
	return strings.EqualFold(strings.TrimSpace(v), "true")
}

var _ bridgetracing.TracerProvider = (*OtelTracerProvider)(nil)
