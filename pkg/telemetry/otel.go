package telemetry

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

// Config describes how spans leave the process. An empty Endpoint disables
// export.
type Config struct {
	ServiceName string
	Endpoint    string
	// Environment becomes the deployment.environment resource attribute.
	Environment string
	Insecure    bool
	// Headers are sent with every OTLP export, e.g. collector API keys.
	Headers map[string]string
	// ResourceTags are extra resource attributes.
	ResourceTags map[string]string
}

const exportDialTimeout = 10 * time.Second

// SetupProvider installs the global tracer provider and W3C propagators. The
// returned function flushes buffered spans and must run on shutdown.
func SetupProvider(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	if cfg.Endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, exportDialTimeout)
	defer cancel()

	exporter, err := otlptrace.New(dialCtx, otlptracegrpc.NewClient(exporterOptions(cfg)...))
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithSchemaURL(semconv.SchemaURL),
		resource.WithAttributes(resourceAttributes(cfg)...),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithMaxExportBatchSize(100), sdktrace.WithBatchTimeout(5*time.Second)),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return provider.Shutdown, nil
}

func exporterOptions(cfg Config) []otlptracegrpc.Option {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithDialOption(grpc.WithReturnConnectionError()), //nolint:staticcheck // surfaces dial errors without WithBlock
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	} else {
		opts = append(opts, otlptracegrpc.WithTLSCredentials(credentials.NewClientTLSFromCert(nil, "")))
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
	}
	return opts
}

// resourceAttributes lists the service name, the environment and the extra
// tags in key order. Tags cannot override service.name.
func resourceAttributes(cfg Config) []attribute.KeyValue {
	name := cfg.ServiceName
	if name == "" {
		name = "nolto-edge"
	}
	attrs := []attribute.KeyValue{semconv.ServiceName(name)}
	if cfg.Environment != "" {
		attrs = append(attrs, attribute.String("deployment.environment", cfg.Environment))
	}

	keys := make([]string, 0, len(cfg.ResourceTags))
	for k := range cfg.ResourceTags {
		if k != string(semconv.ServiceNameKey) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, attribute.String(k, cfg.ResourceTags[k]))
	}
	return attrs
}

// TraceIDFromContext returns the hex trace id of the active span, or "".
func TraceIDFromContext(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		return sc.TraceID().String()
	}
	return ""
}

// RedactAttributes applies a conservative redaction policy to telemetry attributes before export.
//
// Credentials and bodies are dropped. Account identifiers (webfinger resources and
// handles) are masked so traces can still be correlated without exposing the full
// address. Additional keys passed in drop are removed as well.
func RedactAttributes(attrs []attribute.KeyValue, drop ...string) []attribute.KeyValue {
	if len(attrs) == 0 {
		return attrs
	}

	dropKeys := map[string]struct{}{
		"http.request.header.authorization": {},
		"http.response.header.set_cookie":   {},
		"request.body":                      {},
		"response.body":                     {},
	}
	for _, key := range drop {
		dropKeys[key] = struct{}{}
	}

	maskKeys := map[string]struct{}{
		AttrWebfingerResource: {},
		AttrHandle:            {},
	}

	redacted := make([]attribute.KeyValue, 0, len(attrs))
	for _, kv := range attrs {
		key := string(kv.Key)
		if _, ok := dropKeys[key]; ok {
			continue
		}
		if _, ok := maskKeys[key]; ok {
			redacted = append(redacted, attribute.String(key, maskValue(kv.Value.Emit())))
			continue
		}
		redacted = append(redacted, kv)
	}

	return redacted
}

// maskValue shows partial data for debugging while protecting sensitive portions.
// Shows first 4 and last 4 characters with *** in between (e.g., "acct***cial").
func maskValue(s string) string {
	if len(s) <= 8 {
		return "***" // Too short to mask meaningfully
	}
	return s[:4] + "***" + s[len(s)-4:]
}
