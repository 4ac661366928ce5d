package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSetupProviderWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := SetupProvider(context.Background(), Config{ServiceName: "nolto-edge"})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestResourceAttributes(t *testing.T) {
	attrs := resourceAttributes(Config{
		ServiceName: "nolto-edge",
		Environment: "staging",
		ResourceTags: map[string]string{
			"team":         "federation",
			"region":       "eu-west",
			"service.name": "spoofed",
		},
	})

	got := make([]string, 0, len(attrs))
	for _, kv := range attrs {
		got = append(got, string(kv.Key)+"="+kv.Value.AsString())
	}
	assert.Equal(t, []string{
		"service.name=nolto-edge",
		"deployment.environment=staging",
		"region=eu-west",
		"team=federation",
	}, got)
}

func TestResourceAttributesDefaults(t *testing.T) {
	attrs := resourceAttributes(Config{})
	require.Len(t, attrs, 1)
	assert.Equal(t, "nolto-edge", attrs[0].Value.AsString())
}

func TestExporterOptions(t *testing.T) {
	base := exporterOptions(Config{Endpoint: "collector:4317", Insecure: true})
	withHeaders := exporterOptions(Config{Endpoint: "collector:4317", Headers: map[string]string{"x-api-key": "k"}})
	assert.Len(t, base, 3)
	assert.Len(t, withHeaders, 4)
}

func TestRedactAttributes(t *testing.T) {
	attrs := []attribute.KeyValue{
		attribute.String("http.request.header.authorization", "Bearer secret"),
		attribute.String(AttrWebfingerResource, "acct:alice@nolto.social"),
		attribute.String(AttrHandle, "@bob"),
		attribute.String("custom.drop", "x"),
		attribute.String("safe.field", "value"),
	}

	filtered := RedactAttributes(attrs, "custom.drop")
	require.Len(t, filtered, 3)

	got := map[string]string{}
	for _, kv := range filtered {
		got[string(kv.Key)] = kv.Value.AsString()
	}
	assert.Equal(t, "acct***cial", got[AttrWebfingerResource])
	assert.Equal(t, "***", got[AttrHandle])
	assert.Equal(t, "value", got["safe.field"])
}

func TestTraceIDAndSpanHelpers(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	assert.Empty(t, TraceIDFromContext(context.Background()))

	ctx, span := provider.Tracer("test").Start(context.Background(), "discovery")
	assert.Equal(t, span.SpanContext().TraceID().String(), TraceIDFromContext(ctx))

	RecordPolicyDecision(span, "block", "method not allowed")
	RecordRedirect(span, "machine", "accept")
	SetRedacted(span, attribute.String(AttrWebfingerResource, "acct:alice@nolto.social"))
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)

	attrs := map[attribute.Key]string{}
	for _, kv := range spans[0].Attributes() {
		attrs[kv.Key] = kv.Value.AsString()
	}
	assert.Equal(t, "block", attrs[AttrPolicyAction])
	assert.Equal(t, "method not allowed", attrs[AttrPolicyReason])
	assert.Equal(t, "machine", attrs[AttrRedirectTarget])
	assert.Equal(t, "acct***cial", attrs[AttrWebfingerResource])
	require.Len(t, spans[0].Events(), 1)
	assert.Equal(t, "policy.blocked", spans[0].Events()[0].Name)
}
