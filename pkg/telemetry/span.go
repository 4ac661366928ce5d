package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys set by the edge.
const (
	AttrWebfingerResource = "webfinger.resource"
	AttrHandle            = "fediverse.handle"
	AttrRedirectTarget    = "redirect.target"
	AttrRedirectSignal    = "redirect.signal"
	AttrPolicyAction      = "policy.decision.action"
	AttrPolicyReason      = "policy.decision.reason"
)

// RecordPolicyDecision annotates the provided span with the discovery policy outcome.
func RecordPolicyDecision(span trace.Span, action, reason string) {
	if span == nil || !span.IsRecording() {
		return
	}

	span.SetAttributes(attribute.String(AttrPolicyAction, action))
	if reason != "" {
		span.SetAttributes(attribute.String(AttrPolicyReason, reason))
	}
	if action == "block" {
		span.AddEvent("policy.blocked")
	}
}

// RecordRedirect annotates the span with a content negotiation outcome.
func RecordRedirect(span trace.Span, target, signal string) {
	if span == nil || !span.IsRecording() {
		return
	}
	span.SetAttributes(
		attribute.String(AttrRedirectTarget, target),
		attribute.String(AttrRedirectSignal, signal),
	)
}

// SetRedacted sets attrs on span after RedactAttributes.
func SetRedacted(span trace.Span, attrs ...attribute.KeyValue) {
	if span == nil || !span.IsRecording() {
		return
	}
	span.SetAttributes(RedactAttributes(attrs)...)
}
