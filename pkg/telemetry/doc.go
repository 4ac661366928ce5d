// Package telemetry wires OpenTelemetry tracing and Prometheus metrics for the
// Nolto edge.
//
// It centralises trace provider setup, applies service resource attributes,
// owns the private Prometheus registry served on the admin listener, and offers
// span helpers that attach discovery policy decisions without leaking the
// account identifiers carried in webfinger queries.
package telemetry
