// Package discovery implements the single-rule reverse proxy that answers
// webfinger lookups at the edge.
//
// Requests whose path exactly matches the rule are forwarded to the configured
// upstream with their query string; the upstream response is returned without
// modification. Every other path gets a plain 404 and no outbound call is made.
package discovery
