// Package gateway assembles the edge's public HTTP surface.
//
// The router sends webfinger lookups to the discovery proxy, profile and
// actor-inbox links to the content-negotiation redirector, and answers
// everything else with the proxy's plain 404. Request ids, access logging,
// tracing and request metrics are layered around the router.
package gateway
