// Package policy integrates the Open Policy Agent (OPA) engine with the Nolto
// edge, evaluating a Rego gate for every request that reaches the discovery
// proxy.
//
// The default module only admits safe methods. Operators can replace it with
// their own module, for example to refuse webfinger lookups for blocked
// domains, without touching the proxy. The package is decoupled from HTTP
// concerns so policies can be tested independently of the data plane.
package policy
