// Package domain defines the value types and error kinds shared across the Nolto edge.
//
// This package contains pure domain logic with ZERO external dependencies outside the
// Go standard library. Handles, identity contexts, the discovery proxy rule and
// redirect targets live here so that the resolver, the negotiator and the HTTP
// layer agree on one vocabulary.
//
// The dependency direction is always:
//
//	Infrastructure → Domain (CORRECT)
//	Domain → Infrastructure (FORBIDDEN)
package domain
