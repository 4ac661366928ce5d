// Package federation resolves the instance domain and fediverse handle shown for
// an account.
//
// The resolver is a pure function of its Settings and the hostname supplied by
// the caller. Local accounts always present the canonical production domain,
// even when the request arrives on a preview or development host, so that users
// see the identity other servers will use to reach them. Self-hosted deployments
// on their own domain keep that domain.
package federation
