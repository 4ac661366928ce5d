package domain

import (
	"net/url"
	"strings"
)

// Handle is a federation identity rendered as @username@instance.
type Handle struct {
	Username       string
	InstanceDomain string
}

// Validate reports ErrInvalidInput when either part is empty or carries an
// embedded '@'. Other characters pass through untouched.
func (h Handle) Validate() error {
	if h.Username == "" {
		return NewInvalidInput("username must not be empty")
	}
	if strings.Contains(h.Username, "@") {
		return NewInvalidInput("username must not contain '@'")
	}
	if h.InstanceDomain == "" {
		return NewInvalidInput("instance domain must not be empty")
	}
	if strings.Contains(h.InstanceDomain, "@") {
		return NewInvalidInput("instance domain must not contain '@'")
	}
	return nil
}

// String renders the handle in @username@instance form.
func (h Handle) String() string {
	return "@" + h.Username + "@" + h.InstanceDomain
}

// IdentityContext tells the resolver where an account lives. An empty
// HomeInstance stands for "unknown".
type IdentityContext struct {
	IsLocal      bool
	HomeInstance string
}

// ProxyRule is the single forwarding rule of the discovery proxy. It is fixed at startup.
type ProxyRule struct {
	MatchPath    string
	UpstreamBase *url.URL
}

// RedirectTarget is the outcome of content negotiation on a profile-shaped route.
type RedirectTarget string

const (
	// TargetHuman sends the client to the in-app profile page.
	TargetHuman RedirectTarget = "human"
	// TargetMachine sends the client to the federation endpoint.
	TargetMachine RedirectTarget = "machine"
	// TargetNotFound is used when the route carries no usable username.
	TargetNotFound RedirectTarget = "not_found"
)
