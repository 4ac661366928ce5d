package federation

import (
	"net"
	"strings"

	"golang.org/x/net/idna"

	"github.com/nolto/nolto-edge/pkg/domain"
)

// DefaultCanonicalDomain is the production domain of the hosted Nolto instance.
const DefaultCanonicalDomain = "nolto.social"

// DefaultPreviewSuffixes lists the hosting and development hosts that resolve to
// the canonical domain.
var DefaultPreviewSuffixes = []string{"lovable.app", "lovableproject.com", "localhost"}

// Settings configure a Resolver.
type Settings struct {
	// CanonicalDomain is returned for the production host, its subdomains and preview hosts.
	CanonicalDomain string
	// PreviewSuffixes are host suffixes that also resolve to CanonicalDomain.
	PreviewSuffixes []string
	// FallbackHostname is used when the caller has no hostname to offer.
	FallbackHostname string
}

// DefaultSettings returns the settings of the hosted instance.
func DefaultSettings() Settings {
	return Settings{
		CanonicalDomain:  DefaultCanonicalDomain,
		PreviewSuffixes:  append([]string(nil), DefaultPreviewSuffixes...),
		FallbackHostname: DefaultCanonicalDomain,
	}
}

// Resolver maps hostnames and identity contexts to instance domains and handles.
// A Resolver is immutable and safe for concurrent use.
type Resolver struct {
	canonical string
	suffixes  []string
	fallback  string
}

// NewResolver normalises settings into a Resolver. An empty canonical domain
// selects DefaultCanonicalDomain.
func NewResolver(settings Settings) *Resolver {
	canonical := NormalizeHost(settings.CanonicalDomain)
	if canonical == "" {
		canonical = DefaultCanonicalDomain
	}

	suffixes := make([]string, 0, len(settings.PreviewSuffixes))
	for _, s := range settings.PreviewSuffixes {
		s = strings.TrimPrefix(NormalizeHost(s), ".")
		if s != "" {
			suffixes = append(suffixes, s)
		}
	}

	return &Resolver{
		canonical: canonical,
		suffixes:  suffixes,
		fallback:  NormalizeHost(settings.FallbackHostname),
	}
}

// CanonicalDomain returns the configured production domain.
func (r *Resolver) CanonicalDomain() string {
	return r.canonical
}

// ResolveInstanceDomain returns the instance domain to present for a request
// served on hostname. An empty hostname falls back to the configured fallback
// hostname; with no fallback the result is the empty string.
func (r *Resolver) ResolveInstanceDomain(hostname string) string {
	host := NormalizeHost(hostname)
	if host == "" {
		host = r.fallback
	}
	if host == "" {
		return ""
	}

	if matchesSuffix(host, r.canonical) {
		return r.canonical
	}
	for _, suffix := range r.suffixes {
		if matchesSuffix(host, suffix) {
			return r.canonical
		}
	}
	return host
}

// ResolveDisplayInstance returns only the domain part of an account's handle.
// A remote account's home instance is returned as given.
func (r *Resolver) ResolveDisplayInstance(id domain.IdentityContext, hostname string) string {
	if !id.IsLocal && id.HomeInstance != "" {
		return id.HomeInstance
	}
	return r.ResolveInstanceDomain(hostname)
}

// HandleFor builds and validates the handle of username.
func (r *Resolver) HandleFor(username string, id domain.IdentityContext, hostname string) (domain.Handle, error) {
	if username == "" {
		return domain.Handle{}, domain.NewInvalidInput("username must not be empty")
	}
	h := domain.Handle{
		Username:       username,
		InstanceDomain: r.ResolveDisplayInstance(id, hostname),
	}
	if err := h.Validate(); err != nil {
		return domain.Handle{}, err
	}
	return h, nil
}

// FormatHandle renders the @username@domain handle of an account.
func (r *Resolver) FormatHandle(username string, id domain.IdentityContext, hostname string) (string, error) {
	h, err := r.HandleFor(username, id, hostname)
	if err != nil {
		return "", err
	}
	return h.String(), nil
}

// IsLocalHandle reports whether h belongs to the instance serving hostname.
func (r *Resolver) IsLocalHandle(h domain.Handle, hostname string) bool {
	return NormalizeHost(h.InstanceDomain) == r.ResolveInstanceDomain(hostname)
}

// NormalizeHost lower-cases host, strips any port and trailing dot, and converts
// internationalised names to their ASCII form. Hosts rejected by IDNA are only
// lower-cased.
func NormalizeHost(host string) string {
	host = strings.TrimSpace(host)
	if host == "" {
		return ""
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.TrimSuffix(host, ".")
	if ascii, err := idna.Lookup.ToASCII(host); err == nil && ascii != "" {
		return ascii
	}
	return strings.ToLower(host)
}

func matchesSuffix(host, suffix string) bool {
	return host == suffix || strings.HasSuffix(host, "."+suffix)
}
