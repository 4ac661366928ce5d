package discovery

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/nolto/nolto-edge/pkg/domain"
)

// WebfingerPath is the well-known discovery path served by the proxy.
const WebfingerPath = "/.well-known/webfinger"

// NewRule validates the deploy-time proxy configuration. Errors wrap
// domain.ErrMisconfiguredEndpoint.
func NewRule(matchPath, upstream string) (domain.ProxyRule, error) {
	matchPath = strings.TrimSpace(matchPath)
	if matchPath == "" {
		matchPath = WebfingerPath
	}
	if !strings.HasPrefix(matchPath, "/") {
		return domain.ProxyRule{}, fmt.Errorf("%w: match path %q must start with '/'", domain.ErrMisconfiguredEndpoint, matchPath)
	}

	base, err := ParseEndpoint(upstream)
	if err != nil {
		return domain.ProxyRule{}, fmt.Errorf("discovery upstream: %w", err)
	}

	return domain.ProxyRule{MatchPath: matchPath, UpstreamBase: base}, nil
}

// ParseEndpoint parses an absolute http(s) URL. Errors wrap
// domain.ErrMisconfiguredEndpoint.
func ParseEndpoint(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: url is empty", domain.ErrMisconfiguredEndpoint)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMisconfiguredEndpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: url %q must use http or https", domain.ErrMisconfiguredEndpoint, raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: url %q has no host", domain.ErrMisconfiguredEndpoint, raw)
	}
	return u, nil
}

// Destination returns the upstream URL for a request carrying rawQuery. The
// incoming query replaces the upstream's own query.
func Destination(rule domain.ProxyRule, rawQuery string) *url.URL {
	dest := *rule.UpstreamBase
	dest.RawQuery = rawQuery
	dest.ForceQuery = false
	dest.Fragment = ""
	dest.RawFragment = ""
	return &dest
}
