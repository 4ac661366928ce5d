package discovery

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nolto/nolto-edge/internal/respond"
	"github.com/nolto/nolto-edge/pkg/domain"
	"github.com/nolto/nolto-edge/pkg/policy"
	"github.com/nolto/nolto-edge/pkg/telemetry"
)

// Options configure a Proxy.
type Options struct {
	Rule domain.ProxyRule
	// Client performs upstream calls. Defaults to NewClient().
	Client *http.Client
	// Policy gates matched requests. Defaults to policy.AllowAll.
	Policy policy.Evaluator
	// Metrics may be nil.
	Metrics *telemetry.Metrics
	// Logger defaults to a disabled logger.
	Logger *zerolog.Logger
}

// Proxy forwards requests matching its rule to the upstream and rejects all
// other paths. It holds no per-request state and is safe for concurrent use.
type Proxy struct {
	rule    domain.ProxyRule
	client  *http.Client
	policy  policy.Evaluator
	metrics *telemetry.Metrics
	logger  zerolog.Logger
}

// NewProxy validates opts and builds a Proxy.
func NewProxy(opts Options) (*Proxy, error) {
	if opts.Rule.UpstreamBase == nil {
		return nil, fmt.Errorf("%w: discovery upstream is not configured", domain.ErrMisconfiguredEndpoint)
	}
	if opts.Rule.MatchPath == "" {
		return nil, fmt.Errorf("%w: discovery match path is empty", domain.ErrMisconfiguredEndpoint)
	}

	client := opts.Client
	if client == nil {
		client = NewClient()
	}

	evaluator := opts.Policy
	if evaluator == nil {
		evaluator = policy.AllowAll{}
	}

	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	return &Proxy{
		rule:    opts.Rule,
		client:  client,
		policy:  evaluator,
		metrics: opts.Metrics,
		logger:  logger.With().Str("component", "discovery").Logger(),
	}, nil
}

// Rule returns the proxy's forwarding rule.
func (p *Proxy) Rule() domain.ProxyRule {
	return p.rule
}

// Matches reports whether path is served by the proxy.
func (p *Proxy) Matches(path string) bool {
	return path == p.rule.MatchPath
}

// ServeHTTP implements http.Handler.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !p.Matches(r.URL.Path) {
		p.metrics.RecordDiscovery(telemetry.OutcomeNotFound)
		respond.NotFound(w)
		return
	}

	ctx := r.Context()
	span := trace.SpanFromContext(ctx)
	if resources := r.URL.Query()["resource"]; len(resources) > 0 {
		telemetry.SetRedacted(span, attribute.String(telemetry.AttrWebfingerResource, resources[0]))
	}

	decision, err := p.policy.Evaluate(ctx, policy.Input{
		Method: r.Method,
		Path:   r.URL.Path,
		Host:   r.Host,
		Query:  r.URL.Query(),
	})
	if err != nil {
		p.logger.Error().Err(err).Msg("discovery policy evaluation failed")
		respond.Error(ctx, w, http.StatusInternalServerError, domain.CodeInternal, "Policy evaluation failed")
		return
	}
	telemetry.RecordPolicyDecision(span, string(decision.Action), decision.Reason)

	if !decision.Allowed() {
		p.metrics.RecordDiscovery(telemetry.OutcomeDenied)
		message := decision.Reason
		if message == "" {
			message = domain.ErrPolicyDenied.Error()
		}
		status := decision.Status
		if status < http.StatusBadRequest {
			status = http.StatusForbidden
		}
		if status == http.StatusMethodNotAllowed {
			w.Header().Set("Allow", "GET, HEAD")
		}
		respond.Error(ctx, w, status, domain.CodePolicyDenied, message)
		return
	}

	dest := Destination(p.rule, r.URL.RawQuery)
	start := time.Now()

	resp, err := p.forward(ctx, r, dest)
	if err != nil {
		p.metrics.RecordDiscovery(telemetry.OutcomeUpstreamError)
		p.logger.Error().Err(err).Str("destination", dest.String()).Msg("discovery upstream request failed")
		respond.Error(ctx, w, http.StatusBadGateway, domain.CodeUpstreamUnreachable, "Failed to reach discovery upstream")
		return
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			p.logger.Warn().Err(cerr).Msg("failed to close upstream response body")
		}
	}()

	duration := time.Since(start)
	p.metrics.RecordDiscovery(telemetry.OutcomeProxied)
	p.metrics.ObserveUpstream(resp.StatusCode, duration)
	p.logger.Info().
		Str("destination", dest.String()).
		Str("method", r.Method).
		Int("status", resp.StatusCode).
		Dur("duration_ms", duration).
		Msg("proxied discovery request")

	copyResponseHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)

	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		// Headers are already sent; nothing more can be reported to the client.
		p.logger.Warn().Err(err).Msg("failed to stream upstream response body")
	}
}

// forward issues the upstream request. Transport failures wrap
// domain.ErrUpstreamUnreachable.
func (p *Proxy) forward(ctx context.Context, r *http.Request, dest *url.URL) (*http.Response, error) {
	out, err := http.NewRequestWithContext(ctx, r.Method, dest.String(), r.Body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	out.ContentLength = r.ContentLength
	out.Header = forwardHeaders(r)

	resp, err := p.client.Do(out)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUpstreamUnreachable, err)
	}
	return resp, nil
}

// forwardHeaders copies end-to-end request headers and appends the
// X-Forwarded-* set.
func forwardHeaders(r *http.Request) http.Header {
	out := make(http.Header, len(r.Header)+3)
	connectionTokens := connectionHeaderTokens(r.Header)

	for key, values := range r.Header {
		if isHopByHopHeader(key) {
			continue
		}
		if _, listed := connectionTokens[strings.ToLower(key)]; listed {
			continue
		}
		out[key] = append([]string(nil), values...)
	}

	if clientIP, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		if prior := out.Get("X-Forwarded-For"); prior != "" {
			clientIP = prior + ", " + clientIP
		}
		out.Set("X-Forwarded-For", clientIP)
	}
	if r.Host != "" {
		out.Set("X-Forwarded-Host", r.Host)
	}
	proto := "http"
	if r.TLS != nil {
		proto = "https"
	}
	out.Set("X-Forwarded-Proto", proto)

	return out
}

func connectionHeaderTokens(h http.Header) map[string]struct{} {
	tokens := map[string]struct{}{}
	for _, value := range h.Values("Connection") {
		for _, token := range strings.Split(value, ",") {
			if token = strings.TrimSpace(token); token != "" {
				tokens[strings.ToLower(token)] = struct{}{}
			}
		}
	}
	return tokens
}

// copyResponseHeaders copies HTTP response headers from source to destination, filtering hop-by-hop headers.
func copyResponseHeaders(dst, src http.Header) {
	for key, values := range src {
		// Skip hop-by-hop headers per RFC 7230
		if isHopByHopHeader(key) {
			continue
		}
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}

// isHopByHopHeader identifies HTTP hop-by-hop headers that should not be forwarded.
func isHopByHopHeader(header string) bool {
	// Per RFC 7230, these headers are hop-by-hop and must not be forwarded
	hopByHop := []string{
		"Connection",
		"Keep-Alive",
		"Proxy-Authenticate",
		"Proxy-Authorization",
		"Proxy-Connection",
		"Te",
		"Trailer",
		"Transfer-Encoding",
		"Upgrade",
	}

	for _, h := range hopByHop {
		if strings.EqualFold(h, header) {
			return true
		}
	}
	return false
}
