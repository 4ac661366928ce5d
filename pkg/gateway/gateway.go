package gateway

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/nolto/nolto-edge/internal/respond"
	"github.com/nolto/nolto-edge/pkg/federation"
	"github.com/nolto/nolto-edge/pkg/telemetry"
)

// HandleAPIPath serves handle formatting for clients without their own resolver.
const HandleAPIPath = "/api/v1/handle"

// unmatchedEndpoint labels requests no route claimed.
const unmatchedEndpoint = "unmatched"

// Options configure a Gateway.
type Options struct {
	// Discovery serves the path in DiscoveryPath.
	Discovery     http.Handler
	DiscoveryPath string
	Redirector    *Redirector
	Resolver      *federation.Resolver
	// NotFound answers paths no route claims. Defaults to a plain 404.
	NotFound http.Handler
	// Metrics may be nil.
	Metrics *telemetry.Metrics
	// Logger defaults to a disabled logger.
	Logger *zerolog.Logger
}

// Gateway routes public traffic. Resolver settings can be swapped at runtime
// with UpdateResolver.
type Gateway struct {
	router   *mux.Router
	handler  http.Handler
	resolver atomic.Pointer[federation.Resolver]
	metrics  *telemetry.Metrics
}

// New builds the router and its middleware chain.
func New(opts Options) (*Gateway, error) {
	if opts.Discovery == nil || opts.DiscoveryPath == "" {
		return nil, errors.New("gateway: discovery handler and path are required")
	}
	if opts.Redirector == nil {
		return nil, errors.New("gateway: redirector is required")
	}

	resolver := opts.Resolver
	if resolver == nil {
		resolver = federation.NewResolver(federation.DefaultSettings())
	}

	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	g := &Gateway{metrics: opts.Metrics}
	g.resolver.Store(resolver)

	r := mux.NewRouter().SkipClean(true)
	r.Path(opts.DiscoveryPath).Handler(opts.Discovery)

	for _, tpl := range []string{"/actor-inbox/{username}", "/@{username}"} {
		r.Path(tpl).Methods(http.MethodGet, http.MethodHead).Handler(opts.Redirector)
	}
	r.Path("/actor-inbox/{username}").Methods(http.MethodPost).HandlerFunc(opts.Redirector.Deliver)
	r.Path("/actor-inbox/").Methods(http.MethodGet, http.MethodHead).Handler(opts.Redirector)

	r.Path(HandleAPIPath).Methods(http.MethodGet).HandlerFunc(g.serveHandle)

	notFound := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { respond.NotFound(w) })
	r.NotFoundHandler = notFound
	if opts.NotFound != nil {
		r.NotFoundHandler = opts.NotFound
	}
	r.MethodNotAllowedHandler = notFound
	g.router = r

	var h http.Handler = r
	if g.metrics != nil {
		h = g.metrics.MetricsMiddleware(g.endpointLabel, h)
	}
	h = AccessLog(h)
	h = RequestID(logger, h)
	g.handler = otelhttp.NewHandler(h, "nolto-edge",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + g.endpointLabel(r)
		}),
	)

	return g, nil
}

// ServeHTTP implements http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.handler.ServeHTTP(w, r)
}

// Resolver returns the resolver currently in use.
func (g *Gateway) Resolver() *federation.Resolver {
	return g.resolver.Load()
}

// UpdateResolver swaps the resolver used by subsequent requests.
func (g *Gateway) UpdateResolver(r *federation.Resolver) {
	if r != nil {
		g.resolver.Store(r)
	}
}

// endpointLabel maps a request to its route template.
func (g *Gateway) endpointLabel(r *http.Request) string {
	var match mux.RouteMatch
	if !g.router.Match(r, &match) || match.Route == nil {
		return unmatchedEndpoint
	}
	tpl, err := match.Route.GetPathTemplate()
	if err != nil {
		return unmatchedEndpoint
	}
	return tpl
}
