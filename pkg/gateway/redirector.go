package gateway

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nolto/nolto-edge/pkg/domain"
	"github.com/nolto/nolto-edge/pkg/negotiate"
	"github.com/nolto/nolto-edge/pkg/telemetry"
)

// Default in-app locations used by the redirector.
const (
	DefaultProfilePath  = "/profile"
	DefaultNotFoundPath = "/not-found"
)

// RedirectorOptions configure a Redirector.
type RedirectorOptions struct {
	// BackendBase is the public base URL of the federation backend.
	BackendBase *url.URL
	// ProfilePath prefixes the human profile route. Defaults to DefaultProfilePath.
	ProfilePath string
	// NotFoundPath is the generic not-found page. Defaults to DefaultNotFoundPath.
	NotFoundPath string
	Metrics      *telemetry.Metrics
}

// Redirector sends each actor link either to the backend inbox or to the
// in-app profile page depending on what the client asked for.
type Redirector struct {
	backend      *url.URL
	profilePath  string
	notFoundPath string
	metrics      *telemetry.Metrics
}

// NewRedirector validates opts. A missing or relative backend base wraps
// domain.ErrMisconfiguredEndpoint.
func NewRedirector(opts RedirectorOptions) (*Redirector, error) {
	if opts.BackendBase == nil || !opts.BackendBase.IsAbs() || opts.BackendBase.Host == "" {
		return nil, fmt.Errorf("%w: inbox backend base url must be absolute", domain.ErrMisconfiguredEndpoint)
	}

	profilePath := strings.TrimRight(opts.ProfilePath, "/")
	if profilePath == "" {
		profilePath = DefaultProfilePath
	}
	notFoundPath := opts.NotFoundPath
	if notFoundPath == "" {
		notFoundPath = DefaultNotFoundPath
	}

	backend := *opts.BackendBase
	backend.Path = strings.TrimRight(backend.Path, "/")
	backend.RawPath = ""
	backend.RawQuery = ""
	backend.Fragment = ""

	return &Redirector{
		backend:      &backend,
		profilePath:  profilePath,
		notFoundPath: notFoundPath,
		metrics:      opts.Metrics,
	}, nil
}

// InboxURL returns the backend inbox location for username.
func (rd *Redirector) InboxURL(username string) string {
	return rd.backend.String() + "/inbox/" + url.PathEscape(username)
}

// ProfileURL returns the in-app profile location for username.
func (rd *Redirector) ProfileURL(username string) string {
	return rd.profilePath + "/" + url.PathEscape(username)
}

// Location picks the redirect target for username given the request's
// Accept and User-Agent headers.
func (rd *Redirector) Location(username, accept, userAgent string) (string, domain.RedirectTarget, negotiate.Signal) {
	if strings.TrimSpace(username) == "" {
		return rd.notFoundPath, domain.TargetNotFound, negotiate.SignalNone
	}

	decision := negotiate.Decide(accept, userAgent)
	if decision.Target == domain.TargetMachine {
		return rd.InboxURL(username), decision.Target, decision.Signal
	}
	return rd.ProfileURL(username), decision.Target, decision.Signal
}

// ServeHTTP answers GET and HEAD on an actor link with a 302.
func (rd *Redirector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	username := mux.Vars(r)["username"]
	location, target, signal := rd.Location(username, r.Header.Get("Accept"), r.UserAgent())

	rd.record(r, username, target, signal)
	rd.redirect(w, location, http.StatusFound)
}

// Deliver answers inbox deliveries with a 307 so the method and body reach
// the backend.
func (rd *Redirector) Deliver(w http.ResponseWriter, r *http.Request) {
	username := mux.Vars(r)["username"]
	if strings.TrimSpace(username) == "" {
		rd.record(r, username, domain.TargetNotFound, negotiate.SignalNone)
		rd.redirect(w, rd.notFoundPath, http.StatusFound)
		return
	}

	rd.record(r, username, domain.TargetMachine, negotiate.SignalNone)
	rd.redirect(w, rd.InboxURL(username), http.StatusTemporaryRedirect)
}

func (rd *Redirector) record(r *http.Request, username string, target domain.RedirectTarget, signal negotiate.Signal) {
	span := trace.SpanFromContext(r.Context())
	telemetry.RecordRedirect(span, string(target), string(signal))
	if username != "" {
		telemetry.SetRedacted(span, attribute.String(telemetry.AttrHandle, username))
	}
	rd.metrics.RecordRedirect(string(target), string(signal))
}

func (rd *Redirector) redirect(w http.ResponseWriter, location string, status int) {
	h := w.Header()
	h.Set("Vary", "Accept, User-Agent")
	h.Set("Cache-Control", "no-store")
	h.Set("Location", location)
	w.WriteHeader(status)
}
