package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nolto/nolto-edge/internal/respond"
	"github.com/nolto/nolto-edge/pkg/config"
	"github.com/nolto/nolto-edge/pkg/domain"
	"github.com/nolto/nolto-edge/pkg/telemetry"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestHandleCommand(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"local user on canonical host", []string{"handle", "alice", "--local", "--host", "nolto.social"}, "@alice@nolto.social"},
		{"local user on preview host", []string{"handle", "alice", "--local", "--host", "abc.lovable.app"}, "@alice@nolto.social"},
		{"remote user", []string{"handle", "bob", "--home-instance", "mastodon.social"}, "@bob@mastodon.social"},
		{"remote user without home instance", []string{"handle", "carol", "--host", "social.example.org"}, "@carol@social.example.org"},
		{"no host uses fallback", []string{"handle", "dave", "--local"}, "@dave@nolto.social"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, tt.args...)
			require.NoError(t, err)
			assert.Equal(t, tt.want+"\n", out)
		})
	}
}

func TestHandleCommandRejectsInvalidUsername(t *testing.T) {
	_, err := execute(t, "handle", "a@b", "--local")
	require.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = execute(t, "handle", "dave", "--local", "--fallback-hostname=")
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestResolveCommand(t *testing.T) {
	out, err := execute(t, "resolve", "www.nolto.social")
	require.NoError(t, err)
	assert.Equal(t, "nolto.social\n", out)

	out, err = execute(t, "resolve", "Social.Example.ORG:443", "--canonical-domain", "nolto.example")
	require.NoError(t, err)
	assert.Equal(t, "social.example.org\n", out)

	out, err = execute(t, "resolve")
	require.NoError(t, err)
	assert.Equal(t, "nolto.social\n", out)

	_, err = execute(t, "resolve", "--fallback-hostname=")
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}

func testConfig(t *testing.T, upstream string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Discovery.UpstreamURL = upstream
	cfg.Inbox.BackendBaseURL = "https://api.nolto.example/functions/v1"
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestBuildGateway(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/jrd+json")
		_, _ = io.WriteString(w, `{"subject":"`+r.URL.Query().Get("resource")+`"}`)
	}))
	t.Cleanup(upstream.Close)

	gw, err := buildGateway(context.Background(), testConfig(t, upstream.URL+"/webfinger"), telemetry.NewMetrics(), zerolog.Nop())
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	gw.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/.well-known/webfinger?resource=acct:alice@nolto.social", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"subject":"acct:alice@nolto.social"}`, rr.Body.String())

	rr = httptest.NewRecorder()
	gw.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/.well-known/webfinger", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/actor-inbox/alice", nil)
	req.Header.Set("Accept", "application/activity+json")
	rr = httptest.NewRecorder()
	gw.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusFound, rr.Code)
	assert.Equal(t, "https://api.nolto.example/functions/v1/inbox/alice", rr.Header().Get("Location"))
}

func TestBuildGatewayRejectsInexactPaths(t *testing.T) {
	var hits atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(upstream.Close)

	metrics := telemetry.NewMetrics()
	gw, err := buildGateway(context.Background(), testConfig(t, upstream.URL+"/webfinger"), metrics, zerolog.Nop())
	require.NoError(t, err)

	for _, target := range []string{
		"//.well-known/webfinger?resource=acct:a@b",
		"/x/../.well-known/webfinger",
		"/.well-known/webfinger/",
		"/other//path",
	} {
		rr := httptest.NewRecorder()
		gw.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusNotFound, rr.Code, target)
		assert.Equal(t, respond.NotFoundBody, rr.Body.String(), target)
		assert.Empty(t, rr.Header().Get("Location"), target)
	}
	assert.Zero(t, hits.Load())

	rr := httptest.NewRecorder()
	adminHandler(metrics).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rr.Body.String(), `nolto_discovery_requests_total{outcome="not_found"} 4`)
}

func TestBuildGatewayWithPolicyFile(t *testing.T) {
	policyPath := filepath.Join(t.TempDir(), "discovery.rego")
	require.NoError(t, os.WriteFile(policyPath, []byte(`package nolto.discovery

default decision := {"action": "block", "reason": "closed", "status": 503}
`), 0o600))

	cfg := testConfig(t, "https://api.example/webfinger")
	cfg.Discovery.PolicyFile = policyPath

	gw, err := buildGateway(context.Background(), cfg, nil, zerolog.Nop())
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	gw.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/.well-known/webfinger?resource=acct:a@b", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	cfg.Discovery.PolicyFile = filepath.Join(t.TempDir(), "missing.rego")
	_, err = buildGateway(context.Background(), cfg, nil, zerolog.Nop())
	require.Error(t, err)
}

func TestAdminHandler(t *testing.T) {
	metrics := telemetry.NewMetrics()
	metrics.RecordDiscovery(telemetry.OutcomeProxied)
	h := adminHandler(metrics)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `nolto_discovery_requests_total{outcome="proxied"} 1`)
}

func TestWatchConfigAppliesFederationSettings(t *testing.T) {
	cfg := testConfig(t, "https://api.example/webfinger")
	gw, err := buildGateway(context.Background(), cfg, nil, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan *config.Config, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		watchConfig(ctx, cfg, updates, nil, gw, zerolog.Nop())
	}()

	next := *cfg
	next.Federation.CanonicalDomain = "edge.example"
	next.Federation.PreviewSuffixes = []string{"preview.example"}
	updates <- &next

	assert.Eventually(t, func() bool {
		return gw.Resolver().CanonicalDomain() == "edge.example"
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "edge.example", gw.Resolver().ResolveInstanceDomain("x.preview.example"))

	cancel()
	<-done
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	srv := &http.Server{Addr: "127.0.0.1:0", Handler: http.NotFoundHandler(), ReadHeaderTimeout: time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- listenAndServe(ctx, srv) }()

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServeRequiresEndpoints(t *testing.T) {
	for _, key := range []string{"WEBFINGER_UPSTREAM_URL", "NOLTO_BACKEND_BASE_URL"} {
		t.Setenv(key, "")
	}
	_, err := execute(t, "serve", "--env-file", filepath.Join(t.TempDir(), "absent.env"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrMisconfiguredEndpoint)
	assert.True(t, strings.Contains(err.Error(), "configuration validation failed"))
}

func TestBuildGatewayRateLimitsDiscovery(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(upstream.Close)

	cfg := testConfig(t, upstream.URL)
	cfg.Discovery.RateLimit = config.RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1}

	gw, err := buildGateway(context.Background(), cfg, nil, zerolog.Nop())
	require.NoError(t, err)

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		gw.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/.well-known/webfinger?resource=acct:a@b", nil))
		codes = append(codes, rr.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests}, codes)
}
