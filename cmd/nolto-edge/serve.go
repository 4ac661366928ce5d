package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nolto/nolto-edge/internal/ratelimit"
	"github.com/nolto/nolto-edge/pkg/config"
	"github.com/nolto/nolto-edge/pkg/discovery"
	"github.com/nolto/nolto-edge/pkg/federation"
	"github.com/nolto/nolto-edge/pkg/gateway"
	"github.com/nolto/nolto-edge/pkg/logging"
	"github.com/nolto/nolto-edge/pkg/policy"
	"github.com/nolto/nolto-edge/pkg/telemetry"
)

const (
	serviceName              = "nolto-edge"
	telemetryShutdownTimeout = 5 * time.Second
	gracefulShutdownTimeout  = 10 * time.Second
	readHeaderTimeout        = 10 * time.Second
)

type serveOptions struct {
	configPath string
	envFile    string
	addr       string
	adminAddr  string
	logLevel   string
	pretty     bool
}

func newServeCmd() *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the edge HTTP servers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "Path to configuration file (YAML)")
	cmd.Flags().StringVar(&opts.envFile, "env-file", ".env", "Dotenv file loaded before reading the environment")
	cmd.Flags().StringVar(&opts.addr, "addr", "", "Public listen address (overrides config)")
	cmd.Flags().StringVar(&opts.adminAddr, "admin-addr", "", "Admin listen address (overrides config)")
	cmd.Flags().StringVarP(&opts.logLevel, "log-level", "l", "", "Log level (debug, info, warn, error)")
	cmd.Flags().BoolVar(&opts.pretty, "pretty", false, "Human readable console logs")

	return cmd
}

// applyFlags lets explicitly set flags win over file and environment values.
func (o *serveOptions) applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	if o.addr != "" {
		cfg.Server.Address = o.addr
	}
	if o.adminAddr != "" {
		cfg.Server.AdminAddress = o.adminAddr
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	if cmd.Flags().Changed("pretty") {
		cfg.Logging.Pretty = o.pretty
	}
	return cfg.Validate()
}

func runServe(ctx context.Context, cmd *cobra.Command, opts *serveOptions) error {
	if err := config.LoadDotEnv(opts.envFile); err != nil {
		return err
	}

	var (
		cfg      *config.Config
		provider *config.FileProvider
		err      error
	)
	metrics := telemetry.NewMetrics()
	bootLogger := logging.New(logging.Config{Level: "info", Output: cmd.ErrOrStderr()})

	if opts.configPath != "" {
		provider, err = config.NewFileProvider(opts.configPath, bootLogger, config.WithReloadHook(func(err error) {
			status := "success"
			if err != nil {
				status = "error"
			}
			metrics.RecordConfigReload(status)
		}))
		if err != nil {
			return err
		}
		defer func() { _ = provider.Close() }()
		loaded := *provider.Current()
		cfg = &loaded
	} else {
		cfg, err = config.Load("")
		if err != nil {
			return err
		}
	}
	if err := opts.applyFlags(cmd, cfg); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	logger := logging.Setup(logging.Config{
		Level:  cfg.Logging.Level,
		Pretty: cfg.Logging.Pretty,
		Output: cmd.OutOrStdout(),
	})

	telemetryShutdown, err := telemetry.SetupProvider(ctx, telemetry.Config{
		ServiceName:  serviceName,
		Endpoint:     cfg.Telemetry.OTLPEndpoint,
		Environment:  cfg.Telemetry.Environment,
		Insecure:     cfg.Telemetry.Insecure,
		Headers:      cfg.Telemetry.Headers,
		ResourceTags: cfg.Telemetry.ResourceTags,
	})
	if err != nil {
		return fmt.Errorf("initialise telemetry: %w", err)
	}
	defer shutdownTelemetry(telemetryShutdown, logger)

	gw, err := buildGateway(ctx, cfg, metrics, logger)
	if err != nil {
		return err
	}

	dataSrv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           gw,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	adminSrv := &http.Server{
		Addr:              cfg.Server.AdminAddress,
		Handler:           adminHandler(metrics),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	logger.Info().
		Str("address", cfg.Server.Address).
		Str("admin_address", cfg.Server.AdminAddress).
		Str("canonical_domain", cfg.Federation.CanonicalDomain).
		Str("discovery_path", cfg.Discovery.MatchPath).
		Msg("starting nolto-edge")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return listenAndServe(gctx, dataSrv) })
	g.Go(func() error { return listenAndServe(gctx, adminSrv) })
	if provider != nil {
		updates := provider.Subscribe()
		normalize := func(c *config.Config) error { return opts.applyFlags(cmd, c) }
		g.Go(func() error {
			watchConfig(gctx, cfg, updates, normalize, gw, logger)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info().Msg("nolto-edge stopped")
	return nil
}

// buildGateway wires the proxy, the redirector and the resolver into the
// public router.
func buildGateway(ctx context.Context, cfg *config.Config, metrics *telemetry.Metrics, logger zerolog.Logger) (*gateway.Gateway, error) {
	rule, err := discovery.NewRule(cfg.Discovery.MatchPath, cfg.Discovery.UpstreamURL)
	if err != nil {
		return nil, err
	}

	var evaluator policy.Evaluator
	if cfg.Discovery.PolicyFile != "" {
		evaluator, err = policy.NewEngineFromFile(ctx, cfg.Discovery.PolicyFile, "")
	} else {
		evaluator, err = policy.NewEngine(ctx, policy.Options{})
	}
	if err != nil {
		return nil, fmt.Errorf("load discovery policy: %w", err)
	}

	proxy, err := discovery.NewProxy(discovery.Options{
		Rule:    rule,
		Policy:  evaluator,
		Metrics: metrics,
		Logger:  &logger,
	})
	if err != nil {
		return nil, err
	}
	var discoveryHandler http.Handler = proxy
	if limit := (ratelimit.Config{
		RequestsPerSecond: cfg.Discovery.RateLimit.RequestsPerSecond,
		Burst:             cfg.Discovery.RateLimit.Burst,
		TrustForwardedFor: cfg.Discovery.RateLimit.TrustForwardedFor,
	}); limit.Enabled() {
		discoveryHandler = ratelimit.New(limit).Middleware(metrics, proxy)
	}

	backend, err := url.Parse(cfg.Inbox.BackendBaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse backend base url: %w", err)
	}
	redirector, err := gateway.NewRedirector(gateway.RedirectorOptions{
		BackendBase:  backend,
		ProfilePath:  cfg.Inbox.ProfilePath,
		NotFoundPath: cfg.Inbox.NotFoundPath,
		Metrics:      metrics,
	})
	if err != nil {
		return nil, err
	}

	return gateway.New(gateway.Options{
		Discovery:     discoveryHandler,
		DiscoveryPath: rule.MatchPath,
		NotFound:      proxy,
		Redirector:    redirector,
		Resolver:      federation.NewResolver(cfg.Federation.Settings()),
		Metrics:       metrics,
		Logger:        &logger,
	})
}

// adminHandler serves health and metrics on the admin listener.
func adminHandler(metrics *telemetry.Metrics) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/admin/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

// watchConfig applies hot-reloadable settings until ctx is done. normalize
// re-applies command line overrides to each update.
func watchConfig(ctx context.Context, current *config.Config, updates <-chan *config.Config, normalize func(*config.Config) error, gw *gateway.Gateway, logger zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			next := *update
			if normalize != nil {
				if err := normalize(&next); err != nil {
					logger.Error().Err(err).Msg("configuration update rejected")
					continue
				}
			}
			if changed := current.StaticChanges(&next); len(changed) > 0 {
				logger.Warn().Strs("sections", changed).Msg("configuration changes require a restart and were ignored")
			}
			gw.UpdateResolver(federation.NewResolver(next.Federation.Settings()))
			logging.SetLevel(next.Logging.Level)
			logger.Info().
				Str("canonical_domain", next.Federation.CanonicalDomain).
				Str("log_level", next.Logging.Level).
				Msg("applied configuration update")
		}
	}
}

// listenAndServe runs srv until ctx is cancelled, then shuts it down gracefully.
func listenAndServe(ctx context.Context, srv *http.Server) error {
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", srv.Addr, err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve %s: %w", srv.Addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown %s: %w", srv.Addr, err)
	}
	return nil
}

func shutdownTelemetry(shutdown func(context.Context) error, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("telemetry shutdown error")
	}
}
