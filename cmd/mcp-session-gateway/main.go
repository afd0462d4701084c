// Command mcp-session-gateway serves the streamable HTTP session gateway with
// the echo protocol handler bound to every session. Configuration comes from
// the environment; see internal/config for the full surface.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ggoodman/mcp-session-gateway/auth"
	"github.com/ggoodman/mcp-session-gateway/examples/echo"
	"github.com/ggoodman/mcp-session-gateway/internal/config"
	"github.com/ggoodman/mcp-session-gateway/internal/metrics"
	"github.com/ggoodman/mcp-session-gateway/sessions"
	"github.com/ggoodman/mcp-session-gateway/sessions/filestore"
	"github.com/ggoodman/mcp-session-gateway/sessions/redisstore"
	"github.com/ggoodman/mcp-session-gateway/streaminghttp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "mcp-session-gateway",
		Short:         "Streamable HTTP session gateway for MCP-style protocol handlers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the gateway version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the session gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(ctx context.Context) error {
	log := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := buildStore(cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	m := metrics.New(reg)

	mgr, err := sessions.NewManager(ctx, store,
		sessions.WithLogger(log),
		sessions.WithMetrics(m),
		sessions.WithMaxSessions(cfg.MaxSessions),
	)
	if err != nil {
		return fmt.Errorf("restore sessions: %w", err)
	}

	handlerOpts := []streaminghttp.Option{
		streaminghttp.WithLogger(log),
		streaminghttp.WithMetrics(m),
	}
	if cfg.AuthJWKSURL != "" {
		var jwksOpts []auth.JWKSOption
		if cfg.AuthIssuer != "" {
			jwksOpts = append(jwksOpts, auth.WithIssuer(cfg.AuthIssuer))
		}
		if cfg.AuthAudience != "" {
			jwksOpts = append(jwksOpts, auth.WithAudience(cfg.AuthAudience))
		}
		authenticator, err := auth.NewJWKS(ctx, cfg.AuthJWKSURL, jwksOpts...)
		if err != nil {
			return fmt.Errorf("initialize JWKS authenticator: %w", err)
		}
		handlerOpts = append(handlerOpts, streaminghttp.WithAuthenticator(authenticator))
		log.Info("auth.enabled", slog.String("jwks_url", cfg.AuthJWKSURL))
	}

	h, err := streaminghttp.New(cfg.Endpoint, mgr, echo.Factory, handlerOpts...)
	if err != nil {
		return fmt.Errorf("build gateway handler: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		log.Info("server.start",
			slog.String("addr", cfg.ListenAddr),
			slog.String("endpoint", cfg.Endpoint),
			slog.String("store", cfg.Store),
			slog.Int("max_sessions", cfg.MaxSessions),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve %s: %w", cfg.ListenAddr, err)
		}
		return nil
	})

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		eg.Go(func() error {
			log.Info("metrics.start", slog.String("addr", cfg.MetricsAddr))
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve metrics %s: %w", cfg.MetricsAddr, err)
			}
			return nil
		})
	}

	eg.Go(func() error {
		<-egCtx.Done()
		log.Info("server.shutdown.start")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("server.shutdown.fail", slog.String("err", err.Error()))
		}
		if metricsSrv != nil {
			_ = metricsSrv.Shutdown(shutdownCtx)
		}
		// Transports are closed; durable records survive for the next start.
		mgr.Shutdown(shutdownCtx)
		return nil
	})

	if err := eg.Wait(); err != nil {
		return err
	}
	log.Info("server.shutdown.ok")
	return nil
}

// buildStore selects the durable store backend. The returned closer is a no-op
// for the file store.
func buildStore(cfg *config.Config, log *slog.Logger) (sessions.Store, func(), error) {
	switch cfg.Store {
	case "redis":
		s, err := redisstore.NewFromEnv(redisstore.WithLogger(log))
		if err != nil {
			return nil, nil, fmt.Errorf("connect redis store: %w", err)
		}
		return s, func() { _ = s.Close() }, nil
	default:
		s := filestore.New(cfg.SessionFile, filestore.WithLogger(log))
		return s, func() {}, nil
	}
}
