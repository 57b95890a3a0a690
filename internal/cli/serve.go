package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jarsater/toolrpc/internal/config"
	"github.com/jarsater/toolrpc/internal/metrics"
	"github.com/jarsater/toolrpc/internal/server"
	"github.com/jarsater/toolrpc/internal/tools"
	"github.com/jarsater/toolrpc/internal/transport"
	"github.com/jarsater/toolrpc/pkg/logging"
)

// serveFlags maps config keys to the serve command's flags.
var serveFlags = map[string]string{
	"transport":                      "transport",
	"tools":                          "tools",
	"http.addr":                      "addr",
	"metrics.addr":                   "metrics-addr",
	"log.level":                      "log-level",
	"server.tracing":                 "tracing",
	"server.max_concurrent_requests": "max-concurrent",
	"server.request_timeout":         "request-timeout",
}

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the enabled tools",
		Long: `Serve the enabled tools on stdin/stdout (--transport stdio) or over
HTTP (--transport http). Logs go to stderr. Prometheus metrics are served
on --metrics-addr unless it is empty.

Log level and request tracing are reloaded when the config file changes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loader.BindFlags(cmd, serveFlags); err != nil {
				return err
			}
			cfg, err := loader.Load()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, loader, cfg)
		},
	}

	defaults := server.DefaultConfig()
	f := cmd.Flags()
	f.String("transport", transport.KindStdio, "transport to serve on: stdio or http")
	f.StringSlice("tools", []string{"*"}, "glob patterns selecting the tools to enable")
	f.String("addr", transport.DefaultHTTPConfig().Addr, "HTTP listen address")
	f.String("metrics-addr", "127.0.0.1:9090", "metrics listen address, empty to disable")
	f.String("log-level", "info", "log level: debug, info, warn or error")
	f.Bool("tracing", false, "log every request")
	f.Int("max-concurrent", defaults.MaxConcurrentRequests, "maximum requests dispatched at once")
	f.Duration("request-timeout", defaults.RequestTimeout, "per-request timeout")
	return cmd
}

func runServe(ctx context.Context, l *config.Loader, cfg *config.Config) error {
	logger, level := logging.NewAtomicLogger("toolrpc", cfg.Log.Level)
	defer func() { _ = logger.Sync() }()

	enabled, err := tools.Select(tools.Builtin(), cfg.Tools)
	if err != nil {
		return err
	}
	if len(enabled) == 0 {
		logger.Warnf("No tools match %v", cfg.Tools)
	}

	srv, err := server.NewBuilder().
		WithConfig(cfg.ServerConfig()).
		WithTools(enabled...).
		WithLogger(logger.Named("server")).
		Build()
	if err != nil {
		return err
	}

	var t transport.Transport
	switch cfg.Transport {
	case transport.KindHTTP:
		h := transport.NewHTTP(cfg.HTTPConfig(), logger.Named("http"))
		if err := h.Start(ctx); err != nil {
			return err
		}
		t = h
	default:
		t = transport.NewStdio(cfg.PipeConfig(), logger.Named("stdio"))
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	// The helpers below stop when the transport closes.
	g.Go(func() error {
		defer cancel()
		return srv.Run(gctx, t)
	})

	if cfg.Metrics.Addr != "" {
		g.Go(func() error {
			return serveMetrics(gctx, cfg.Metrics.Addr, logger)
		})
	}

	g.Go(func() error {
		return l.Watch(gctx, logger.Named("config"), func(next *config.Config) {
			level.SetLevel(logging.ParseLogLevel(next.Log.Level))
			srv.SetTracing(next.Server.Tracing)
		})
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	logger.Info("Shut down")
	return err
}

// serveMetrics serves /metrics and /healthz until ctx ends.
func serveMetrics(ctx context.Context, addr string, logger *zap.SugaredLogger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Metrics listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Metrics server shutdown error: %v", err)
	}
	return nil
}
