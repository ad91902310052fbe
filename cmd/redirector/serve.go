package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	cfg "github.com/fabian4/redirect-gateway/internal/config"
	"github.com/fabian4/redirect-gateway/internal/handler"
	"github.com/fabian4/redirect-gateway/internal/metrics"
	"github.com/fabian4/redirect-gateway/internal/ratelimit"
	"github.com/fabian4/redirect-gateway/internal/redirect"
	"github.com/fabian4/redirect-gateway/internal/version"
)

const (
	limiterPruneEvery = time.Minute
	limiterIdle       = 5 * time.Minute
)

func newServeCmd(load func() (*cfg.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the redirect gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, c)
		},
	}
}

func serve(ctx context.Context, c *cfg.Config) error {
	logger := newLogger(c.Log)

	accessLog, closeLog, err := openAccessLog(c.AccessLog)
	if err != nil {
		return err
	}
	defer closeLog()

	var m *metrics.Registry
	if c.Metrics.Enabled {
		m = metrics.NewRegistry()
	}

	var lim *ratelimit.Limiter
	if c.RateLimit != nil {
		lim = ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerSecond: c.RateLimit.RequestsPerSecond,
			Burst:             c.RateLimit.Burst,
		})
		go pruneLimiter(ctx, lim)
	}

	res := redirect.NewResolver(c.Table, redirect.WithLogger(logger))
	gw := handler.NewGateway(res, handler.Options{
		NotFound:        c.NotFound,
		Limiter:         lim,
		AccessLog:       accessLog,
		AccessLogConfig: c.AccessLog,
		Metrics:         m,
		Logger:          logger,
	})

	idle := c.Timeouts.Idle
	if idle == 0 {
		idle = 60 * time.Second
	}
	srv := &http.Server{
		Addr:              c.Listen,
		Handler:           handler.Routes(gw, m, c.Metrics.Path),
		ReadTimeout:       c.Timeouts.Read,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      c.Timeouts.Write,
		IdleTimeout:       idle,
	}
	logger.WithFields(log.Fields{
		"version":    version.Value,
		"listen":     c.Listen,
		"rules":      res.Len(),
		"duplicates": c.Duplicates.String(),
	}).Info("redirect gateway listening")

	errc := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openAccessLog(c cfg.AccessLogConfig) (io.Writer, func(), error) {
	noop := func() {}
	if !c.Enabled {
		return io.Discard, noop, nil
	}
	switch c.Output {
	case "", "stdout":
		return os.Stdout, noop, nil
	case "stderr":
		return os.Stderr, noop, nil
	}
	f, err := os.OpenFile(c.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, noop, fmt.Errorf("access log: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}

func pruneLimiter(ctx context.Context, lim *ratelimit.Limiter) {
	t := time.NewTicker(limiterPruneEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			lim.Prune(limiterIdle)
		}
	}
}
