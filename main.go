// Package main runs the relay: a WebSocket front for browsers and terminal
// clients, fanned out across instances through a JetStream stream.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/johndosdos/chatsync/internal"
	"github.com/johndosdos/chatsync/internal/broker"
	"github.com/johndosdos/chatsync/internal/broker/worker"
	"github.com/johndosdos/chatsync/internal/config"
	"github.com/johndosdos/chatsync/internal/handler"
	"github.com/johndosdos/chatsync/internal/logging"
	"github.com/johndosdos/chatsync/internal/metrics"
	ratelimiter "github.com/johndosdos/chatsync/internal/rate_limiter"
	ws "github.com/johndosdos/chatsync/internal/websocket"
)

func main() {
	if err := run(); err != nil {
		slog.Error("relay stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	if err := config.LoadDotEnv(); err != nil {
		slog.Warn("continuing without .env", "error", err)
	}

	cfg := config.LoadRelay()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Init NATS
	logger.Info("initializing NATS connection", "url", cfg.NATS.URL)

	opts := append(cfg.NATS.Options(),
		nats.Name("chatsync-relay"),
		nats.Timeout(5*time.Second))
	conn, err := nats.Connect(cfg.NATS.URL, opts...)
	if err != nil {
		return fmt.Errorf("failed to connect to nats: %w", err)
	}
	defer conn.Close()

	js, err := jetstream.New(conn)
	if err != nil {
		return fmt.Errorf("failed to create jetstream instance: %w", err)
	}

	stream, err := broker.EnsureStream(ctx, js, cfg.StreamMaxBytes)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	relayMetrics := metrics.NewRelay(reg)

	// hub.Run is our central hub that is always listening for client related events.
	hub := ws.NewHub(broker.NewJetStream(js), relayMetrics)
	go hub.Run(ctx)

	if err := broker.Subscriber(ctx, stream, worker.WorkerHub(ctx, hub)); err != nil {
		return err
	}

	ipLimiter := ratelimiter.NewIPRateLimiter(cfg.IPLimit, cfg.IPWindow, ratelimiter.CleanupOpts{
		TTL:      3 * cfg.IPWindow,
		Interval: cfg.IPWindow,
	})
	defer ipLimiter.Close()
	ipLimiter.OnLimit = relayMetrics.RateLimited

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(internal.Middleware(logger))

	r.With(ipLimiter.Middleware).Handle("/ws", handler.ServeWs(hub, handler.WsOptions{
		OriginPatterns: cfg.AllowedOrigins,
		MessageLimit:   cfg.MessageLimit,
		MessageWindow:  cfg.MessageWindow,
		PingInterval:   cfg.PingInterval,
	}))
	r.Get("/healthz", handler.ServeHealth(map[string]handler.Check{
		"nats": func() error {
			if s := conn.Status(); s != nats.CONNECTED {
				return fmt.Errorf("connection is %s", s)
			}
			return nil
		},
	}))
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       30 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received; shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown", "error", err)
		}

		// Drain NATS connection.
		if err := conn.Drain(); err != nil {
			logger.Warn("couldn't drain NATS conn", "error", err)
		}
		return nil
	})

	err = g.Wait()
	logger.Info("server stopped")
	return err
}
