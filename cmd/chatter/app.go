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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/johndosdos/chatsync/internal/chat"
	"github.com/johndosdos/chatsync/internal/config"
	"github.com/johndosdos/chatsync/internal/logging"
	"github.com/johndosdos/chatsync/internal/metrics"
	"github.com/johndosdos/chatsync/internal/storage"
	"github.com/johndosdos/chatsync/internal/terminal"
	"github.com/johndosdos/chatsync/internal/transport"
)

func run(cmd *cobra.Command, _ []string) error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}

	path, _ := cmd.Flags().GetString("config")
	base, err := config.LoadClientFile(path)
	if err != nil {
		return err
	}
	cfg := config.LoadClient(base)
	if t, _ := cmd.Flags().GetString("transport"); t != "" {
		cfg.Transport = t
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	format := cfg.LogFormat
	if format == "" {
		format = "text"
	}
	logger := logging.New(cfg.LogLevel, format, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	kv, closeKV, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeKV()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	bell, _ := cmd.Flags().GetBool("bell")
	out := cmd.OutOrStdout()
	view := terminal.NewView(out)
	client := chat.NewClient(chat.Options{
		Transport:   newTransport(cfg, logger),
		Persistence: kv,
		Notifier:    terminal.NewNotifier(out, bell),
		View:        view,
		Logger:      logger,
		Metrics:     metrics.NewSync(reg),
		Room:        cfg.Room,
		Peers:       cfg.Peers,
	})
	prompt := terminal.NewPrompt(client, view, out, cfg.Room)

	g, gctx := errgroup.WithContext(ctx)
	gctx, cancel := context.WithCancel(gctx)
	defer cancel()

	g.Go(func() error { return client.Run(gctx) })

	if cfg.MetricsAddr != "" {
		g.Go(func() error { return serveMetrics(gctx, cfg.MetricsAddr, reg, logger) })
	}

	g.Go(func() error {
		defer cancel()
		if name, _ := cmd.Flags().GetString("username"); name != "" {
			if err := prompt.Execute(gctx, terminal.Command{Name: terminal.CmdJoin, Arg: name}); err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
			}
		} else {
			fmt.Fprintln(out, "Type /join <name> to start, /help for commands.")
		}
		if err := prompt.Run(gctx, cmd.InOrStdin()); err != nil && !errors.Is(err, terminal.ErrQuit) {
			return err
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// openStorage returns the configured history store and its release func.
func openStorage(ctx context.Context, cfg config.Client) (chat.Persistence, func(), error) {
	switch cfg.Storage {
	case config.StorageMemory:
		return storage.NewMemory(), func() {}, nil

	case config.StoragePostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("could not connect to the postgresql database: %w", err)
		}
		if err := storage.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return storage.NewPostgres(pool), pool.Close, nil

	default:
		db, err := storage.OpenPebble(cfg.StoragePath)
		if err != nil {
			return nil, nil, err
		}
		return db, func() {
			if err := db.Close(); err != nil {
				slog.Warn("failed to close history store", "error", err)
			}
		}, nil
	}
}

func newTransport(cfg config.Client, logger *slog.Logger) transport.Transport {
	if cfg.Transport == config.TransportWS {
		return transport.NewWebSocket(cfg.RelayURL, logger)
	}
	return transport.NewNATS(cfg.NATS.URL, logger, cfg.NATS.Options()...)
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown", "error", err)
		}
	}()

	logger.Info("serving metrics", "addr", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
