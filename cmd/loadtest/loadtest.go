// Package main drives simulated users through the shared room and reports
// how many messages each one saw.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/johndosdos/chatsync/internal/chat"
	"github.com/johndosdos/chatsync/internal/config"
	"github.com/johndosdos/chatsync/internal/logging"
	"github.com/johndosdos/chatsync/internal/metrics"
	"github.com/johndosdos/chatsync/internal/storage"
	"github.com/johndosdos/chatsync/internal/transport"
)

type loadConfig struct {
	Users     int
	Messages  int
	Transport string
	NATSURL   string
	RelayURL  string
	Room      string
	Timeout   time.Duration
}

var cfg loadConfig

var rootCmd = &cobra.Command{
	Use:   "loadtest",
	Short: "Send messages from simulated users and count deliveries",
	Long: `loadtest joins --users clients to the shared room, has each one send
--messages texts and waits until every client holds every message or the
timeout expires.`,
	SilenceUsage: true,
	RunE:         runLoad,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	f := rootCmd.Flags()
	f.IntVar(&cfg.Users, "users", 5, "simulated users")
	f.IntVar(&cfg.Messages, "messages", 20, "messages sent per user")
	f.StringVar(&cfg.Transport, "transport", "memory", "memory, nats or ws")
	f.StringVar(&cfg.NATSURL, "nats-url", os.Getenv("NATS_URL"), "NATS server for --transport nats")
	f.StringVar(&cfg.RelayURL, "relay-url", "ws://localhost:8080/ws", "relay endpoint for --transport ws")
	f.StringVar(&cfg.Room, "room", "loadtest", "room to flood")
	f.DurationVar(&cfg.Timeout, "timeout", 30*time.Second, "give up waiting after this long")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type userResult struct {
	name     string
	sent     int
	received int
}

func runLoad(cmd *cobra.Command, _ []string) error {
	if cfg.Users <= 0 || cfg.Messages <= 0 {
		return errors.New("--users and --messages must be positive")
	}
	logger := logging.New(os.Getenv("LOG_LEVEL"), "text", os.Stderr)

	newTransport, err := transportFactory(logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Timeout)
	defer cancel()

	want := cfg.Users * cfg.Messages
	results := make([]userResult, cfg.Users)
	var ready atomic.Int32
	allReady := make(chan struct{})

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for i := range cfg.Users {
		name := fmt.Sprintf("load-%03d", i)
		client := chat.NewClient(chat.Options{
			Transport:   newTransport(),
			Persistence: storage.NewMemory(),
			Logger:      logger.With("username", name),
			Metrics:     metrics.NewSync(nil),
			Room:        cfg.Room,
		})

		runCtx, stopClient := context.WithCancel(gctx)
		go func() {
			if err := client.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Debug("client loop ended", "username", name, "error", err)
			}
		}()

		g.Go(func() error {
			defer stopClient()
			res := &results[i]
			res.name = name

			if err := client.Join(gctx, name); err != nil {
				return fmt.Errorf("%s failed to join: %w", name, err)
			}
			if int(ready.Add(1)) == cfg.Users {
				close(allReady)
			}
			// Everyone subscribes before anyone sends.
			select {
			case <-allReady:
			case <-gctx.Done():
				return gctx.Err()
			}

			for n := range cfg.Messages {
				if _, err := client.SendText(gctx, fmt.Sprintf("%s message %d", name, n)); err != nil {
					return fmt.Errorf("%s failed to send: %w", name, err)
				}
				res.sent++
			}

			ticker := time.NewTicker(50 * time.Millisecond)
			defer ticker.Stop()
			for {
				msgs, err := client.Messages(gctx)
				if err == nil {
					res.received = len(msgs)
				}
				if res.received >= want {
					return nil
				}
				select {
				case <-ticker.C:
				case <-gctx.Done():
					// Report what arrived; the summary shows the gap.
					return nil
				}
			}
		})
	}

	err = g.Wait()
	report(cmd, results, want, time.Since(start))
	return err
}

func transportFactory(logger *slog.Logger) (func() transport.Transport, error) {
	switch cfg.Transport {
	case "memory":
		bus := transport.NewBus()
		return func() transport.Transport { return bus.Client() }, nil
	case config.TransportNATS:
		if cfg.NATSURL == "" {
			return nil, errors.New("--nats-url or NATS_URL is required for the nats transport")
		}
		return func() transport.Transport { return transport.NewNATS(cfg.NATSURL, logger) }, nil
	case config.TransportWS:
		return func() transport.Transport { return transport.NewWebSocket(cfg.RelayURL, logger) }, nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

func report(cmd *cobra.Command, results []userResult, want int, elapsed time.Duration) {
	out := cmd.OutOrStdout()
	var sent, received int
	for _, r := range results {
		sent += r.sent
		received += r.received
		missing := ""
		if r.received < want {
			missing = fmt.Sprintf(" (%s missing)", humanize.Comma(int64(want-r.received)))
		}
		fmt.Fprintf(out, "%s sent %s, holds %s%s\n", r.name,
			humanize.Comma(int64(r.sent)), humanize.Comma(int64(r.received)), missing)
	}

	deliveries := float64(received) / elapsed.Seconds()
	fmt.Fprintf(out, "\n%s sent, %s of %s deliveries in %s (%s/s)\n",
		humanize.Comma(int64(sent)),
		humanize.Comma(int64(received)),
		humanize.Comma(int64(want*len(results))),
		elapsed.Round(time.Millisecond),
		humanize.CommafWithDigits(deliveries, 1))
}
