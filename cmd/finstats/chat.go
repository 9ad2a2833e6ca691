package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/go-finstats-client/chat"
	"github.com/jrsteele09/go-finstats-client/chat/signalr"
	"github.com/peterh/liner"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const connectTimeout = 15 * time.Second

var metricsAddr string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the finance assistant",
	Long: `Opens a realtime connection to the assistant and starts a prompt.

Commands inside the prompt:
  /clear   forget the conversation
  /quit    leave (Ctrl-D works too)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := current.requireSession(); err != nil {
			return err
		}
		var reg *prometheus.Registry
		if metricsAddr != "" {
			reg = prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector())
		}
		channel, err := newChannel(reg)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
		defer stop()
		ctx, cancel := context.WithCancel(ctx)
		g, gctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			return ignoreCanceled(channel.Run(gctx))
		})
		g.Go(func() error {
			return ignoreCanceled(current.store.WatchExternal(gctx))
		})
		g.Go(func() error {
			defer cancel()
			return repl(gctx, channel, cmd.OutOrStdout())
		})
		if reg != nil {
			g.Go(func() error {
				return serveMetrics(gctx, metricsAddr, reg)
			})
		}
		return g.Wait()
	},
}

func newChannel(reg *prometheus.Registry) (*chat.Channel, error) {
	cfg := current.cfg
	policy, err := chat.ParseSendPolicy(cfg.GetChatSendPolicy())
	if err != nil {
		return nil, err
	}
	transport := signalr.New(cfg.GetHubURL(), signalr.WithLogger(log.Logger))
	sender := chat.NewHTTPSender(cfg.GetChatURL(), nil)
	options := []chat.Option{
		chat.WithLogger(log.Logger),
		chat.WithIdleWindow(cfg.GetChatIdleWindow()),
		chat.WithBackoff(cfg.GetChatBackoff()),
		chat.WithRetryInterval(cfg.GetChatRetryInterval()),
		chat.WithSendPolicy(policy),
	}
	if reg != nil {
		options = append(options, chat.WithMetrics(chat.NewMetrics(reg)))
	}
	return chat.NewChannel(current.store, transport, sender, options...), nil
}

func metricsHandler(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return mux
}

// serveMetrics exposes reg on addr until ctx ends.
func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) error {
	server := &http.Server{Addr: addr, Handler: metricsHandler(reg)}

	errs := make(chan error, 1)
	go func() { errs <- server.ListenAndServe() }()
	log.Debug().Str("addr", addr).Msg("serving chat metrics")

	select {
	case err := <-errs:
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// repl reads prompts until the user quits or the session ends.
func repl(ctx context.Context, channel *chat.Channel, out io.Writer) error {
	printBanner(out, "assistant")

	updates, unsubscribe := channel.Subscribe()
	defer unsubscribe()

	if err := awaitConnected(ctx, updates, out); err != nil {
		return err
	}

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	printed := make(map[string]bool)
	for {
		snap := channel.Snapshot()
		if snap.ActiveUserID == "" {
			printf(out, "%s\n", dimStyle.Render("Session ended."))
			return nil
		}
		for _, m := range snap.Messages {
			printed[m.ID] = true
		}

		input, err := line.Prompt(promptFor(snap.State))
		switch {
		case errors.Is(err, liner.ErrPromptAborted), errors.Is(err, io.EOF):
			return nil
		case err != nil:
			return fmt.Errorf("read prompt: %w", err)
		}
		if ctx.Err() != nil {
			return nil
		}

		input = strings.TrimSpace(input)
		switch input {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/clear":
			if err := channel.ClearMessages(ctx); err != nil {
				return err
			}
			printf(out, "%s\n", dimStyle.Render("Conversation cleared."))
			continue
		}
		line.AppendHistory(input)

		before := len(channel.Snapshot().Messages)
		if err := channel.Send(ctx, input); err != nil {
			printf(out, "%s %v\n", errorStyle.Render("!"), err)
			continue
		}
		if err := awaitReply(ctx, updates, before, printed, out); err != nil {
			return err
		}
	}
}

func printBanner(out io.Writer, name string) {
	fmt.Fprint(out, figure.NewFigure(name, "cybermedium", true).String())
	fmt.Fprintln(out)
}

func promptFor(state chat.State) string {
	if state == chat.Connected {
		return "you> "
	}
	return fmt.Sprintf("you (%s)> ", state)
}

func awaitConnected(ctx context.Context, updates <-chan chat.Snapshot, out io.Writer) error {
	printf(out, "%s\n", dimStyle.Render("Connecting to the assistant..."))
	timeout := time.NewTimer(connectTimeout)
	defer timeout.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timeout.C:
			return fmt.Errorf("assistant did not connect within %s", connectTimeout)
		case snap, ok := <-updates:
			if !ok {
				return nil
			}
			if snap.Connected() {
				printf(out, "%s connected\n\n", okStyle.Render("✓"))
				return nil
			}
		}
	}
}

// awaitReply prints assistant messages as they are finalised and returns once
// nothing is pending, or the connection went away.
func awaitReply(ctx context.Context, updates <-chan chat.Snapshot, before int, printed map[string]bool, out io.Writer) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-updates:
			if !ok {
				return nil
			}
			if snap.Streaming && snap.Connected() {
				continue
			}
			for _, m := range snap.Messages {
				if printed[m.ID] {
					continue
				}
				printed[m.ID] = true
				if !m.IsUser() {
					printf(out, "%s %s\n\n", assistantStyle.Render("assistant>"), m.Content)
				}
			}
			switch {
			case !snap.Connected():
				printf(out, "%s\n", dimStyle.Render("Connection "+snap.State.String()+"."))
				return nil
			case len(snap.Messages) > before+1:
				return nil
			}
		}
	}
}

func init() {
	chatCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve assistant connection metrics on this address (e.g. :9090)")
	rootCmd.AddCommand(chatCmd)
}
