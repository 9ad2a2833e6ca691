package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/go-finstats-client/internal/config"
	"github.com/jrsteele09/go-finstats-client/internal/devbackend"
	"github.com/jrsteele09/go-finstats-client/internal/logging"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const (
	demoEmail    = "demo@finstats.net"
	demoPassword = "Demo1234"
	demoName     = "Demo User"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "devbackend",
	Short: "Local stand-in for the FinStats backend",
	Long: `devbackend serves the FinStats REST API and assistant hub from memory,
seeded with a demo account (` + demoEmail + ` / ` + demoPassword + `).`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		for {
			if err := run(configPath); err != nil {
				log.Error().Err(err).Msg("error running server, restarting")
				time.Sleep(1 * time.Second)
			} else {
				break
			}
		}
		log.Info().Msg("server stopped")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a finstats.yaml file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("recovered from panic")
			returnError = errors.New("panic recovered")
		}
	}()

	c, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logging.Init(logging.Config{Level: c.GetLogLevel(), Pretty: c.GetLogPretty(), ServiceName: "finstats-devbackend"})
	displayAppname(c.GetAppName())

	backend, err := devbackend.New(c,
		devbackend.WithLogger(log.Logger),
		devbackend.WithUser(demoEmail, demoPassword, demoName),
	)
	if err != nil {
		return fmt.Errorf("devbackend.New: %w", err)
	}
	log.Info().Str(logging.FieldEmail, demoEmail).Msg("demo account seeded")

	server := &http.Server{Addr: c.GetPort(), Handler: backend}
	serveErr := make(chan error, 1)
	go func() { serveErr <- listenAndServe(server) }()

	select {
	case err := <-serveErr:
		backend.Close()
		return err
	case <-waitForStopSignal():
	}
	returnError = shutdown(server, backend)
	return returnError
}

func listenAndServe(server *http.Server) error {
	log.Info().Str("addr", server.Addr).Msg("server listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func waitForStopSignal() <-chan os.Signal {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	return stop
}

// shutdown closes the hub first; hijacked websocket connections are not drained by Shutdown.
func shutdown(server *http.Server, backend *devbackend.Server) error {
	backend.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
