package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/jrsteele09/go-finstats-client/api"
	"github.com/jrsteele09/go-finstats-client/auth"
	"github.com/jrsteele09/go-finstats-client/internal/config"
	"github.com/jrsteele09/go-finstats-client/internal/logging"
	"github.com/jrsteele09/go-finstats-client/sessions"
	"github.com/jrsteele09/go-finstats-client/sessions/filerepo"
	"github.com/jrsteele09/go-finstats-client/sessions/redisrepo"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	configPath string
	verbose    bool
	version    = "dev"
)

// app is built once per invocation by the root command's pre-run hook.
type app struct {
	cfg   config.Config
	repo  sessions.Repo
	store *auth.SessionStore
	close func() error
}

var current *app

var rootCmd = &cobra.Command{
	Use:   "finstats",
	Short: "Terminal client for the FinStats personal finance service",
	Long: `finstats signs in to the FinStats backend, shows your cards and
expenses, and talks to the finance assistant.

Quick Start:
  finstats login --email you@example.com   # Sign in
  finstats cards                           # List credit cards
  finstats chat                            # Talk to the assistant`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(configPath)
		if err != nil {
			return err
		}
		current = a
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if current == nil || current.close == nil {
			return nil
		}
		return current.close()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", errorStyle.Render("Error:"), err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a finstats.yaml file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
}

func newApp(path string) (*app, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	level := cfg.GetLogLevel()
	if verbose {
		level = "debug"
	}
	logging.Init(logging.Config{Level: level, Pretty: cfg.GetLogPretty(), ServiceName: "finstats"})

	repo, closeRepo, err := openRepo(cfg)
	if err != nil {
		return nil, err
	}
	store, err := auth.NewSessionStore(
		auth.NewHTTPBackend(cfg.GetAPIURL()),
		repo,
		auth.WithLogger(log.Logger),
		auth.WithRefreshSkew(cfg.GetRefreshSkew()),
	)
	if err != nil {
		_ = closeRepo()
		return nil, err
	}
	return &app{cfg: cfg, repo: repo, store: store, close: closeRepo}, nil
}

// openRepo opens the session storage named by the configuration.
func openRepo(cfg config.StorageConfig) (sessions.Repo, func() error, error) {
	switch cfg.GetStorageBackend() {
	case config.StorageRedis:
		repo, err := redisrepo.New(redisrepo.Config{
			Addr:     cfg.GetRedisAddress(),
			Password: cfg.GetRedisPassword(),
			DB:       cfg.GetRedisDB(),
			Prefix:   cfg.GetRedisPrefix(),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("open redis session storage: %w", err)
		}
		return repo, repo.Close, nil
	default:
		repo, err := filerepo.New(cfg.GetStorageDir(), filerepo.WithLogger(log.Logger))
		if err != nil {
			return nil, nil, fmt.Errorf("open session storage: %w", err)
		}
		return repo, func() error { return nil }, nil
	}
}

func (a *app) apiClient() (*api.Client, error) {
	return api.NewClient(a.cfg.GetAPIURL(), a.store, api.WithLogger(log.Logger))
}

// requireSession fails early with a readable message when nobody is signed in.
func (a *app) requireSession() (*sessions.Session, error) {
	s := a.store.Current()
	if s == nil {
		return nil, fmt.Errorf("not signed in, run 'finstats login' first")
	}
	return s, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func printf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
