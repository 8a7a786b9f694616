// Copyright 2026 The Chatwarden Authors
// SPDX-License-Identifier: Apache-2.0

// Chatwarden-daemon is the long-running chat moderation bot process. It
// keeps one authenticated connection to the messaging network, serves
// prefixed commands in the conversations the account is a member of,
// and maintains the moderation store on disk.
//
// On startup:
//  1. Loads configuration (--config flag, CHATWARDEN_CONFIG, or defaults).
//  2. Opens the moderation store and the credential directory.
//  3. Starts the status HTTP server (when configured).
//  4. Enters the session loop: dial, serve events, reconnect on failure.
//
// The process exits 0 on SIGINT/SIGTERM and 3 when an admin issued the
// restart command; a supervisor (systemd with RestartForceExitStatus=3,
// or equivalent) turns exit code 3 into a fresh process.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/chatwarden/chatwarden/bot"
	"github.com/chatwarden/chatwarden/display"
	"github.com/chatwarden/chatwarden/lib/config"
	"github.com/chatwarden/chatwarden/lib/credential"
	"github.com/chatwarden/chatwarden/lib/version"
	"github.com/chatwarden/chatwarden/session"
	"github.com/chatwarden/chatwarden/status"
	"github.com/chatwarden/chatwarden/store"
	"github.com/chatwarden/chatwarden/transport"
)

// restartExitCode tells the supervisor to start a fresh process.
const restartExitCode = 3

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	os.Exit(code)
}

func run() (int, error) {
	var (
		configPath  string
		showVersion bool
		debug       bool
	)
	flag.StringVar(&configPath, "config", "", "path to chatwarden.yaml (default: CHATWARDEN_CONFIG, then built-in defaults)")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.BoolVar(&debug, "debug", false, "enable debug logging")
	flag.Parse()

	if showVersion {
		fmt.Printf("chatwarden-daemon %s\n", version.Info())
		return 0, nil
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return 0, err
	}
	if err := cfg.Validate(); err != nil {
		return 0, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsurePaths(); err != nil {
		return 0, err
	}

	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The restart command cancels this context after its ack is sent;
	// the flag distinguishes that from an operator signal.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var restartRequested atomic.Bool

	terminal := display.NewTerminal(os.Stdout)
	terminal.ShowBanner(version.Short())

	moderation := store.Open(cfg.Paths.StoreFile, logger)
	credentials := credential.New(cfg.Paths.Credentials)
	if err := credentials.Ensure(); err != nil {
		return 0, err
	}

	dispatcher := bot.NewDispatcher(bot.Options{
		Store:        moderation,
		Logger:       logger,
		CountryCode:  cfg.CountryCode,
		TagAllHeader: cfg.Chat.TagAllHeader,
		RequestRestart: func() {
			logger.Info("restart requested by admin command")
			restartRequested.Store(true)
			cancel()
		},
	})
	router := bot.NewRouter(bot.RouterOptions{
		Dispatcher: dispatcher,
		Prefix:     cfg.Prefix,
		Greetings:  cfg.GreetingsEnabled(),
		Logger:     logger,
	})

	manager := session.New(session.Options{
		Transport:      transport.New(logger),
		Credentials:    credentials,
		Handler:        router,
		Presenter:      terminal,
		Logger:         logger,
		BaseDelay:      cfg.ReconnectBase(),
		MaxDelay:       cfg.ReconnectMax(),
		ConnectTimeout: cfg.ConnectTimeout(),
	})

	if cfg.HTTP.ListenAddr != "" {
		statusServer := status.New(status.Options{
			Addr:    cfg.HTTP.ListenAddr,
			Session: manager,
			Logger:  logger,
		})
		go func() {
			if err := statusServer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("status server failed", "error", err)
			}
		}()
	}

	logger.Info("chatwarden starting",
		"version", version.Info(),
		"store", cfg.Paths.StoreFile,
		"credentials", cfg.Paths.Credentials,
	)

	if err := manager.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return 0, err
	}

	if restartRequested.Load() {
		logger.Info("exiting for restart", "code", restartExitCode)
		return restartExitCode, nil
	}
	logger.Info("shutdown complete")
	return 0, nil
}

// loadConfig resolves the configuration source: the --config flag, then
// the CHATWARDEN_CONFIG environment variable, then built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	if os.Getenv("CHATWARDEN_CONFIG") != "" {
		return config.Load()
	}
	return config.Default(), nil
}
