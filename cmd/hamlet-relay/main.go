// Copyright 2026 The Hamlet Authors
// SPDX-License-Identifier: Apache-2.0

// Command hamlet-relay runs the village relay: it ingests agent
// heartbeats and lifecycle events over HTTP, persists agent and
// building progression, and broadcasts the event stream over SSE and
// a local CBOR tail socket.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/hamlet-works/hamlet/lib/clock"
	"github.com/hamlet-works/hamlet/lib/config"
	"github.com/hamlet-works/hamlet/lib/profile"
	"github.com/hamlet-works/hamlet/village"
)

// version is stamped by the release build; "devel" otherwise.
var version = "devel"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "hamlet-relay:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  = pflag.String("config", "", "path to the YAML configuration file")
		listenAddr  = pflag.String("listen", "", "HTTP listen address (overrides config)")
		dataDir     = pflag.String("data-dir", "", "state directory (overrides config)")
		socketPath  = pflag.String("socket", "", "tail stream Unix socket (overrides config)")
		logLevel    = pflag.String("log-level", "info", "log level: debug, info, warn, error")
		showVersion = pflag.Bool("version", false, "print the version and exit")
	)
	pflag.Parse()

	if *showVersion {
		fmt.Println("hamlet-relay", version)
		return nil
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *socketPath != "" {
		cfg.SocketPath = *socketPath
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		return fmt.Errorf("invalid --log-level %q: %w", *logLevel, err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory %s: %w", cfg.DataDir, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cl := clock.Real()
	agents := profile.NewAgentStore(cfg.AgentStatePath(), cfg.SaveDebounce(), cl, logger)
	buildings := profile.NewBuildingStore(cfg.BuildingStatePath(), cfg.SaveDebounce(), cl, logger)

	server := village.NewServer(village.Options{
		Agents:           agents,
		Buildings:        buildings,
		Logger:           logger,
		Clock:            cl,
		SessionTimeout:   cfg.SessionTimeout(),
		SweepInterval:    cfg.SweepInterval(),
		KeepAlive:        cfg.KeepAlive(),
		LeaderboardLimit: cfg.LeaderboardLimit,
	})

	// A stale socket from an unclean shutdown would block the listen.
	if err := os.Remove(cfg.TailSocket()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing stale tail socket: %w", err)
	}
	tailListener, err := net.Listen("unix", cfg.TailSocket())
	if err != nil {
		return fmt.Errorf("listening on tail socket: %w", err)
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	failed := make(chan error, 2)
	go func() {
		logger.Info("http listening", "addr", cfg.ListenAddr, "version", version)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			failed <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		logger.Info("tail stream listening", "socket", cfg.TailSocket())
		if err := server.ServeTail(ctx, tailListener); err != nil {
			failed <- fmt.Errorf("tail listener: %w", err)
		}
	}()
	go server.RunSweeper(ctx)

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case runErr = <-failed:
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		// Long-lived SSE subscribers hold connections open past the
		// grace period; cut them.
		httpServer.Close()
	}

	if err := agents.Flush(); err != nil {
		logger.Error("final agent state save failed", "error", err)
		if runErr == nil {
			runErr = err
		}
	}
	if err := buildings.Flush(); err != nil {
		logger.Error("final building state save failed", "error", err)
		if runErr == nil {
			runErr = err
		}
	}
	logger.Info("relay stopped")
	return runErr
}
