package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chat-translator/internal/api"
	"chat-translator/internal/app"
	"chat-translator/internal/bus"
	"chat-translator/internal/config"
)

// ServeCmd runs the long-lived service.
type ServeCmd struct {
	ShutdownTimeout time.Duration `default:"30s" help:"How long in-flight messages may take to finish on shutdown"`
}

// Run executes the serve command
func (c *ServeCmd) Run(cli *CLI) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(os.Stdout, cfg, cli)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}

	// NATS
	busClient, err := bus.NewClient(cfg.NatsURL, cfg.NatsToken, logger)
	if err != nil {
		return err
	}
	defer busClient.Close()
	logger.Info("NATS connected", "url", cfg.NatsURL)

	relay, err := bus.NewRelay(ctx, a.Service, busClient, cfg.OutboundSubject, logger)
	if err != nil {
		return err
	}
	if err := busClient.Subscribe(cfg.InboundSubject, relay.HandleMessage); err != nil {
		return err
	}

	// HTTP API
	srv, err := api.NewServer(cfg.Port, a.Service, a.Registry, a.HistoryStats(), logger)
	if err != nil {
		return err
	}
	srvErr := make(chan error, 1)
	go func() {
		srvErr <- srv.Start()
	}()

	logger.Info("translator ready",
		"port", cfg.Port,
		"inbound", cfg.InboundSubject,
		"outbound", cfg.OutboundSubject,
	)

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-srvErr:
		if err != nil {
			return fmt.Errorf("HTTP server: %w", err)
		}
	}

	busClient.Drain()
	relay.Close()
	if !waitTimeout(relay.Wait, c.ShutdownTimeout) {
		logger.Warn("in-flight messages did not finish, cancelling", "timeout", c.ShutdownTimeout)
		cancel()
		relay.Wait()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown failed", "err", err)
	}

	stats := a.Service.Stats()
	logger.Info("translator stopped",
		"received", stats.Received,
		"translated", stats.Translated,
		"failed", stats.Failed,
	)
	return nil
}

// waitTimeout reports whether wait returned within d.
func waitTimeout(wait func(), d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}
