// Command autogui-mcp is the GUI automation MCP server. It analyzes the
// screen into numbered elements and exposes element-addressed mouse and
// keyboard tools over JSON-RPC 2.0, on stdio or HTTP/SSE.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/lpernett/godotenv"

	"github.com/ahouse2/omniparser-autogui-mcp/internal/config"
	"github.com/ahouse2/omniparser-autogui-mcp/internal/server"
	"github.com/ahouse2/omniparser-autogui-mcp/internal/transport"
)

func main() {
	// A .env alongside the binary is convenient for MCP host configs
	// that cannot set environment variables themselves.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Stdout carries the protocol on the stdio transport, so logs always
	// go to stderr.
	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: level}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := transport.NewMetricsRegistry()

	srv, err := server.New(ctx, cfg, server.Options{
		Metrics:   metrics,
		Logger:    logger,
		AuditPath: cfg.AuditLogPath,
	})
	if err != nil {
		return err
	}
	defer srv.Close()

	var tr interface {
		Serve(transport.Handler) error
		Close() error
	}
	switch cfg.Transport {
	case config.TransportHTTP:
		tr = transport.NewHTTPTransport(&transport.HTTPTransportConfig{
			Address:           cfg.HTTPAddress,
			SocketPath:        cfg.HTTPSocketPath,
			CORSOrigin:        cfg.CORSOrigin,
			HeartbeatInterval: cfg.HeartbeatInterval,
			ReadTimeout:       cfg.HTTPReadTimeout,
			WriteTimeout:      cfg.HTTPWriteTimeout,
			RateLimit:         cfg.RateLimit,
		}, metrics, logger)
		logger.Info("serving MCP over HTTP/SSE",
			"address", cfg.HTTPAddress, "socket", cfg.HTTPSocketPath)
	default:
		tr = transport.NewStdioTransport(os.Stdin, os.Stdout, logger)
		logger.Info("serving MCP over stdio")
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- tr.Serve(srv.HandleMessage)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		if err := tr.Close(); err != nil {
			logger.Warn("transport close failed", "error", err)
		}
		// A blocked stdin read cannot be interrupted, so do not wait on
		// the serve loop forever.
		select {
		case err := <-errCh:
			return err
		case <-time.After(2 * time.Second):
			logger.Warn("forced shutdown")
			return nil
		}
	case err := <-errCh:
		return err
	}
}
