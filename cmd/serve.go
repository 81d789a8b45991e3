package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/caihongdao/antbox-monitor/internal/api"
	"github.com/caihongdao/antbox-monitor/internal/metrics"
	"github.com/caihongdao/antbox-monitor/internal/stream"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP scan service",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().Int("port", 0, "HTTP listen port")
	bindFlags(serveCmd, map[string]string{"port": "server.port"}, false)
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	sugar := logger.Sugar()
	sugar.Info("Starting AntBox scanner service")
	sugar.Infow("Configuration loaded",
		"port", cfg.Server.Port,
		"max_addresses", cfg.Scanner.MaxAddresses,
		"rate_limit", cfg.Scanner.RateLimit,
		"rabbitmq", cfg.RabbitMQ.Enabled,
		"redis", cfg.Redis.Enabled,
	)

	hub := stream.NewHub(sugar)
	defer hub.Close()
	m := metrics.New()

	c, err := build(cfg, sugar, hub, m)
	if err != nil {
		return err
	}
	defer c.Close(sugar)

	opts := []api.Option{api.WithHub(hub), api.WithMetrics(m)}
	if c.store != nil {
		opts = append(opts, api.WithArchive(c.store))
	}

	server := api.New(cfg.Server, c.scanner, sugar, opts...)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server.Router(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		sugar.Infof("HTTP server listening on port %d", cfg.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("HTTP server error: %w", err)
	}

	sugar.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if id, ok := c.scanner.StopCurrent(); ok {
		if _, err := c.scanner.Wait(ctx, id); err != nil {
			sugar.Warnw("Scan did not finish before shutdown", "scan_id", id, "error", err)
		}
	}

	if err := httpServer.Shutdown(ctx); err != nil {
		sugar.Errorf("Server forced to shutdown: %v", err)
	}

	sugar.Info("Server stopped")
	return nil
}
