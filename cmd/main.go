// Package main is the entry point for the AntBox device scanner.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/caihongdao/antbox-monitor/internal/callback"
	"github.com/caihongdao/antbox-monitor/internal/config"
	"github.com/caihongdao/antbox-monitor/internal/logging"
	"github.com/caihongdao/antbox-monitor/internal/pingclient"
	"github.com/caihongdao/antbox-monitor/internal/publisher"
	"github.com/caihongdao/antbox-monitor/internal/scanner"
	"github.com/caihongdao/antbox-monitor/internal/store"
)

var (
	cfgFile string
	v       = viper.New()
)

var rootCmd = &cobra.Command{
	Use:   "antbox-scanner",
	Short: "AntBox and miner discovery service",
	Long: `antbox-scanner sweeps IPv4 ranges for AntBox coolers and mining devices.
Without a subcommand it runs the HTTP service.`,
	SilenceUsage: true,
	RunE:         runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ./config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("ping-url", "", "base URL of the ping probe service")

	bindFlags(rootCmd, map[string]string{
		"log-level": "logging.level",
		"ping-url":  "ping.url",
	}, true)

	rootCmd.AddCommand(serveCmd, scanCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// bindFlags binds command flags to configuration keys. Unset flags leave the
// file, environment and default values in place.
func bindFlags(cmd *cobra.Command, keys map[string]string, persistent bool) {
	flags := cmd.Flags()
	if persistent {
		flags = cmd.PersistentFlags()
	}
	for name, key := range keys {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to bind %s flag: %v\n", name, err)
		}
	}
}

// setup loads configuration and builds the logger shared by every command.
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadWith(v, cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, logger, nil
}

// components holds the scanner and the sinks built from configuration.
type components struct {
	scanner *scanner.Scanner
	store   *store.Store
	closers []func() error
}

func (c *components) Close(logger *zap.SugaredLogger) {
	if c.scanner != nil {
		c.scanner.Close()
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			logger.Warnw("Failed to close component", "error", err)
		}
	}
}

// build wires the prober and every configured sink into a scanner. extra
// sinks are appended after the configured ones.
func build(cfg *config.Config, logger *zap.SugaredLogger, extra ...scanner.EventSink) (*components, error) {
	c := &components{}
	var sinks []scanner.EventSink

	reporter := callback.NewReporter(cfg.Callback, logger)
	if reporter.Enabled() {
		sinks = append(sinks, reporter)
		logger.Infow("Callback reporting enabled",
			"progress_url", cfg.Callback.ProgressURL,
			"result_url", cfg.Callback.ResultURL,
			"complete_url", cfg.Callback.CompleteURL,
		)
	}

	if cfg.RabbitMQ.Enabled {
		pub, err := publisher.New(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, logger)
		if err != nil {
			c.Close(logger)
			return nil, fmt.Errorf("failed to initialize publisher: %w", err)
		}
		sinks = append(sinks, pub)
		c.closers = append(c.closers, pub.Close)
	}

	if cfg.Redis.Enabled {
		c.store = store.New(cfg.Redis, logger)
		c.closers = append(c.closers, c.store.Close)
		sinks = append(sinks, c.store)
	}

	sinks = append(sinks, extra...)

	// A disabled probe service leaves the pinger nil so every probe skips it.
	var pinger scanner.Pinger
	if pc := pingclient.New(cfg.Ping.URL, logger); pc.Enabled() {
		pinger = pc
	} else {
		logger.Warn("Ping service URL not configured, reachability checks disabled")
	}

	classifier := scanner.NewClassifier(cfg.Scanner, scanner.DefaultRules(), scanner.NewHTTPClient(), logger)
	prober := scanner.NewHostProber(cfg.Scanner, cfg.Ping, pinger, classifier, nil, logger)
	c.scanner = scanner.New(cfg.Scanner, prober, logger, sinks...)

	// Session ids restart with the process; continue after the ones still in Redis.
	if c.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		last, err := c.store.LastSessionID(ctx)
		cancel()
		if err != nil {
			logger.Warnw("Redis unavailable, results will not be archived until it recovers", "error", err)
		} else {
			c.scanner.ResumeAfter(last)
			logger.Infow("Resuming scan ids from Redis", "last_scan_id", last)
		}
	}

	return c, nil
}
