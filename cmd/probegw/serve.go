package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/probegw/probegw/internal/api"
	"github.com/probegw/probegw/internal/config"
	"github.com/probegw/probegw/internal/gateway"
	"github.com/probegw/probegw/internal/history"
	"github.com/probegw/probegw/internal/log"
	"github.com/probegw/probegw/internal/metrics"
	"github.com/probegw/probegw/internal/probe"
)

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP probe API",
		Long: `Serve runs the probe gateway as an HTTP service.

The API accepts probe requests, validates the destination against the SSRF
and edge-network block tables, runs the requested protocol module, and
returns the outcome as JSON. Prometheus metrics are exposed on /metrics.

Examples:
  # Listen on the default loopback address
  probegw serve

  # Listen on a specific address with a config file
  probegw serve --listen 127.0.0.1:9000 -c /etc/probegw.yaml

  # Record probe outcomes into a history database
  probegw serve --history ~/.local/share/probegw`,
		RunE: runServeCmd,
	}

	cmd.Flags().StringP("listen", "l", "",
		"HTTP listen address (default "+config.DefaultListenAddress+")")
	cmd.Flags().StringP("config", "c", "",
		"Configuration file path (default: .probegw in current or home directory)")
	cmd.Flags().String("history", "",
		"Directory for the probe-history database (empty disables history)")

	return cmd
}

// runServeCmd executes the serve command.
func runServeCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := buildServeConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logger := log.NewLogger(os.Stderr, cfg.Verbose)
	slog.SetDefault(logger)

	return runServe(cfg, logger)
}

// buildServeConfig creates a Config from file and flags. Flags win.
func buildServeConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.NewConfig()
	cfg.Verbose = getVerboseFlag(cmd)

	var err error
	cfg.ConfigFilePath, err = cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	if err := applyConfigFile(cfg); err != nil {
		return nil, err
	}

	listen, err := cmd.Flags().GetString("listen")
	if err != nil {
		return nil, err
	}
	if listen != "" {
		cfg.ListenAddress = listen
	}

	historyDir, err := cmd.Flags().GetString("history")
	if err != nil {
		return nil, err
	}
	if historyDir != "" {
		cfg.HistoryDir = historyDir
		cfg.SaveHistory = true
	}

	return cfg, nil
}

// applyConfigFile loads the YAML config file if present. A path the user
// asked for explicitly must exist; the default search may come up empty.
func applyConfigFile(cfg *config.Config) error {
	explicit := cfg.ConfigFilePath != ""
	path := config.FindConfigFile(cfg.ConfigFilePath)
	if path == "" {
		if explicit {
			return fmt.Errorf("configuration file not found: %s", cfg.ConfigFilePath)
		}
		return nil
	}

	file, err := config.LoadConfigFile(path)
	if err != nil {
		return fmt.Errorf("failed to load config file %s: %w", path, err)
	}
	file.Apply(cfg)
	return nil
}

// getVerboseFlag retrieves the verbose flag from the command or its parent.
func getVerboseFlag(cmd *cobra.Command) bool {
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		verbose, err = cmd.Root().PersistentFlags().GetBool("verbose")
		if err != nil {
			return false
		}
	}
	return verbose
}

// buildRegistry assembles the gateway and probe registry from cfg.
func buildRegistry(cfg *config.Config, logger *slog.Logger, rec *metrics.Recorder) (*probe.Registry, error) {
	edge, err := gateway.NewEdgeNetworkDetector(cfg.EdgeNetworks)
	if err != nil {
		return nil, err
	}

	brokerOpts := []gateway.Option{
		gateway.WithLogger(logger),
		gateway.WithMetrics(rec),
	}
	if cfg.UpstreamProxy != "" {
		dial, err := gateway.NewSOCKS5DialFunc(cfg.UpstreamProxy)
		if err != nil {
			return nil, err
		}
		brokerOpts = append(brokerOpts, gateway.WithDialFunc(dial))
		logger.Info("outbound TCP via SOCKS5 proxy", "proxy", cfg.UpstreamProxy)
	}

	broker := gateway.NewBroker(edge, brokerOpts...)
	return probe.NewRegistry(probe.Deps{
		Broker:        broker,
		Logger:        logger,
		MaxFrameBytes: cfg.MaxFrameBytes,
		SNMPCommunity: cfg.SNMPCommunity,
		RADIUSSecret:  cfg.RADIUSSecret,
		RIPAuthKey:    cfg.RIPAuthKey,
		RIPKeyID:      cfg.RIPKeyID,
	}), nil
}

// runServe starts the HTTP API and blocks until a shutdown signal arrives.
func runServe(cfg *config.Config, logger *slog.Logger) error {
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.NewRecorder(promReg)

	registry, err := buildRegistry(cfg, logger, recorder)
	if err != nil {
		return err
	}

	var store *history.Store
	if cfg.SaveHistory {
		store, err = history.Open(cfg.HistoryDir, history.DefaultOptions())
		if err != nil {
			return fmt.Errorf("failed to open history database: %w", err)
		}
		defer store.Close() //nolint:errcheck
		logger.Info("history database opened", "dir", cfg.HistoryDir)
	}

	srv := api.NewServer(registry, api.ServerOptions{
		Addr:     cfg.ListenAddress,
		Logger:   logger,
		Metrics:  recorder,
		Gatherer: promReg,
		History:  store,
	})
	srv.Start()

	// Handle shutdown signals
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	sig := <-signals
	logger.Info("received signal, shutting down", "signal", sig.String())

	if err := srv.Stop(context.Background()); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	logger.Info("stopped")
	return nil
}
