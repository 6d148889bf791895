package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/probegw/probegw/internal/config"
	"github.com/probegw/probegw/internal/history"
	"github.com/probegw/probegw/internal/log"
	"github.com/probegw/probegw/internal/pipeline"
	"github.com/probegw/probegw/internal/probe"
	"github.com/probegw/probegw/internal/report"
)

// NewProbeCmd creates the probe command.
func NewProbeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe [host[:port]...]",
		Short: "Probe one or more hosts over a binary protocol",
		Long: `Probe connects to each target and speaks the selected protocol just far
enough to detect a live service. Destinations are validated against the SSRF
and edge-network block tables before any socket is opened.

Examples:
  # Probe a Zabbix agent on its default port
  probegw probe --protocol zabbix monitoring.example.com

  # Probe SNMP on a non-default port
  probegw probe --protocol snmp router.example.com:1161

  # Probe several hosts concurrently and emit a JSON report
  probegw probe --protocol stun --json host1.example.com host2.example.com

  # Write a Markdown report to a file
  probegw probe --protocol portmap -o report.md nfs.example.com`,
		Args: cobra.ArbitraryArgs,
		RunE: runProbeCmd,
	}

	cmd.Flags().StringP("protocol", "P", "",
		"Protocol module to run (required; see 'probegw probe --list')")
	cmd.Flags().Bool("list", false,
		"List available protocol modules and exit")
	cmd.Flags().DurationP("timeout", "t", config.DefaultTimeout,
		"Per-probe timeout covering connect and the protocol exchange")
	cmd.Flags().IntP("batch", "b", config.DefaultBatchSize,
		"Number of concurrent probes")
	cmd.Flags().StringP("config", "c", "",
		"Configuration file path (default: .probegw in current or home directory)")
	cmd.Flags().BoolP("json", "j", false,
		"Output JSON report (default is Markdown)")
	cmd.Flags().StringP("output", "o", "",
		"Write report to specified file path (creates directories if needed)")
	cmd.Flags().String("history", "",
		"Directory for the probe-history database (empty disables history)")

	return cmd
}

// runProbeCmd executes the probe command.
func runProbeCmd(cmd *cobra.Command, args []string) error {
	cfg, err := buildProbeConfig(cmd, args)
	if err != nil {
		return err
	}

	logger := log.NewLogger(os.Stderr, cfg.Verbose)
	slog.SetDefault(logger)

	registry, err := buildRegistry(cfg, logger, nil)
	if err != nil {
		return err
	}

	if list, _ := cmd.Flags().GetBool("list"); list {
		for _, name := range registry.Protocols() {
			module, _ := registry.Lookup(name)
			fmt.Fprintf(cmd.OutOrStdout(), "%-10s %s/%d\n",
				name, module.Network(), module.DefaultPort())
		}
		return nil
	}

	if cfg.Protocol == "" {
		return errors.New("--protocol is required")
	}
	if len(cfg.Targets) == 0 {
		return errors.New("no targets provided (specify one or more host[:port] arguments)")
	}
	if _, ok := registry.Lookup(cfg.Protocol); !ok {
		return fmt.Errorf("unknown protocol %q (see 'probegw probe --list')", cfg.Protocol)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	jobs, err := buildJobs(cfg)
	if err != nil {
		return err
	}

	// Set up context with signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal, cancelling...")
		cancel()
	}()

	return runProbes(ctx, cfg, registry, jobs, logger)
}

// buildProbeConfig creates a Config from cobra command flags.
func buildProbeConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
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

	cfg.Protocol, err = cmd.Flags().GetString("protocol")
	if err != nil {
		return nil, err
	}
	cfg.Timeout, err = cmd.Flags().GetDuration("timeout")
	if err != nil {
		return nil, err
	}
	cfg.BatchSize, err = cmd.Flags().GetInt("batch")
	if err != nil {
		return nil, err
	}
	cfg.JSONReport, err = cmd.Flags().GetBool("json")
	if err != nil {
		return nil, err
	}
	cfg.MarkdownReport = !cfg.JSONReport
	cfg.ReportFile, err = cmd.Flags().GetString("output")
	if err != nil {
		return nil, err
	}

	historyDir, err := cmd.Flags().GetString("history")
	if err != nil {
		return nil, err
	}
	if historyDir != "" {
		cfg.HistoryDir = historyDir
		cfg.SaveHistory = true
	}

	cfg.Targets = args
	return cfg, nil
}

// buildJobs parses the target arguments into probe jobs. A target is a
// host or host:port; a bare IPv6 address must be bracketed to carry a port.
func buildJobs(cfg *config.Config) ([]pipeline.Job, error) {
	jobs := make([]pipeline.Job, 0, len(cfg.Targets))
	for _, target := range cfg.Targets {
		host, port, err := splitTarget(target)
		if err != nil {
			return nil, fmt.Errorf("invalid target %q: %w", target, err)
		}
		jobs = append(jobs, pipeline.Job{
			Protocol: cfg.Protocol,
			Target: probe.Target{
				Host:    host,
				Port:    port,
				Timeout: cfg.Timeout,
			},
		})
	}
	return jobs, nil
}

// splitTarget splits host[:port]. Port 0 selects the protocol default.
func splitTarget(target string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(target)
	if err != nil {
		// No port component; treat the whole string as the host.
		return target, 0, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return "", 0, fmt.Errorf("bad port %q", portStr)
	}
	return host, port, nil
}

// runProbes executes the batch and writes the report.
func runProbes(ctx context.Context, cfg *config.Config, registry *probe.Registry, jobs []pipeline.Job, logger *slog.Logger) error {
	var store *history.Store
	if cfg.SaveHistory {
		var err error
		store, err = history.Open(cfg.HistoryDir, history.DefaultOptions())
		if err != nil {
			return fmt.Errorf("failed to open history database: %w", err)
		}
		defer store.Close() //nolint:errcheck
	}

	runner := pipeline.NewBatchRunner(registry,
		pipeline.WithConcurrency(cfg.BatchSize),
		pipeline.WithBatchLogger(logger),
	)

	entries := make([]report.Entry, len(jobs))
	err := runner.RunWithCallback(ctx, jobs, func(o pipeline.Outcome, index int) {
		entry := report.Entry{
			Result:    o.Result,
			ErrorKind: probe.ErrorKind(o.Err),
		}
		if o.Err != nil {
			entry.Err = o.Err.Error()
		}
		entries[index] = entry

		if store != nil {
			if _, err := store.Insert(ctx, o.Result, entry.ErrorKind); err != nil {
				logger.Error("failed to save probe outcome", "host", o.Result.Host, "error", err)
			}
		}
	})
	if err != nil {
		return err
	}

	return outputReport(cfg, entries)
}

// outputReport writes the collected entries in the configured format.
func outputReport(cfg *config.Config, entries []report.Entry) error {
	var output *os.File
	if cfg.ReportFile != "" {
		dir := filepath.Dir(cfg.ReportFile)
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0750); err != nil {
				return fmt.Errorf("failed to create output directory: %w", err)
			}
		}

		// Reports can carry banners and findings from internal hosts, so
		// keep them owner-readable only.
		f, err := os.OpenFile(cfg.ReportFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close() //nolint:errcheck
		output = f
	} else {
		output = os.Stdout
	}

	var writer report.Writer
	if cfg.JSONReport {
		writer = report.NewJSONWriter(output, getVersion(), report.WithPrettyPrint())
	} else {
		writer = report.NewMarkdownWriter(output)
	}
	_, err := writer.Write(entries)
	return err
}
