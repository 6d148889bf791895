package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/probegw/probegw/internal/config"
	"github.com/probegw/probegw/internal/history"
)

// NewHistoryCmd creates the history command.
// This command inspects probe outcomes recorded in the history database.
func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [host]",
		Short: "Show recorded probe outcomes for a host",
		Long: `History displays probe outcomes previously recorded by 'probegw probe
--history' or 'probegw serve --history'.

Records are shown newest first. Security blocks keep their error_kind token,
so refused probes stay distinguishable from network failures.

Examples:
  # Show the last probes against a host
  probegw history monitoring.example.com

  # Show the last 50 probes against a host
  probegw history --limit 50 monitoring.example.com

  # List all hosts with recorded probes
  probegw history --hosts

  # Show outcome totals across the whole database
  probegw history --stats

  # Read from a non-default database directory
  probegw history --db-dir /var/lib/probegw monitoring.example.com`,
		Args: cobra.MaximumNArgs(1),
		RunE: runHistoryCmd,
	}

	cmd.Flags().IntP("limit", "n", 20,
		"Maximum number of records to show")
	cmd.Flags().String("db-dir", "",
		"History database directory (default: XDG data directory)")
	cmd.Flags().Bool("hosts", false,
		"List all hosts with recorded probes")
	cmd.Flags().Bool("stats", false,
		"Show outcome totals across the whole database")

	return cmd
}

// runHistoryCmd executes the history command.
func runHistoryCmd(cmd *cobra.Command, args []string) error {
	listHosts, err := cmd.Flags().GetBool("hosts")
	if err != nil {
		return err
	}
	showStats, err := cmd.Flags().GetBool("stats")
	if err != nil {
		return err
	}
	if !listHosts && !showStats && len(args) == 0 {
		return errors.New("host is required (use --hosts to see recorded hosts)")
	}

	dbDir, err := cmd.Flags().GetString("db-dir")
	if err != nil {
		return err
	}
	if dbDir == "" {
		dbDir = config.XDGDataDir()
	}

	// Read-only inspection must not create an empty database.
	opts := history.DefaultOptions()
	opts.CreateIfNotExists = false

	store, err := history.Open(dbDir, opts)
	if err != nil {
		return fmt.Errorf("failed to open history database: %w", err)
	}
	defer store.Close() //nolint:errcheck

	ctx := context.Background()

	if listHosts {
		return listRecordedHosts(ctx, cmd, store)
	}
	if showStats {
		return showOutcomeStats(ctx, cmd, store)
	}

	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return err
	}
	return listHostHistory(ctx, cmd, store, args[0], limit)
}

// listRecordedHosts lists all hosts with probe records.
func listRecordedHosts(ctx context.Context, cmd *cobra.Command, store *history.Store) error {
	hosts, err := store.Hosts(ctx)
	if err != nil {
		return fmt.Errorf("failed to list hosts: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(hosts) == 0 {
		fmt.Fprintln(out, "No probe records found in the database.")
		fmt.Fprintln(out, "\nUse 'probegw probe --history <dir>' to record probe outcomes.")
		return nil
	}

	fmt.Fprintf(out, "Recorded hosts (%d):\n\n", len(hosts))
	for _, host := range hosts {
		fmt.Fprintf(out, "  • %s\n", host)
	}
	fmt.Fprintln(out, "\nUse 'probegw history <host>' to see probe records for a host.")
	return nil
}

// showOutcomeStats prints outcome totals across the database.
func showOutcomeStats(ctx context.Context, cmd *cobra.Command, store *history.Store) error {
	counts, err := store.CountByOutcome(ctx)
	if err != nil {
		return fmt.Errorf("failed to count outcomes: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(counts) == 0 {
		fmt.Fprintln(out, "No probe records found in the database.")
		return nil
	}

	outcomes := make([]string, 0, len(counts))
	for outcome := range counts {
		outcomes = append(outcomes, outcome)
	}
	sort.Strings(outcomes)

	fmt.Fprintf(out, "Probe outcomes:\n\n")
	for _, outcome := range outcomes {
		label := outcome
		if label == "" {
			label = "ok"
		}
		fmt.Fprintf(out, "  %-22s %d\n", label, counts[outcome])
	}
	return nil
}

// listHostHistory prints the newest probe records for one host.
func listHostHistory(ctx context.Context, cmd *cobra.Command, store *history.Store, host string, limit int) error {
	records, err := store.History(ctx, host, limit)
	if err != nil {
		return fmt.Errorf("failed to read history: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(records) == 0 {
		fmt.Fprintf(out, "No probe records found for %s\n", host)
		return nil
	}

	fmt.Fprintf(out, "Probe history for %s (%d records):\n\n", host, len(records))
	fmt.Fprintf(out, "  %-20s  %-10s  %-6s  %-10s  %s\n",
		"Date", "Protocol", "Port", "Outcome", "Banner")
	fmt.Fprintln(out, "  "+strings.Repeat("-", 70))

	for _, rec := range records {
		outcome := rec.ErrorKind
		if outcome == "" {
			if rec.Detected {
				outcome = "detected"
			} else {
				outcome = "no-service"
			}
		}
		banner := rec.Banner
		if len(banner) > 24 {
			banner = banner[:24] + "…"
		}
		fmt.Fprintf(out, "  %-20s  %-10s  %-6d  %-10s  %s\n",
			rec.Timestamp.Format("2006-01-02 15:04:05"),
			rec.Protocol,
			rec.Port,
			outcome,
			banner,
		)
	}
	return nil
}
