// Package main provides the entry point for the probegw CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for probegw.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probegw",
		Short: "Secure outbound probing gateway for binary network protocols",
		Long: `probegw probes remote hosts over binary network protocols (SNMP, RADIUS,
RIPv2, portmapper, Zabbix, STUN, Bitcoin, and the classic inetd family).

Every destination passes SSRF validation before a socket is opened: private,
loopback, link-local, and cloud metadata ranges are refused outright, and
hosts that resolve into anycast CDN edges are refused after DNS resolution.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags that apply to all commands
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")

	// Add subcommands
	cmd.AddCommand(NewProbeCmd())
	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewHistoryCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
