package main

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// Version information set at build time via ldflags. When empty the binary
// falls back to the metadata the Go toolchain embeds.
var (
	version = ""
	commit  = ""
	date    = ""
)

// buildMetadata resolves version, commit, and build date in one pass over
// debug.ReadBuildInfo, preferring ldflags values when they were set.
func buildMetadata() (string, string, string) {
	v, c, d := version, commit, date

	if buildInfo, ok := debug.ReadBuildInfo(); ok {
		if v == "" {
			v = buildInfo.Main.Version
		}
		for _, setting := range buildInfo.Settings {
			switch setting.Key {
			case "vcs.revision":
				if c == "" {
					c = setting.Value
					if len(c) > 7 {
						c = c[:7]
					}
				}
			case "vcs.time":
				if d == "" {
					d = setting.Value
				}
			}
		}
	}
	return orElse(v, "(devel)"), orElse(c, "unknown"), orElse(d, "unknown")
}

func orElse(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// getVersion returns the version string shown in --version and reports.
func getVersion() string {
	v, _, _ := buildMetadata()
	return v
}

// NewVersionCmd creates the version command.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long:  `Print the version, commit hash, and build date of probegw.`,
		Run: func(cmd *cobra.Command, _ []string) {
			v, c, d := buildMetadata()
			fmt.Fprintf(cmd.OutOrStdout(), "probegw %s (commit %s, built %s)\n", v, c, d)
		},
	}
}
