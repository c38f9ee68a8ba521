package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	modulesDir string
	configPath string
	verbose    bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "hostprobe",
		Short: "Hostprobe - Host Diagnostic Orchestration Engine",
		Long: `Hostprobe runs metadata-described diagnostic modules against the local
host and reports a structured verdict per module.

Features:
  - Constraint-based module applicability (distro, sudo, software, arguments)
  - Prediagnostic gating and postdiagnostic cleanup stages
  - Exclusive-aware parallel scheduling on a bounded worker pool
  - Host fact collection (distro, net driver, virtualization, instance metadata)
  - SQLite-backed run history
  - Prometheus metrics and OpenTelemetry tracing`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&modulesDir, "modules-dir", "m", ".", "directory holding pre.d, mod.d, and post.d")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "options file path (YAML)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	// Add subcommands
	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newListCommand())
	rootCmd.AddCommand(newFactsCommand())
	rootCmd.AddCommand(newHistoryCommand())

	return rootCmd
}
