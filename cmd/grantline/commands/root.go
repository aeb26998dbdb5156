package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "grantline",
		Short: "Grantline - IAM deployment orchestrator",
		Long: `Grantline pushes IAM role and SSO permission-set definitions to the
accounts of an AWS organization, one deployment at a time.

Features:
  - Serialized deployment queue with full audit trail per deployment
  - Cross-account credential brokering via STS assume-role
  - Throttle-aware retries with exponential backoff
  - SNS status notifications
  - Organization-wide assumability sweeps`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")

	// Add subcommands
	rootCmd.AddCommand(newServeCommand(version))
	rootCmd.AddCommand(newMigrateCommand())
	rootCmd.AddCommand(newSweepCommand())

	return rootCmd
}
