package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/grantline/grantline/pkg/cloud"
	"github.com/grantline/grantline/pkg/config"
	"github.com/grantline/grantline/pkg/orchestrator"
	"github.com/grantline/grantline/pkg/stores"
	"github.com/grantline/grantline/pkg/sweep"
	"github.com/grantline/grantline/pkg/telemetry"
)

func newSweepCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Probe every active organization account for cross-account role assumability",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			logger, err := telemetry.NewLogger(cfg.Telemetry.Logging)
			if err != nil {
				return err
			}

			store, err := stores.NewSQLiteStore(stores.Config{Path: cfg.Database.Path})
			if err != nil {
				return err
			}
			if err := store.Init(cmd.Context()); err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer store.Close()

			settings, err := store.GetAwsSettings(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to load aws settings: %w", err)
			}

			retry := orchestrator.NewExecutor(cfg.Queue.RetryPolicy())
			broker := cloud.NewBroker(retry)

			results, err := sweep.NewSweeper(broker, logger).Run(cmd.Context(), settings)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(results); err != nil {
				return err
			}

			for _, r := range results {
				if !r.Assumable {
					return fmt.Errorf("%d account(s) probed, at least one not assumable", len(results))
				}
			}
			return nil
		},
	}
}
