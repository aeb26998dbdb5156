package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/grantline/grantline/pkg/config"
	"github.com/grantline/grantline/pkg/stores"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
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

			if err := store.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}

			fmt.Println("migrations applied")
			return nil
		},
	}
}
