// server/migrate.go
package main

import (
	"github.com/spf13/cobra"

	"github.com/vinizap/haku/server/store"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the database schema",
	}
	for _, dir := range []store.Direction{store.Up, store.Down} {
		cmd.AddCommand(&cobra.Command{
			Use:   string(dir),
			Short: "Run all " + string(dir) + " migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				if cfg.DatabaseURL == "" {
					return errNoDatabase
				}
				if err := store.Migrate(cfg.DatabaseURL, dir); err != nil {
					return err
				}
				logger.Info().Str("direction", string(dir)).Msg("migrations applied")
				return nil
			},
		})
	}
	return cmd
}
