package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"timeplanner/internal/repository"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := repository.Migrate(a.db); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "database %s migrated\n", a.cfg.DatabaseDriver)
		return nil
	},
}
