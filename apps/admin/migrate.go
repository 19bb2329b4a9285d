package main

import (
	"github.com/spf13/cobra"

	"github.com/trezcool/masomo-pkl/storage/database"
)

func (cli *commandLine) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate COMMAND [ARGS]",
		Short: "Run a database migration command (up, up-to, down, down-to, redo, reset, status, version)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return database.RunMigrations(cli.db, args[0], args[1:]...)
		},
	}
}
