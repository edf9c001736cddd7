package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mihaimyh/billingsync/internal/config"
	"github.com/mihaimyh/billingsync/storage/postgres"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	cmd.AddCommand(
		newMigrateStepCmd(postgres.Up, "Apply all pending migrations"),
		newMigrateStepCmd(postgres.Down, "Roll back the most recent migration"),
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				dsn, err := databaseURL()
				if err != nil {
					return err
				}
				version, dirty, err := postgres.SchemaVersion(dsn)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty=%t)\n", version, dirty)
				return nil
			},
		},
	)
	return cmd
}

func newMigrateStepCmd(direction postgres.Direction, short string) *cobra.Command {
	return &cobra.Command{
		Use:   string(direction),
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dsn, err := databaseURL()
			if err != nil {
				return err
			}
			if err := postgres.Migrate(dsn, direction); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrate %s: done\n", direction)
			return nil
		},
	}
}

func databaseURL() (string, error) {
	if envFile != "" {
		return config.DatabaseURL(envFile)
	}
	return config.DatabaseURL()
}

func loadConfig() (*config.Config, error) {
	if envFile != "" {
		return config.Load(envFile)
	}
	return config.Load()
}
