package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/plaudern/plaudern/internal/config"
	"github.com/plaudern/plaudern/internal/db"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Remote store management commands",
	}

	cmd.AddCommand(newDBMigrateCmd())
	return cmd
}

func newDBMigrateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the SQL room tables",
		Long:  "Creates the room message table and its indexes on the configured SQLite or MySQL store.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBMigrate(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to plaudern config file")
	return cmd
}

func runDBMigrate(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, _, err := loadConfig(cmd, configPath)
	if err != nil {
		return err
	}
	if cfg.Remote.Driver == config.DriverRedis {
		return fmt.Errorf("db migrate: the redis store has no schema")
	}

	gormDB, err := openSQL(cfg)
	if err != nil {
		return err
	}
	defer db.Close(gormDB)

	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	fmt.Fprintf(out, "Migrated %d tables on the %s store\n", len(db.AllModels()), cfg.Remote.Driver)
	return nil
}
