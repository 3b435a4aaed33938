package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/nightstudio/paywall/internal/app/storage/sqlstore"
	"github.com/nightstudio/paywall/internal/config"
)

var migrateCmd = &cobra.Command{
	Use:       "migrate [up|down] [steps]",
	Short:     "Apply or roll back SQL schema migrations",
	Long:      `Applies pending migrations ("up", the default) or rolls back the given number of steps ("down", default 1). Only the postgres and sqlite drivers keep a local schema.`,
	Args:      cobra.MaximumNArgs(2),
	ValidArgs: []string{"up", "down"},
	RunE:      runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Storage.Driver != config.DriverPostgres && cfg.Storage.Driver != config.DriverSQLite {
		return fmt.Errorf("storage driver %q has no migrations", cfg.Storage.Driver)
	}

	direction := "up"
	if len(args) > 0 {
		direction = args[0]
	}
	steps := 1
	if len(args) > 1 {
		if steps, err = strconv.Atoi(args[1]); err != nil || steps <= 0 {
			return fmt.Errorf("steps must be a positive integer")
		}
	}

	store, err := sqlstore.Open(cfg.Storage.Driver, cfg.Storage.DSN, log.Named("sqlstore"))
	if err != nil {
		return err
	}
	defer store.Close()

	switch direction {
	case "up":
		err = store.Migrate()
	case "down":
		err = store.MigrateDown(steps)
	default:
		return fmt.Errorf("unknown direction %q", direction)
	}
	if err != nil {
		return err
	}
	log.Infof("migrate %s complete", direction)
	return nil
}
