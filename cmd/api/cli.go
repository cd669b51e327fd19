package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/jwalitptl/mailing-api/config"
	"github.com/jwalitptl/mailing-api/internal/repository/postgres"
	"github.com/jwalitptl/mailing-api/migrations"
)

const (
	exitOK      = 0
	exitUsage   = 2
	exitConfig  = 3
	exitMigrate = 4
)

var (
	migrateRunner = realMigrateRunner
	osExit        = os.Exit
)

func handleCLICommand(args []string) bool {
	if len(args) == 0 {
		return false
	}
	switch args[0] {
	case "migrate":
		osExit(runMigrate(args[1:]))
		return true
	case "help", "-h", "--help":
		printHelp()
		osExit(exitOK)
		return true
	default:
		return false
	}
}

func runMigrate(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "missing migrate subcommand (up|down|status)")
		return exitUsage
	}
	subcmd := args[0]
	switch subcmd {
	case "up", "down", "status":
	default:
		fmt.Fprintf(os.Stderr, "unknown migrate subcommand: %s\n", subcmd)
		return exitUsage
	}

	_ = godotenv.Load()
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return exitConfig
	}

	if err := migrateRunner(subcmd, cfg.Database); err != nil {
		fmt.Fprintf(os.Stderr, "migrate %s failed: %v\n", subcmd, err)
		return exitMigrate
	}
	return exitOK
}

func realMigrateRunner(subcmd string, dbCfg config.DatabaseConfig) error {
	if dbCfg.Driver != "postgres" {
		return fmt.Errorf("database.driver is %q, migrations need postgres", dbCfg.Driver)
	}
	db, err := postgres.NewDB(context.Background(), dbCfg)
	if err != nil {
		return err
	}
	defer db.Close()
	return migrations.Run(db.DB, subcmd)
}

func printHelp() {
	fmt.Println("Mailing API")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  mailing-api                 Start API server")
	fmt.Println("  mailing-api migrate up      Apply all pending migrations")
	fmt.Println("  mailing-api migrate down    Roll back one migration")
	fmt.Println("  mailing-api migrate status  Show migration status")
}
