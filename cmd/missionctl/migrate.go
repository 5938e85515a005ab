package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/Strob0t/MissionControl/internal/adapter/postgres"
	"github.com/Strob0t/MissionControl/internal/config"
)

// runMigrate dispatches migration subcommands (up, down).
func runMigrate(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printMigrateHelp()
		return nil
	}

	switch args[0] {
	case "up":
		return runMigrateUp(args[1:])
	case "down":
		return runMigrateDown(args[1:])
	default:
		printMigrateHelp()
		return fmt.Errorf("unknown migrate command: %s", args[0])
	}
}

func printMigrateHelp() {
	fmt.Fprintf(os.Stderr, `Usage: missionctl migrate <command> [options]

Commands:
  up      Apply all pending migrations
  down    Roll back migrations
  help    Show this help message

Examples:
  missionctl migrate up
  missionctl migrate down --steps 1
`)
}

func migrateDSN() (string, error) {
	cfg, err := config.Load()
	if err != nil {
		return "", fmt.Errorf("load config: %w", err)
	}
	if cfg.Postgres.DSN == "" {
		return "", fmt.Errorf("postgres.dsn is not configured")
	}
	return cfg.Postgres.DSN, nil
}

func runMigrateUp(args []string) error {
	fs := flag.NewFlagSet("up", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	dsn, err := migrateDSN()
	if err != nil {
		return err
	}

	if err := postgres.RunMigrations(context.Background(), dsn); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	fmt.Println("migrations applied")
	return nil
}

func runMigrateDown(args []string) error {
	fs := flag.NewFlagSet("down", flag.ContinueOnError)
	steps := fs.Int("steps", 1, "number of migrations to roll back")
	if err := fs.Parse(args); err != nil {
		return err
	}

	dsn, err := migrateDSN()
	if err != nil {
		return err
	}

	if err := postgres.RollbackMigrations(context.Background(), dsn, *steps); err != nil {
		return fmt.Errorf("roll back migrations: %w", err)
	}
	fmt.Printf("rolled back %d migration(s)\n", *steps)
	return nil
}
