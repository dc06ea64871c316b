package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"go.uber.org/zap"

	"github.com/juniperhq/juniper/config"
	"github.com/juniperhq/juniper/internal/migration"
)

func runMigrate(args []string) {
	if len(args) < 1 {
		printMigrateUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "up":
		runMigrateUp(args[1:])
	case "down":
		runMigrateDown(args[1:])
	case "version":
		runMigrateVersion(args[1:])
	case "force":
		runMigrateForce(args[1:])
	case "help", "-h", "--help":
		printMigrateUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown migrate subcommand: %s\n", args[0])
		printMigrateUsage()
		os.Exit(1)
	}
}

func printMigrateUsage() {
	fmt.Println(`Usage: juniper migrate <subcommand> [options]

Subcommands:
  up         Apply all pending migrations
  down       Rollback the last migration
  version    Show current migration version
  force <v>  Force set migration version without running migrations

Options:
  --config <path>   Path to configuration file (YAML)`)
}

// createMigrator loads config and opens a migrator against the
// configured database. Remaining (non-flag) arguments are returned.
func createMigrator(name string, args []string) (*migration.Migrator, []string, error) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, _ := zap.NewProduction()
	m, err := migration.NewFromConfig(cfg.Database, logger)
	if err != nil {
		return nil, nil, err
	}
	return m, fs.Args(), nil
}

func runMigrateUp(args []string) {
	m, _, err := createMigrator("migrate up", args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer m.Close()

	if err := m.Up(); err != nil {
		fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Migrations applied")
}

func runMigrateDown(args []string) {
	m, _, err := createMigrator("migrate down", args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer m.Close()

	if err := m.Down(); err != nil {
		fmt.Fprintf(os.Stderr, "Rollback failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Last migration rolled back")
}

func runMigrateVersion(args []string) {
	m, _, err := createMigrator("migrate version", args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer m.Close()

	version, dirty, err := m.Version()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read version: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Version: %d (dirty: %t)\n", version, dirty)
}

func runMigrateForce(args []string) {
	m, rest, err := createMigrator("migrate force", args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer m.Close()

	if len(rest) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: juniper migrate force <version>")
		os.Exit(1)
	}
	version, err := strconv.Atoi(rest[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid version %q: %v\n", rest[0], err)
		os.Exit(1)
	}

	if err := m.Force(version); err != nil {
		fmt.Fprintf(os.Stderr, "Force failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Version forced to %d\n", version)
}
