package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/adapter/postgres"
	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/config"
)

// runAdmin dispatches admin subcommands (migrate, rollback, version, stages).
func runAdmin(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAdminHelp()
		return nil
	}

	switch args[0] {
	case "migrate":
		return runAdminMigrate(args[1:])
	case "rollback":
		return runAdminRollback(args[1:])
	case "version":
		return runAdminVersion(args[1:])
	case "stages":
		return runAdminStages(args[1:])
	default:
		printAdminHelp()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func printAdminHelp() {
	fmt.Fprintf(os.Stderr, `Usage: eligibility admin <command> [options]

Commands:
  migrate    Apply pending durable-store migrations
  rollback   Roll back the last migration(s)
  version    Print the current migration version
  stages     Count durable applications by stage
  help       Show this help message

Examples:
  eligibility admin migrate --dsn postgres://localhost/eligibility
  eligibility admin rollback --steps 2
  eligibility admin version
`)
}

// adminConfig parses the shared --config/--dsn flags and loads configuration.
func adminConfig(name string, args []string, extra func(fs *flag.FlagSet)) (*config.Config, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	path := fs.String("config", "", "path to YAML config")
	dsn := fs.String("dsn", "", "PostgreSQL DSN (overrides config)")
	if extra != nil {
		extra(fs)
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	var flags config.CLIFlags
	if *path != "" {
		flags.ConfigPath = path
	}
	if *dsn != "" {
		flags.DSN = dsn
	}
	cfg, _, err := config.LoadWithCLI(flags)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func adminContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 2*time.Minute)
}

func runAdminMigrate(args []string) error {
	cfg, err := adminConfig("migrate", args, nil)
	if err != nil {
		return err
	}
	ctx, cancel := adminContext()
	defer cancel()

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	v, err := postgres.MigrationVersion(ctx, cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("read version: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Migrations applied, version %d\n", v)
	return nil
}

func runAdminRollback(args []string) error {
	var steps int
	cfg, err := adminConfig("rollback", args, func(fs *flag.FlagSet) {
		fs.IntVar(&steps, "steps", 1, "number of migrations to roll back")
	})
	if err != nil {
		return err
	}
	if steps < 1 {
		return fmt.Errorf("--steps must be at least 1")
	}
	ctx, cancel := adminContext()
	defer cancel()

	if err := postgres.RollbackMigrations(ctx, cfg.Postgres.DSN, steps); err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Rolled back %d migration(s)\n", steps)
	return nil
}

func runAdminVersion(args []string) error {
	cfg, err := adminConfig("version", args, nil)
	if err != nil {
		return err
	}
	ctx, cancel := adminContext()
	defer cancel()

	v, err := postgres.MigrationVersion(ctx, cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("read version: %w", err)
	}
	fmt.Printf("binary %s, schema %d\n", version, v)
	return nil
}

func runAdminStages(args []string) error {
	cfg, err := adminConfig("stages", args, nil)
	if err != nil {
		return err
	}
	ctx, cancel := adminContext()
	defer cancel()

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	counts, err := postgres.NewDurableStore(pool).CountByStage(ctx)
	if err != nil {
		return fmt.Errorf("count stages: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STAGE\tAPPLICATIONS")
	for stage, n := range counts {
		fmt.Fprintf(w, "%s\t%d\n", stage, n)
	}
	return w.Flush()
}
