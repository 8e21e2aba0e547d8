// Command migrate applies the ClawTrace schema migrations.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/alexgutscher26/ClawTrace-sub001/internal/db"
)

func main() {
	var (
		dbURL  = flag.String("db", os.Getenv("DATABASE_URL"), "PostgreSQL connection URL")
		status = flag.Bool("status", false, "print the current schema version and exit")
		list   = flag.Bool("list", false, "list bundled migrations and exit")
	)
	flag.Parse()

	if *list {
		migrations, err := db.GetMigrations()
		if err != nil {
			fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
			os.Exit(1)
		}
		for _, m := range migrations {
			fmt.Printf("%03d  %s\n", m.Version, m.Name)
		}
		return
	}

	if *dbURL == "" {
		fmt.Fprintln(os.Stderr, "migrate: no database URL (pass -db or set DATABASE_URL)")
		os.Exit(1)
	}

	if err := run(*dbURL, *status); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
}

func run(dbURL string, statusOnly bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	// Migrations need one connection; a second lets the advisory-lock probe
	// run while a statement is in flight.
	cfg := db.DefaultConfig(dbURL)
	cfg.MaxConns = 2
	cfg.MinConns = 1

	database, err := db.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer database.Close()

	if statusOnly {
		version, err := database.CurrentVersion(ctx)
		if err != nil {
			return fmt.Errorf("read schema version: %w", err)
		}
		fmt.Printf("schema version: %d\n", version)
		return nil
	}

	if err := database.Migrate(ctx); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	version, err := database.CurrentVersion(ctx)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	fmt.Printf("migrations applied, schema version: %d\n", version)
	return nil
}
