// Package main manages the research job store schema.
//
// Usage:
//
//	migrate [-path DIR] [-drop-schema] up | down [N] | version | force V
//
// Configuration is read the same way as the server (config file plus
// RESEARCH_* environment variables). Rolling back past the base schema
// drops every stored job and needs -drop-schema.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/research-pipeline-service/internal/bootstrap"
	"github.com/helixir/research-pipeline-service/internal/config"
	"github.com/helixir/research-pipeline-service/internal/database"
)

const connectTimeout = 30 * time.Second

type command struct {
	action     string
	n          int
	path       string
	dropSchema bool
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func parseArgs(args []string, stderr io.Writer) (command, error) {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var cmd command
	fs.StringVar(&cmd.path, "path", "", "override the migrations directory")
	fs.BoolVar(&cmd.dropSchema, "drop-schema", false, "allow rolling back past the base research_jobs schema")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: migrate [-path DIR] [-drop-schema] up | down [N] | version | force V")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return command{}, err
	}

	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return command{}, fmt.Errorf("no command given")
	}
	cmd.action = rest[0]

	switch cmd.action {
	case "up", "version":
		if len(rest) != 1 {
			return command{}, fmt.Errorf("%s takes no arguments", cmd.action)
		}
	case "down":
		if len(rest) > 2 {
			return command{}, fmt.Errorf("down takes at most one argument")
		}
		if len(rest) == 2 {
			n, err := strconv.Atoi(rest[1])
			if err != nil || n <= 0 {
				return command{}, fmt.Errorf("down: step count must be a positive integer, got %q", rest[1])
			}
			cmd.n = n
		}
	case "force":
		if len(rest) != 2 {
			return command{}, fmt.Errorf("force needs a version")
		}
		n, err := strconv.Atoi(rest[1])
		if err != nil || n < 0 {
			return command{}, fmt.Errorf("force: version must be a non-negative integer, got %q", rest[1])
		}
		cmd.n = n
	default:
		return command{}, fmt.Errorf("unknown command %q", cmd.action)
	}
	return cmd, nil
}

func run(args []string) error {
	cmd, err := parseArgs(args, os.Stderr)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := bootstrap.Logger(cfg.Logging, "migrate")

	dir := cfg.Database.MigrationPath
	if cmd.path != "" {
		dir = cmd.path
	}

	connectCtx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	db, err := database.New(connectCtx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	migrator, err := database.NewMigrator(db, dir, logger)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() {
		if err := migrator.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close migrator")
		}
	}()

	switch cmd.action {
	case "up":
		if err := migrator.Up(); err != nil {
			return err
		}
	case "down":
		current, _, err := migrator.Version()
		if err != nil {
			return fmt.Errorf("read version: %w", err)
		}
		if err := database.CheckRollback(current, cmd.n, cmd.dropSchema); err != nil {
			return fmt.Errorf("%w; pass -drop-schema to confirm", err)
		}
		if cmd.n == 0 {
			err = migrator.Down()
		} else {
			err = migrator.Steps(-cmd.n)
		}
		if err != nil {
			return err
		}
	case "force":
		if err := migrator.Force(cmd.n); err != nil {
			return fmt.Errorf("force version %d: %w", cmd.n, err)
		}
	}

	reportCtx, cancelReport := context.WithTimeout(context.Background(), connectTimeout)
	defer cancelReport()
	return report(reportCtx, db, migrator, logger)
}

// report logs the schema version and the state of the service tables.
func report(ctx context.Context, db *database.DB, migrator *database.Migrator, logger zerolog.Logger) error {
	v, dirty, err := migrator.Version()
	if err != nil {
		return fmt.Errorf("read version: %w", err)
	}
	logger.Info().Uint("version", v).Bool("dirty", dirty).Msg("schema version")
	if dirty {
		logger.Warn().Msg("last migration did not complete; fix the schema and run force with the last good version")
	}

	tables, err := database.InspectSchema(ctx, db)
	if err != nil {
		return err
	}
	for _, t := range tables {
		logger.Info().Str("table", t.Name).Bool("exists", t.Exists).Int64("rows", t.Rows).Msg("table status")
	}
	return nil
}
