package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/benjaminbreen/premodern-concordance/internal/cli"
	"github.com/benjaminbreen/premodern-concordance/internal/db"
)

func runHealth(args []string) int {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 5*time.Second, "Database ping timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	cfg, logger, ok := loadRuntime(envLoader)
	if !ok {
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("health check failed")
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		return 1
	}
	defer pool.Close()

	run, err := pool.CurrentRun(ctx)
	switch {
	case errors.Is(err, db.ErrNoCurrentRun):
		fmt.Println("ok: database ping successful, nothing published yet")
	case err != nil:
		logger.Error().Err(err).Msg("health check failed to read current run")
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		return 1
	default:
		fmt.Printf("ok: database ping successful, current run %s with %d clusters\n", run.RunUUID, run.ClusterCount)
	}

	logger.Info().
		Dur("timeout", *timeout).
		Msg("database health check passed")
	return 0
}
