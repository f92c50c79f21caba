package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/benjaminbreen/premodern-concordance/internal/cli"
	"github.com/benjaminbreen/premodern-concordance/internal/concordance"
	"github.com/benjaminbreen/premodern-concordance/internal/db"
	"github.com/benjaminbreen/premodern-concordance/internal/review"
)

func runPublish(args []string) int {
	fs := flag.NewFlagSet("publish", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 5*time.Minute, "Command timeout")
	input := fs.String("input", "concordance.json", "Concordance to publish")
	reviewPath := fs.String("review", "", "Review queue to store (rebuilt from the concordance when empty)")
	source := fs.String("source", "", "Label stored with the run (defaults to --input)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	inputPath, err := requirePath("input", *input)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	label := strings.TrimSpace(*source)
	if label == "" {
		label = inputPath
	}

	cfg, logger, ok := loadRuntime(envLoader)
	if !ok {
		return 1
	}

	file, err := concordance.ReadFile(inputPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read concordance: %v\n", err)
		return 1
	}

	var items []review.Item
	if path := strings.TrimSpace(*reviewPath); path != "" {
		items, err = readReviewQueue(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read review queue: %v\n", err)
			return 1
		}
	} else {
		svc, err := newService(cfg, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to initialize concordance service: %v\n", err)
			return 1
		}
		items = svc.Review(file)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("publish failed to connect to database")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	result, err := pool.PublishConcordance(ctx, file, items, label)
	if err != nil {
		logger.Error().Err(err).Str("input", inputPath).Msg("publish failed")
		fmt.Fprintf(os.Stderr, "Publish failed: %v\n", err)
		return 1
	}

	logger.Info().
		Int64("run_id", result.RunID).
		Str("run_uuid", result.RunUUID).
		Int("clusters", result.Clusters).
		Int("members", result.Members).
		Int("edges", result.Edges).
		Int("review_items", result.ReviewItems).
		Int64("superseded", result.Superseded).
		Msg("publish completed")
	fmt.Printf(
		"publish run_id=%d run_uuid=%s clusters=%d members=%d edges=%d review_items=%d superseded=%d\n",
		result.RunID,
		result.RunUUID,
		result.Clusters,
		result.Members,
		result.Edges,
		result.ReviewItems,
		result.Superseded,
	)
	return 0
}
