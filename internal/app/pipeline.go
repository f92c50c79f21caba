package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/benjaminbreen/premodern-concordance/internal/cli"
	"github.com/benjaminbreen/premodern-concordance/internal/concordance"
	"github.com/benjaminbreen/premodern-concordance/internal/embedding"
)

func runEmbed(args []string) int {
	fs := flag.NewFlagSet("embed", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Minute, "Command timeout")
	dir := fs.String("dir", "data", "Directory containing *_entities.json files")
	out := fs.String("out", "", "Directory for *_embeddings.json files (defaults to --dir)")
	workers := fs.Int("workers", 2, "Documents embedded concurrently")
	endpoint := fs.String("endpoint", "", "Embedding HTTP endpoint (defaults to CONCORDANCE_EMBEDDING_ENDPOINT)")
	model := fs.String("model", "", "Embedding model name (defaults to CONCORDANCE_EMBEDDING_MODEL)")
	maxLength := fs.Int("max-length", embedding.DefaultMaxLength, "Embedding max token length per text")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *workers <= 0 {
		fmt.Fprintln(os.Stderr, "--workers must be > 0")
		return 2
	}
	if *maxLength <= 0 {
		fmt.Fprintln(os.Stderr, "--max-length must be > 0")
		return 2
	}
	outDir := strings.TrimSpace(*out)
	if outDir == "" {
		outDir = strings.TrimSpace(*dir)
	}

	cfg, logger, ok := loadRuntime(envLoader)
	if !ok {
		return 1
	}

	documents, _, err := concordance.LoadDocuments(strings.TrimSpace(*dir), 0)
	if err != nil {
		logger.Error().Err(err).Str("dir", *dir).Msg("embed failed to load documents")
		fmt.Fprintf(os.Stderr, "Failed to load documents: %v\n", err)
		return 1
	}

	opts := embedding.Options{
		Endpoint:       cfg.EmbeddingEndpoint,
		Model:          cfg.EmbeddingModel,
		BatchSize:      cfg.EmbeddingBatchSize,
		MaxLength:      *maxLength,
		RequestTimeout: cfg.EmbeddingRequestTimeout,
	}
	if value := strings.TrimSpace(*endpoint); value != "" {
		opts.Endpoint = value
	}
	if value := strings.TrimSpace(*model); value != "" {
		opts.Model = value
	}
	client := embedding.NewClient(opts, logger)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	files, err := client.EmbedDocuments(ctx, documents, *workers)
	if err != nil {
		logger.Error().Err(err).Msg("embed failed")
		fmt.Fprintf(os.Stderr, "Embed failed: %v\n", err)
		return 1
	}

	vectors := 0
	for _, file := range files {
		path := concordance.EmbeddingPath(outDir, file.DocumentID)
		if err := concordance.WriteJSON(path, file); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write embeddings: %v\n", err)
			return 1
		}
		vectors += len(file.Vectors)
	}

	logger.Info().
		Int("documents", len(files)).
		Int("vectors", vectors).
		Str("model", client.Options().Model).
		Msg("embed completed")
	fmt.Printf(
		"embed documents=%d vectors=%d model=%s out=%s\n",
		len(files),
		vectors,
		client.Options().Model,
		outDir,
	)
	return 0
}

func runBuild(args []string) int {
	fs := flag.NewFlagSet("build", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Minute, "Command timeout")
	dir := fs.String("dir", "data", "Directory containing *_entities.json files")
	embeddingsDir := fs.String("embeddings-dir", "", "Directory containing *_embeddings.json files (defaults to --dir)")
	out := fs.String("out", "concordance.json", "Concordance output path")
	reviewOut := fs.String("review-out", "review_queue.json", "Review queue output path (empty to skip)")
	minCount := fs.Int("min-count", concordance.DefaultMinCount, "Drop entities mentioned fewer times than this")
	workers := fs.Int("workers", 0, "Document pairs matched concurrently (defaults to CONCORDANCE_WORKERS or GOMAXPROCS)")
	skipMerge := fs.Bool("skip-merge", false, "Skip the near-duplicate merge pass")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *minCount < 0 {
		fmt.Fprintln(os.Stderr, "--min-count must be >= 0")
		return 2
	}
	if *workers < 0 {
		fmt.Fprintln(os.Stderr, "--workers must be >= 0")
		return 2
	}
	outPath, err := requirePath("out", *out)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	vectorsDir := strings.TrimSpace(*embeddingsDir)
	if vectorsDir == "" {
		vectorsDir = strings.TrimSpace(*dir)
	}

	cfg, logger, ok := loadRuntime(envLoader)
	if !ok {
		return 1
	}
	if *workers == 0 {
		*workers = cfg.Workers
	}

	documents, infos, err := concordance.LoadDocuments(strings.TrimSpace(*dir), *minCount)
	if err != nil {
		logger.Error().Err(err).Str("dir", *dir).Msg("build failed to load documents")
		fmt.Fprintf(os.Stderr, "Failed to load documents: %v\n", err)
		return 1
	}
	files, err := concordance.LoadEmbeddings(vectorsDir)
	if err != nil {
		logger.Error().Err(err).Str("dir", vectorsDir).Msg("build failed to load embeddings")
		fmt.Fprintf(os.Stderr, "Failed to load embeddings: %v\n", err)
		return 1
	}

	mentions := 0
	for _, document := range documents {
		mentions += len(document.Mentions)
	}
	attached := embedding.Attach(documents, files)
	if attached < mentions {
		logger.Warn().
			Int("mentions", mentions).
			Int("with_embedding", attached).
			Msg("some mentions have no embedding and cannot match")
	}

	model := ""
	if len(files) > 0 {
		model = files[0].Model
	}

	svc, err := newService(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize concordance service: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	result, err := svc.Build(ctx, documents, infos, concordance.BuildOptions{
		MinCount:       *minCount,
		Workers:        *workers,
		SkipMerge:      *skipMerge,
		EmbeddingModel: model,
	})
	if err != nil {
		logger.Error().Err(err).Msg("build failed")
		fmt.Fprintf(os.Stderr, "Build failed: %v\n", err)
		return 1
	}

	if err := concordance.WriteJSON(outPath, result.File); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write concordance: %v\n", err)
		return 1
	}
	if path := strings.TrimSpace(*reviewOut); path != "" {
		if err := concordance.WriteJSON(path, result.Review); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write review queue: %v\n", err)
			return 1
		}
	}

	fmt.Printf(
		"build documents=%d mentions=%d edges=%d components=%d clusters=%d dropped_members=%d merges=%d deferred=%d review_items=%d out=%s\n",
		len(documents),
		mentions,
		result.Edges,
		result.Extract.Components,
		len(result.File.Clusters),
		result.Extract.DroppedMembers,
		len(result.Merges),
		len(result.Deferred),
		len(result.Review),
		filepath.Clean(outPath),
	)
	return 0
}
