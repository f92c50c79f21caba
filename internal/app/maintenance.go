package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/benjaminbreen/premodern-concordance/internal/cli"
	"github.com/benjaminbreen/premodern-concordance/internal/concordance"
	"github.com/benjaminbreen/premodern-concordance/internal/merge"
	"github.com/benjaminbreen/premodern-concordance/internal/migrate"
)

func runMerge(args []string) int {
	fs := flag.NewFlagSet("merge", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	input := fs.String("input", "concordance.json", "Concordance to merge")
	out := fs.String("out", "", "Output path (defaults to --input)")
	dryRun := fs.Bool("dry-run", false, "Report merges without writing")
	formatRaw := fs.String("format", outputFormatTable, "Output format: table|json")

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
	format, err := parseOutputFormat(*formatRaw, outputFormatTable)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	outPath := strings.TrimSpace(*out)
	if outPath == "" {
		outPath = inputPath
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

	svc, err := newService(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize concordance service: %v\n", err)
		return 1
	}
	result := svc.Merge(file)

	if !*dryRun {
		if err := concordance.WriteJSON(outPath, result.File); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write concordance: %v\n", err)
			return 1
		}
	}

	if format == outputFormatJSON {
		if err := printJSON(map[string]any{
			"merges":   result.Merges,
			"deferred": result.Deferred,
		}); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON output: %v\n", err)
			return 1
		}
	} else if len(result.Merges) > 0 {
		if err := writeMergeTable(result.Merges); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render table output: %v\n", err)
			return 1
		}
	}

	fmt.Fprintf(
		os.Stderr,
		"merge before=%d after=%d merges=%d deferred=%d dry_run=%t\n",
		len(file.Clusters),
		len(result.File.Clusters),
		len(result.Merges),
		len(result.Deferred),
		*dryRun,
	)
	return 0
}

func writeMergeTable(records []merge.Record) error {
	rows := make([][]string, 0, len(records))
	for _, record := range records {
		rows = append(rows, []string{
			string(record.Category),
			truncateForTable(record.KeeperName, 32),
			truncateForTable(record.AbsorbedName, 32),
			formatScore(record.Similarity),
			record.Reason,
		})
	}
	return writeTable([]string{"CATEGORY", "KEEPER", "ABSORBED", "SIMILARITY", "REASON"}, rows)
}

func runMigrate(args []string) int {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	oldPath := fs.String("old", "", "Previous concordance carrying ground truth and stable keys")
	newPath := fs.String("new", "concordance.json", "Rebuilt concordance to migrate onto")
	out := fs.String("out", "", "Output path (defaults to --new)")
	dryRun := fs.Bool("dry-run", false, "Report mappings without writing")
	formatRaw := fs.String("format", outputFormatTable, "Output format: table|json")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	previousPath, err := requirePath("old", *oldPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	rebuiltPath, err := requirePath("new", *newPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	format, err := parseOutputFormat(*formatRaw, outputFormatTable)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	outPath := strings.TrimSpace(*out)
	if outPath == "" {
		outPath = rebuiltPath
	}

	cfg, logger, ok := loadRuntime(envLoader)
	if !ok {
		return 1
	}

	previous, err := concordance.ReadFile(previousPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read previous concordance: %v\n", err)
		return 1
	}
	rebuilt, err := concordance.ReadFile(rebuiltPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read rebuilt concordance: %v\n", err)
		return 1
	}

	svc, err := newService(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize concordance service: %v\n", err)
		return 1
	}
	migrated, result := svc.Migrate(previous, rebuilt, previousPath)

	if !*dryRun {
		if err := concordance.WriteJSON(outPath, migrated); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write concordance: %v\n", err)
			return 1
		}
	}

	if format == outputFormatJSON {
		if err := printJSON(result.Mappings); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON output: %v\n", err)
			return 1
		}
	} else if len(result.Mappings) > 0 {
		if err := writeMappingTable(result.Mappings); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render table output: %v\n", err)
			return 1
		}
	}

	fmt.Fprintf(
		os.Stderr,
		"migrate matched=%d external_id=%d member_overlap=%d alias_match=%d ground_truth=%d keys=%d unmatched=%d dry_run=%t\n",
		len(result.Mappings),
		result.ByStrategy[migrate.StrategyExternalID],
		result.ByStrategy[migrate.StrategyMemberOverlap],
		result.ByStrategy[migrate.StrategyAliasMatch],
		result.GroundTruthTransferred,
		result.KeysInherited,
		result.Unmatched,
		*dryRun,
	)
	return 0
}

func writeMappingTable(mappings []migrate.Mapping) error {
	rows := make([][]string, 0, len(mappings))
	for _, mapping := range mappings {
		rows = append(rows, []string{
			strconv.Itoa(mapping.NewIndex),
			strconv.Itoa(mapping.OldIndex),
			string(mapping.Strategy),
			formatScore(mapping.Score),
			truncateForTable(mapping.NewName, 28),
			truncateForTable(mapping.OldName, 28),
			mapping.NewStableKey,
		})
	}
	return writeTable([]string{"NEW", "OLD", "STRATEGY", "SCORE", "NEW NAME", "OLD NAME", "KEY"}, rows)
}

func runKeys(args []string) int {
	fs := flag.NewFlagSet("keys", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	input := fs.String("input", "concordance.json", "Concordance to key")
	out := fs.String("out", "", "Output path (defaults to --input)")
	recompute := fs.Bool("recompute", false, "Recompute every key instead of only filling missing ones")

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
	outPath := strings.TrimSpace(*out)
	if outPath == "" {
		outPath = inputPath
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

	svc, err := newService(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize concordance service: %v\n", err)
		return 1
	}
	keyed, changed := svc.Keys(file, *recompute)

	if err := concordance.WriteJSON(outPath, keyed); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write concordance: %v\n", err)
		return 1
	}

	logger.Info().
		Int("clusters", len(keyed.Clusters)).
		Int("changed", changed).
		Bool("recompute", *recompute).
		Msg("keys completed")
	fmt.Printf("keys clusters=%d changed=%d recompute=%t out=%s\n", len(keyed.Clusters), changed, *recompute, outPath)
	return 0
}
