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
	"github.com/benjaminbreen/premodern-concordance/internal/review"
	"github.com/benjaminbreen/premodern-concordance/internal/schema"
)

func runReview(args []string) int {
	fs := flag.NewFlagSet("review", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	input := fs.String("input", "concordance.json", "Concordance to review")
	out := fs.String("out", "review_queue.json", "Review queue output path")
	apply := fs.String("apply", "", "Reviewer verdicts to apply instead of building a queue")
	concordanceOut := fs.String("concordance-out", "", "Where to write the cleaned concordance (defaults to --input)")
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

	if verdictsPath := strings.TrimSpace(*apply); verdictsPath != "" {
		raw, err := os.ReadFile(verdictsPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read verdicts: %v\n", err)
			return 1
		}
		verdicts, err := schema.ValidateVerdicts(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid verdicts %s: %v\n", verdictsPath, err)
			return 1
		}

		cleaned, result := svc.ApplyVerdicts(file, verdicts)
		outPath := strings.TrimSpace(*concordanceOut)
		if outPath == "" {
			outPath = inputPath
		}
		if err := concordance.WriteJSON(outPath, cleaned); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write concordance: %v\n", err)
			return 1
		}

		fmt.Printf(
			"review applied verdicts=%d cleaned=%d dissolved=%d unknown=%d clusters=%d out=%s\n",
			len(verdicts),
			result.Cleaned,
			result.Dissolved,
			result.Unknown,
			len(cleaned.Clusters),
			outPath,
		)
		return 0
	}

	items := svc.Review(file)
	if path := strings.TrimSpace(*out); path != "" {
		if err := concordance.WriteJSON(path, items); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write review queue: %v\n", err)
			return 1
		}
	}

	if format == outputFormatJSON {
		if err := printJSON(items); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON output: %v\n", err)
			return 1
		}
	} else if len(items) > 0 {
		if err := writeReviewTable(items); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render table output: %v\n", err)
			return 1
		}
	}

	logger.Info().Int("items", len(items)).Msg("review queue built")
	fmt.Fprintf(os.Stderr, "review items=%d clusters=%d out=%s\n", len(items), len(file.Clusters), strings.TrimSpace(*out))
	return 0
}

func writeReviewTable(items []review.Item) error {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		id := ""
		if item.NumericID > 0 {
			id = strconv.Itoa(item.NumericID)
		}
		rows = append(rows, []string{
			item.Kind,
			id,
			truncateForTable(item.CanonicalName, 32),
			string(item.Category),
			truncateForTable(strings.Join(item.Reasons, "; "), 72),
		})
	}
	return writeTable([]string{"KIND", "ID", "NAME", "CATEGORY", "REASONS"}, rows)
}
