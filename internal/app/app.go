package app

import (
	"fmt"
	"os"
	"strings"
)

// Run executes the CLI command and returns a process exit code.
func Run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 2
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "--help", "-h":
		printUsage()
		return 0
	case "validate":
		return runValidate(args[1:])
	case "embed":
		return runEmbed(args[1:])
	case "build":
		return runBuild(args[1:])
	case "merge":
		return runMerge(args[1:])
	case "migrate":
		return runMigrate(args[1:])
	case "keys":
		return runKeys(args[1:])
	case "review":
		return runReview(args[1:])
	case "publish":
		return runPublish(args[1:])
	case "serve":
		return runServe(args[1:])
	case "health":
		return runHealth(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "concordance CLI")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  concordance <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  validate  Validate entity and embedding JSON files")
	fmt.Fprintln(os.Stderr, "  embed     Generate embedding files for entity documents")
	fmt.Fprintln(os.Stderr, "  build     Match, cluster, merge and key documents into a concordance")
	fmt.Fprintln(os.Stderr, "  merge     Rerun the near-duplicate merge on a concordance")
	fmt.Fprintln(os.Stderr, "  migrate   Carry ground truth and stable keys from an older concordance")
	fmt.Fprintln(os.Stderr, "  keys      Fill in or recompute stable keys")
	fmt.Fprintln(os.Stderr, "  review    Build the review queue or apply reviewer verdicts")
	fmt.Fprintln(os.Stderr, "  publish   Store a concordance in Postgres as the current run")
	fmt.Fprintln(os.Stderr, "  serve     Start Echo API server")
	fmt.Fprintln(os.Stderr, "  health    Verify database connectivity")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Use \"concordance <command> -h\" for command-specific flags.")
}
