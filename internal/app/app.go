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
	case "health":
		return runHealth(args[1:])
	case "serve":
		return runServe(args[1:])
	case "merge":
		return runMerge(args[1:])
	case "batches":
		return runBatches(args[1:])
	case "ingest":
		return runIngest(args[1:])
	case "check-url":
		return runCheckURL(args[1:])
	case "hash-token":
		return runHashToken(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "upkeep CLI")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  upkeep <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  health      Verify database connectivity")
	fmt.Fprintln(os.Stderr, "  serve       Start Echo API server")
	fmt.Fprintln(os.Stderr, "  merge       Merge pending scrape batches, dropping duplicates")
	fmt.Fprintln(os.Stderr, "  batches     List scrape batches")
	fmt.Fprintln(os.Stderr, "  ingest      Insert a scrape batch from a JSON file")
	fmt.Fprintln(os.Stderr, "  check-url   Check whether a URL or its title is already known")
	fmt.Fprintln(os.Stderr, "  hash-token  Hash an admin API token for ADMIN_TOKEN_HASH")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Use \"upkeep <command> -h\" for command-specific flags.")
}
