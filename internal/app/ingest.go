package app

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"horse.fit/upkeep/internal/cli"
	"horse.fit/upkeep/internal/ingest"
)

func runIngest(args []string) int {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 60*time.Second, "Command timeout")
	file := fs.String("file", "", "Scrape batch JSON file, or - for stdin")
	format := fs.String("format", outputFormatTable, "Output format: table or json")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	path := strings.TrimSpace(*file)
	if path == "" {
		fmt.Fprintln(os.Stderr, "--file is required")
		return 2
	}

	outputFormat, err := parseOutputFormat(*format, outputFormatTable)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid format: %v\n", err)
		return 2
	}

	payload, err := readPayload(path, os.Stdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read %s: %v\n", path, err)
		return 1
	}

	ctx, cancel, rt, err := connectRuntime(*timeout, envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer cancel()
	defer rt.pool.Close()

	result, err := newIngestService(rt.pool, nil, rt.logger).IngestPayload(ctx, payload)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ingest failed: %v\n", err)
		if errors.Is(err, ingest.ErrInvalidPayload) {
			return 2
		}
		return 1
	}

	if err := renderIngestResult(os.Stdout, outputFormat, result); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render ingest result: %v\n", err)
		return 1
	}
	return 0
}

func readPayload(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

func renderIngestResult(w io.Writer, format string, result ingest.Result) error {
	if format == outputFormatJSON {
		return printJSON(w, result)
	}
	return writeTable(w, []string{"metric", "value"}, [][]string{
		{"batch_id", strconv.FormatInt(result.Batch.ID, 10)},
		{"batch_uuid", result.Batch.BatchUUID},
		{"name", result.Batch.Name},
		{"items", strconv.Itoa(len(result.ItemIDs))},
		{"items_without_link", strconv.Itoa(result.WithoutLink)},
	})
}
