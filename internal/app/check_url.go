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
	"horse.fit/upkeep/internal/urlcheck"
)

func runCheckURL(args []string) int {
	fs := flag.NewFlagSet("check-url", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")
	title := fs.String("title", "", "Title to compare; fetched from the page when empty")
	noFetch := fs.Bool("no-fetch", false, "Never fetch the page")
	format := fs.String("format", outputFormatTable, "Output format: table or json")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "check-url requires one URL argument")
		return 2
	}

	outputFormat, err := parseOutputFormat(*format, outputFormatTable)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid format: %v\n", err)
		return 2
	}

	ctx, cancel, rt, err := connectRuntime(*timeout, envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer cancel()
	defer rt.pool.Close()

	checker := newChecker(rt.pool, rt.cfg, rt.logger, !*noFetch)
	report, err := checker.Check(ctx, urlcheck.Request{
		URL:   strings.TrimSpace(fs.Arg(0)),
		Title: strings.TrimSpace(*title),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Check failed: %v\n", err)
		if errors.Is(err, urlcheck.ErrInvalidURL) {
			return 2
		}
		return 1
	}

	if err := renderCheckReport(os.Stdout, outputFormat, report); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render report: %v\n", err)
		return 1
	}
	return 0
}

func renderCheckReport(w io.Writer, format string, report urlcheck.Report) error {
	if format == outputFormatJSON {
		return printJSON(w, report)
	}

	rows := [][]string{
		{"url", report.URL},
		{"normalized_url", report.NormalizedURL},
		{"title", truncateForTable(report.Title, 72)},
		{"title_source", report.TitleSource},
		{"duplicate", strconv.FormatBool(report.Duplicate)},
	}
	for _, match := range report.URLMatches {
		rows = append(rows, []string{
			"url_match",
			fmt.Sprintf("#%d %s %s", match.ItemID, match.Status, truncateForTable(match.Title, 60)),
		})
	}
	if match := report.SimilarTitle; match != nil {
		rows = append(rows, []string{
			"similar_title",
			fmt.Sprintf("#%d %s %s", match.ItemID, match.Status, truncateForTable(match.Title, 60)),
		})
	}
	return writeTable(w, []string{"field", "value"}, rows)
}
