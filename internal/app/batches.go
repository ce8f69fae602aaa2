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
	"horse.fit/upkeep/internal/db"
)

type batchRow struct {
	ID           int64     `json:"id"`
	UUID         string    `json:"uuid"`
	Name         string    `json:"name"`
	Source       string    `json:"source"`
	Status       string    `json:"status"`
	TotalItems   int       `json:"total_items"`
	PendingItems int       `json:"pending_items"`
	CreatedAt    time.Time `json:"created_at"`
}

func runBatches(args []string) int {
	fs := flag.NewFlagSet("batches", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")
	status := fs.String("status", db.BatchStatusPending, "Filter by batch status (pending, merged or all)")
	limit := fs.Int("limit", 50, "Maximum number of batches")
	format := fs.String("format", outputFormatTable, "Output format: table or json")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "batches does not accept positional arguments")
		return 2
	}
	if *limit <= 0 {
		fmt.Fprintln(os.Stderr, "--limit must be > 0")
		return 2
	}

	outputFormat, err := parseOutputFormat(*format, outputFormatTable)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid format: %v\n", err)
		return 2
	}

	statusFilter := strings.ToLower(strings.TrimSpace(*status))
	if statusFilter == "all" {
		statusFilter = ""
	}

	ctx, cancel, rt, err := connectRuntime(*timeout, envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer cancel()
	defer rt.pool.Close()

	summaries, err := rt.pool.Content().ListBatches(ctx, statusFilter, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list batches: %v\n", err)
		return 1
	}

	if err := renderBatches(os.Stdout, outputFormat, summaries); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render batches: %v\n", err)
		return 1
	}
	return 0
}

func renderBatches(w io.Writer, format string, summaries []db.BatchSummary) error {
	if format == outputFormatJSON {
		rows := make([]batchRow, 0, len(summaries))
		for _, s := range summaries {
			rows = append(rows, batchRow{
				ID:           s.ID,
				UUID:         s.BatchUUID,
				Name:         s.Name,
				Source:       s.Source,
				Status:       s.Status,
				TotalItems:   s.TotalItems,
				PendingItems: s.PendingItems,
				CreatedAt:    s.CreatedAt.UTC(),
			})
		}
		return printJSON(w, rows)
	}

	rows := make([][]string, 0, len(summaries))
	for _, s := range summaries {
		rows = append(rows, []string{
			strconv.FormatInt(s.ID, 10),
			truncateForTable(s.Name, 40),
			s.Source,
			s.Status,
			strconv.Itoa(s.TotalItems),
			strconv.Itoa(s.PendingItems),
			formatUTCTimestamp(s.CreatedAt),
		})
	}
	return writeTable(w, []string{"id", "name", "source", "status", "total", "pending", "created_at"}, rows)
}
