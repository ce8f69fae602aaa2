package app

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"horse.fit/upkeep/internal/cli"
	"horse.fit/upkeep/internal/merge"
	"horse.fit/upkeep/internal/mergelock"
)

func runMerge(args []string) int {
	fs := flag.NewFlagSet("merge", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 2*time.Minute, "Command timeout")
	batches := fs.String("batches", "", "Comma-separated batch ids to merge (at least 2)")
	preview := fs.Bool("preview", false, "Only report what a merge would do")
	format := fs.String("format", outputFormatTable, "Output format: table or json")
	details := fs.Bool("details", false, "List every removed item with its reason")
	force := fs.Bool("force", false, "Skip confirmation prompt")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "merge does not accept positional arguments")
		return 2
	}

	outputFormat, err := parseOutputFormat(*format, outputFormatTable)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid format: %v\n", err)
		return 2
	}

	batchIDs, err := merge.ParseBatchIDs(*batches)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid --batches: %v\n", err)
		return 2
	}
	if distinctCount(batchIDs) < 2 {
		fmt.Fprintf(os.Stderr, "Invalid --batches: %v\n", merge.ErrInvalidArgument)
		return 2
	}

	ctx, cancel, rt, err := connectRuntime(*timeout, envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer cancel()
	defer rt.pool.Close()

	locker, closeLocker, err := openLocker(ctx, rt.cfg, rt.logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer closeLocker()

	svc := newMergeService(rt.pool, rt.cfg, locker, nil, rt.logger)

	if *preview || !*force {
		result, err := svc.Preview(ctx, batchIDs)
		if err != nil {
			return reportMergeError(err)
		}
		if err := renderMergeResult(os.Stdout, outputFormat, result, *details); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render preview: %v\n", err)
			return 1
		}
		if *preview {
			return 0
		}

		prompt := fmt.Sprintf(
			"Merge batches %s into one batch of %d items, removing %d?",
			formatIDs(result.BatchIDs),
			result.FinalUniqueItems,
			len(result.ItemsToRemove),
		)
		ok, err := confirmDangerousAction(os.Stdin, prompt)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read confirmation: %v\n", err)
			return 1
		}
		if !ok {
			fmt.Fprintln(os.Stderr, "Cancelled")
			return 1
		}
	}

	out, err := svc.Execute(ctx, batchIDs)
	if err != nil {
		return reportMergeError(err)
	}
	if err := renderMergeExecution(os.Stdout, outputFormat, out, *details); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render merge result: %v\n", err)
		return 1
	}
	return 0
}

func distinctCount(ids []int64) int {
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		seen[id] = struct{}{}
	}
	return len(seen)
}

func reportMergeError(err error) int {
	switch {
	case errors.Is(err, merge.ErrInvalidArgument):
		fmt.Fprintf(os.Stderr, "Invalid --batches: %v\n", err)
		return 2
	case errors.Is(err, mergelock.ErrBusy):
		fmt.Fprintf(os.Stderr, "Merge refused: %v\n", err)
		return 1
	default:
		fmt.Fprintf(os.Stderr, "Merge failed: %v\n", err)
		return 1
	}
}

func mergeStatRows(result merge.Result) [][]string {
	return [][]string{
		{"batches", formatIDs(result.BatchIDs)},
		{"total_items", strconv.Itoa(result.TotalItems)},
		{"duplicates_within_batches", strconv.Itoa(result.DuplicatesWithinBatches)},
		{"already_accepted", strconv.Itoa(result.AlreadyAccepted)},
		{"already_rejected", strconv.Itoa(result.AlreadyRejected)},
		{"final_unique_items", strconv.Itoa(result.FinalUniqueItems)},
	}
}

func removalRows(removals []merge.Removal) [][]string {
	rows := make([][]string, 0, len(removals))
	for _, removal := range removals {
		rows = append(rows, []string{
			strconv.FormatInt(removal.ItemID, 10),
			string(removal.Reason),
			string(removal.Rule),
			truncateForTable(removal.Title, 72),
		})
	}
	return rows
}

func renderMergeResult(w io.Writer, format string, result merge.Result, details bool) error {
	if format == outputFormatJSON {
		return printJSON(w, result)
	}

	if err := writeTable(w, []string{"metric", "value"}, mergeStatRows(result)); err != nil {
		return err
	}
	return renderRemovals(w, result.Removals, details)
}

func renderMergeExecution(w io.Writer, format string, out merge.ExecuteResult, details bool) error {
	if format == outputFormatJSON {
		return printJSON(w, out)
	}

	rows := append([][]string{
		{"merged_batch_id", strconv.FormatInt(out.Batch.ID, 10)},
		{"merged_batch_name", out.Batch.Name},
	}, mergeStatRows(out.Result)...)
	rows = append(rows, []string{"items_removed", strconv.Itoa(out.ItemsRemoved)})
	if err := writeTable(w, []string{"metric", "value"}, rows); err != nil {
		return err
	}
	return renderRemovals(w, out.Result.Removals, details)
}

func renderRemovals(w io.Writer, removals []merge.Removal, details bool) error {
	if !details || len(removals) == 0 {
		return nil
	}
	if _, err := fmt.Fprintln(w); err != nil {
		return err
	}
	return writeTable(w, []string{"item_id", "reason", "rule", "title"}, removalRows(removals))
}
