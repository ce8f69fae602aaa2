// Package merge combines pending scrape batches into one batch, dropping
// items that duplicate each other or anything already reviewed.
package merge

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/upkeep/internal/db"
	"horse.fit/upkeep/internal/dedup"
	"horse.fit/upkeep/internal/globaltime"
	"horse.fit/upkeep/internal/mergelock"
	"horse.fit/upkeep/internal/metrics"
	"horse.fit/upkeep/internal/similarity"
)

const (
	minBatches      = 2
	batchNamePrefix = "Merged "
	batchNameLayout = "Jan 2, 2006, 3:04 PM"
)

// ErrInvalidArgument is returned when fewer than two distinct batches are selected.
var ErrInvalidArgument = errors.New("select at least 2 batches")

// Removal records why one candidate was dropped.
type Removal struct {
	ItemID int64        `json:"item_id"`
	Title  string       `json:"title"`
	Reason dedup.Reason `json:"reason"`
	Rule   dedup.Rule   `json:"rule"`
}

// Result is the outcome of classifying one batch selection.
type Result struct {
	BatchIDs                []int64   `json:"batch_ids"`
	TotalItems              int       `json:"total_items"`
	DuplicatesWithinBatches int       `json:"duplicates_within_batches"`
	AlreadyAccepted         int       `json:"already_accepted"`
	AlreadyRejected         int       `json:"already_rejected"`
	FinalUniqueItems        int       `json:"final_unique_items"`
	ItemsToKeep             []int64   `json:"items_to_keep"`
	ItemsToRemove           []int64   `json:"items_to_remove"`
	Removals                []Removal `json:"removals"`
}

// ExecuteResult is a committed merge.
type ExecuteResult struct {
	Batch        db.ScrapeBatch `json:"batch"`
	Result       Result         `json:"result"`
	ItemsRemoved int            `json:"items_removed"`
}

// Options configures a Service. Zero values fall back to defaults.
type Options struct {
	Locker    mergelock.Locker
	Metrics   *metrics.Merge
	Logger    zerolog.Logger
	Threshold float64
}

type Service struct {
	store     Store
	locker    mergelock.Locker
	metrics   *metrics.Merge
	logger    zerolog.Logger
	threshold float64
}

func NewService(store Store, opts Options) *Service {
	locker := opts.Locker
	if locker == nil {
		locker = mergelock.NopLocker{}
	}
	threshold := opts.Threshold
	if threshold <= 0 || threshold > 1 {
		threshold = similarity.DefaultTitleThreshold
	}
	return &Service{
		store:     store,
		locker:    locker,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		threshold: threshold,
	}
}

// Preview classifies the pending items of the selected batches without
// changing anything.
func (s *Service) Preview(ctx context.Context, batchIDs []int64) (Result, error) {
	started := globaltime.Now()
	result, err := s.preview(ctx, batchIDs)
	s.observe(metrics.ModePreview, started, result, err)
	return result, err
}

func (s *Service) preview(ctx context.Context, batchIDs []int64) (Result, error) {
	if s == nil || s.store == nil {
		return Result{}, fmt.Errorf("merge service is not initialized")
	}
	ids, err := normalizeBatchIDs(batchIDs)
	if err != nil {
		return Result{}, err
	}

	result, err := s.classify(ctx, s.store, ids)
	if err != nil {
		return Result{}, err
	}

	s.logger.Info().
		Ints64("batch_ids", ids).
		Int("total_items", result.TotalItems).
		Int("final_unique_items", result.FinalUniqueItems).
		Msg("merge preview computed")
	return result, nil
}

// Execute classifies and applies the merge in one transaction: the source
// batches are row-locked, a new pending batch receives the kept items,
// removed items are deleted and the sources are marked merged.
func (s *Service) Execute(ctx context.Context, batchIDs []int64) (ExecuteResult, error) {
	started := globaltime.Now()
	out, err := s.execute(ctx, batchIDs)
	s.observe(metrics.ModeExecute, started, out.Result, err)
	return out, err
}

func (s *Service) execute(ctx context.Context, batchIDs []int64) (ExecuteResult, error) {
	if s == nil || s.store == nil {
		return ExecuteResult{}, fmt.Errorf("merge service is not initialized")
	}
	ids, err := normalizeBatchIDs(batchIDs)
	if err != nil {
		return ExecuteResult{}, err
	}

	release, err := s.locker.Acquire(ctx, ids)
	if err != nil {
		return ExecuteResult{}, err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn().Err(err).Ints64("batch_ids", ids).Msg("release merge lock failed")
		}
	}()

	var out ExecuteResult
	err = s.store.InTx(ctx, func(tx TxStore) error {
		if _, err := tx.LockBatches(ctx, ids); err != nil {
			return err
		}

		result, err := s.classify(ctx, tx, ids)
		if err != nil {
			return err
		}

		now := globaltime.UTC()
		batch, err := tx.CreateBatch(ctx, db.NewBatch{
			Name:       batchNamePrefix + now.Format(batchNameLayout),
			Source:     "merge",
			Status:     db.BatchStatusPending,
			TotalItems: result.FinalUniqueItems,
		}, now)
		if err != nil {
			return fmt.Errorf("create merged batch: %w", err)
		}

		if _, err := tx.ReassignItemsToBatch(ctx, result.ItemsToKeep, batch.ID, now); err != nil {
			return fmt.Errorf("reassign kept items: %w", err)
		}
		if _, err := tx.DeleteItems(ctx, result.ItemsToRemove); err != nil {
			return fmt.Errorf("delete duplicate items: %w", err)
		}
		if _, err := tx.MarkBatchesStatus(ctx, ids, db.BatchStatusMerged, now); err != nil {
			return fmt.Errorf("mark source batches merged: %w", err)
		}

		out = ExecuteResult{
			Batch:        batch,
			Result:       result,
			ItemsRemoved: len(result.ItemsToRemove),
		}
		return nil
	})
	if err != nil {
		return ExecuteResult{}, err
	}

	s.logger.Info().
		Ints64("batch_ids", ids).
		Int64("merged_batch_id", out.Batch.ID).
		Int("items_to_keep", len(out.Result.ItemsToKeep)).
		Int("items_removed", out.ItemsRemoved).
		Msg("merge executed")
	return out, nil
}

func (s *Service) classify(ctx context.Context, r Reader, ids []int64) (Result, error) {
	pending, err := r.LoadPendingContent(ctx, ids)
	if err != nil {
		return Result{}, fmt.Errorf("load pending content: %w", err)
	}
	reviewedRows, err := r.LoadReviewedContent(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("load reviewed content: %w", err)
	}

	reviewed := make([]dedup.Reviewed, 0, len(reviewedRows))
	for _, row := range reviewedRows {
		reviewed = append(reviewed, dedup.Reviewed{
			Link:        row.LinkValue(),
			ContentHash: row.ContentHashValue(),
			Title:       row.Title,
			Accepted:    row.Status == db.ContentStatusAccepted,
		})
	}
	index := dedup.NewIndex(reviewed, s.threshold)

	result := Result{
		BatchIDs:      ids,
		TotalItems:    len(pending),
		ItemsToKeep:   make([]int64, 0, len(pending)),
		ItemsToRemove: make([]int64, 0),
		Removals:      make([]Removal, 0),
	}
	for _, item := range pending {
		decision := index.Classify(dedup.Candidate{
			ID:          item.ID,
			Title:       item.Title,
			Link:        item.LinkValue(),
			ContentHash: item.ContentHashValue(),
		})
		if decision.Keep {
			result.ItemsToKeep = append(result.ItemsToKeep, item.ID)
			continue
		}

		result.ItemsToRemove = append(result.ItemsToRemove, item.ID)
		result.Removals = append(result.Removals, Removal{
			ItemID: item.ID,
			Title:  item.Title,
			Reason: decision.Reason,
			Rule:   decision.Rule,
		})
		switch decision.Counter {
		case dedup.CounterDuplicatesWithinBatches:
			result.DuplicatesWithinBatches++
		case dedup.CounterAlreadyAccepted:
			result.AlreadyAccepted++
		case dedup.CounterAlreadyRejected:
			result.AlreadyRejected++
		}
		s.logger.Debug().
			Int64("item_id", item.ID).
			Str("reason", string(decision.Reason)).
			Str("rule", string(decision.Rule)).
			Msg("merge candidate removed")
	}
	result.FinalUniqueItems = len(result.ItemsToKeep)

	return result, nil
}

func (s *Service) observe(mode string, started time.Time, result Result, err error) {
	if s == nil {
		return
	}
	outcome := metrics.OutcomeSuccess
	switch {
	case errors.Is(err, ErrInvalidArgument):
		outcome = metrics.OutcomeInvalid
	case errors.Is(err, mergelock.ErrBusy):
		outcome = metrics.OutcomeBusy
	case err != nil:
		outcome = metrics.OutcomeError
	}
	s.metrics.ObserveRun(mode, outcome, globaltime.Since(started))
	if err != nil {
		s.logger.Error().Err(err).Str("mode", mode).Msg("merge failed")
		return
	}
	s.metrics.AddItems("keep", len(result.ItemsToKeep))
	s.metrics.AddItems(string(dedup.CounterDuplicatesWithinBatches), result.DuplicatesWithinBatches)
	s.metrics.AddItems(string(dedup.CounterAlreadyAccepted), result.AlreadyAccepted)
	s.metrics.AddItems(string(dedup.CounterAlreadyRejected), result.AlreadyRejected)
}

// normalizeBatchIDs drops non-positive and repeated ids, keeping first-seen order.
func normalizeBatchIDs(batchIDs []int64) ([]int64, error) {
	out := make([]int64, 0, len(batchIDs))
	for _, id := range batchIDs {
		if id <= 0 || slices.Contains(out, id) {
			continue
		}
		out = append(out, id)
	}
	if len(out) < minBatches {
		return nil, ErrInvalidArgument
	}
	return out, nil
}

// ParseBatchIDs parses a comma-separated id list such as "1,2,5".
func ParseBatchIDs(raw string) ([]int64, error) {
	parts := strings.Split(raw, ",")
	out := make([]int64, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid batch id %q", part)
		}
		out = append(out, id)
	}
	return out, nil
}
