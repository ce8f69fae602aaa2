package merge

import (
	"context"
	"errors"
	"slices"
	"sort"
	"strings"
	"testing"
	"time"

	"horse.fit/upkeep/internal/db"
	"horse.fit/upkeep/internal/dedup"
	"horse.fit/upkeep/internal/mergelock"
)

type fakeState struct {
	items   map[int64]db.ContentItem
	batches map[int64]db.ScrapeBatch
	nextID  int64
}

func (s fakeState) clone() fakeState {
	out := fakeState{
		items:   make(map[int64]db.ContentItem, len(s.items)),
		batches: make(map[int64]db.ScrapeBatch, len(s.batches)),
		nextID:  s.nextID,
	}
	for id, item := range s.items {
		out.items[id] = item
	}
	for id, batch := range s.batches {
		out.batches[id] = batch
	}
	return out
}

type fakeStore struct {
	state fakeState

	failOn  string
	txCalls int
	calls   []string
}

type fakeTx struct {
	store *fakeStore
	state *fakeState
}

func newFakeStore() *fakeStore {
	return &fakeStore{state: fakeState{
		items:   map[int64]db.ContentItem{},
		batches: map[int64]db.ScrapeBatch{},
		nextID:  1000,
	}}
}

func (f *fakeStore) addBatch(id int64) {
	f.state.batches[id] = db.ScrapeBatch{ID: id, Name: "batch", Status: db.BatchStatusPending}
}

func (f *fakeStore) addItem(id, batchID int64, status, title, link, hash string) {
	item := db.ContentItem{ID: id, Title: title, Status: status}
	if batchID > 0 {
		b := batchID
		item.BatchID = &b
	}
	if link != "" {
		l := link
		item.Link = &l
	}
	if hash != "" {
		h := hash
		item.ContentHash = &h
	}
	f.state.items[id] = item
}

func (f *fakeStore) LoadPendingContent(ctx context.Context, batchIDs []int64) ([]db.ContentItem, error) {
	return (&fakeTx{store: f, state: &f.state}).LoadPendingContent(ctx, batchIDs)
}

func (f *fakeStore) LoadReviewedContent(ctx context.Context) ([]db.ContentItem, error) {
	return (&fakeTx{store: f, state: &f.state}).LoadReviewedContent(ctx)
}

func (f *fakeStore) InTx(_ context.Context, fn func(tx TxStore) error) error {
	f.txCalls++
	working := f.state.clone()
	if err := fn(&fakeTx{store: f, state: &working}); err != nil {
		return err
	}
	f.state = working
	return nil
}

func (t *fakeTx) step(name string) error {
	t.store.calls = append(t.store.calls, name)
	if t.store.failOn == name {
		return errors.New(name + " failed")
	}
	return nil
}

func (t *fakeTx) sortedItems(keep func(db.ContentItem) bool) []db.ContentItem {
	var out []db.ContentItem
	for _, item := range t.state.items {
		if keep(item) {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (t *fakeTx) LoadPendingContent(_ context.Context, batchIDs []int64) ([]db.ContentItem, error) {
	if err := t.step("load_pending"); err != nil {
		return nil, err
	}
	return t.sortedItems(func(item db.ContentItem) bool {
		return item.Status == db.ContentStatusPending && item.BatchID != nil && slices.Contains(batchIDs, *item.BatchID)
	}), nil
}

func (t *fakeTx) LoadReviewedContent(context.Context) ([]db.ContentItem, error) {
	if err := t.step("load_reviewed"); err != nil {
		return nil, err
	}
	return t.sortedItems(func(item db.ContentItem) bool {
		return item.Status == db.ContentStatusAccepted || item.Status == db.ContentStatusDiscarded
	}), nil
}

func (t *fakeTx) LockBatches(_ context.Context, batchIDs []int64) ([]db.ScrapeBatch, error) {
	if err := t.step("lock"); err != nil {
		return nil, err
	}
	var out []db.ScrapeBatch
	for _, id := range batchIDs {
		if batch, ok := t.state.batches[id]; ok {
			out = append(out, batch)
		}
	}
	return out, nil
}

func (t *fakeTx) CreateBatch(_ context.Context, batch db.NewBatch, now time.Time) (db.ScrapeBatch, error) {
	if err := t.step("create"); err != nil {
		return db.ScrapeBatch{}, err
	}
	t.state.nextID++
	row := db.ScrapeBatch{
		ID:         t.state.nextID,
		BatchUUID:  "uuid",
		Name:       batch.Name,
		Source:     batch.Source,
		Status:     batch.Status,
		TotalItems: batch.TotalItems,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	t.state.batches[row.ID] = row
	return row, nil
}

func (t *fakeTx) ReassignItemsToBatch(_ context.Context, itemIDs []int64, batchID int64, _ time.Time) (int64, error) {
	if err := t.step("reassign"); err != nil {
		return 0, err
	}
	for _, id := range itemIDs {
		item := t.state.items[id]
		b := batchID
		item.BatchID = &b
		t.state.items[id] = item
	}
	return int64(len(itemIDs)), nil
}

func (t *fakeTx) DeleteItems(_ context.Context, itemIDs []int64) (int64, error) {
	if err := t.step("delete"); err != nil {
		return 0, err
	}
	for _, id := range itemIDs {
		delete(t.state.items, id)
	}
	return int64(len(itemIDs)), nil
}

func (t *fakeTx) MarkBatchesStatus(_ context.Context, batchIDs []int64, status string, _ time.Time) (int64, error) {
	if err := t.step("mark"); err != nil {
		return 0, err
	}
	for _, id := range batchIDs {
		batch := t.state.batches[id]
		batch.Status = status
		t.state.batches[id] = batch
	}
	return int64(len(batchIDs)), nil
}

// scenarioStore builds two batches of three pending items each:
// 1 and 4 share a link, 2 carries the hash of discarded item 90, the rest are novel.
func scenarioStore() *fakeStore {
	f := newFakeStore()
	f.addBatch(1)
	f.addBatch(2)
	f.addBatch(9)

	f.addItem(1, 1, db.ContentStatusPending, "Go 1.25 release notes", "https://go.dev/blog/go1.25", "hash-a")
	f.addItem(2, 1, db.ContentStatusPending, "Postgres vacuum deep dive", "https://pg.example/vacuum", "hash-b")
	f.addItem(3, 1, db.ContentStatusPending, "Rust async cancellation", "https://rust.example/async", "hash-d")
	f.addItem(4, 2, db.ContentStatusPending, "Go 1.25 is out", "https://go.dev/blog/go1.25", "hash-a2")
	f.addItem(5, 2, db.ContentStatusPending, "Kafka tiered storage", "https://kafka.example/tiered", "hash-c")
	f.addItem(6, 2, db.ContentStatusPending, "SQLite WAL explained", "https://sqlite.example/wal", "hash-e")

	f.addItem(90, 9, db.ContentStatusDiscarded, "An older vacuum write-up", "https://other.example/vacuum", "hash-b")
	return f
}

func TestPreviewScenario(t *testing.T) {
	t.Parallel()

	store := scenarioStore()
	svc := NewService(store, Options{})

	result, err := svc.Preview(context.Background(), []int64{1, 2})
	if err != nil {
		t.Fatalf("Preview returned error: %v", err)
	}

	if result.TotalItems != 6 {
		t.Fatalf("expected 6 total items, got %d", result.TotalItems)
	}
	if result.DuplicatesWithinBatches != 1 {
		t.Fatalf("expected 1 duplicate within batches, got %d", result.DuplicatesWithinBatches)
	}
	if result.AlreadyRejected != 1 || result.AlreadyAccepted != 0 {
		t.Fatalf("expected 1 rejected and 0 accepted, got %d/%d", result.AlreadyRejected, result.AlreadyAccepted)
	}
	if result.FinalUniqueItems != 4 {
		t.Fatalf("expected 4 unique items, got %d", result.FinalUniqueItems)
	}
	if !slices.Equal(result.ItemsToKeep, []int64{1, 3, 5, 6}) {
		t.Fatalf("unexpected kept ids: %v", result.ItemsToKeep)
	}
	if !slices.Equal(result.ItemsToRemove, []int64{2, 4}) {
		t.Fatalf("unexpected removed ids: %v", result.ItemsToRemove)
	}
	if len(result.Removals) != 2 ||
		result.Removals[0].Reason != dedup.ReasonAlreadyReviewed ||
		result.Removals[1].Reason != dedup.ReasonDuplicateInBatch {
		t.Fatalf("unexpected removals: %+v", result.Removals)
	}
}

func TestPreviewHasNoSideEffects(t *testing.T) {
	t.Parallel()

	store := scenarioStore()
	svc := NewService(store, Options{})

	first, err := svc.Preview(context.Background(), []int64{1, 2})
	if err != nil {
		t.Fatalf("first Preview returned error: %v", err)
	}
	second, err := svc.Preview(context.Background(), []int64{1, 2})
	if err != nil {
		t.Fatalf("second Preview returned error: %v", err)
	}

	if first.TotalItems != second.TotalItems ||
		first.FinalUniqueItems != second.FinalUniqueItems ||
		!slices.Equal(first.ItemsToKeep, second.ItemsToKeep) ||
		!slices.Equal(first.ItemsToRemove, second.ItemsToRemove) {
		t.Fatalf("preview is not repeatable: %+v vs %+v", first, second)
	}
	if store.txCalls != 0 {
		t.Fatalf("preview must not open a transaction")
	}
	if len(store.state.items) != 7 {
		t.Fatalf("preview deleted items: %d left", len(store.state.items))
	}
	for _, id := range []int64{1, 2} {
		if store.state.batches[id].Status != db.BatchStatusPending {
			t.Fatalf("preview changed batch %d status", id)
		}
	}
}

func TestPartitionCoversEveryCandidate(t *testing.T) {
	t.Parallel()

	store := scenarioStore()
	store.addItem(7, 2, db.ContentStatusPending, "Go 1.25 release notes", "", "")
	store.addItem(8, 1, db.ContentStatusPending, "", "", "hash-c")
	store.addItem(91, 9, db.ContentStatusAccepted, "Kafka tiered storage", "", "")

	result, err := NewService(store, Options{}).Preview(context.Background(), []int64{2, 1})
	if err != nil {
		t.Fatalf("Preview returned error: %v", err)
	}

	seen := map[int64]int{}
	for _, id := range result.ItemsToKeep {
		seen[id]++
	}
	for _, id := range result.ItemsToRemove {
		seen[id]++
	}
	if len(seen) != result.TotalItems {
		t.Fatalf("partition covers %d ids, want %d", len(seen), result.TotalItems)
	}
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("id %d appears %d times across keep/remove", id, n)
		}
	}
	if result.DuplicatesWithinBatches+result.AlreadyAccepted+result.AlreadyRejected != len(result.ItemsToRemove) {
		t.Fatalf("counters do not add up to removals: %+v", result)
	}
}

func TestCrossBatchAcceptedLinkIsAlwaysRemoved(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.addBatch(1)
	store.addBatch(2)
	store.addItem(1, 1, db.ContentStatusPending, "Fresh take", "https://a.example/post", "")
	store.addItem(2, 2, db.ContentStatusPending, "Unrelated", "https://b.example/post", "")
	store.addItem(50, 40, db.ContentStatusAccepted, "Earlier pick", "https://a.example/post", "")

	svc := NewService(store, Options{})
	result, err := svc.Preview(context.Background(), []int64{1, 2})
	if err != nil {
		t.Fatalf("Preview returned error: %v", err)
	}
	if result.AlreadyAccepted != 1 || !slices.Equal(result.ItemsToRemove, []int64{1}) {
		t.Fatalf("expected item 1 removed as already accepted, got %+v", result)
	}

	executed, err := svc.Execute(context.Background(), []int64{1, 2})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if executed.Result.AlreadyAccepted != 1 {
		t.Fatalf("execute should classify the same way, got %+v", executed.Result)
	}
	if _, ok := store.state.items[1]; ok {
		t.Fatalf("item 1 should have been deleted")
	}
	if _, ok := store.state.items[50]; !ok {
		t.Fatalf("reviewed item must never be touched")
	}
}

func TestSimilarTitleAgainstReviewed(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.addBatch(1)
	store.addBatch(2)
	store.addItem(1, 1, db.ContentStatusPending, "Understanding Distributed Systems", "", "")
	store.addItem(2, 2, db.ContentStatusPending, "Intro to Kubernetes", "", "")
	store.addItem(60, 0, db.ContentStatusDiscarded, "Understanding Distributed System", "", "")

	result, err := NewService(store, Options{}).Preview(context.Background(), []int64{1, 2})
	if err != nil {
		t.Fatalf("Preview returned error: %v", err)
	}
	if !slices.Equal(result.ItemsToRemove, []int64{1}) || !slices.Equal(result.ItemsToKeep, []int64{2}) {
		t.Fatalf("unexpected partition: keep=%v remove=%v", result.ItemsToKeep, result.ItemsToRemove)
	}
	if result.AlreadyRejected != 1 || result.Removals[0].Reason != dedup.ReasonSimilarTitle {
		t.Fatalf("expected similar-title rejection, got %+v", result.Removals)
	}
}

func TestExecuteAppliesMerge(t *testing.T) {
	t.Parallel()

	store := scenarioStore()
	svc := NewService(store, Options{})

	out, err := svc.Execute(context.Background(), []int64{1, 2})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	if !slices.Equal(store.calls, []string{"lock", "load_pending", "load_reviewed", "create", "reassign", "delete", "mark"}) {
		t.Fatalf("unexpected mutation order: %v", store.calls)
	}
	if store.txCalls != 1 {
		t.Fatalf("expected exactly one transaction, got %d", store.txCalls)
	}
	if out.Batch.TotalItems != out.Result.FinalUniqueItems || out.Batch.TotalItems != 4 {
		t.Fatalf("new batch total %d does not match unique items %d", out.Batch.TotalItems, out.Result.FinalUniqueItems)
	}
	if out.Batch.Status != db.BatchStatusPending || !strings.HasPrefix(out.Batch.Name, "Merged ") {
		t.Fatalf("unexpected new batch: %+v", out.Batch)
	}
	if out.ItemsRemoved != 2 {
		t.Fatalf("expected 2 removed items, got %d", out.ItemsRemoved)
	}

	for _, id := range out.Result.ItemsToKeep {
		item, ok := store.state.items[id]
		if !ok || item.BatchID == nil || *item.BatchID != out.Batch.ID {
			t.Fatalf("kept item %d not moved to batch %d", id, out.Batch.ID)
		}
	}
	for _, id := range out.Result.ItemsToRemove {
		if _, ok := store.state.items[id]; ok {
			t.Fatalf("removed item %d still exists", id)
		}
	}
	for _, id := range []int64{1, 2} {
		if store.state.batches[id].Status != db.BatchStatusMerged {
			t.Fatalf("batch %d not marked merged", id)
		}
	}
	if store.state.batches[9].Status != db.BatchStatusPending {
		t.Fatalf("unselected batch must keep its status")
	}
}

func TestExecuteTwiceProducesEmptyMerge(t *testing.T) {
	t.Parallel()

	store := scenarioStore()
	svc := NewService(store, Options{})

	if _, err := svc.Execute(context.Background(), []int64{1, 2}); err != nil {
		t.Fatalf("first Execute returned error: %v", err)
	}
	second, err := svc.Execute(context.Background(), []int64{1, 2})
	if err != nil {
		t.Fatalf("second Execute returned error: %v", err)
	}
	if second.Result.TotalItems != 0 || second.Result.FinalUniqueItems != 0 || second.ItemsRemoved != 0 {
		t.Fatalf("expected empty second merge, got %+v", second)
	}
}

func TestExecuteRollsBackOnFailure(t *testing.T) {
	t.Parallel()

	for _, step := range []string{"lock", "create", "reassign", "delete", "mark"} {
		t.Run(step, func(t *testing.T) {
			t.Parallel()

			store := scenarioStore()
			store.failOn = step
			_, err := NewService(store, Options{}).Execute(context.Background(), []int64{1, 2})
			if err == nil {
				t.Fatalf("expected error when %s fails", step)
			}
			if len(store.state.items) != 7 || len(store.state.batches) != 3 {
				t.Fatalf("partial merge visible after %s failure", step)
			}
			for _, id := range []int64{1, 2} {
				if store.state.batches[id].Status != db.BatchStatusPending {
					t.Fatalf("batch %d marked after %s failure", id, step)
				}
			}
		})
	}
}

func TestRequiresTwoDistinctBatches(t *testing.T) {
	t.Parallel()

	svc := NewService(scenarioStore(), Options{})
	for _, ids := range [][]int64{nil, {1}, {1, 1}, {0, 1}, {-3, 2}} {
		if _, err := svc.Preview(context.Background(), ids); !errors.Is(err, ErrInvalidArgument) {
			t.Fatalf("Preview(%v): expected ErrInvalidArgument, got %v", ids, err)
		}
		if _, err := svc.Execute(context.Background(), ids); !errors.Is(err, ErrInvalidArgument) {
			t.Fatalf("Execute(%v): expected ErrInvalidArgument, got %v", ids, err)
		}
	}
	if ErrInvalidArgument.Error() != "select at least 2 batches" {
		t.Fatalf("unexpected message: %q", ErrInvalidArgument.Error())
	}
}

type busyLocker struct{ acquired [][]int64 }

func (l *busyLocker) Acquire(_ context.Context, ids []int64) (mergelock.Release, error) {
	l.acquired = append(l.acquired, ids)
	return nil, mergelock.ErrBusy
}

func TestExecuteStopsWhenLockIsBusy(t *testing.T) {
	t.Parallel()

	store := scenarioStore()
	locker := &busyLocker{}
	_, err := NewService(store, Options{Locker: locker}).Execute(context.Background(), []int64{2, 1})
	if !errors.Is(err, mergelock.ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if store.txCalls != 0 {
		t.Fatalf("no transaction should start without the lock")
	}
	if len(locker.acquired) != 1 || !slices.Equal(locker.acquired[0], []int64{2, 1}) {
		t.Fatalf("unexpected lock request: %v", locker.acquired)
	}
}

func TestParseBatchIDs(t *testing.T) {
	t.Parallel()

	ids, err := ParseBatchIDs(" 3, 1,,7 ")
	if err != nil {
		t.Fatalf("ParseBatchIDs returned error: %v", err)
	}
	if !slices.Equal(ids, []int64{3, 1, 7}) {
		t.Fatalf("unexpected ids: %v", ids)
	}
	for _, raw := range []string{"1,x", "1,-2", "12abc"} {
		if _, err := ParseBatchIDs(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}
