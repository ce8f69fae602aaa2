package merge

import (
	"context"
	"time"

	"horse.fit/upkeep/internal/db"
)

// Reader loads the two content sets a merge pass classifies against.
type Reader interface {
	LoadPendingContent(ctx context.Context, batchIDs []int64) ([]db.ContentItem, error)
	LoadReviewedContent(ctx context.Context) ([]db.ContentItem, error)
}

// TxStore is the store bound to one open transaction.
type TxStore interface {
	Reader
	LockBatches(ctx context.Context, batchIDs []int64) ([]db.ScrapeBatch, error)
	CreateBatch(ctx context.Context, batch db.NewBatch, now time.Time) (db.ScrapeBatch, error)
	ReassignItemsToBatch(ctx context.Context, itemIDs []int64, batchID int64, now time.Time) (int64, error)
	DeleteItems(ctx context.Context, itemIDs []int64) (int64, error)
	MarkBatchesStatus(ctx context.Context, batchIDs []int64, status string, now time.Time) (int64, error)
}

// Store reads outside a transaction and runs fn inside one. fn's error
// rolls the transaction back.
type Store interface {
	Reader
	InTx(ctx context.Context, fn func(tx TxStore) error) error
}

type poolStore struct {
	*db.ContentStore
	pool *db.Pool
}

// NewPoolStore adapts a database pool to Store.
func NewPoolStore(pool *db.Pool) Store {
	return &poolStore{ContentStore: pool.Content(), pool: pool}
}

func (s *poolStore) InTx(ctx context.Context, fn func(tx TxStore) error) error {
	return s.pool.InContentTx(ctx, func(store *db.ContentStore) error {
		return fn(store)
	})
}
