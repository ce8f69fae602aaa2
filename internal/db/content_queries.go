package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var contentColumns = []string{
	"id",
	"batch_id",
	"title",
	"link",
	"normalized_url",
	"content_hash",
	"summary",
	"source_type",
	"language",
	"status",
	"published_at",
	"created_at",
	"updated_at",
}

var batchColumns = []string{
	"id",
	"batch_uuid::text",
	"name",
	"source",
	"status",
	"total_items",
	"created_at",
	"updated_at",
}

// ContentStore runs content and batch queries against a pool or an open transaction.
type ContentStore struct {
	q Queryer
}

func NewContentStore(q Queryer) *ContentStore {
	return &ContentStore{q: q}
}

// Content returns a store bound to the pool (autocommit).
func (p *Pool) Content() *ContentStore {
	return NewContentStore(p)
}

// InContentTx runs fn with a store bound to a single transaction.
func (p *Pool) InContentTx(ctx context.Context, fn func(store *ContentStore) error) error {
	return p.WithTx(ctx, func(tx Tx) error {
		return fn(NewContentStore(tx))
	})
}

// LoadPendingContent returns pending items of the given batches ordered by id.
func (s *ContentStore) LoadPendingContent(ctx context.Context, batchIDs []int64) ([]ContentItem, error) {
	if len(batchIDs) == 0 {
		return nil, nil
	}

	query, args, err := psql.
		Select(contentColumns...).
		From("upkeep.content_items").
		Where(sq.Eq{"status": ContentStatusPending}).
		Where(sq.Eq{"batch_id": batchIDs}).
		OrderBy("id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build pending content query: %w", err)
	}

	items, err := s.queryContent(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load pending content: %w", err)
	}
	return items, nil
}

// LoadReviewedContent returns every accepted or discarded item store-wide.
func (s *ContentStore) LoadReviewedContent(ctx context.Context) ([]ContentItem, error) {
	query, args, err := psql.
		Select(contentColumns...).
		From("upkeep.content_items").
		Where(sq.Eq{"status": []string{ContentStatusAccepted, ContentStatusDiscarded}}).
		OrderBy("id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build reviewed content query: %w", err)
	}

	items, err := s.queryContent(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load reviewed content: %w", err)
	}
	return items, nil
}

// LookupStatusByLink returns the status of a content row with this link,
// preferring accepted rows. It returns ErrNoRows when the link is unknown.
func (s *ContentStore) LookupStatusByLink(ctx context.Context, link string) (string, error) {
	trimmed := strings.TrimSpace(link)
	if trimmed == "" {
		return "", ErrNoRows
	}

	const q = `
SELECT status
FROM upkeep.content_items
WHERE link = $1
ORDER BY CASE WHEN status = 'accepted' THEN 0 ELSE 1 END, id ASC
LIMIT 1
`
	var status string
	if err := s.q.QueryRow(ctx, q, trimmed).Scan(&status); err != nil {
		return "", err
	}
	return status, nil
}

// FindByNormalizedURL returns items whose normalized URL or raw link equals the given values.
func (s *ContentStore) FindByNormalizedURL(ctx context.Context, normalizedURL, link string) ([]ContentItem, error) {
	or := sq.Or{}
	if v := strings.TrimSpace(normalizedURL); v != "" {
		or = append(or, sq.Eq{"normalized_url": v})
	}
	if v := strings.TrimSpace(link); v != "" {
		or = append(or, sq.Eq{"link": v})
	}
	if len(or) == 0 {
		return nil, nil
	}

	query, args, err := psql.
		Select(contentColumns...).
		From("upkeep.content_items").
		Where(or).
		OrderBy("id ASC").
		Limit(20).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build url lookup query: %w", err)
	}

	items, err := s.queryContent(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find content by url: %w", err)
	}
	return items, nil
}

// ListTitlesByStatus returns id/title pairs of items in the given statuses.
func (s *ContentStore) ListTitlesByStatus(ctx context.Context, statuses []string) ([]ContentItem, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	query, args, err := psql.
		Select("id", "title", "status").
		From("upkeep.content_items").
		Where(sq.Eq{"status": statuses}).
		OrderBy("id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build title query: %w", err)
	}

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list titles: %w", err)
	}
	defer rows.Close()

	var out []ContentItem
	for rows.Next() {
		var item ContentItem
		if err := rows.Scan(&item.ID, &item.Title, &item.Status); err != nil {
			return nil, fmt.Errorf("scan title row: %w", err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate title rows: %w", err)
	}
	return out, nil
}

// LockBatches row-locks the given batches until the surrounding transaction ends.
func (s *ContentStore) LockBatches(ctx context.Context, batchIDs []int64) ([]ScrapeBatch, error) {
	if len(batchIDs) == 0 {
		return nil, nil
	}

	query, args, err := psql.
		Select(batchColumns...).
		From("upkeep.scrape_batches").
		Where(sq.Eq{"id": batchIDs}).
		OrderBy("id ASC").
		Suffix("FOR UPDATE").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build batch lock query: %w", err)
	}

	batches, err := s.queryBatches(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("lock batches: %w", err)
	}
	return batches, nil
}

// NewBatch describes a scrape batch to insert.
type NewBatch struct {
	Name       string
	Source     string
	Status     string
	TotalItems int
}

// CreateBatch inserts one batch and returns the stored row.
func (s *ContentStore) CreateBatch(ctx context.Context, batch NewBatch, now time.Time) (ScrapeBatch, error) {
	name := strings.TrimSpace(batch.Name)
	if name == "" {
		return ScrapeBatch{}, fmt.Errorf("batch name is required")
	}
	status := strings.TrimSpace(batch.Status)
	if status == "" {
		status = BatchStatusPending
	}

	row := ScrapeBatch{
		BatchUUID:  uuid.NewString(),
		Name:       name,
		Source:     strings.TrimSpace(batch.Source),
		Status:     status,
		TotalItems: batch.TotalItems,
		CreatedAt:  now.UTC(),
		UpdatedAt:  now.UTC(),
	}

	query, args, err := psql.
		Insert("upkeep.scrape_batches").
		Columns("batch_uuid", "name", "source", "status", "total_items", "created_at", "updated_at").
		Values(row.BatchUUID, row.Name, row.Source, row.Status, row.TotalItems, row.CreatedAt, row.UpdatedAt).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return ScrapeBatch{}, fmt.Errorf("build batch insert: %w", err)
	}

	if err := s.q.QueryRow(ctx, query, args...).Scan(&row.ID); err != nil {
		return ScrapeBatch{}, fmt.Errorf("insert batch: %w", err)
	}
	return row, nil
}

// InsertContentItems inserts items into a batch and returns their ids in input order.
func (s *ContentStore) InsertContentItems(ctx context.Context, batchID int64, items []ContentItem, now time.Time) ([]int64, error) {
	if len(items) == 0 {
		return nil, nil
	}

	insert := psql.
		Insert("upkeep.content_items").
		Columns(
			"batch_id",
			"title",
			"link",
			"normalized_url",
			"content_hash",
			"summary",
			"source_type",
			"language",
			"status",
			"published_at",
			"created_at",
			"updated_at",
		)
	for _, item := range items {
		status := strings.TrimSpace(item.Status)
		if status == "" {
			status = ContentStatusPending
		}
		language := strings.TrimSpace(item.Language)
		if language == "" {
			language = "und"
		}
		insert = insert.Values(
			batchID,
			item.Title,
			item.Link,
			item.NormalizedURL,
			item.ContentHash,
			item.Summary,
			item.SourceType,
			language,
			status,
			item.PublishedAt,
			now.UTC(),
			now.UTC(),
		)
	}

	query, args, err := insert.Suffix("RETURNING id").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build content insert: %w", err)
	}

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("insert content items: %w", err)
	}
	defer rows.Close()

	ids := make([]int64, 0, len(items))
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan inserted id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate inserted ids: %w", err)
	}
	return ids, nil
}

// ReassignItemsToBatch moves the given items into batchID.
func (s *ContentStore) ReassignItemsToBatch(ctx context.Context, itemIDs []int64, batchID int64, now time.Time) (int64, error) {
	if len(itemIDs) == 0 {
		return 0, nil
	}

	query, args, err := psql.
		Update("upkeep.content_items").
		Set("batch_id", batchID).
		Set("updated_at", now.UTC()).
		Where(sq.Eq{"id": itemIDs}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build reassign statement: %w", err)
	}

	tag, err := s.q.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("reassign items to batch %d: %w", batchID, err)
	}
	return tag.RowsAffected(), nil
}

// DeleteItems permanently removes the given items.
func (s *ContentStore) DeleteItems(ctx context.Context, itemIDs []int64) (int64, error) {
	if len(itemIDs) == 0 {
		return 0, nil
	}

	query, args, err := psql.
		Delete("upkeep.content_items").
		Where(sq.Eq{"id": itemIDs}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build delete statement: %w", err)
	}

	tag, err := s.q.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete items: %w", err)
	}
	return tag.RowsAffected(), nil
}

// MarkBatchesStatus sets status on the given batches.
func (s *ContentStore) MarkBatchesStatus(ctx context.Context, batchIDs []int64, status string, now time.Time) (int64, error) {
	if len(batchIDs) == 0 {
		return 0, nil
	}
	trimmed := strings.TrimSpace(status)
	if trimmed == "" {
		return 0, fmt.Errorf("batch status is required")
	}

	query, args, err := psql.
		Update("upkeep.scrape_batches").
		Set("status", trimmed).
		Set("updated_at", now.UTC()).
		Where(sq.Eq{"id": batchIDs}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build batch status statement: %w", err)
	}

	tag, err := s.q.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("mark batches %s: %w", trimmed, err)
	}
	return tag.RowsAffected(), nil
}

// BatchSummary is a batch plus the number of items still pending in it.
type BatchSummary struct {
	ScrapeBatch
	PendingItems int
}

// ListBatches returns batches newest first, optionally filtered by status.
func (s *ContentStore) ListBatches(ctx context.Context, status string, limit int) ([]BatchSummary, error) {
	if limit <= 0 {
		limit = 50
	}

	selectCols := make([]string, 0, len(batchColumns)+1)
	for _, col := range batchColumns {
		selectCols = append(selectCols, "b."+col)
	}
	selectCols = append(selectCols, "COUNT(c.id) FILTER (WHERE c.status = 'pending')")

	builder := psql.
		Select(selectCols...).
		From("upkeep.scrape_batches b").
		LeftJoin("upkeep.content_items c ON c.batch_id = b.id").
		GroupBy("b.id").
		OrderBy("b.created_at DESC", "b.id DESC").
		Limit(uint64(limit))
	if trimmed := strings.TrimSpace(status); trimmed != "" {
		builder = builder.Where(sq.Eq{"b.status": trimmed})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build batch list query: %w", err)
	}

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	var out []BatchSummary
	for rows.Next() {
		var item BatchSummary
		if err := rows.Scan(
			&item.ID,
			&item.BatchUUID,
			&item.Name,
			&item.Source,
			&item.Status,
			&item.TotalItems,
			&item.CreatedAt,
			&item.UpdatedAt,
			&item.PendingItems,
		); err != nil {
			return nil, fmt.Errorf("scan batch summary: %w", err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batch summaries: %w", err)
	}
	return out, nil
}

func (s *ContentStore) queryContent(ctx context.Context, query string, args ...any) ([]ContentItem, error) {
	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ContentItem
	for rows.Next() {
		var item ContentItem
		if err := rows.Scan(
			&item.ID,
			&item.BatchID,
			&item.Title,
			&item.Link,
			&item.NormalizedURL,
			&item.ContentHash,
			&item.Summary,
			&item.SourceType,
			&item.Language,
			&item.Status,
			&item.PublishedAt,
			&item.CreatedAt,
			&item.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan content row: %w", err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate content rows: %w", err)
	}
	return out, nil
}

func (s *ContentStore) queryBatches(ctx context.Context, query string, args ...any) ([]ScrapeBatch, error) {
	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ScrapeBatch
	for rows.Next() {
		var batch ScrapeBatch
		if err := rows.Scan(
			&batch.ID,
			&batch.BatchUUID,
			&batch.Name,
			&batch.Source,
			&batch.Status,
			&batch.TotalItems,
			&batch.CreatedAt,
			&batch.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan batch row: %w", err)
		}
		out = append(out, batch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batch rows: %w", err)
	}
	return out, nil
}
