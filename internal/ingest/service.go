// Package ingest turns a scrape-batch payload into one pending batch of
// pending content items.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/upkeep/internal/db"
	"horse.fit/upkeep/internal/globaltime"
	"horse.fit/upkeep/internal/langdetect"
	"horse.fit/upkeep/internal/metrics"
	"horse.fit/upkeep/internal/normalize"
	"horse.fit/upkeep/internal/schema"
)

// ErrInvalidPayload wraps every payload validation failure.
var ErrInvalidPayload = errors.New("invalid scrape batch payload")

const defaultSourceType = "other"

type TxStore interface {
	CreateBatch(ctx context.Context, batch db.NewBatch, now time.Time) (db.ScrapeBatch, error)
	InsertContentItems(ctx context.Context, batchID int64, items []db.ContentItem, now time.Time) ([]int64, error)
}

type Store interface {
	InTx(ctx context.Context, fn func(tx TxStore) error) error
}

type poolStore struct {
	pool *db.Pool
}

func NewPoolStore(pool *db.Pool) Store {
	return &poolStore{pool: pool}
}

func (s *poolStore) InTx(ctx context.Context, fn func(tx TxStore) error) error {
	return s.pool.InContentTx(ctx, func(store *db.ContentStore) error {
		return fn(store)
	})
}

// DetectFunc returns a language code for the given text parts.
type DetectFunc func(parts ...string) string

type Service struct {
	store   Store
	logger  zerolog.Logger
	metrics *metrics.Ingest
	detect  DetectFunc
}

type Result struct {
	Batch       db.ScrapeBatch `json:"batch"`
	ItemIDs     []int64        `json:"item_ids"`
	WithoutLink int            `json:"without_link"`
}

func NewService(store Store, logger zerolog.Logger, m *metrics.Ingest) *Service {
	return &Service{
		store:   store,
		logger:  logger,
		metrics: m,
		detect:  langdetect.DetectOrUndetermined,
	}
}

// WithDetector replaces the language detector.
func (s *Service) WithDetector(detect DetectFunc) *Service {
	if detect != nil {
		s.detect = detect
	}
	return s
}

// IngestPayload validates raw JSON and ingests it.
func (s *Service) IngestPayload(ctx context.Context, payload []byte) (Result, error) {
	batch, err := schema.ValidateScrapeBatch(payload)
	if err != nil {
		s.metrics.ObserveBatch(metrics.OutcomeInvalid, 0)
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return s.IngestBatch(ctx, batch)
}

// IngestBatch stores a validated batch and its items in one transaction.
func (s *Service) IngestBatch(ctx context.Context, batch *schema.ScrapeBatch) (Result, error) {
	if s == nil || s.store == nil {
		return Result{}, fmt.Errorf("ingest service is not initialized")
	}
	if batch == nil || len(batch.Items) == 0 {
		s.metrics.ObserveBatch(metrics.OutcomeInvalid, 0)
		return Result{}, fmt.Errorf("%w: batch has no items", ErrInvalidPayload)
	}

	items := make([]db.ContentItem, 0, len(batch.Items))
	withoutLink := 0
	for _, raw := range batch.Items {
		item := s.buildItem(raw)
		if item.Link == nil {
			withoutLink++
		}
		items = append(items, item)
	}

	var out Result
	err := s.store.InTx(ctx, func(tx TxStore) error {
		now := globaltime.UTC()
		created, err := tx.CreateBatch(ctx, db.NewBatch{
			Name:       batch.Name,
			Source:     batch.Source,
			Status:     db.BatchStatusPending,
			TotalItems: len(items),
		}, now)
		if err != nil {
			return fmt.Errorf("create batch: %w", err)
		}

		ids, err := tx.InsertContentItems(ctx, created.ID, items, now)
		if err != nil {
			return fmt.Errorf("insert items: %w", err)
		}
		if len(ids) != len(items) {
			return fmt.Errorf("insert items: stored %d of %d rows", len(ids), len(items))
		}

		out = Result{Batch: created, ItemIDs: ids, WithoutLink: withoutLink}
		return nil
	})
	if err != nil {
		s.metrics.ObserveBatch(metrics.OutcomeError, 0)
		s.logger.Error().Err(err).Str("batch_name", batch.Name).Msg("ingest failed")
		return Result{}, err
	}

	s.metrics.ObserveBatch(metrics.OutcomeSuccess, len(out.ItemIDs))
	s.logger.Info().
		Int64("batch_id", out.Batch.ID).
		Str("source", out.Batch.Source).
		Int("items", len(out.ItemIDs)).
		Int("without_link", withoutLink).
		Msg("scrape batch ingested")
	return out, nil
}

func (s *Service) buildItem(raw schema.ScrapeItem) db.ContentItem {
	title := strings.TrimSpace(raw.Title)
	summary := strings.TrimSpace(derefString(raw.Summary))

	item := db.ContentItem{
		Title:       title,
		Summary:     summary,
		SourceType:  defaultSourceType,
		Status:      db.ContentStatusPending,
		PublishedAt: raw.Published,
	}
	if sourceType := strings.TrimSpace(derefString(raw.SourceType)); sourceType != "" {
		item.SourceType = sourceType
	}
	if link := strings.TrimSpace(derefString(raw.Link)); link != "" {
		item.Link = &link
		if normalized := normalize.URL(link); normalized != "" {
			item.NormalizedURL = &normalized
		}
	}
	if hash := normalize.ContentHash(title, summary); hash != "" {
		item.ContentHash = &hash
	}

	if language := strings.ToLower(strings.TrimSpace(derefString(raw.Language))); language != "" {
		item.Language = language
	} else {
		item.Language = s.detect(title, summary)
	}
	return item
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
