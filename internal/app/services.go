package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"horse.fit/upkeep/internal/config"
	"horse.fit/upkeep/internal/db"
	"horse.fit/upkeep/internal/ingest"
	"horse.fit/upkeep/internal/merge"
	"horse.fit/upkeep/internal/mergelock"
	"horse.fit/upkeep/internal/metrics"
	"horse.fit/upkeep/internal/reader"
	"horse.fit/upkeep/internal/urlcheck"
)

// openLocker returns the redis merge lock when REDIS_URL is set, otherwise a
// no-op locker. The close func is always safe to call.
func openLocker(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (mergelock.Locker, func(), error) {
	redisURL := strings.TrimSpace(cfg.RedisURL)
	if redisURL == "" {
		logger.Debug().Msg("REDIS_URL not set, merge lock disabled")
		return mergelock.NopLocker{}, func() {}, nil
	}

	locker, err := mergelock.NewRedisLockerFromURL(ctx, redisURL, cfg.MergeLockTTL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect merge lock: %w", err)
	}
	closeFn := func() {
		if err := locker.Close(); err != nil {
			logger.Warn().Err(err).Msg("close merge lock client failed")
		}
	}
	return locker, closeFn, nil
}

func newMergeService(pool *db.Pool, cfg *config.Config, locker mergelock.Locker, m *metrics.Merge, logger zerolog.Logger) *merge.Service {
	return merge.NewService(merge.NewPoolStore(pool), merge.Options{
		Locker:    locker,
		Metrics:   m,
		Logger:    logger,
		Threshold: cfg.TitleSimilarityThreshold,
	})
}

func newIngestService(pool *db.Pool, m *metrics.Ingest, logger zerolog.Logger) *ingest.Service {
	return ingest.NewService(ingest.NewPoolStore(pool), logger, m)
}

func newChecker(pool *db.Pool, cfg *config.Config, logger zerolog.Logger, fetch bool) *urlcheck.Checker {
	var fetcher urlcheck.PageFetcher
	if fetch {
		fetcher = reader.NewFetcher(reader.FetchOptions{
			Timeout:   cfg.ReaderTimeout,
			UserAgent: cfg.ReaderUserAgent,
		})
	}
	return urlcheck.NewChecker(pool.Content(), fetcher, logger, cfg.TitleSimilarityThreshold)
}
