// Package urlcheck answers "is this link already in the system?" before an
// admin adds a single URL by hand.
package urlcheck

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"horse.fit/upkeep/internal/db"
	"horse.fit/upkeep/internal/normalize"
	"horse.fit/upkeep/internal/reader"
	"horse.fit/upkeep/internal/similarity"
)

var ErrInvalidURL = errors.New("url must be an absolute http(s) URL")

var titleStatuses = []string{
	db.ContentStatusAccepted,
	db.ContentStatusDiscarded,
	db.ContentStatusPending,
	db.ContentStatusSavedForNext,
}

type Store interface {
	FindByNormalizedURL(ctx context.Context, normalizedURL, link string) ([]db.ContentItem, error)
	ListTitlesByStatus(ctx context.Context, statuses []string) ([]db.ContentItem, error)
}

type PageFetcher interface {
	Fetch(ctx context.Context, pageURL string) (reader.Page, error)
}

type Request struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

type Match struct {
	ItemID int64  `json:"item_id"`
	Title  string `json:"title"`
	Status string `json:"status"`
}

type Report struct {
	URL           string  `json:"url"`
	NormalizedURL string  `json:"normalized_url"`
	Title         string  `json:"title,omitempty"`
	TitleSource   string  `json:"title_source,omitempty"`
	Duplicate     bool    `json:"duplicate"`
	URLMatches    []Match `json:"url_matches"`
	SimilarTitle  *Match  `json:"similar_title,omitempty"`
}

type Checker struct {
	store     Store
	fetcher   PageFetcher
	logger    zerolog.Logger
	threshold float64
}

// NewChecker builds a Checker. fetcher may be nil, in which case titles are
// only compared when the caller supplies one.
func NewChecker(store Store, fetcher PageFetcher, logger zerolog.Logger, threshold float64) *Checker {
	if threshold <= 0 || threshold > 1 {
		threshold = similarity.DefaultTitleThreshold
	}
	return &Checker{store: store, fetcher: fetcher, logger: logger, threshold: threshold}
}

func (c *Checker) Check(ctx context.Context, req Request) (Report, error) {
	if c == nil || c.store == nil {
		return Report{}, fmt.Errorf("url checker is not initialized")
	}

	rawURL := strings.TrimSpace(req.URL)
	normalized := normalize.URL(rawURL)
	if normalized == "" {
		return Report{}, ErrInvalidURL
	}

	report := Report{
		URL:           rawURL,
		NormalizedURL: normalized,
		Title:         strings.TrimSpace(req.Title),
		URLMatches:    make([]Match, 0),
	}
	if report.Title != "" {
		report.TitleSource = "request"
	}

	lookups := [][2]string{{normalized, rawURL}}
	if report.Title == "" && c.fetcher != nil {
		page, err := c.fetcher.Fetch(ctx, rawURL)
		if err != nil {
			c.logger.Warn().Err(err).Str("url", rawURL).Msg("fetch page title failed")
		} else {
			report.Title = strings.TrimSpace(page.Title)
			if report.Title != "" {
				report.TitleSource = "page"
			}
			if canonical := normalize.URL(page.CanonicalURL); canonical != "" && canonical != normalized {
				lookups = append(lookups, [2]string{canonical, page.CanonicalURL})
			}
		}
	}

	seen := map[int64]struct{}{}
	for _, lookup := range lookups {
		items, err := c.store.FindByNormalizedURL(ctx, lookup[0], lookup[1])
		if err != nil {
			return Report{}, fmt.Errorf("look up url: %w", err)
		}
		for _, item := range items {
			if _, ok := seen[item.ID]; ok {
				continue
			}
			seen[item.ID] = struct{}{}
			report.URLMatches = append(report.URLMatches, Match{ItemID: item.ID, Title: item.Title, Status: item.Status})
		}
	}

	if report.Title != "" {
		items, err := c.store.ListTitlesByStatus(ctx, titleStatuses)
		if err != nil {
			return Report{}, fmt.Errorf("list titles: %w", err)
		}
		lowered := make([]string, 0, len(items))
		for _, item := range items {
			lowered = append(lowered, strings.ToLower(item.Title))
		}
		if match, ok := similarity.FindSimilarTitle(report.Title, lowered, c.threshold); ok {
			for i, candidate := range lowered {
				if candidate == match {
					report.SimilarTitle = &Match{ItemID: items[i].ID, Title: items[i].Title, Status: items[i].Status}
					break
				}
			}
		}
	}

	report.Duplicate = len(report.URLMatches) > 0 || report.SimilarTitle != nil
	return report, nil
}
