package urlcheck

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"horse.fit/upkeep/internal/db"
	"horse.fit/upkeep/internal/reader"
)

type fakeStore struct {
	byURL       map[string][]db.ContentItem
	titles      []db.ContentItem
	lookups     []string
	titleCalls  int
	lookupError error
}

func (s *fakeStore) FindByNormalizedURL(_ context.Context, normalizedURL, link string) ([]db.ContentItem, error) {
	s.lookups = append(s.lookups, normalizedURL)
	if s.lookupError != nil {
		return nil, s.lookupError
	}
	return s.byURL[normalizedURL], nil
}

func (s *fakeStore) ListTitlesByStatus(_ context.Context, _ []string) ([]db.ContentItem, error) {
	s.titleCalls++
	return s.titles, nil
}

type fakeFetcher struct {
	page reader.Page
	err  error
}

func (f fakeFetcher) Fetch(context.Context, string) (reader.Page, error) {
	return f.page, f.err
}

func TestCheckFindsNormalizedURLMatch(t *testing.T) {
	t.Parallel()

	store := &fakeStore{byURL: map[string][]db.ContentItem{
		"https://example.com/post": {{ID: 7, Title: "Post", Status: db.ContentStatusAccepted}},
	}}
	checker := NewChecker(store, nil, zerolog.Nop(), 0)

	report, err := checker.Check(context.Background(), Request{URL: "https://WWW.example.com/post/?utm_source=newsletter"})
	if err != nil {
		t.Fatalf("Check returned error: %v", err)
	}
	if !report.Duplicate || len(report.URLMatches) != 1 || report.URLMatches[0].Status != db.ContentStatusAccepted {
		t.Fatalf("expected accepted url match, got %+v", report)
	}
	if store.titleCalls != 0 {
		t.Fatalf("titles must not be loaded without a title")
	}
}

func TestCheckSimilarTitleFromRequest(t *testing.T) {
	t.Parallel()

	store := &fakeStore{titles: []db.ContentItem{
		{ID: 1, Title: "Intro to Kubernetes", Status: db.ContentStatusPending},
		{ID: 2, Title: "Understanding Distributed System", Status: db.ContentStatusDiscarded},
	}}
	checker := NewChecker(store, nil, zerolog.Nop(), 0.85)

	report, err := checker.Check(context.Background(), Request{URL: "https://new.example/a", Title: "Understanding Distributed Systems"})
	if err != nil {
		t.Fatalf("Check returned error: %v", err)
	}
	if !report.Duplicate || report.SimilarTitle == nil || report.SimilarTitle.ItemID != 2 {
		t.Fatalf("expected similar title match on item 2, got %+v", report)
	}
	if report.TitleSource != "request" {
		t.Fatalf("unexpected title source: %q", report.TitleSource)
	}
}

func TestCheckUsesFetchedTitleAndCanonical(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		byURL: map[string][]db.ContentItem{
			"https://blog.example/canonical": {{ID: 9, Title: "Canonical", Status: db.ContentStatusPending}},
		},
		titles: []db.ContentItem{{ID: 3, Title: "Something else entirely", Status: db.ContentStatusAccepted}},
	}
	fetcher := fakeFetcher{page: reader.Page{Title: "Fresh Post", CanonicalURL: "https://blog.example/canonical"}}
	checker := NewChecker(store, fetcher, zerolog.Nop(), 0)

	report, err := checker.Check(context.Background(), Request{URL: "https://blog.example/amp/fresh"})
	if err != nil {
		t.Fatalf("Check returned error: %v", err)
	}
	if report.Title != "Fresh Post" || report.TitleSource != "page" {
		t.Fatalf("expected fetched title, got %+v", report)
	}
	if len(store.lookups) != 2 || len(report.URLMatches) != 1 || report.URLMatches[0].ItemID != 9 {
		t.Fatalf("expected canonical lookup match, got lookups=%v report=%+v", store.lookups, report)
	}
	if report.SimilarTitle != nil {
		t.Fatalf("unexpected similar title: %+v", report.SimilarTitle)
	}
}

func TestCheckToleratesFetchFailure(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	checker := NewChecker(store, fakeFetcher{err: errors.New("timeout")}, zerolog.Nop(), 0)

	report, err := checker.Check(context.Background(), Request{URL: "https://example.com/x"})
	if err != nil {
		t.Fatalf("Check returned error: %v", err)
	}
	if report.Duplicate || report.Title != "" {
		t.Fatalf("expected clean report, got %+v", report)
	}
}

func TestCheckErrors(t *testing.T) {
	t.Parallel()

	checker := NewChecker(&fakeStore{}, nil, zerolog.Nop(), 0)
	if _, err := checker.Check(context.Background(), Request{URL: "not a url"}); !errors.Is(err, ErrInvalidURL) {
		t.Fatalf("expected ErrInvalidURL, got %v", err)
	}

	failing := NewChecker(&fakeStore{lookupError: errors.New("db down")}, nil, zerolog.Nop(), 0)
	if _, err := failing.Check(context.Background(), Request{URL: "https://example.com"}); err == nil {
		t.Fatalf("expected store error to propagate")
	}
}
