// Package dedup decides whether a pending content item duplicates something
// already reviewed or something kept earlier in the same merge pass.
package dedup

import (
	"strings"

	"horse.fit/upkeep/internal/similarity"
)

// Reason explains why a candidate was removed.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonAlreadyReviewed  Reason = "already reviewed"
	ReasonDuplicateInBatch Reason = "duplicate in batches"
	ReasonSimilarTitle     Reason = "similar title to reviewed item"
)

// Counter names the merge statistic a removal is charged to.
type Counter string

const (
	CounterNone                    Counter = ""
	CounterDuplicatesWithinBatches Counter = "duplicates_within_batches"
	CounterAlreadyAccepted         Counter = "already_accepted"
	CounterAlreadyRejected         Counter = "already_rejected"
)

// Rule identifies which check matched.
type Rule string

const (
	RuleNone         Rule = ""
	RuleReviewedURL  Rule = "reviewed_url"
	RuleReviewedHash Rule = "reviewed_hash"
	RuleSeenURL      Rule = "seen_url"
	RuleSeenHash     Rule = "seen_hash"
	RuleSimilarTitle Rule = "similar_title"
)

// Candidate is a pending content item under evaluation.
type Candidate struct {
	ID          int64
	Title       string
	Link        string
	ContentHash string
}

// Reviewed is an accepted or discarded content item anywhere in the store.
type Reviewed struct {
	Link        string
	ContentHash string
	Title       string
	Accepted    bool
}

// Decision is the outcome for one candidate.
type Decision struct {
	Keep    bool
	Reason  Reason
	Counter Counter
	Rule    Rule
}

// Index holds the lookup sets for one merge pass. It is not safe for
// concurrent use; candidates must be classified sequentially in store order.
type Index struct {
	threshold float64

	reviewedURLs   map[string]bool // link -> any reviewed row with this link is accepted
	reviewedHashes map[string]struct{}
	reviewedTitles []string

	seenURLs   map[string]struct{}
	seenHashes map[string]struct{}
}

// NewIndex builds the lookup sets from the reviewed items. A threshold <= 0
// falls back to similarity.DefaultTitleThreshold.
func NewIndex(reviewed []Reviewed, threshold float64) *Index {
	if threshold <= 0 {
		threshold = similarity.DefaultTitleThreshold
	}

	ix := &Index{
		threshold:      threshold,
		reviewedURLs:   make(map[string]bool, len(reviewed)),
		reviewedHashes: make(map[string]struct{}, len(reviewed)),
		reviewedTitles: make([]string, 0, len(reviewed)),
		seenURLs:       make(map[string]struct{}),
		seenHashes:     make(map[string]struct{}),
	}

	for _, item := range reviewed {
		if item.Link != "" {
			ix.reviewedURLs[item.Link] = ix.reviewedURLs[item.Link] || item.Accepted
		}
		if item.ContentHash != "" {
			ix.reviewedHashes[item.ContentHash] = struct{}{}
		}
		ix.reviewedTitles = append(ix.reviewedTitles, strings.ToLower(item.Title))
	}

	return ix
}

// Classify applies the duplicate rules in priority order. The first match wins:
//
//  1. link of a reviewed item
//  2. content hash of a reviewed item (always charged as rejected)
//  3. link already kept in this pass
//  4. content hash already kept in this pass
//  5. title similar to a reviewed title
//
// A kept candidate's link and hash are recorded so later candidates see them.
// Removed candidates never populate the seen sets.
func (ix *Index) Classify(c Candidate) Decision {
	if c.Link != "" {
		if accepted, ok := ix.reviewedURLs[c.Link]; ok {
			counter := CounterAlreadyRejected
			if accepted {
				counter = CounterAlreadyAccepted
			}
			return removed(ReasonAlreadyReviewed, counter, RuleReviewedURL)
		}
	}

	if c.ContentHash != "" {
		if _, ok := ix.reviewedHashes[c.ContentHash]; ok {
			return removed(ReasonAlreadyReviewed, CounterAlreadyRejected, RuleReviewedHash)
		}
	}

	if c.Link != "" {
		if _, ok := ix.seenURLs[c.Link]; ok {
			return removed(ReasonDuplicateInBatch, CounterDuplicatesWithinBatches, RuleSeenURL)
		}
	}

	if c.ContentHash != "" {
		if _, ok := ix.seenHashes[c.ContentHash]; ok {
			return removed(ReasonDuplicateInBatch, CounterDuplicatesWithinBatches, RuleSeenHash)
		}
	}

	if similarity.IsSimilarTitle(c.Title, ix.reviewedTitles, ix.threshold) {
		return removed(ReasonSimilarTitle, CounterAlreadyRejected, RuleSimilarTitle)
	}

	if c.Link != "" {
		ix.seenURLs[c.Link] = struct{}{}
	}
	if c.ContentHash != "" {
		ix.seenHashes[c.ContentHash] = struct{}{}
	}
	return Decision{Keep: true}
}

func removed(reason Reason, counter Counter, rule Rule) Decision {
	return Decision{
		Keep:    false,
		Reason:  reason,
		Counter: counter,
		Rule:    rule,
	}
}
