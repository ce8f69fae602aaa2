// Package reader fetches a page and extracts the title and canonical link
// used by the URL-add duplicate check.
package reader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "codeberg.org/readeck/go-readability/v2"
	"github.com/PuerkitoBio/goquery"
)

const (
	DefaultFetchTimeout  = 12 * time.Second
	DefaultBodyByteLimit = 2 * 1024 * 1024

	defaultUserAgent = "upkeep-reader/1.0"
)

// FetchOptions controls HTTP behavior for page extraction.
type FetchOptions struct {
	Timeout       time.Duration
	BodyByteLimit int64
	UserAgent     string
	HTTPClient    *http.Client
}

// Page is what could be extracted from one URL.
type Page struct {
	URL          string `json:"url"`
	CanonicalURL string `json:"canonical_url,omitempty"`
	Title        string `json:"title"`
	Excerpt      string `json:"excerpt,omitempty"`
	Text         string `json:"-"`
}

// Fetcher fetches pages with fixed options.
type Fetcher struct {
	opts FetchOptions
}

func NewFetcher(opts FetchOptions) *Fetcher {
	return &Fetcher{opts: opts}
}

func (f *Fetcher) Fetch(ctx context.Context, pageURL string) (Page, error) {
	return FetchPage(ctx, pageURL, f.opts)
}

// FetchPage downloads pageURL and extracts its title. The title prefers
// og:title, then the readability title, then <title>.
func FetchPage(ctx context.Context, pageURL string, opts FetchOptions) (Page, error) {
	page := strings.TrimSpace(pageURL)
	if page == "" {
		return Page{}, fmt.Errorf("page URL is required")
	}
	parsedURL, err := url.Parse(page)
	if err != nil || (parsedURL.Scheme != "http" && parsedURL.Scheme != "https") || parsedURL.Host == "" {
		return Page{}, fmt.Errorf("page URL must be an absolute http(s) URL")
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}

	bodyLimit := opts.BodyByteLimit
	if bodyLimit <= 0 {
		bodyLimit = DefaultBodyByteLimit
	}

	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, page, nil)
	if err != nil {
		return Page{}, fmt.Errorf("build request: %w", err)
	}

	userAgent := strings.TrimSpace(opts.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.8")

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}

	resp, err := client.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("fetch url: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Page{}, fmt.Errorf("fetch status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, bodyLimit))
	if err != nil {
		return Page{}, fmt.Errorf("read body: %w", err)
	}

	out := Page{URL: page}
	contentType := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Type")))
	if strings.HasPrefix(contentType, "text/plain") {
		out.Text = CleanText(string(body))
		out.Excerpt, _ = TruncateText(out.Text, 280)
		return out, nil
	}

	// resp.Request.URL is the final URL after redirects.
	baseURL := parsedURL
	if resp.Request != nil && resp.Request.URL != nil {
		baseURL = resp.Request.URL
	}

	meta, err := parseMeta(body, baseURL)
	if err != nil {
		return Page{}, err
	}
	out.CanonicalURL = meta.canonical

	article, err := readability.FromReader(bytes.NewReader(body), baseURL)
	if err == nil {
		var renderedText bytes.Buffer
		if err := article.RenderText(&renderedText); err == nil {
			out.Text = CleanText(renderedText.String())
		}
		out.Excerpt = CleanText(article.Excerpt())
		out.Title = firstNonEmpty(meta.ogTitle, CleanText(article.Title()))
	}
	if out.Title == "" {
		out.Title = firstNonEmpty(meta.ogTitle, meta.title)
	}
	if out.Excerpt == "" {
		out.Excerpt, _ = TruncateText(out.Text, 280)
	}

	return out, nil
}

type pageMeta struct {
	title     string
	ogTitle   string
	canonical string
}

func parseMeta(body []byte, base *url.URL) (pageMeta, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return pageMeta{}, fmt.Errorf("parse html: %w", err)
	}

	meta := pageMeta{
		title: CleanText(doc.Find("head title").First().Text()),
	}
	if content, ok := doc.Find(`meta[property="og:title"]`).First().Attr("content"); ok {
		meta.ogTitle = CleanText(content)
	}
	if href, ok := doc.Find(`link[rel="canonical"]`).First().Attr("href"); ok {
		if ref, err := url.Parse(strings.TrimSpace(href)); err == nil && strings.TrimSpace(href) != "" {
			meta.canonical = base.ResolveReference(ref).String()
		}
	}
	return meta, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// CleanText normalizes line endings and collapses extra in-line whitespace.
func CleanText(raw string) string {
	normalized := strings.ReplaceAll(raw, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")

	lines := strings.Split(normalized, "\n")
	paragraphs := make([]string, 0, len(lines))
	for _, line := range lines {
		clean := strings.Join(strings.Fields(strings.TrimSpace(line)), " ")
		if clean == "" {
			continue
		}
		paragraphs = append(paragraphs, clean)
	}

	return strings.TrimSpace(strings.Join(paragraphs, "\n\n"))
}

// TruncateText clips text to maxChars runes and appends a single ellipsis rune when truncated.
func TruncateText(raw string, maxChars int) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", false
	}
	if maxChars <= 0 {
		return trimmed, false
	}

	runes := []rune(trimmed)
	if len(runes) <= maxChars {
		return trimmed, false
	}
	if maxChars == 1 {
		return "…", true
	}

	clipped := strings.TrimSpace(string(runes[:maxChars-1]))
	if clipped == "" {
		return "…", true
	}

	return clipped + "…", true
}
