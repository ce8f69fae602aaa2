package reader

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const articleHTML = `<!doctype html>
<html>
<head>
  <title>Fallback title | Example Blog</title>
  <meta property="og:title" content="  Understanding   Distributed Systems ">
  <link rel="canonical" href="/posts/distributed-systems">
</head>
<body>
  <article>
    <h1>Understanding Distributed Systems</h1>
    <p>Distributed systems are collections of independent computers that appear to their users as a single coherent system.
    This post walks through replication, consensus, and the failure modes you meet when the network misbehaves.</p>
    <p>We start with the basics of message passing and build up to leader election, quorum reads, and idempotent writes.</p>
  </article>
</body>
</html>`

func TestFetchPageExtractsTitleAndCanonical(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "upkeep-test" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(articleHTML))
	}))
	defer srv.Close()

	page, err := FetchPage(context.Background(), srv.URL+"/p?id=1", FetchOptions{UserAgent: "upkeep-test"})
	if err != nil {
		t.Fatalf("FetchPage returned error: %v", err)
	}
	if page.Title != "Understanding Distributed Systems" {
		t.Fatalf("unexpected title: %q", page.Title)
	}
	if page.CanonicalURL != srv.URL+"/posts/distributed-systems" {
		t.Fatalf("unexpected canonical url: %q", page.CanonicalURL)
	}
}

func TestFetchPagePlainText(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("  line one \r\n\r\n line   two "))
	}))
	defer srv.Close()

	page, err := FetchPage(context.Background(), srv.URL, FetchOptions{})
	if err != nil {
		t.Fatalf("FetchPage returned error: %v", err)
	}
	if page.Title != "" || page.Text != "line one\n\nline two" {
		t.Fatalf("unexpected plain text page: %+v", page)
	}
}

func TestFetchPageErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	if _, err := FetchPage(context.Background(), srv.URL, FetchOptions{}); err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("expected status error, got %v", err)
	}
	for _, raw := range []string{"", "notaurl", "ftp://example.com/file"} {
		if _, err := FetchPage(context.Background(), raw, FetchOptions{}); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestCleanTextCollapsesWhitespaceAndPreservesParagraphs(t *testing.T) {
	input := "  First   paragraph \n\n Second\tparagraph \r\n\r\nThird line "
	got := CleanText(input)
	want := "First paragraph\n\nSecond paragraph\n\nThird line"
	if got != want {
		t.Fatalf("CleanText mismatch\nwant: %q\ngot:  %q", want, got)
	}
}

func TestTruncateText(t *testing.T) {
	got, truncated := TruncateText("abcdefghijklmnopqrstuvwxyz", 10)
	if !truncated {
		t.Fatalf("expected truncated=true")
	}
	if got != "abcdefghi…" {
		t.Fatalf("unexpected truncated text: %q", got)
	}

	full, wasTruncated := TruncateText("short", 10)
	if wasTruncated || full != "short" {
		t.Fatalf("unexpected short text: %q truncated=%v", full, wasTruncated)
	}
}
