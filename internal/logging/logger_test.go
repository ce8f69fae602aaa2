package logging

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestNewWithWriterTagsServiceAndHonorsLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger, err := NewWithWriter(&buf, "production", "warn")
	if err != nil {
		t.Fatalf("NewWithWriter returned error: %v", err)
	}

	logger.Info().Msg("dropped")
	if buf.Len() != 0 {
		t.Fatalf("expected info line to be filtered at warn level, got %q", buf.String())
	}

	logger.Warn().Msg("kept")
	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected JSON log line, got %q: %v", buf.String(), err)
	}
	if line["service"] != "upkeep" {
		t.Fatalf("unexpected service field: %v", line["service"])
	}
	if line["message"] != "kept" {
		t.Fatalf("unexpected message field: %v", line["message"])
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	t.Parallel()

	if _, err := New("local", "loud"); err == nil {
		t.Fatalf("expected error for unknown log level")
	}
}
