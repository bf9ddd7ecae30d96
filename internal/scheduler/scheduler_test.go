package scheduler

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadEntriesMissingFileFallsBack(t *testing.T) {
	entries, err := LoadEntries(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 builtins, got %d", len(entries))
	}
	if entries[0].Job != "ingest:all" || entries[1].Job != "metrics:recompute-all" {
		t.Errorf("unexpected builtins: %+v", entries)
	}
}

func TestLoadEntriesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedules.yaml")
	content := `schedules:
  - name: hourly-ingest
    cron: "0 * * * *"
    queue: ingest
    job: ingest:all
    payload:
      source: shopify
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	entries, err := LoadEntries(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Name != "hourly-ingest" || e.Cron != "0 * * * *" || e.Queue != "ingest" {
		t.Errorf("bad entry: %+v", e)
	}
	if e.Payload["source"] != "shopify" {
		t.Errorf("payload not parsed: %v", e.Payload)
	}
}

func TestLoadEntriesRejectsIncompleteLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedules.yaml")
	content := `schedules:
  - name: broken
    cron: "0 * * * *"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadEntries(path); err == nil {
		t.Fatal("expected error for schedule missing queue/job")
	}
}
