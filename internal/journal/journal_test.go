package journal

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestAppendWritesOneLinePerEntry(t *testing.T) {
	dir := t.TempDir()
	clock := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	writer, err := NewWriter(dir, false, func() time.Time { return clock })
	if err != nil {
		t.Fatalf("NewWriter returned error: %v", err)
	}
	defer writer.Close()

	if err := writer.Append("D1", "location", map[string]any{"lat": -6.2}); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if err := writer.Append("D1", "route", map[string]any{"distance": 12.5}); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	path := filepath.Join(dir, "D1", "2026-08-30.jsonl")
	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("expected day file: %v", err)
	}
	defer file.Close()

	var kinds []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var line struct {
			At   string          `json:"at"`
			Kind string          `json:"kind"`
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			t.Fatalf("invalid JSON line: %v", err)
		}
		if line.At == "" {
			t.Fatal("entries must carry a timestamp")
		}
		kinds = append(kinds, line.Kind)
	}
	if len(kinds) != 2 || kinds[0] != "location" || kinds[1] != "route" {
		t.Fatalf("unexpected kinds: %v", kinds)
	}
}

func TestAppendRollsFileOnDayChange(t *testing.T) {
	dir := t.TempDir()
	clock := time.Date(2026, 8, 30, 23, 59, 0, 0, time.UTC)
	writer, err := NewWriter(dir, false, func() time.Time { return clock })
	if err != nil {
		t.Fatalf("NewWriter returned error: %v", err)
	}
	defer writer.Close()

	writer.Append("D1", "location", 1)
	clock = clock.Add(2 * time.Minute)
	writer.Append("D1", "location", 2)

	for _, day := range []string{"2026-08-30", "2026-08-31"} {
		if _, err := os.Stat(filepath.Join(dir, "D1", day+".jsonl")); err != nil {
			t.Fatalf("expected file for %s: %v", day, err)
		}
	}
}

func TestAppendSanitisesDeviceNames(t *testing.T) {
	dir := t.TempDir()
	writer, err := NewWriter(dir, false, nil)
	if err != nil {
		t.Fatalf("NewWriter returned error: %v", err)
	}
	defer writer.Close()

	if err := writer.Append("../escape/..", "location", 1); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read journal dir: %v", err)
	}
	for _, entry := range entries {
		if strings.Contains(entry.Name(), "..") {
			t.Fatalf("unsanitised directory %q", entry.Name())
		}
	}
}

func TestCompressedSinksCarrySuffix(t *testing.T) {
	dir := t.TempDir()
	clock := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	writer, err := NewWriter(dir, true, func() time.Time { return clock })
	if err != nil {
		t.Fatalf("NewWriter returned error: %v", err)
	}
	writer.Append("D1", "location", 1)
	if err := writer.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "D1", "2026-08-30.jsonl.sz")); err != nil {
		t.Fatalf("expected snappy day file: %v", err)
	}
}

func TestArchiveClosedCompressesPastDaysOnly(t *testing.T) {
	dir := t.TempDir()
	clock := time.Date(2026, 8, 30, 23, 0, 0, 0, time.UTC)
	writer, err := NewWriter(dir, false, func() time.Time { return clock })
	if err != nil {
		t.Fatalf("NewWriter returned error: %v", err)
	}
	defer writer.Close()

	writer.Append("D1", "location", 1)
	clock = clock.Add(2 * time.Hour)
	writer.Append("D1", "location", 2)

	archived, err := writer.ArchiveClosed()
	if err != nil {
		t.Fatalf("archive failed: %v", err)
	}
	if archived != 1 {
		t.Fatalf("expected one archived file, got %d", archived)
	}
	if _, err := os.Stat(filepath.Join(dir, "D1", "2026-08-30.jsonl.zst")); err != nil {
		t.Fatalf("expected archive: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "D1", "2026-08-30.jsonl")); !os.IsNotExist(err) {
		t.Fatal("original must be removed after archiving")
	}
	if _, err := os.Stat(filepath.Join(dir, "D1", "2026-08-31.jsonl")); err != nil {
		t.Fatalf("current day must stay untouched: %v", err)
	}
}

func TestSweepOlderThanRemovesExpiredArchives(t *testing.T) {
	dir := t.TempDir()
	clock := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	writer, err := NewWriter(dir, false, func() time.Time { return clock })
	if err != nil {
		t.Fatalf("NewWriter returned error: %v", err)
	}
	defer writer.Close()

	deviceDir := filepath.Join(dir, "D1")
	if err := os.MkdirAll(deviceDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for _, name := range []string{"2026-06-01.jsonl.zst", "2026-08-29.jsonl.zst"} {
		if err := os.WriteFile(filepath.Join(deviceDir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("write fixture: %v", err)
		}
	}

	removed, err := writer.SweepOlderThan(30 * 24 * time.Hour)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected one removal, got %d", removed)
	}
	if _, err := os.Stat(filepath.Join(deviceDir, "2026-08-29.jsonl.zst")); err != nil {
		t.Fatalf("recent archive must survive: %v", err)
	}
}
