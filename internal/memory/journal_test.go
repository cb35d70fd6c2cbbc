package memory

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestJournalAppendOnly(t *testing.T) {
	dir := t.TempDir()
	j, err := OpenJournal(dir, "instant", nil)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	defer j.Close()

	if err := j.Append(map[string]string{"how": "first"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	path := filepath.Join(dir, "instant.jsonl")
	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	if err := j.Append(map[string]string{"how": "second"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	if len(after) < len(before) {
		t.Fatalf("file shrank: %d -> %d", len(before), len(after))
	}
	if string(after[:len(before)]) != string(before) {
		t.Fatalf("bytes already written were mutated by a later append")
	}
}

func TestJournalSingleWriterNonInterleaved(t *testing.T) {
	dir := t.TempDir()
	j, err := OpenJournal(dir, "instant", nil)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	defer j.Close()

	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			if err := j.Append(map[string]int{"i": i}); err != nil {
				t.Errorf("append %d: %v", i, err)
			}
		}()
	}
	wg.Wait()

	recs, err := ReadAll[map[string]int](dir, "instant")
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if len(recs) != n {
		t.Fatalf("got %d records, want %d (a torn/interleaved line was dropped)", len(recs), n)
	}
}

func TestJournalTolerantOfPartialTrailingLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "instant.jsonl")
	good, _ := json.Marshal(map[string]string{"how": "complete"})
	data := append(good, '\n')
	data = append(data, []byte(`{"how":"trunc`)...) // no trailing newline
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	recs, err := ReadAll[map[string]string](dir, "instant")
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if len(recs) != 1 || recs[0]["how"] != "complete" {
		t.Fatalf("got %v, want exactly the complete record", recs)
	}
}

func TestReadAllMissingFileReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	recs, err := ReadAll[map[string]string](dir, "nonexistent")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("got %d records for a journal that was never created", len(recs))
	}
}

func TestJournalAppendAfterCloseErrors(t *testing.T) {
	dir := t.TempDir()
	j, err := OpenJournal(dir, "instant", nil)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := j.Append(map[string]string{"how": "too late"}); err == nil {
		t.Fatal("expected append after close to error")
	} else if !strings.Contains(err.Error(), "closed") {
		t.Fatalf("unexpected error: %v", err)
	}
}
