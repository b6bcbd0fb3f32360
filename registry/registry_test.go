package registry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, dir
}

func TestPutGetDelete(t *testing.T) {
	s, _ := openTestStore(t)

	rec := Record{ID: "com.example.sample", Version: "1.0.0", Status: StatusDisabled}
	if err := s.Put("com.example.sample", rec); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok := s.Get("com.example.sample")
	if !ok {
		t.Fatal("expected the record to be present after Put")
	}
	if got.Version != "1.0.0" {
		t.Fatalf("unexpected version %q", got.Version)
	}

	if err := s.Delete("com.example.sample"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := s.Get("com.example.sample"); ok {
		t.Fatal("expected the record to be gone after Delete")
	}
}

func TestListByStatus(t *testing.T) {
	s, _ := openTestStore(t)

	_ = s.Put("a", Record{ID: "a", Status: StatusEnabled})
	_ = s.Put("b", Record{ID: "b", Status: StatusDisabled})
	_ = s.Put("c", Record{ID: "c", Status: StatusEnabled})

	enabled := s.ListByStatus(StatusEnabled)
	if len(enabled) != 2 {
		t.Fatalf("expected 2 enabled records, got %d", len(enabled))
	}
}

func TestReopenSurvivesRestart(t *testing.T) {
	s, dir := openTestStore(t)
	if err := s.Put("com.example.sample", Record{ID: "com.example.sample", Version: "2.0.0", Status: StatusEnabled}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	rec, ok := reopened.Get("com.example.sample")
	if !ok {
		t.Fatal("expected the record to survive a close/reopen cycle")
	}
	if rec.Version != "2.0.0" {
		t.Fatalf("unexpected version after reopen: %q", rec.Version)
	}
}

// TestTruncatedJournalEntryIsIgnoredOnReplay simulates a crash mid-append: a
// journal line cut off partway through must not corrupt the replayed state,
// per the crash-recovery invariant that a partial mutation never applies.
func TestTruncatedJournalEntryIsIgnoredOnReplay(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Put("com.example.sample", Record{ID: "com.example.sample", Version: "1.0.0", Status: StatusDisabled}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	journalPath := filepath.Join(dir, "registry.journal")
	goodEntry, _ := json.Marshal(journalEntry{PluginID: "com.example.sample", Record: Record{ID: "com.example.sample", Version: "9.9.9", Status: StatusEnabled}})
	truncated := append(goodEntry, '\n')
	truncated = append(truncated, []byte(`{"plugin_id":"com.example.sample","rec`)...)
	if err := os.WriteFile(journalPath, truncated, 0o644); err != nil {
		t.Fatalf("writing simulated journal: %v", err)
	}

	recovered, err := Open(dir)
	if err != nil {
		t.Fatalf("Open after simulated crash: %v", err)
	}
	defer recovered.Close()

	rec, ok := recovered.Get("com.example.sample")
	if !ok {
		t.Fatal("expected the fully-flushed journal entry to apply")
	}
	if rec.Version != "9.9.9" {
		t.Fatalf("expected the fully-flushed entry's version 9.9.9, got %q", rec.Version)
	}
}

// TestCorruptLiveFileEntersReadOnlyMode confirms an unparseable live file
// doesn't fail Open or clobber the operator's data: the store comes up
// empty, readable, and refuses writes.
func TestCorruptLiveFileEntersReadOnlyMode(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "registry.yaml"), []byte("{: not yaml ::"), 0o644); err != nil {
		t.Fatalf("writing corrupt live file: %v", err)
	}

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open of a corrupt registry should succeed in read-only mode, got %v", err)
	}
	defer s.Close()

	if !s.ReadOnly() {
		t.Fatal("expected the store to report read-only mode")
	}
	if got := len(s.List()); got != 0 {
		t.Fatalf("expected an empty catalog, got %d records", got)
	}
	if err := s.Put("com.example.sample", Record{ID: "com.example.sample"}); err == nil {
		t.Fatal("expected Put to be refused in read-only mode")
	}
}

func TestInstallDirLayout(t *testing.T) {
	got := InstallDir("/state", "com.example.sample")
	want := filepath.Join("/state", "plugins", "com.example.sample")
	if got != want {
		t.Fatalf("InstallDir = %q, want %q", got, want)
	}
}
