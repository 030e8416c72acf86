package monitor

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestCacheLoadCreatesMissingFile(t *testing.T) {
	t.Parallel()
	p := filepath.Join(t.TempDir(), "nested", "cache.json")
	store := NewCacheStore(p, nil)

	snap, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(snap.Cursors) != 0 || snap.AuthorCount() != 0 {
		t.Fatalf("expected empty snapshot, got %d cursors %d authors", len(snap.Cursors), snap.AuthorCount())
	}
	b, err := os.ReadFile(p)
	if err != nil {
		t.Fatalf("cache file not created: %v", err)
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(b, &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(doc["users"]) != "[]" {
		t.Fatalf("users = %s, want []", doc["users"])
	}
	if _, ok := doc["last_message"]; !ok {
		t.Fatal("last_message missing")
	}
}

func TestCachePeekIsReadOnly(t *testing.T) {
	t.Parallel()
	p := filepath.Join(t.TempDir(), "cache.json")
	store := NewCacheStore(p, nil)

	snap, err := store.Peek()
	if err != nil || len(snap.Cursors) != 0 {
		t.Fatalf("Peek missing = %+v, %v", snap, err)
	}
	if _, err := os.Stat(p); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("Peek created the file: %v", err)
	}

	if err := os.WriteFile(p, []byte(`{"last_message": {"jobs": 10}, "users": [5]}`), 0o600); err != nil {
		t.Fatal(err)
	}
	snap, err = store.Peek()
	if err != nil || snap.AuthorCount() != 1 || !snap.Cursors["jobs"].Equal(time.Unix(10, 0)) {
		t.Fatalf("Peek = %+v, %v", snap, err)
	}

	if err := os.WriteFile(p, []byte("garbage"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Peek(); !errors.Is(err, ErrStorage) {
		t.Fatalf("Peek corrupt err = %v", err)
	}
}

func TestCacheReadsExistingDocument(t *testing.T) {
	t.Parallel()
	p := filepath.Join(t.TempDir(), "cache.json")
	body := `{"last_message": {"@jobs": 1704103200.5}, "users": [7, 3, 7]}`
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	snap, err := NewCacheStore(p, nil).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := time.Unix(1704103200, 500_000_000)
	if got := snap.Cursors["@jobs"]; !got.Equal(want) {
		t.Fatalf("cursor = %v, want %v", got, want)
	}
	if got := snap.Authors(); len(got) != 2 || got[0] != 7 || got[1] != 3 {
		t.Fatalf("authors = %v, want [7 3]", got)
	}
}

func TestCacheSaveRoundTrip(t *testing.T) {
	t.Parallel()
	p := filepath.Join(t.TempDir(), "cache.json")
	store := NewCacheStore(p, nil)
	snap := NewSnapshot()
	snap.Cursors["a"] = time.Unix(1704103200, 250_000_000)
	snap.AddAuthor(42)
	snap.AddAuthor(-100777)
	if err := store.Save(snap); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !got.Cursors["a"].Equal(snap.Cursors["a"]) {
		t.Fatalf("cursor = %v, want %v", got.Cursors["a"], snap.Cursors["a"])
	}
	if !got.SeenAuthor(42) || !got.SeenAuthor(-100777) || got.AuthorCount() != 2 {
		t.Fatalf("authors = %v", got.Authors())
	}
	entries, _ := os.ReadDir(filepath.Dir(p))
	if len(entries) != 1 {
		t.Fatalf("expected only the cache file, found %d entries", len(entries))
	}
}

func TestCacheCorruptFileIsStorageError(t *testing.T) {
	t.Parallel()
	p := filepath.Join(t.TempDir(), "cache.json")
	if err := os.WriteFile(p, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	snap, err := NewCacheStore(p, nil).Load()
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("error = %v, want ErrStorage", err)
	}
	if snap == nil || len(snap.Cursors) != 0 {
		t.Fatal("expected a usable empty snapshot")
	}
}

func TestEnsureCursorsPersistsImmediately(t *testing.T) {
	t.Parallel()
	p := filepath.Join(t.TempDir(), "cache.json")
	clk := newFakeClock(base)
	store := NewCacheStore(p, clk.Now)
	snap, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	old := base.Add(-time.Hour)
	snap.Cursors["known"] = old

	added, err := store.EnsureCursors(snap, []string{"known", "fresh"})
	if err != nil {
		t.Fatalf("EnsureCursors: %v", err)
	}
	if len(added) != 1 || added[0] != "fresh" {
		t.Fatalf("added = %v", added)
	}
	reloaded, err := store.Load()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !reloaded.Cursors["fresh"].Equal(base) {
		t.Fatalf("fresh cursor = %v, want %v", reloaded.Cursors["fresh"], base)
	}
	if !reloaded.Cursors["known"].Equal(old) {
		t.Fatalf("known cursor changed to %v", reloaded.Cursors["known"])
	}
}

func TestSnapshotAuthorsAppendOnly(t *testing.T) {
	t.Parallel()
	s := NewSnapshot()
	if !s.AddAuthor(1) || s.AddAuthor(1) {
		t.Fatal("AddAuthor should report only the first insertion")
	}
	c := s.Clone()
	c.AddAuthor(2)
	if s.SeenAuthor(2) {
		t.Fatal("Clone shares state with the original")
	}
}
