package monitor

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"
)

// Snapshot is the persisted monitor state: one cursor per channel plus the
// global seen-author set. It is mutated by a single round at a time.
type Snapshot struct {
	Cursors map[string]time.Time

	users []int64
	seen  map[int64]struct{}

	// seenMessages backs the message-level dedup policy ("<channel>/<id>" → first seen).
	seenMessages map[string]time.Time
}

// NewSnapshot returns an empty snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Cursors:      map[string]time.Time{},
		seen:         map[int64]struct{}{},
		seenMessages: map[string]time.Time{},
	}
}

// SeenAuthor reports whether id was already recorded.
func (s *Snapshot) SeenAuthor(id int64) bool {
	_, ok := s.seen[id]
	return ok
}

// AddAuthor records id. The set is append-only.
func (s *Snapshot) AddAuthor(id int64) bool {
	if _, ok := s.seen[id]; ok {
		return false
	}
	s.seen[id] = struct{}{}
	s.users = append(s.users, id)
	return true
}

// Authors returns the seen authors in insertion order.
func (s *Snapshot) Authors() []int64 { return slices.Clone(s.users) }

// AuthorCount returns the size of the seen-author set.
func (s *Snapshot) AuthorCount() int { return len(s.users) }

// Clone returns a deep copy.
func (s *Snapshot) Clone() *Snapshot {
	out := NewSnapshot()
	for k, v := range s.Cursors {
		out.Cursors[k] = v
	}
	for _, id := range s.users {
		out.AddAuthor(id)
	}
	for k, v := range s.seenMessages {
		out.seenMessages[k] = v
	}
	return out
}

// cacheDoc is the on-disk layout.
type cacheDoc struct {
	LastMessage  map[string]float64 `json:"last_message"`
	Users        []int64            `json:"users"`
	SeenMessages map[string]float64 `json:"seen_messages,omitempty"`
}

// CacheStore persists snapshots to a JSON file.
type CacheStore struct {
	path string
	now  func() time.Time

	mu sync.Mutex
}

func NewCacheStore(path string, now func() time.Time) *CacheStore {
	if now == nil {
		now = time.Now
	}
	return &CacheStore{path: path, now: now}
}

func (c *CacheStore) Path() string { return c.path }

// Load reads the snapshot. A missing file yields an empty snapshot that is
// persisted right away. A corrupt file yields an empty snapshot and an error
// wrapping ErrStorage; the caller may continue with it.
func (c *CacheStore) Load() (*Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap, err := c.readLocked()
	if errors.Is(err, fs.ErrNotExist) {
		snap = NewSnapshot()
		if err := c.writeLocked(snap); err != nil {
			return snap, err
		}
		return snap, nil
	}
	return snap, err
}

// Peek reads the snapshot without touching the file. A missing file yields
// an empty snapshot and no error.
func (c *CacheStore) Peek() (*Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap, err := c.readLocked()
	if errors.Is(err, fs.ErrNotExist) {
		return NewSnapshot(), nil
	}
	return snap, err
}

func (c *CacheStore) readLocked() (*Snapshot, error) {
	b, err := os.ReadFile(c.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	if err != nil {
		return NewSnapshot(), fmt.Errorf("%w: read %s: %v", ErrStorage, c.path, err)
	}

	var doc cacheDoc
	if err := json.Unmarshal(b, &doc); err != nil {
		return NewSnapshot(), fmt.Errorf("%w: decode %s: %v", ErrStorage, c.path, err)
	}
	snap := NewSnapshot()
	for ch, ts := range doc.LastMessage {
		snap.Cursors[ch] = fromUnixSeconds(ts)
	}
	for _, id := range doc.Users {
		snap.AddAuthor(id)
	}
	for k, ts := range doc.SeenMessages {
		snap.seenMessages[k] = fromUnixSeconds(ts)
	}
	return snap, nil
}

// Save writes the snapshot atomically.
func (c *CacheStore) Save(snap *Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeLocked(snap)
}

// EnsureCursors inserts "now" for every channel without a cursor and persists
// the snapshot immediately when anything was added. It returns the added channels.
func (c *CacheStore) EnsureCursors(snap *Snapshot, channels []string) ([]string, error) {
	now := c.now()
	var added []string
	for _, ch := range channels {
		if _, ok := snap.Cursors[ch]; ok {
			continue
		}
		snap.Cursors[ch] = now
		added = append(added, ch)
	}
	if len(added) == 0 {
		return nil, nil
	}
	return added, c.Save(snap)
}

func (c *CacheStore) writeLocked(snap *Snapshot) error {
	doc := cacheDoc{
		LastMessage: make(map[string]float64, len(snap.Cursors)),
		Users:       snap.users,
	}
	if doc.Users == nil {
		doc.Users = []int64{}
	}
	for ch, ts := range snap.Cursors {
		doc.LastMessage[ch] = toUnixSeconds(ts)
	}
	if len(snap.seenMessages) > 0 {
		doc.SeenMessages = make(map[string]float64, len(snap.seenMessages))
		for k, ts := range snap.seenMessages {
			doc.SeenMessages[k] = toUnixSeconds(ts)
		}
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode: %v", ErrStorage, err)
	}
	if err := writeFileAtomic(c.path, append(b, '\n')); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return nil
}

// writeFileAtomic writes to a temp file in the target directory, syncs it and
// renames it over path.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmp := f.Name()
	defer func() {
		if tmp != "" {
			_ = os.Remove(tmp)
		}
	}()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename to %s: %w", path, err)
	}
	tmp = ""
	return nil
}

func toUnixSeconds(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/float64(time.Second)
}

func fromUnixSeconds(v float64) time.Time {
	sec, frac := math.Modf(v)
	return time.Unix(int64(sec), int64(math.Round(frac*float64(time.Second))))
}
