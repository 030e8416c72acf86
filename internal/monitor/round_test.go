package monitor

import (
	"context"
	"errors"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"chanwatch/internal/transport"
)

func newOrchestrator(t *testing.T, src *fakeSource, clk *fakeClock, channels ...string) *Orchestrator {
	t.Helper()
	return &Orchestrator{
		Channels: channels,
		Scanner:  newScanner(t, src, clk, AuthorDedup{}),
		Store:    NewCacheStore(filepath.Join(t.TempDir(), "cache.json"), clk.Now),
		Delay:    3 * time.Second,
		Clock:    clk,
	}
}

func seededSnapshot(channels ...string) *Snapshot {
	snap := NewSnapshot()
	for _, ch := range channels {
		snap.Cursors[ch] = base
	}
	return snap
}

func TestRoundAbortsOnFirstFailure(t *testing.T) {
	t.Parallel()
	clk := newFakeClock(base.Add(time.Hour))
	src := newFakeSource()
	src.msgs["a"] = []Message{msg(1, 1, "golang a", base.Add(time.Minute))}
	src.msgs["b"] = []Message{msg(2, 2, "golang b", base.Add(time.Minute))}
	src.msgs["c"] = []Message{msg(3, 3, "golang c", base.Add(time.Minute))}
	src.msgs["d"] = []Message{msg(4, 4, "golang d", base.Add(time.Minute))}
	src.fail["c"] = failure{after: 0, err: transport.ErrChatNotFound}

	o := newOrchestrator(t, src, clk, "a", "b", "c", "d")
	snap := seededSnapshot("a", "b", "c", "d")
	res := o.Run(t.Context(), snap)

	if got := src.Calls(); !slices.Equal(got, []string{"a", "b", "c"}) {
		t.Fatalf("scanned %v, want a b c", got)
	}
	var fe *FetchError
	if !errors.As(res.Err, &fe) || fe.Channel != "c" || !errors.Is(res.Err, transport.ErrChatNotFound) {
		t.Fatalf("round err = %v", res.Err)
	}
	if !slices.Equal(res.Unreached, []string{"d"}) {
		t.Fatalf("unreached = %v", res.Unreached)
	}
	if ids := matchIDs(res.Matches()); !slices.Equal(ids, []int{1, 2}) {
		t.Fatalf("matches = %v, want [1 2]", ids)
	}

	persisted, err := o.Store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	for _, ch := range []string{"a", "b"} {
		if !persisted.Cursors[ch].After(base) {
			t.Fatalf("cursor of scanned channel %s not advanced: %v", ch, persisted.Cursors[ch])
		}
	}
	if !persisted.Cursors["d"].Equal(base) {
		t.Fatalf("cursor of unreached channel d changed: %v", persisted.Cursors["d"])
	}
	if !persisted.SeenAuthor(1) || !persisted.SeenAuthor(2) || persisted.SeenAuthor(4) {
		t.Fatalf("persisted authors = %v", persisted.Authors())
	}
}

func TestRoundPacesBetweenChannels(t *testing.T) {
	t.Parallel()
	clk := newFakeClock(base.Add(time.Hour))
	o := newOrchestrator(t, newFakeSource(), clk, "a", "b", "c")
	res := o.Run(t.Context(), seededSnapshot("a", "b", "c"))
	if res.Err != nil {
		t.Fatalf("round err = %v", res.Err)
	}
	if got := clk.Sleeps(); !slices.Equal(got, []time.Duration{3 * time.Second, 3 * time.Second}) {
		t.Fatalf("sleeps = %v, want two pauses of 3s", got)
	}
	if len(res.Channels) != 3 {
		t.Fatalf("channel results = %d", len(res.Channels))
	}
}

func TestRoundCursorMonotonic(t *testing.T) {
	t.Parallel()
	clk := newFakeClock(base.Add(time.Hour))
	o := newOrchestrator(t, newFakeSource(), clk, "a")
	snap := NewSnapshot()
	future := base.Add(2 * time.Hour)
	snap.Cursors["a"] = future

	o.Run(t.Context(), snap)
	if snap.Cursors["a"].Before(future) {
		t.Fatalf("cursor moved backwards to %v", snap.Cursors["a"])
	}

	clk.Advance(3 * time.Hour)
	o.Run(t.Context(), snap)
	if !snap.Cursors["a"].Equal(clk.Now()) {
		t.Fatalf("cursor = %v, want %v", snap.Cursors["a"], clk.Now())
	}
}

func TestRoundKeepsMatchesWhenSaveFails(t *testing.T) {
	t.Parallel()
	clk := newFakeClock(base.Add(time.Hour))
	src := newFakeSource()
	src.msgs["a"] = []Message{msg(1, 10, "golang dev", base.Add(time.Minute))}
	o := newOrchestrator(t, src, clk, "a")

	notDir := filepath.Join(t.TempDir(), "plain-file")
	if err := os.WriteFile(notDir, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	o.Store = NewCacheStore(filepath.Join(notDir, "cache.json"), clk.Now)

	snap := seededSnapshot("a")
	res := o.Run(t.Context(), snap)
	if !errors.Is(res.SaveErr, ErrStorage) {
		t.Fatalf("SaveErr = %v, want ErrStorage", res.SaveErr)
	}
	if res.Err != nil {
		t.Fatalf("round err = %v", res.Err)
	}
	if got := matchIDs(res.Matches()); !slices.Equal(got, []int{1}) {
		t.Fatalf("matches = %v", got)
	}
	if !snap.Cursors["a"].Equal(clk.Now()) || !snap.SeenAuthor(10) {
		t.Fatalf("in-memory snapshot not updated: %+v", snap)
	}
}

func TestRoundHonorsRetryAfter(t *testing.T) {
	t.Parallel()
	clk := newFakeClock(base.Add(time.Hour))
	src := newFakeSource()
	src.fail["a"] = failure{after: 0, err: errFlood}
	o := newOrchestrator(t, src, clk, "a")
	snap := seededSnapshot("a")

	if res := o.Run(t.Context(), snap); res.Err == nil {
		t.Fatal("expected the flood error")
	}
	if _, held := o.Holds()["a"]; !held {
		t.Fatal("channel not placed on hold")
	}

	delete(src.fail, "a")
	clk.Advance(10 * time.Second)
	if res := o.Run(t.Context(), snap); res.Err != nil {
		t.Fatalf("second round err = %v", res.Err)
	}
	if got := clk.Sleeps(); !slices.Equal(got, []time.Duration{20 * time.Second}) {
		t.Fatalf("sleeps = %v, want the remaining 20s hold", got)
	}
}

func TestRoundCancellationBetweenChannels(t *testing.T) {
	t.Parallel()
	clk := newFakeClock(base.Add(time.Hour))
	ctx, cancel := context.WithCancel(t.Context())
	src := &cancellingSource{fakeSource: newFakeSource(), cancel: cancel}
	o := newOrchestrator(t, src.fakeSource, clk, "a", "b")
	o.Scanner.Source = src
	snap := seededSnapshot("a", "b")

	res := o.Run(ctx, snap)
	if !IsCancellation(res.Err) {
		t.Fatalf("round err = %v, want cancellation", res.Err)
	}
	if got := src.Calls(); !slices.Equal(got, []string{"a"}) {
		t.Fatalf("scanned %v, want only a", got)
	}
	if !snap.Cursors["a"].After(base) || !snap.Cursors["b"].Equal(base) {
		t.Fatalf("cursors = %v", snap.Cursors)
	}
}

// cancellingSource cancels the round's context while the first channel is scanned.
type cancellingSource struct {
	*fakeSource
	cancel context.CancelFunc
}

func (s *cancellingSource) History(ctx context.Context, channel string) iter.Seq2[Message, error] {
	s.cancel()
	return s.fakeSource.History(ctx, channel)
}

func matchIDs(ms []Message) []int {
	out := make([]int, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.ID)
	}
	return out
}
