package monitor

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"chanwatch/internal/eventbus"
	logx "chanwatch/pkg/logx"
)

func testOptions(t *testing.T) Options {
	t.Helper()
	return Options{
		KeyWords:     []string{"golang"},
		UnkeyWords:   []string{"junior"},
		Channels:     []string{"jobs", "gophers"},
		Targets:      []int64{-100500},
		Template:     "{text}\n{message_url}",
		Location:     time.UTC,
		Schedule:     "30m",
		ChannelDelay: time.Second,
		CachePath:    filepath.Join(t.TempDir(), "cache.json"),
	}
}

func TestNewRejectsBadConfiguration(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(o *Options)
	}{
		{name: "no keywords", mutate: func(o *Options) { o.KeyWords = nil }},
		{name: "no channels", mutate: func(o *Options) { o.Channels = []string{" "} }},
		{name: "no targets", mutate: func(o *Options) { o.Targets = nil }},
		{name: "no template", mutate: func(o *Options) { o.Template = "" }},
		{name: "bad schedule", mutate: func(o *Options) { o.Schedule = "sometimes" }},
		{name: "bad dedup", mutate: func(o *Options) { o.Dedup = "chat" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			opts := testOptions(t)
			tt.mutate(&opts)
			_, err := New(opts, newFakeSource(), &fakeSender{}, nil, nil, logx.Nop())
			if !errors.Is(err, ErrConfiguration) {
				t.Fatalf("New error = %v, want ErrConfiguration", err)
			}
		})
	}
}

func TestRunRoundEndToEnd(t *testing.T) {
	t.Parallel()
	clk := newFakeClock(base)
	src := newFakeSource()
	sender := &fakeSender{}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	m, err := New(testOptions(t), src, sender, clk, bus, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// First round registers the channels at "now"; nothing older is considered.
	src.msgs["jobs"] = []Message{msg(1, 10, "golang role posted before we started", base.Add(-time.Minute))}
	rep := m.RunRound(t.Context())
	if rep.Err != nil || len(rep.Matches()) != 0 {
		t.Fatalf("first round: err=%v matches=%d", rep.Err, len(rep.Matches()))
	}

	clk.Advance(30 * time.Minute)
	src.msgs["jobs"] = []Message{
		msg(3, 11, "Senior golang engineer", base.Add(20*time.Minute)),
		msg(2, 12, "golang junior intern", base.Add(10*time.Minute)),
		msg(1, 10, "golang role posted before we started", base.Add(-time.Minute)),
	}
	rep = m.RunRound(t.Context())
	if rep.Err != nil {
		t.Fatalf("second round err = %v", rep.Err)
	}
	if ids := matchIDs(rep.Matches()); len(ids) != 1 || ids[0] != 3 {
		t.Fatalf("matches = %v, want [3]", ids)
	}
	got := sender.Sent()
	if len(got) != 1 || got[0].to != -100500 {
		t.Fatalf("sent = %+v", got)
	}
	if want := "Senior golang engineer\nhttps://t.me/jobs/3"; got[0].text != want {
		t.Fatalf("text = %q, want %q", got[0].text, want)
	}

	if _, err := os.Stat(testOptionsPath(m)); err != nil {
		t.Fatalf("cache not persisted: %v", err)
	}
	snap := m.Snapshot()
	if snap == nil || !snap.SeenAuthor(11) || !snap.SeenAuthor(12) || snap.SeenAuthor(10) {
		t.Fatalf("snapshot authors = %v", snap.Authors())
	}

	seen := map[string]int{}
	for len(events) > 0 {
		seen[(<-events).Type]++
	}
	if seen[EventRoundFinished] != 2 || seen[EventMatchFound] != 1 {
		t.Fatalf("events = %v", seen)
	}
}

func TestRunRoundFallsBackToMemoryOnCorruptCache(t *testing.T) {
	t.Parallel()
	clk := newFakeClock(base)
	src := newFakeSource()
	opts := testOptions(t)
	opts.Channels = []string{"jobs"}
	m, err := New(opts, src, &fakeSender{}, clk, nil, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m.RunRound(t.Context())
	src.msgs["jobs"] = []Message{msg(1, 10, "golang", base.Add(time.Minute))}
	clk.Advance(time.Hour)
	m.RunRound(t.Context())

	if err := os.WriteFile(opts.CachePath, []byte("garbage"), 0o600); err != nil {
		t.Fatal(err)
	}
	src.msgs["jobs"] = []Message{msg(2, 10, "golang again", base.Add(2*time.Hour))}
	clk.Advance(2 * time.Hour)
	rep := m.RunRound(t.Context())
	if len(rep.Matches()) != 0 {
		t.Fatalf("author 10 re-emitted after cache corruption: %+v", rep.Matches())
	}
}

func TestSnapshotReadableDuringFallbackRounds(t *testing.T) {
	t.Parallel()
	clk := newFakeClock(base)
	src := newFakeSource()
	opts := testOptions(t)
	opts.Channels = []string{"jobs"}
	m, err := New(opts, src, &fakeSender{}, clk, nil, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m.RunRound(t.Context())

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
				if snap := m.Snapshot(); snap != nil {
					_ = snap.AuthorCount()
				}
			}
		}
	}()

	for i := range 20 {
		if err := os.WriteFile(opts.CachePath, []byte("garbage"), 0o600); err != nil {
			t.Fatal(err)
		}
		src.msgs["jobs"] = []Message{msg(i+1, int64(100+i), "golang", clk.Now().Add(time.Second))}
		clk.Advance(time.Minute)
		if rep := m.RunRound(t.Context()); rep.SaveErr != nil {
			t.Fatalf("round %d save err = %v", i, rep.SaveErr)
		}
	}
	close(done)
	wg.Wait()

	if snap := m.Snapshot(); snap == nil || snap.Cursors["jobs"].IsZero() {
		t.Fatalf("snapshot after fallback rounds = %+v", snap)
	}
}

func testOptionsPath(m *Monitor) string { return m.store.Path() }
