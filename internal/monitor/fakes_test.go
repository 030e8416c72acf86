package monitor

import (
	"context"
	"errors"
	"iter"
	"sync"
	"time"

	"chanwatch/internal/transport"
)

var base = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

// fakeClock only moves when Sleep is called or Advance is used.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return nil
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

type failure struct {
	after int // number of messages yielded before the error
	err   error
}

// fakeSource serves fixed newest-first histories.
type fakeSource struct {
	mu     sync.Mutex
	msgs   map[string][]Message
	fail   map[string]failure
	calls  []string
	pulled map[string]int
}

func newFakeSource() *fakeSource {
	return &fakeSource{msgs: map[string][]Message{}, fail: map[string]failure{}, pulled: map[string]int{}}
}

func (f *fakeSource) History(_ context.Context, channel string) iter.Seq2[Message, error] {
	f.mu.Lock()
	f.calls = append(f.calls, channel)
	msgs := f.msgs[channel]
	fl, failing := f.fail[channel]
	f.mu.Unlock()

	return func(yield func(Message, error) bool) {
		for i, m := range msgs {
			if failing && i == fl.after {
				yield(Message{}, fl.err)
				return
			}
			f.mu.Lock()
			f.pulled[channel]++
			f.mu.Unlock()
			if !yield(m, nil) {
				return
			}
		}
		if failing && fl.after >= len(msgs) {
			yield(Message{}, fl.err)
		}
	}
}

func (f *fakeSource) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type sent struct {
	to   int64
	text string
	opt  transport.SendOptions
}

// fakeSender records sends and fails for targets listed in failFor.
type fakeSender struct {
	mu      sync.Mutex
	sent    []sent
	failFor map[int64]error
}

func (s *fakeSender) SendText(_ context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failFor[to.ChatID]; err != nil {
		return transport.MessageRef{}, err
	}
	o := transport.SendOptions{}
	if opt != nil {
		o = *opt
	}
	s.sent = append(s.sent, sent{to: to.ChatID, text: text, opt: o})
	return transport.MessageRef{ChatID: to.ChatID, MessageID: len(s.sent)}, nil
}

func (s *fakeSender) Sent() []sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sent(nil), s.sent...)
}

var errFlood = &transport.RetryAfterError{Wait: 30 * time.Second, Err: errors.New("Too Many Requests")}

func msg(id int, author int64, text string, at time.Time) Message {
	return Message{ID: id, ChannelHandle: "jobs", AuthorID: author, Text: text, At: at}
}
