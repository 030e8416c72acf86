package monitor

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DedupPolicy decides whether a message is evaluated at all. Admit records
// the message in the snapshot as a side effect; a message that is not
// admitted is skipped without touching the keyword policy.
type DedupPolicy interface {
	Name() string
	Admit(snap *Snapshot, channel string, m Message) bool
}

// AuthorDedup admits only the first message ever seen from each author,
// across all channels. The author is recorded before the text is validated,
// so a non-matching first message still consumes the author.
type AuthorDedup struct{}

func (AuthorDedup) Name() string { return "author" }

func (AuthorDedup) Admit(snap *Snapshot, _ string, m Message) bool {
	return snap.AddAuthor(m.AuthorID)
}

// MessageDedup admits each message once, remembering message keys for Window.
// Entries older than Window are forgotten on Prune.
type MessageDedup struct {
	Window time.Duration
	Now    func() time.Time
}

const defaultDedupWindow = 7 * 24 * time.Hour

func (MessageDedup) Name() string { return "message" }

func (d MessageDedup) Admit(snap *Snapshot, channel string, m Message) bool {
	key := messageKey(channel, m)
	if _, ok := snap.seenMessages[key]; ok {
		return false
	}
	snap.seenMessages[key] = d.now()
	return true
}

// Prune drops message keys older than the window.
func (d MessageDedup) Prune(snap *Snapshot) int {
	w := d.Window
	if w <= 0 {
		w = defaultDedupWindow
	}
	cutoff := d.now().Add(-w)
	n := 0
	for k, at := range snap.seenMessages {
		if at.Before(cutoff) {
			delete(snap.seenMessages, k)
			n++
		}
	}
	return n
}

func (d MessageDedup) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func messageKey(channel string, m Message) string {
	if m.ChannelID != 0 {
		return strconv.FormatInt(m.ChannelID, 10) + "/" + strconv.Itoa(m.ID)
	}
	return channel + "/" + strconv.Itoa(m.ID)
}

// NewDedupPolicy maps a config value ("author", "message") to a policy.
func NewDedupPolicy(kind string, window time.Duration, now func() time.Time) (DedupPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "author":
		return AuthorDedup{}, nil
	case "message":
		return MessageDedup{Window: window, Now: now}, nil
	}
	return nil, fmt.Errorf("%w: unknown dedup policy %q", ErrConfiguration, kind)
}
