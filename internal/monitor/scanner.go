package monitor

import (
	"context"
	"time"

	logx "chanwatch/pkg/logx"
)

// ChannelResult is the outcome of scanning one channel.
type ChannelResult struct {
	Channel string
	Matches []Message
	// Cursor is the time the scan finished; it is set even when Err != nil.
	Cursor time.Time
	// Scanned counts messages newer than the previous cursor.
	Scanned int
	Skipped int
	Err     *FetchError
}

func (r ChannelResult) OK() bool { return r.Err == nil }

// Scanner walks one channel's history and collects matches.
type Scanner struct {
	Source  HistorySource
	Matcher *Matcher
	Dedup   DedupPolicy
	Now     func() time.Time
	Log     logx.Logger
}

// Scan reads channel newest first until it reaches a message older than
// cursor. Messages rejected by the dedup policy are skipped; admitted ones
// are matches when the keyword policy accepts their text. A history error
// ends the scan and is returned in the result together with the matches
// collected so far. The returned cursor is always the scan's finish time.
func (s *Scanner) Scan(ctx context.Context, snap *Snapshot, channel string, cursor time.Time) ChannelResult {
	res := ChannelResult{Channel: channel}
	dedup := s.Dedup
	if dedup == nil {
		dedup = AuthorDedup{}
	}

	for m, err := range s.Source.History(ctx, channel) {
		if err != nil {
			res.Err = newFetchError(channel, err)
			break
		}
		if m.At.Before(cursor) {
			break
		}
		res.Scanned++
		if !dedup.Admit(snap, channel, m) {
			res.Skipped++
			continue
		}
		if s.Matcher.Match(m.Text) {
			res.Matches = append(res.Matches, m)
			s.Log.Debug("message matched",
				logx.String("channel", channel),
				logx.Int("message_id", m.ID),
				logx.Int64("author_id", m.AuthorID),
			)
		}
	}

	res.Cursor = s.now()
	return res
}

func (s *Scanner) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
