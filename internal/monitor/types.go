package monitor

import (
	"context"
	"iter"
	"time"
)

// Message is one chat message as produced by a HistorySource.
type Message struct {
	ID             int
	ChannelID      int64  // numeric chat id (0 if unknown)
	ChannelHandle  string // public @handle without the "@" ("" for private chats)
	AuthorID       int64
	AuthorUsername string // public @handle without the "@" ("" if none)
	Text           string
	At             time.Time
}

// HistorySource yields a channel's messages newest first.
//
// The sequence is lazy: iteration stops as soon as the consumer stops pulling.
// A non-nil error is yielded at most once and ends the sequence.
type HistorySource interface {
	History(ctx context.Context, channel string) iter.Seq2[Message, error]
}
