package transport

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type UpdateKind string

const (
	// UpdatePost is a message or channel post observed in a chat the bot is a member of.
	UpdatePost UpdateKind = "post"
)

type Update struct {
	Kind UpdateKind
	Post *Post
}

// Post is an inbound chat message as seen by the bot.
type Post struct {
	ID             int
	ChatID         int64
	ChatUsername   string
	AuthorID       int64 // sender user id, or sender chat id for anonymous/channel posts
	AuthorUsername string
	Text           string // message text or media caption
	At             time.Time
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// ChatInfo describes a resolved chat.
type ChatInfo struct {
	ID       int64
	Username string
	Title    string
}

// Sender delivers text to a chat.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// ChatResolver resolves a chat reference (@name, name, numeric id) to a chat.
type ChatResolver interface {
	ResolveChat(ctx context.Context, ref string) (ChatInfo, error)
}

type Adapter interface {
	Sender
	ChatResolver

	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
}

var ErrChatNotFound = errors.New("chat not found or not accessible")

// RetryAfterError reports remote backpressure: the call may be retried after Wait.
type RetryAfterError struct {
	Wait time.Duration
	Err  error
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s: %v", e.Wait, e.Err)
}

func (e *RetryAfterError) Unwrap() error { return e.Err }

// RetryAfter exposes the remote-indicated wait without requiring callers to import this package.
func (e *RetryAfterError) RetryAfter() time.Duration { return e.Wait }
