// Package history implements monitor.HistorySource on top of the message
// journal. Chat references are resolved through the bot first so an
// inaccessible or rate-limited chat fails the same way a direct history
// read would.
package history

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"chanwatch/internal/monitor"
	"chanwatch/internal/storage"
	"chanwatch/internal/transport"
	logx "chanwatch/pkg/logx"
)

// Journal is the read side of storage.Journal.
type Journal interface {
	Messages(ctx context.Context, chatID int64) iter.Seq2[storage.Entry, error]
	ChatByUsername(ctx context.Context, username string) (int64, bool, error)
}

// ChatRef is a parsed chat reference: either a numeric id or a public username.
type ChatRef struct {
	ID       int64
	Username string
}

func (r ChatRef) String() string {
	if r.Username != "" {
		return "@" + r.Username
	}
	return strconv.FormatInt(r.ID, 10)
}

// ParseChatRef accepts "@name", "name", "t.me/name", "https://t.me/name" and numeric ids.
func ParseChatRef(raw string) (ChatRef, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ChatRef{}, errors.New("empty chat reference")
	}
	if id, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ChatRef{ID: id}, nil
	}
	if strings.Contains(s, "t.me/") || strings.Contains(s, "telegram.me/") {
		if !strings.Contains(s, "://") {
			s = "https://" + s
		}
		u, err := url.Parse(s)
		if err != nil {
			return ChatRef{}, fmt.Errorf("invalid chat link %q: %w", raw, err)
		}
		s = strings.Trim(u.Path, "/")
		if i := strings.IndexByte(s, '/'); i >= 0 {
			s = s[:i]
		}
	}
	s = strings.TrimPrefix(s, "@")
	if !validUsername(s) {
		return ChatRef{}, fmt.Errorf("invalid chat reference %q", raw)
	}
	return ChatRef{Username: s}, nil
}

func validUsername(s string) bool {
	if len(s) < 4 || len(s) > 32 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
		default:
			return false
		}
	}
	return true
}

// Source serves channel history from the journal.
type Source struct {
	resolver transport.ChatResolver
	journal  Journal
	log      logx.Logger

	mu       sync.Mutex
	resolved map[string]transport.ChatInfo
}

// New builds a Source. resolver may be nil, in which case usernames are
// looked up in the journal only.
func New(resolver transport.ChatResolver, journal Journal, log logx.Logger) *Source {
	return &Source{
		resolver: resolver,
		journal:  journal,
		log:      log.With(logx.String("comp", "history")),
		resolved: map[string]transport.ChatInfo{},
	}
}

// History implements monitor.HistorySource.
func (s *Source) History(ctx context.Context, channel string) iter.Seq2[monitor.Message, error] {
	return func(yield func(monitor.Message, error) bool) {
		info, err := s.resolve(ctx, channel)
		if err != nil {
			yield(monitor.Message{}, err)
			return
		}
		for e, err := range s.journal.Messages(ctx, info.ID) {
			if err != nil {
				yield(monitor.Message{}, fmt.Errorf("journal: %w", err))
				return
			}
			handle := e.ChatUsername
			if handle == "" {
				handle = info.Username
			}
			m := monitor.Message{
				ID:             e.MessageID,
				ChannelID:      e.ChatID,
				ChannelHandle:  handle,
				AuthorID:       e.AuthorID,
				AuthorUsername: e.AuthorUsername,
				Text:           e.Text,
				At:             e.At,
			}
			if !yield(m, nil) {
				return
			}
		}
	}
}

// Resolved returns the chats resolved so far, keyed by configured reference.
func (s *Source) Resolved() map[string]transport.ChatInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]transport.ChatInfo, len(s.resolved))
	for k, v := range s.resolved {
		out[k] = v
	}
	return out
}

func (s *Source) resolve(ctx context.Context, channel string) (transport.ChatInfo, error) {
	ref, err := ParseChatRef(channel)
	if err != nil {
		return transport.ChatInfo{}, fmt.Errorf("%w: %v", transport.ErrChatNotFound, err)
	}

	if s.resolver != nil {
		info, err := s.resolver.ResolveChat(ctx, ref.String())
		if err != nil {
			return transport.ChatInfo{}, err
		}
		if info.Username == "" {
			info.Username = ref.Username
		}
		s.remember(channel, info)
		return info, nil
	}

	if ref.Username == "" {
		info := transport.ChatInfo{ID: ref.ID}
		s.remember(channel, info)
		return info, nil
	}
	id, ok, err := s.journal.ChatByUsername(ctx, ref.Username)
	if err != nil {
		return transport.ChatInfo{}, fmt.Errorf("journal: %w", err)
	}
	if !ok {
		return transport.ChatInfo{}, fmt.Errorf("%w: %s has no journaled messages", transport.ErrChatNotFound, ref)
	}
	info := transport.ChatInfo{ID: id, Username: ref.Username}
	s.remember(channel, info)
	return info, nil
}

func (s *Source) remember(channel string, info transport.ChatInfo) {
	s.mu.Lock()
	prev, seen := s.resolved[channel]
	s.resolved[channel] = info
	s.mu.Unlock()
	if !seen || prev.ID != info.ID {
		s.log.Debug("chat resolved", logx.String("chat", channel), logx.Int64("chat_id", info.ID), logx.String("title", info.Title))
	}
}
