package app

import (
	"context"
	"strconv"
	"time"

	"chanwatch/internal/eventbus"
	"chanwatch/internal/monitor"
	"chanwatch/internal/storage"
	"chanwatch/internal/transport"
	logx "chanwatch/pkg/logx"
)

type appender interface {
	Append(ctx context.Context, e storage.Entry) error
}

type pruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// ingest journals every observed post until ctx ends or updates is closed.
// A failed append is logged and skipped.
func ingest(ctx context.Context, j appender, updates <-chan transport.Update, log logx.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case up, ok := <-updates:
			if !ok {
				return
			}
			if up.Kind != transport.UpdatePost || up.Post == nil {
				continue
			}
			if err := j.Append(ctx, entryFromPost(up.Post)); err != nil {
				log.Warn("journal append failed",
					logx.Int64("chat_id", up.Post.ChatID),
					logx.Int("message_id", up.Post.ID),
					logx.Err(err),
				)
			}
		}
	}
}

func entryFromPost(p *transport.Post) storage.Entry {
	return storage.Entry{
		ChatID:         p.ChatID,
		ChatUsername:   p.ChatUsername,
		MessageID:      p.ID,
		AuthorID:       p.AuthorID,
		AuthorUsername: p.AuthorUsername,
		Text:           p.Text,
		At:             p.At,
	}
}

// watchRounds reacts to monitor events: journal entries older than retention
// are pruned after every round and status reports the round outcome.
func watchRounds(ctx context.Context, events <-chan eventbus.Event, j pruner, retention time.Duration, status func(string), log logx.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			if e.Type != monitor.EventRoundFinished {
				continue
			}
			if rep, ok := e.Data.(monitor.Report); ok && status != nil {
				status(roundStatus(rep))
			}
			if retention <= 0 {
				continue
			}
			n, err := j.Prune(ctx, e.Time.Add(-retention))
			switch {
			case err != nil:
				log.Warn("journal prune failed", logx.Err(err))
			case n > 0:
				log.Debug("journal pruned", logx.Int64("removed", n), logx.Duration("retention", retention))
			}
		}
	}
}

func roundStatus(rep monitor.Report) string {
	at := rep.Finished.Format(time.DateTime)
	switch {
	case rep.Err == nil:
		return "last round " + at + ": " + plural(len(rep.Matches()), "match", "matches")
	case monitor.IsCancellation(rep.Err):
		return "last round " + at + ": interrupted"
	default:
		return "last round " + at + ": aborted (" + rep.Err.Error() + ")"
	}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return "1 " + one
	}
	return strconv.Itoa(n) + " " + many
}
