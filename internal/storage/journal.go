package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	logx "chanwatch/pkg/logx"
)

//go:embed migrations.sql
var migrations string

const (
	DefaultPath        = "./files/journal.db"
	DefaultBusyTimeout = 5 * time.Second
	DefaultPageSize    = 100
)

var ErrClosed = errors.New("journal closed")

// Config configures the journal. Zero values use the defaults above.
type Config struct {
	Path        string
	BusyTimeout time.Duration
	PageSize    int
}

// Entry is one journaled message.
type Entry struct {
	ChatID         int64
	ChatUsername   string
	MessageID      int
	AuthorID       int64
	AuthorUsername string
	Text           string
	At             time.Time
}

// Journal stores observed messages in SQLite.
type Journal struct {
	db       *sql.DB
	log      logx.Logger
	pageSize int

	appended atomic.Uint64
}

// Open opens (and migrates) the journal database.
func Open(cfg Config, log logx.Logger) (*Journal, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = DefaultPath
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection: SQLite allows a single writer anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = DefaultBusyTimeout
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}

	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Journal{db: db, log: log, pageSize: pageSize}, nil
}

func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Append stores e. Re-appending the same (chat, message) pair updates the
// text, which is how edits are recorded.
func (j *Journal) Append(ctx context.Context, e Entry) error {
	if j == nil || j.db == nil {
		return ErrClosed
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO messages(chat_id, message_id, chat_username, author_id, author_username, text, at)
		 VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(chat_id, message_id) DO UPDATE SET text=excluded.text`,
		e.ChatID, e.MessageID, nullStr(normUsername(e.ChatUsername)), e.AuthorID,
		nullStr(strings.TrimPrefix(e.AuthorUsername, "@")), e.Text, e.At.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("append %d/%d: %w", e.ChatID, e.MessageID, err)
	}
	j.appended.Add(1)
	return nil
}

// Appended returns how many entries were written since Open.
func (j *Journal) Appended() uint64 { return j.appended.Load() }

// Cursor marks a position in a newest-first walk. The zero value starts at the newest message.
type Cursor struct {
	At        int64
	MessageID int
}

func (c Cursor) IsZero() bool { return c.At == 0 && c.MessageID == 0 }

// Page returns up to limit entries of chatID strictly older than after,
// newest first, and the cursor for the next page.
func (j *Journal) Page(ctx context.Context, chatID int64, after Cursor, limit int) ([]Entry, Cursor, error) {
	if j == nil || j.db == nil {
		return nil, after, ErrClosed
	}
	if limit <= 0 {
		limit = j.pageSize
	}
	var (
		rows *sql.Rows
		err  error
	)
	const cols = `chat_id, message_id, COALESCE(chat_username, ''), author_id, COALESCE(author_username, ''), text, at`
	if after.IsZero() {
		rows, err = j.db.QueryContext(ctx,
			`SELECT `+cols+` FROM messages WHERE chat_id = ?
			 ORDER BY at DESC, message_id DESC LIMIT ?`, chatID, limit)
	} else {
		rows, err = j.db.QueryContext(ctx,
			`SELECT `+cols+` FROM messages WHERE chat_id = ? AND (at < ? OR (at = ? AND message_id < ?))
			 ORDER BY at DESC, message_id DESC LIMIT ?`, chatID, after.At, after.At, after.MessageID, limit)
	}
	if err != nil {
		return nil, after, err
	}
	defer rows.Close()

	out := make([]Entry, 0, limit)
	next := after
	for rows.Next() {
		var (
			e  Entry
			at int64
		)
		if err := rows.Scan(&e.ChatID, &e.MessageID, &e.ChatUsername, &e.AuthorID, &e.AuthorUsername, &e.Text, &at); err != nil {
			return nil, after, err
		}
		e.At = time.Unix(0, at)
		out = append(out, e)
		next = Cursor{At: at, MessageID: e.MessageID}
	}
	if err := rows.Err(); err != nil {
		return nil, after, err
	}
	return out, next, nil
}

// Messages walks chatID newest first, fetching one page at a time. The
// walk stops early when the consumer stops.
func (j *Journal) Messages(ctx context.Context, chatID int64) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		var cur Cursor
		for {
			page, next, err := j.Page(ctx, chatID, cur, j.pageSize)
			if err != nil {
				yield(Entry{}, err)
				return
			}
			for _, e := range page {
				if !yield(e, nil) {
					return
				}
			}
			if len(page) < j.pageSize {
				return
			}
			cur = next
		}
	}
}

// ChatByUsername finds the chat id last journaled under username.
func (j *Journal) ChatByUsername(ctx context.Context, username string) (int64, bool, error) {
	if j == nil || j.db == nil {
		return 0, false, ErrClosed
	}
	var id int64
	err := j.db.QueryRowContext(ctx,
		`SELECT chat_id FROM messages WHERE chat_username = ? ORDER BY at DESC LIMIT 1`,
		normUsername(username),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// Prune deletes entries older than before and returns how many were removed.
func (j *Journal) Prune(ctx context.Context, before time.Time) (int64, error) {
	if j == nil || j.db == nil {
		return 0, ErrClosed
	}
	res, err := j.db.ExecContext(ctx, `DELETE FROM messages WHERE at < ?`, before.UnixNano())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		j.log.Debug("journal pruned", logx.Int64("rows", n), logx.Time("before", before))
	}
	return n, nil
}

// Count returns the number of journaled messages for chatID (all chats when chatID is 0).
func (j *Journal) Count(ctx context.Context, chatID int64) (int64, error) {
	if j == nil || j.db == nil {
		return 0, ErrClosed
	}
	var n int64
	var err error
	if chatID == 0 {
		err = j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&n)
	} else {
		err = j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE chat_id = ?`, chatID).Scan(&n)
	}
	return n, err
}

func normUsername(v string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(v), "@"))
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
