package monitor

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"chanwatch/internal/transport"
	logx "chanwatch/pkg/logx"
)

const (
	DefaultAuthorPlaceholder = "Нет"
	DateLayout               = "02.01.2006 15:04"
	ParseModeHTML            = "HTML"
)

// Template renders notifications. Placeholders: {text}, {message_url},
// {author_url}, {date}. "{{" and "}}" produce literal braces.
type Template struct {
	Format            string
	AuthorPlaceholder string
	// Escape HTML-escapes substituted values (for HTML parse mode).
	Escape   bool
	Location *time.Location
}

// Render fills the template for m.
func (t Template) Render(m Message) string {
	placeholder := t.AuthorPlaceholder
	if placeholder == "" {
		placeholder = DefaultAuthorPlaceholder
	}
	esc := func(s string) string { return s }
	if t.Escape {
		esc = html.EscapeString
	}
	author := AuthorURL(m)
	if author == "" {
		author = placeholder
	}
	loc := t.Location
	if loc == nil {
		loc = time.Local
	}
	r := strings.NewReplacer(
		"{{", "{",
		"}}", "}",
		"{text}", esc(m.Text),
		"{message_url}", esc(MessageURL(m)),
		"{author_url}", esc(author),
		"{date}", m.At.In(loc).Format(DateLayout),
	)
	return r.Replace(t.Format)
}

// MessageURL is the canonical t.me link: /<handle>/<id> for public chats,
// /c/<internal id>/<id> otherwise. Empty when neither is known.
func MessageURL(m Message) string {
	if h := strings.TrimPrefix(m.ChannelHandle, "@"); h != "" {
		return "https://t.me/" + h + "/" + strconv.Itoa(m.ID)
	}
	if m.ChannelID != 0 {
		return "https://t.me/c/" + internalChatID(m.ChannelID) + "/" + strconv.Itoa(m.ID)
	}
	return ""
}

// AuthorURL is the author's profile link, or "" without a public username.
func AuthorURL(m Message) string {
	if u := strings.TrimPrefix(m.AuthorUsername, "@"); u != "" {
		return "https://t.me/" + u
	}
	return ""
}

// internalChatID strips the Bot API "-100" supergroup/channel prefix.
func internalChatID(id int64) string {
	if id >= 0 {
		return strconv.FormatInt(id, 10)
	}
	s := strconv.FormatInt(-id, 10)
	if t := strings.TrimPrefix(s, "100"); t != "" && len(s) > 3 {
		return t
	}
	return s
}

// Delivery is the result of sending one notification to one target.
type Delivery struct {
	Target int64
	Ref    transport.MessageRef
	Err    *DeliveryError
}

// Dispatcher sends rendered notifications to every target, one at a time.
type Dispatcher struct {
	Sender    transport.Sender
	Targets   []int64
	Template  Template
	ParseMode string
	Limiter   *rate.Limiter
	Log       logx.Logger
}

// Notify delivers m to all targets. A failed target does not stop the
// others and is not retried.
func (d *Dispatcher) Notify(ctx context.Context, m Message) []Delivery {
	text := d.Template.Render(m)
	opt := &transport.SendOptions{ParseMode: d.ParseMode, DisablePreview: true}
	out := make([]Delivery, 0, len(d.Targets))

	for _, target := range d.Targets {
		del := Delivery{Target: target}
		if d.Limiter != nil {
			if err := d.Limiter.Wait(ctx); err != nil {
				del.Err = &DeliveryError{Target: target, Err: fmt.Errorf("rate limiter: %w", err)}
				out = append(out, del)
				continue
			}
		}
		ref, err := d.Sender.SendText(ctx, transport.ChatTarget{ChatID: target}, text, opt)
		if err != nil {
			del.Err = &DeliveryError{Target: target, Err: err}
			d.Log.Warn("notification delivery failed",
				logx.Int64("target", target),
				logx.Int("message_id", m.ID),
				logx.Err(err),
			)
		} else {
			del.Ref = ref
		}
		out = append(out, del)
	}
	return out
}

// NewLimiter returns a token bucket for perSec sends per second (nil when perSec <= 0).
func NewLimiter(perSec int) *rate.Limiter {
	if perSec <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(perSec), 1)
}
