// Package telegram adapts gopkg.in/telebot.v4 to the transport interfaces:
// it sends notifications, resolves chat references and turns every message
// the bot sees into a transport.Update for the journal.
package telegram

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "chanwatch/internal/runtime/supervisor"
	"chanwatch/internal/transport"
	logx "chanwatch/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot

	out     atomic.Value // chan<- transport.Update
	dropped atomic.Uint64

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor
}

var _ transport.Adapter = (*Adapter)(nil)

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "telegram"))
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	a := &Adapter{cfg: cfg, log: log}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
		OnError: func(err error, _ tele.Context) {
			a.log.Warn("update handler failed", logx.Err(err))
		},
	})
	if err != nil {
		return nil, classify(err)
	}
	a.bot = b
	var nilOut chan<- transport.Update
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

// Username is the bot's own @handle.
func (a *Adapter) Username() string {
	if a.bot == nil || a.bot.Me == nil {
		return ""
	}
	return a.bot.Me.Username
}

func (a *Adapter) registerHandlers() {
	forward := func(c tele.Context) error {
		if m := c.Message(); m != nil {
			if p, ok := postFromMessage(m); ok {
				a.sendUpdate(transport.Update{Kind: transport.UpdatePost, Post: &p})
			}
		}
		return nil
	}
	for _, ev := range []string{tele.OnText, tele.OnMedia, tele.OnChannelPost, tele.OnEdited, tele.OnEditedChannelPost} {
		a.bot.Handle(ev, forward)
	}
}

// postFromMessage extracts the journal fields of m. Messages without text
// or caption are skipped.
func postFromMessage(m *tele.Message) (transport.Post, bool) {
	if m == nil || m.Chat == nil {
		return transport.Post{}, false
	}
	text := m.Text
	if text == "" {
		text = m.Caption
	}
	if strings.TrimSpace(text) == "" {
		return transport.Post{}, false
	}
	p := transport.Post{
		ID:           m.ID,
		ChatID:       m.Chat.ID,
		ChatUsername: m.Chat.Username,
		Text:         text,
		At:           m.Time(),
	}
	switch {
	case m.SenderChat != nil:
		// Anonymous admins and channel posts are attributed to the posting chat.
		p.AuthorID, p.AuthorUsername = m.SenderChat.ID, m.SenderChat.Username
	case m.Sender != nil:
		p.AuthorID, p.AuthorUsername = m.Sender.ID, m.Sender.Username
	default:
		p.AuthorID, p.AuthorUsername = m.Chat.ID, m.Chat.Username
	}
	return p, true
}

func (a *Adapter) sendUpdate(up transport.Update) {
	out, _ := a.out.Load().(chan<- transport.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		a.dropped.Add(1)
	}
}

// Start begins long polling. Updates are written to out without blocking;
// when out is full they are counted and reported periodically.
func (a *Adapter) Start(ctx context.Context, out chan<- transport.Update) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log))
	sup := a.sup
	a.runMu.Unlock()

	sup.Go0("updates.drop_report", func(c context.Context) {
		t := time.NewTicker(5 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				a.reportDropped(cap(out))
				return
			case <-t.C:
				a.reportDropped(cap(out))
			}
		}
	})
	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})
	sup.GoRestart0("telebot.poll", func(context.Context) {
		a.log.Info("polling started", logx.String("bot", a.Username()))
		a.bot.Start()
		a.log.Info("polling stopped")
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithStopOnCleanExit(false),
	)
	return nil
}

func (a *Adapter) reportDropped(capacity int) {
	if n := a.dropped.Swap(0); n > 0 {
		a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", capacity))
	}
}

// Stop ends polling, waiting at most a short grace period for the long poll to return.
func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- transport.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning || sup == nil {
		return nil
	}
	sup.Cancel()
	go a.bot.Stop()

	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			a.log.Warn("telegram stop timed out", logx.Err(err))
			return nil
		}
		a.log.Debug("telegram stopped with supervisor error", logx.Err(err))
	}
	return nil
}

// SendText sends text, split into chunks Telegram accepts. The reference of
// the first chunk is returned.
func (a *Adapter) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	if opt == nil {
		opt = &transport.SendOptions{}
	}
	chat := &tele.Chat{ID: to.ChatID}
	var first transport.MessageRef
	for i, chunk := range splitText(text, textLimit, opt.ParseMode) {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		msg, err := a.bot.Send(chat, chunk, &tele.SendOptions{
			ParseMode:             opt.ParseMode,
			DisableWebPagePreview: opt.DisablePreview,
			ThreadID:              to.ThreadID,
		})
		if err != nil {
			return first, classify(err)
		}
		if i == 0 {
			first = transport.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}
	return first, nil
}

// ResolveChat looks a chat up by "@username" or numeric id (getChat).
func (a *Adapter) ResolveChat(ctx context.Context, ref string) (transport.ChatInfo, error) {
	if err := ctx.Err(); err != nil {
		return transport.ChatInfo{}, err
	}
	ref = strings.TrimSpace(ref)
	var (
		chat *tele.Chat
		err  error
	)
	if id, perr := strconv.ParseInt(ref, 10, 64); perr == nil {
		chat, err = a.bot.ChatByID(id)
	} else {
		if !strings.HasPrefix(ref, "@") {
			ref = "@" + ref
		}
		chat, err = a.bot.ChatByUsername(ref)
	}
	if err != nil {
		return transport.ChatInfo{}, classify(err)
	}
	return transport.ChatInfo{ID: chat.ID, Username: chat.Username, Title: chat.Title}, nil
}
