package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	logx "chanwatch/pkg/logx"
)

// RoundResult aggregates one pass over the configured channels.
type RoundResult struct {
	ID       string
	Started  time.Time
	Finished time.Time
	Channels []ChannelResult
	// Unreached lists channels not scanned because the round was aborted.
	Unreached []string
	// Err is the first fetch error or the cancellation that aborted the round.
	Err error
	// SaveErr is set when the snapshot could not be persisted.
	SaveErr error
}

// Matches returns all matches in channel order.
func (r RoundResult) Matches() []Message {
	var out []Message
	for _, c := range r.Channels {
		out = append(out, c.Matches...)
	}
	return out
}

func (r RoundResult) Aborted() bool { return r.Err != nil }

// Orchestrator runs rounds: channels are scanned one after another in the
// configured order with a fixed pause between them. The first failing
// channel ends the round; the snapshot is persisted before Run returns.
type Orchestrator struct {
	Channels []string
	Scanner  *Scanner
	Store    *CacheStore
	Delay    time.Duration
	Clock    Clock
	Log      logx.Logger

	mu    sync.Mutex
	holds map[string]time.Time
}

// Run executes one round over snap. Cancellation of ctx is observed only
// between channels; a channel that has started scanning runs to its end.
func (o *Orchestrator) Run(ctx context.Context, snap *Snapshot) RoundResult {
	clk := o.clock()
	res := RoundResult{Started: clk.Now()}
	scanCtx := context.WithoutCancel(ctx)

	for i, ch := range o.Channels {
		if err := ctx.Err(); err != nil {
			res.Err = err
			res.Unreached = append(res.Unreached, o.Channels[i:]...)
			break
		}
		if wait := o.holdRemaining(ch, clk.Now()); wait > 0 {
			o.Log.Info("channel on hold, waiting", logx.String("channel", ch), logx.Duration("wait", wait))
			if err := clk.Sleep(ctx, wait); err != nil {
				res.Err = err
				res.Unreached = append(res.Unreached, o.Channels[i:]...)
				break
			}
		}

		prev := snap.Cursors[ch]
		cr := o.Scanner.Scan(scanCtx, snap, ch, prev)
		if cr.Cursor.Before(prev) {
			cr.Cursor = prev
		}
		snap.Cursors[ch] = cr.Cursor
		res.Channels = append(res.Channels, cr)

		if cr.Err != nil {
			o.Log.Warn("channel scan failed, aborting round",
				logx.String("channel", ch),
				logx.Int("matches", len(cr.Matches)),
				logx.Duration("retry_after", cr.Err.RetryAfter),
				logx.Err(cr.Err.Err),
			)
			if cr.Err.RetryAfter > 0 {
				o.hold(ch, clk.Now().Add(cr.Err.RetryAfter))
			}
			res.Err = cr.Err
			res.Unreached = append(res.Unreached, o.Channels[i+1:]...)
			break
		}
		o.Log.Debug("channel scanned",
			logx.String("channel", ch),
			logx.Int("scanned", cr.Scanned),
			logx.Int("skipped", cr.Skipped),
			logx.Int("matches", len(cr.Matches)),
		)

		if i < len(o.Channels)-1 && o.Delay > 0 {
			if err := clk.Sleep(ctx, o.Delay); err != nil {
				res.Err = err
				res.Unreached = append(res.Unreached, o.Channels[i+1:]...)
				break
			}
		}
	}

	if o.Store != nil {
		if err := o.Store.Save(snap); err != nil {
			res.SaveErr = err
			o.Log.Error("cache save failed, continuing in memory", logx.String("path", o.Store.Path()), logx.Err(err))
		}
	}
	res.Finished = clk.Now()
	return res
}

// Holds returns channels currently waiting out remote backpressure.
func (o *Orchestrator) Holds() map[string]time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]time.Time, len(o.holds))
	for k, v := range o.holds {
		out[k] = v
	}
	return out
}

func (o *Orchestrator) hold(ch string, until time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.holds == nil {
		o.holds = map[string]time.Time{}
	}
	o.holds[ch] = until
}

func (o *Orchestrator) holdRemaining(ch string, now time.Time) time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	until, ok := o.holds[ch]
	if !ok {
		return 0
	}
	if d := until.Sub(now); d > 0 {
		return d
	}
	delete(o.holds, ch)
	return 0
}

func (o *Orchestrator) clock() Clock {
	if o.Clock != nil {
		return o.Clock
	}
	return SystemClock{}
}

// IsCancellation reports whether a round was aborted by shutdown rather than a fetch failure.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
