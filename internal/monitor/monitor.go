package monitor

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"chanwatch/internal/eventbus"
	"chanwatch/internal/transport"
	logx "chanwatch/pkg/logx"
)

// Event types published on the bus.
const (
	EventRoundFinished  = "round.finished"
	EventMatchFound     = "match.found"
	EventDeliveryFailed = "delivery.failed"
)

// Options configures a Monitor. Zero values fall back to the documented defaults.
type Options struct {
	KeyWords     []string
	UnkeyWords   []string
	ExcludeScope ExcludeScope

	Channels []string
	Targets  []int64

	Template          string
	AuthorPlaceholder string
	ParseMode         string
	Location          *time.Location

	Schedule       string
	ChannelDelay   time.Duration
	SendRatePerSec int

	CachePath   string
	Dedup       string
	DedupWindow time.Duration
}

// Monitor owns the round pipeline and its schedule for the process lifetime.
type Monitor struct {
	log   logx.Logger
	bus   eventbus.Bus
	clock Clock

	store     *CacheStore
	dedup     DedupPolicy
	orch      *Orchestrator
	dispatch  *Dispatcher
	scheduler *Scheduler
	cadence   Cadence

	mu   sync.Mutex
	snap *Snapshot // last good in-memory snapshot

	idMu    sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// New validates opts and assembles a Monitor. Every configuration problem
// is reported as ErrConfiguration.
func New(opts Options, src HistorySource, sender transport.Sender, clock Clock, bus eventbus.Bus, log logx.Logger) (*Monitor, error) {
	var errs []error
	channels := trimAll(opts.Channels)
	if len(channels) == 0 {
		errs = append(errs, fmt.Errorf("%w: no channels to watch", ErrConfiguration))
	}
	if len(opts.Targets) == 0 {
		errs = append(errs, fmt.Errorf("%w: no notify targets", ErrConfiguration))
	}
	if strings.TrimSpace(opts.Template) == "" {
		errs = append(errs, fmt.Errorf("%w: empty notification template", ErrConfiguration))
	}
	matcher, err := Compile(opts.KeyWords, opts.UnkeyWords, opts.ExcludeScope)
	if err != nil {
		errs = append(errs, err)
	}
	cadence, err := ParseSchedule(opts.Schedule)
	if err != nil {
		errs = append(errs, err)
	}
	if clock == nil {
		clock = SystemClock{}
	}
	dedup, err := NewDedupPolicy(opts.Dedup, opts.DedupWindow, clock.Now)
	if err != nil {
		errs = append(errs, err)
	}
	if src == nil || sender == nil {
		errs = append(errs, errors.New("history source and sender are required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	cachePath := opts.CachePath
	if cachePath == "" {
		cachePath = "./files/cache.json"
	}
	parseMode := opts.ParseMode
	if strings.EqualFold(parseMode, "none") {
		parseMode = ""
	} else if parseMode == "" {
		parseMode = ParseModeHTML
	}

	m := &Monitor{
		log:     log.With(logx.String("comp", "monitor")),
		bus:     bus,
		clock:   clock,
		store:   NewCacheStore(cachePath, clock.Now),
		dedup:   dedup,
		cadence: cadence,
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
	m.orch = &Orchestrator{
		Channels: channels,
		Scanner:  &Scanner{Source: src, Matcher: matcher, Dedup: dedup, Now: clock.Now, Log: m.log},
		Store:    m.store,
		Delay:    opts.ChannelDelay,
		Clock:    clock,
		Log:      m.log,
	}
	m.dispatch = &Dispatcher{
		Sender:  sender,
		Targets: opts.Targets,
		Template: Template{
			Format:            opts.Template,
			AuthorPlaceholder: opts.AuthorPlaceholder,
			Escape:            strings.EqualFold(parseMode, ParseModeHTML),
			Location:          opts.Location,
		},
		ParseMode: parseMode,
		Limiter:   NewLimiter(opts.SendRatePerSec),
		Log:       m.log,
	}
	m.scheduler = &Scheduler{Round: func(ctx context.Context) { m.RunRound(ctx) }, Schedule: cadence, Clock: clock, Log: m.log}
	return m, nil
}

// Run schedules rounds until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	m.log.Info("monitor started",
		logx.Strings("channels", m.orch.Channels),
		logx.Int("targets", len(m.dispatch.Targets)),
		logx.String("schedule", m.cadence.String()),
		logx.String("dedup", m.dedup.Name()),
	)
	err := m.scheduler.Run(ctx)
	m.log.Info("monitor stopped", logx.Uint64("rounds", m.scheduler.Rounds()))
	return err
}

// Report summarizes a finished round including notification results.
type Report struct {
	RoundResult
	Deliveries []Delivery
}

func (r Report) Failed() int {
	n := 0
	for _, d := range r.Deliveries {
		if d.Err != nil {
			n++
		}
	}
	return n
}

// RunRound performs one round: load the cache, register new channels, scan
// every channel, then deliver the matches. Delivery starts only after the
// snapshot was persisted, so a crash never re-sends a notification.
func (m *Monitor) RunRound(ctx context.Context) Report {
	id := m.newID()
	log := m.log.With(logx.String("round", id))

	snap := m.loadSnapshot(log)
	if added, err := m.store.EnsureCursors(snap, m.orch.Channels); err != nil {
		log.Error("cache save failed while registering channels", logx.Err(err))
	} else if len(added) > 0 {
		log.Info("new channels registered", logx.Strings("channels", added))
	}
	if md, ok := m.dedup.(MessageDedup); ok {
		if n := md.Prune(snap); n > 0 {
			log.Debug("expired message keys dropped", logx.Int("count", n))
		}
	}

	m.orch.Log = log
	m.orch.Scanner.Log = log
	rr := m.orch.Run(ctx, snap)
	rr.ID = id

	m.mu.Lock()
	m.snap = snap
	m.mu.Unlock()

	rep := Report{RoundResult: rr}
	deliverCtx := context.WithoutCancel(ctx)
	for _, msg := range rr.Matches() {
		m.publish(EventMatchFound, map[string]any{"round": id, "message_id": msg.ID, "channel": msg.ChannelHandle, "author_id": msg.AuthorID})
		for _, d := range m.dispatch.Notify(deliverCtx, msg) {
			rep.Deliveries = append(rep.Deliveries, d)
			if d.Err != nil {
				m.publish(EventDeliveryFailed, map[string]any{"round": id, "target": d.Target, "error": d.Err.Error()})
			}
		}
	}

	fields := []logx.Field{
		logx.Int("channels", len(rr.Channels)),
		logx.Int("matches", len(rr.Matches())),
		logx.Int("deliveries", len(rep.Deliveries)),
		logx.Int("failed", rep.Failed()),
		logx.Duration("took", rr.Finished.Sub(rr.Started)),
	}
	switch {
	case rr.Err == nil:
		log.Info("round finished", fields...)
	case IsCancellation(rr.Err):
		log.Info("round cut short by shutdown", append(fields, logx.Strings("unreached", rr.Unreached))...)
	default:
		log.Warn("round aborted", append(fields, logx.Strings("unreached", rr.Unreached), logx.Err(rr.Err))...)
	}
	m.publish(EventRoundFinished, rep)
	return rep
}

// Snapshot returns a copy of the last in-memory snapshot (nil before the first round).
func (m *Monitor) Snapshot() *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snap == nil {
		return nil
	}
	return m.snap.Clone()
}

// State reports the scheduler state.
func (m *Monitor) State() State { return m.scheduler.State() }

// NextRun is the planned start of the next round.
func (m *Monitor) NextRun() time.Time { return m.scheduler.NextRun() }

// Rounds counts the rounds started by the scheduler.
func (m *Monitor) Rounds() uint64 { return m.scheduler.Rounds() }

// Holds lists channels waiting out a remote retry-after, with the time the hold ends.
func (m *Monitor) Holds() map[string]time.Time { return m.orch.Holds() }

func (m *Monitor) loadSnapshot(log logx.Logger) *Snapshot {
	snap, err := m.store.Load()
	if err == nil {
		return snap
	}
	// The round mutates what it gets; m.snap is shared with Snapshot readers.
	m.mu.Lock()
	mem := m.snap
	m.mu.Unlock()
	if mem != nil {
		log.Error("cache load failed, using in-memory snapshot", logx.String("path", m.store.Path()), logx.Err(err))
		return mem.Clone()
	}
	log.Error("cache load failed, starting from an empty snapshot", logx.String("path", m.store.Path()), logx.Err(err))
	return snap
}

func (m *Monitor) publish(typ string, data any) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(eventbus.Event{Type: typ, Time: m.clock.Now(), Data: data})
}

func (m *Monitor) newID() string {
	m.idMu.Lock()
	defer m.idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(m.clock.Now()), m.entropy).String()
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
