package monitor

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "chanwatch/pkg/logx"
)

// State is the scheduler's lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateScanning
	StateSleeping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateSleeping:
		return "sleeping"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// Scheduler runs rounds on a start-to-start cadence until its context ends.
//
// After each round the next start is Schedule.Next(roundStart). If that
// moment has already passed the next round starts at once; missed slots are
// never replayed. Sleeping is interruptible, a running round is not.
type Scheduler struct {
	Round    func(ctx context.Context)
	Schedule cron.Schedule
	Clock    Clock
	Log      logx.Logger

	state  atomic.Int32
	rounds atomic.Uint64
	next   atomic.Int64 // unix nanos of the planned next start
}

func (s *Scheduler) State() State { return State(s.state.Load()) }

// Rounds returns the number of rounds started.
func (s *Scheduler) Rounds() uint64 { return s.rounds.Load() }

// NextRun returns the planned start of the next round (zero if none is planned).
func (s *Scheduler) NextRun() time.Time {
	n := s.next.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Run blocks until ctx is cancelled. It always returns nil.
func (s *Scheduler) Run(ctx context.Context) error {
	clk := s.Clock
	if clk == nil {
		clk = SystemClock{}
	}
	defer s.setState(StateStopped)
	s.setState(StateIdle)

	for ctx.Err() == nil {
		s.setState(StateScanning)
		start := clk.Now()
		s.rounds.Add(1)
		s.Round(ctx)

		next := s.Schedule.Next(start)
		s.next.Store(next.UnixNano())
		if ctx.Err() != nil {
			break
		}
		wait := next.Sub(clk.Now())
		if wait <= 0 {
			s.Log.Info("round overran its period, starting next round now",
				logx.Duration("overrun", -wait),
				logx.Duration("elapsed", clk.Now().Sub(start)),
			)
			continue
		}
		s.setState(StateSleeping)
		s.Log.Debug("sleeping until next round", logx.Duration("wait", wait), logx.Time("next", next))
		if err := clk.Sleep(ctx, wait); err != nil {
			break
		}
	}
	s.next.Store(0)
	return nil
}

func (s *Scheduler) setState(st State) { s.state.Store(int32(st)) }
