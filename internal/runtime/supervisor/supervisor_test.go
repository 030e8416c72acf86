package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestGoRecordsFirstErrorAndCancels(t *testing.T) {
	t.Parallel()
	s := New(t.Context(), WithCancelOnError(true))
	boom := errors.New("boom")
	s.Go("failing", func(context.Context) error { return boom })
	s.Go0("waiter", func(ctx context.Context) { <-ctx.Done() })

	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()
	if err := s.Wait(ctx); !errors.Is(err, boom) {
		t.Fatalf("Wait = %v, want boom", err)
	}
	if active, started := s.Counters(); active != 0 || started != 2 {
		t.Fatalf("counters = (%d, %d)", active, started)
	}
}

func TestGoRecoversPanic(t *testing.T) {
	t.Parallel()
	s := New(t.Context())
	s.Go0("panicker", func(context.Context) { panic("oops") })
	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err == nil {
		t.Fatal("expected the panic to be recorded")
	}
}

func TestGoRestartRestartsUntilLimit(t *testing.T) {
	t.Parallel()
	s := New(t.Context())
	var runs atomic.Int32
	s.GoRestart("flaky", func(context.Context) error {
		runs.Add(1)
		return errors.New("transient")
	}, WithRestartBackoff(time.Millisecond, 2*time.Millisecond), WithMaxRestarts(3))

	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err == nil {
		t.Fatal("expected the final error to be recorded")
	}
	if got := runs.Load(); got != 4 {
		t.Fatalf("runs = %d, want 4 (initial + 3 restarts)", got)
	}
}

func TestGoRestartStopsOnCleanExitAndCancel(t *testing.T) {
	t.Parallel()
	s := New(t.Context())
	var runs atomic.Int32
	s.GoRestart0("once", func(context.Context) { runs.Add(1) })
	s.GoRestart0("loop", func(ctx context.Context) { <-ctx.Done() }, WithStopOnCleanExit(false))

	time.Sleep(10 * time.Millisecond)
	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop = %v", err)
	}
	if runs.Load() != 1 {
		t.Fatalf("clean exit restarted: runs = %d", runs.Load())
	}
}
