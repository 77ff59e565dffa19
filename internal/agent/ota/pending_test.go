package ota

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tidewatch-io/tidewatch/pkg/log"
)

// attemptRecorder is a scripted AttemptFunc that records the descriptors it
// was invoked with and signals each invocation.
type attemptRecorder struct {
	mu       sync.Mutex
	attempts []Descriptor
	outcomes []Outcome
	calls    chan Descriptor
	block    chan struct{}
}

func newAttemptRecorder(outcomes ...Outcome) *attemptRecorder {
	return &attemptRecorder{
		outcomes: outcomes,
		calls:    make(chan Descriptor, 16),
	}
}

func (r *attemptRecorder) run(ctx context.Context, d Descriptor) Outcome {
	r.mu.Lock()
	n := len(r.attempts)
	r.attempts = append(r.attempts, d)
	r.mu.Unlock()

	r.calls <- d
	if r.block != nil {
		<-r.block
	}

	if n < len(r.outcomes) {
		return r.outcomes[n]
	}
	return OutcomeApplied
}

func (r *attemptRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.attempts)
}

func startSlot(t *testing.T, s *Slot) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Start(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func waitAttempt(t *testing.T, r *attemptRecorder, timeout time.Duration) Descriptor {
	t.Helper()
	select {
	case d := <-r.calls:
		return d
	case <-time.After(timeout):
		t.Fatal("timed out waiting for an attempt")
		return Descriptor{}
	}
}

func TestSlotSubmitRunsAttempt(t *testing.T) {
	rec := newAttemptRecorder(OutcomeApplied)
	s := NewSlot(time.Minute, rec.run, log.NewNopLogger())
	startSlot(t, s)

	want := Descriptor{Title: "fw", Version: "2.0"}
	s.Submit(want)

	got := waitAttempt(t, rec, 2*time.Second)
	if got != want {
		t.Errorf("attempted descriptor = %+v, want %+v", got, want)
	}

	// Terminal outcome empties the slot.
	deadline := time.Now().Add(2 * time.Second)
	for s.State() != SlotEmpty {
		if time.Now().After(deadline) {
			t.Fatalf("slot state = %q, want %q", s.State(), SlotEmpty)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSlotLatestWins(t *testing.T) {
	rec := newAttemptRecorder(OutcomeFailed, OutcomeApplied)
	rec.block = make(chan struct{})
	s := NewSlot(time.Minute, rec.run, log.NewNopLogger())
	startSlot(t, s)

	s.Submit(Descriptor{Version: "1"})
	waitAttempt(t, rec, 2*time.Second)

	// Two more requests land while the first attempt is still running.
	// Only the newest may run afterwards.
	s.Submit(Descriptor{Version: "2"})
	s.Submit(Descriptor{Version: "3"})
	rec.block <- struct{}{}

	got := waitAttempt(t, rec, 2*time.Second)
	rec.block <- struct{}{}
	if got.Version != "3" {
		t.Errorf("second attempt ran version %q, want %q", got.Version, "3")
	}
	if n := rec.count(); n != 2 {
		t.Errorf("attempt count = %d, want 2", n)
	}
}

func TestSlotDeferredRearm(t *testing.T) {
	rec := newAttemptRecorder(OutcomeDeferred, OutcomeApplied)
	s := NewSlot(30*time.Millisecond, rec.run, log.NewNopLogger())
	startSlot(t, s)

	s.Submit(Descriptor{Version: "2.0"})

	waitAttempt(t, rec, 2*time.Second)
	// No resubmission: the deferred descriptor must come back on its own.
	got := waitAttempt(t, rec, 2*time.Second)
	if got.Version != "2.0" {
		t.Errorf("re-attempted descriptor version = %q, want %q", got.Version, "2.0")
	}
}

func TestSlotDeferOverwrites(t *testing.T) {
	rec := newAttemptRecorder()
	s := NewSlot(40*time.Millisecond, rec.run, log.NewNopLogger())
	startSlot(t, s)

	s.Defer(Descriptor{Version: "old"})
	s.Defer(Descriptor{Version: "new"})

	got := waitAttempt(t, rec, 2*time.Second)
	if got.Version != "new" {
		t.Errorf("attempted descriptor version = %q, want %q", got.Version, "new")
	}

	select {
	case d := <-rec.calls:
		t.Errorf("unexpected second attempt for version %q", d.Version)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestSlotTriggerReady(t *testing.T) {
	t.Run("armed request attempted immediately", func(t *testing.T) {
		rec := newAttemptRecorder()
		s := NewSlot(time.Hour, rec.run, log.NewNopLogger())
		startSlot(t, s)

		s.Defer(Descriptor{Version: "2.0"})
		s.TriggerReady()

		waitAttempt(t, rec, 2*time.Second)
	})

	t.Run("empty slot is a no-op", func(t *testing.T) {
		rec := newAttemptRecorder()
		s := NewSlot(time.Hour, rec.run, log.NewNopLogger())
		startSlot(t, s)

		s.TriggerReady()

		select {
		case d := <-rec.calls:
			t.Errorf("unexpected attempt for version %q", d.Version)
		case <-time.After(100 * time.Millisecond):
		}
	})
}

func TestSlotSingleWorker(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	attempt := func(ctx context.Context, d Descriptor) Outcome {
		cur := inFlight.Add(1)
		for {
			prev := maxInFlight.Load()
			if cur <= prev || maxInFlight.CompareAndSwap(prev, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		return OutcomeDeferred
	}

	s := NewSlot(5*time.Millisecond, attempt, log.NewNopLogger())
	startSlot(t, s)

	// Hammer the trigger paths while deferred re-arms keep the timer hot.
	s.Submit(Descriptor{Version: "2.0"})
	for i := 0; i < 50; i++ {
		s.TriggerReady()
		time.Sleep(2 * time.Millisecond)
	}

	if got := maxInFlight.Load(); got > 1 {
		t.Errorf("observed %d concurrent attempts, want at most 1", got)
	}
}
