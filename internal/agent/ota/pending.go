package ota

import (
	"context"
	"sync"
	"time"

	"github.com/tidewatch-io/tidewatch/internal/pkg/metrics"
	"github.com/tidewatch-io/tidewatch/pkg/log"
)

// Slot states.
const (
	SlotEmpty   = "empty"
	SlotArmed   = "armed"
	SlotRunning = "running"
)

// Outcome classifies one finished update attempt.
type Outcome int

const (
	// OutcomeApplied is a fully applied update.
	OutcomeApplied Outcome = iota

	// OutcomeDeferred re-arms the same descriptor after the retry delay.
	OutcomeDeferred

	// OutcomeFailed is terminal for this descriptor. Only a fresh
	// notification retries it.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeDeferred:
		return "deferred"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// AttemptFunc runs one full update attempt for the given descriptor.
type AttemptFunc func(ctx context.Context, d Descriptor) Outcome

// Slot holds at most one outstanding update request and owns the single
// worker that runs every attempt. A newer request always replaces an older
// one. Timer expiry, connectivity-ready signals, and fresh submissions all
// funnel through a depth-one trigger channel, so concurrent events can
// never produce two attempts in flight.
type Slot struct {
	delay   time.Duration
	attempt AttemptFunc
	log     log.Logger

	kick chan struct{}

	mu    sync.Mutex
	state string
	armed *Descriptor
	timer *time.Timer
}

// NewSlot creates the pending-request slot. delay is the fixed re-arm
// interval after a deferred attempt; it does not grow.
func NewSlot(delay time.Duration, attempt AttemptFunc, logger log.Logger) *Slot {
	if delay <= 0 {
		delay = time.Minute
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Slot{
		delay:   delay,
		attempt: attempt,
		log:     logger.WithName("pending"),
		kick:    make(chan struct{}, 1),
		state:   SlotEmpty,
	}
}

// Start runs the attempt worker until the context is canceled.
func (s *Slot) Start(ctx context.Context) error {
	s.log.Info("Pending request worker started", "retryDelay", s.delay)

	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			if s.timer != nil {
				s.timer.Stop()
			}
			s.mu.Unlock()
			return nil
		case <-s.kick:
		}

		d, ok := s.take()
		if !ok {
			continue
		}

		outcome := s.attempt(ctx, d)
		metrics.UpdateAttemptsTotal.WithLabelValues(outcome.String()).Inc()
		s.finish(d, outcome)
	}
}

// Submit arms the descriptor for an immediate attempt, replacing any prior
// request. If an attempt is already running, the descriptor waits armed and
// the worker picks it up right after.
func (s *Slot) Submit(d Descriptor) {
	s.arm(d, 0)
	s.kickNow()
}

// Defer arms the descriptor for an attempt after the fixed retry delay,
// replacing any prior request.
func (s *Slot) Defer(d Descriptor) {
	s.arm(d, s.delay)
}

// TriggerReady attempts the armed request immediately, without waiting out
// its timer. With nothing armed it is a no-op.
func (s *Slot) TriggerReady() {
	s.mu.Lock()
	armed := s.armed != nil
	s.mu.Unlock()

	if armed {
		s.log.Info("Connectivity ready, attempting pending request now")
		s.kickNow()
	}
}

// State reports the current slot state for status surfaces.
func (s *Slot) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Slot) arm(d Descriptor, after time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.armed != nil {
		s.log.Info("Replacing pending update request", "old", s.armed.Version, "new", d.Version)
	}
	s.armed = &d
	if s.state != SlotRunning {
		s.state = SlotArmed
	}
	metrics.PendingArmed.Set(1)

	if after > 0 {
		if s.timer == nil {
			s.timer = time.AfterFunc(after, s.kickNow)
		} else {
			s.timer.Reset(after)
		}
	} else if s.timer != nil {
		s.timer.Stop()
	}
}

// take claims the armed descriptor for an attempt.
func (s *Slot) take() (Descriptor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.armed == nil {
		return Descriptor{}, false
	}

	d := *s.armed
	s.armed = nil
	s.state = SlotRunning
	if s.timer != nil {
		s.timer.Stop()
	}
	metrics.PendingArmed.Set(0)
	return d, true
}

// finish settles the slot after an attempt. A deferred outcome re-arms the
// same descriptor unless a newer one arrived mid-attempt; the newer request
// always wins.
func (s *Slot) finish(d Descriptor, outcome Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if outcome == OutcomeDeferred && s.armed == nil {
		s.armed = &d
		s.state = SlotArmed
		metrics.PendingArmed.Set(1)
		if s.timer == nil {
			s.timer = time.AfterFunc(s.delay, s.kickNow)
		} else {
			s.timer.Reset(s.delay)
		}
		s.log.Info("Update deferred", "version", d.Version, "retryIn", s.delay)
		return
	}

	if s.armed != nil {
		s.state = SlotArmed
		return
	}
	s.state = SlotEmpty
}

func (s *Slot) kickNow() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}
