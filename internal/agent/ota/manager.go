package ota

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tidewatch-io/tidewatch/internal/agent/version"
	"github.com/tidewatch-io/tidewatch/internal/pkg/metrics"
	"github.com/tidewatch-io/tidewatch/pkg/log"
)

// Restarter requests a system restart after an applied update. A real
// implementation does not return on success.
type Restarter interface {
	Restart() error
}

// ManagerConfig carries the orchestration tunables.
type ManagerConfig struct {
	// RetryDelay is the fixed pause before a deferred request is
	// re-attempted. It does not grow across retries.
	RetryDelay time.Duration
}

// Manager is the update orchestrator: it normalizes incoming announcements,
// decides skip/apply/defer, owns the pending-request slot, and drives the
// fetcher through one attempt at a time.
type Manager struct {
	fetcher   *Fetcher
	versions  *version.Store
	restarter Restarter
	slot      *Slot
	log       log.Logger

	// restartFlush gives the final status publish time to leave the device
	// before the restart tears the connection down.
	restartFlush time.Duration

	mu     sync.Mutex
	engine *engine
}

// NewManager wires the orchestrator. All collaborators are required except
// the logger.
func NewManager(cfg ManagerConfig, fetcher *Fetcher, versions *version.Store,
	status StatusReporter, restarter Restarter, logger log.Logger) *Manager {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	logger = logger.WithName("ota")

	m := &Manager{
		fetcher:      fetcher,
		versions:     versions,
		restarter:    restarter,
		log:          logger,
		restartFlush: time.Second,
		engine:       newEngine(status, logger),
	}
	m.slot = NewSlot(cfg.RetryDelay, m.attempt, logger)
	return m
}

// Start runs the attempt worker until the context is canceled.
func (m *Manager) Start(ctx context.Context) error {
	return m.slot.Start(ctx)
}

// HandleUpdateNotification is the entry point for raw attribute payloads
// from the platform. Anything that is not a complete firmware announcement
// is logged and dropped; the method never panics on malformed input.
func (m *Manager) HandleUpdateNotification(payload []byte) {
	d, ok := ParseNotification(payload)
	if !ok {
		m.log.Debug("Ignoring payload without firmware attributes", "bytes", len(payload))
		return
	}

	m.log.Info("Firmware update announced", "title", d.Title, "version", d.Version, "size", d.Size)

	m.mu.Lock()
	busy := m.engine.attempting()
	if !busy {
		m.fireEventLocked(EventNotify)
	}

	if m.alreadyInstalled(d) {
		if !busy {
			m.fireEventLocked(EventSkip)
			m.fireEventLocked(EventFinalize)
		}
		m.mu.Unlock()

		metrics.UpdateAttemptsTotal.WithLabelValues("skipped").Inc()
		m.log.Info("Announced firmware already installed, skipping", "version", d.Version)
		return
	}
	m.mu.Unlock()

	m.slot.Submit(d)
}

// NotifyConnectivityReady re-attempts an armed request immediately. With
// nothing armed it is a no-op.
func (m *Manager) NotifyConnectivityReady() {
	m.slot.TriggerReady()
}

// Phase reports the current engine phase.
func (m *Manager) Phase() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.engine.Current()
}

// SlotState reports the pending-request slot state.
func (m *Manager) SlotState() string {
	return m.slot.State()
}

// attempt runs one full preflight+download attempt on the slot worker.
func (m *Manager) attempt(ctx context.Context, d Descriptor) Outcome {
	m.fireEvent(EventPreflight)

	err := m.fetcher.Preflight(ctx, d)
	switch {
	case err == nil:
	case errors.Is(err, ErrNoAuthToken):
		m.log.Error(err, "Update attempt aborted, device has no access token", "version", d.Version)
		m.fireEvent(EventFail, failureReason(err))
		m.fireEvent(EventFinalize)
		return OutcomeFailed
	default:
		m.log.Warn("Preflight failed, deferring update", "version", d.Version, "reason", err.Error())
		m.fireEvent(EventDefer)
		return OutcomeDeferred
	}

	m.fireEvent(EventDownload)

	if err := m.fetcher.FetchAndApply(ctx, d); err != nil {
		m.log.Error(err, "Firmware update failed", "title", d.Title, "version", d.Version)
		m.fireEvent(EventFail, failureReason(err))
		m.fireEvent(EventFinalize)
		return OutcomeFailed
	}

	m.fireEvent(EventApply)
	m.fireEvent(EventFinalize)
	m.log.Info("Firmware update applied, requesting restart", "title", d.Title, "version", d.Version)

	time.Sleep(m.restartFlush)
	if err := m.restarter.Restart(); err != nil {
		m.log.Error(err, "Restart request failed")
	}
	return OutcomeApplied
}

// alreadyInstalled compares the announced version against the installed
// record. A read failure counts as not installed so the update proceeds.
func (m *Manager) alreadyInstalled(d Descriptor) bool {
	rec, found, err := m.versions.Get()
	if err != nil {
		m.log.Error(err, "Failed to read installed version record")
		return false
	}
	return found && rec.Version == d.Version
}

func (m *Manager) fireEvent(name string, args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fireEventLocked(name, args...)
}

// fireEventLocked must run with m.mu held; the engine itself is not safe
// for concurrent transitions.
func (m *Manager) fireEventLocked(name string, args ...any) {
	if err := m.engine.Event(context.Background(), name, args...); err != nil {
		m.log.Warn("Engine transition rejected", "event", name, "phase", m.engine.Current(), "reason", err.Error())
	}
}
