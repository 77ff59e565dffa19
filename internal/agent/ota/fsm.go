package ota

import (
	"context"

	"github.com/looplab/fsm"

	"github.com/tidewatch-io/tidewatch/internal/pkg/metrics"
	fsmutil "github.com/tidewatch-io/tidewatch/internal/pkg/util/fsm"
	"github.com/tidewatch-io/tidewatch/pkg/log"
)

// Engine lifecycle phases.
const (
	PhaseIdle         = "idle"
	PhaseEvaluating   = "evaluating"
	PhaseSkipped      = "skipped"
	PhasePreflighting = "preflighting"
	PhaseDeferred     = "deferred"
	PhaseDownloading  = "downloading"
	PhaseApplied      = "applied"
	PhaseFailed       = "failed"
)

const (
	// EventNotify starts evaluating a fresh firmware announcement.
	EventNotify = "event_notify"
	// EventSkip ends an evaluation whose version is already installed.
	EventSkip = "event_skip"
	// EventPreflight begins an attempt for the taken descriptor.
	EventPreflight = "event_preflight"
	// EventDefer parks a preflight failure for the retry timer.
	EventDefer = "event_defer"
	// EventDownload moves a passed preflight into the transfer.
	EventDownload = "event_download"
	// EventApply marks a fully applied update.
	EventApply = "event_apply"
	// EventFail marks a terminal attempt failure; its argument is the
	// fw_error reason to report.
	EventFail = "event_fail"
	// EventFinalize returns a settled terminal phase to idle.
	EventFinalize = "event_finalize"
)

var enginePhases = []string{
	PhaseIdle, PhaseEvaluating, PhaseSkipped, PhasePreflighting,
	PhaseDeferred, PhaseDownloading, PhaseApplied, PhaseFailed,
}

// engine tracks the update lifecycle on a finite state machine. Terminal
// side effects (reporting a failure to the platform) run as enter-state
// actions; all decisions stay with the Manager.
type engine struct {
	*fsm.FSM

	status StatusReporter
	log    log.Logger
}

func newEngine(status StatusReporter, logger log.Logger) *engine {
	e := &engine{status: status, log: logger}

	events := fsm.Events{
		{Name: EventNotify, Src: []string{PhaseIdle, PhaseDeferred, PhaseSkipped, PhaseApplied, PhaseFailed}, Dst: PhaseEvaluating},
		{Name: EventSkip, Src: []string{PhaseEvaluating}, Dst: PhaseSkipped},
		{Name: EventPreflight, Src: []string{PhaseEvaluating, PhaseDeferred, PhaseIdle}, Dst: PhasePreflighting},
		{Name: EventDefer, Src: []string{PhasePreflighting}, Dst: PhaseDeferred},
		{Name: EventDownload, Src: []string{PhasePreflighting}, Dst: PhaseDownloading},
		{Name: EventApply, Src: []string{PhaseDownloading}, Dst: PhaseApplied},
		{Name: EventFail, Src: []string{PhasePreflighting, PhaseDownloading}, Dst: PhaseFailed},
		{Name: EventFinalize, Src: []string{PhaseSkipped, PhaseApplied, PhaseFailed}, Dst: PhaseIdle},
	}

	callbacks := fsm.Callbacks{
		"enter_state":          e.actionEnterState,
		"enter_" + PhaseFailed: fsmutil.WrapEvent(e.actionEnterFailed),
	}

	e.FSM = fsm.NewFSM(PhaseIdle, events, callbacks)
	setPhaseMetric(PhaseIdle)
	return e
}

// actionEnterState logs every transition and keeps the phase gauge set.
func (e *engine) actionEnterState(ctx context.Context, ev *fsm.Event) {
	e.log.Debug("Engine phase changed", "from", ev.Src, "to", ev.Dst, "event", ev.Event)
	setPhaseMetric(ev.Dst)
}

// actionEnterFailed reports the terminal failure to the platform. The
// fw_error reason travels as the event argument.
func (e *engine) actionEnterFailed(ctx context.Context, ev *fsm.Event) error {
	reason := "update_failed"
	if len(ev.Args) > 0 {
		if s, ok := ev.Args[0].(string); ok && s != "" {
			reason = s
		}
	}
	e.status.ReportStatus(Status{State: StateFailed, Error: reason})
	return nil
}

// attempting reports whether an announcement is already being worked on.
// New announcements in these phases go straight to the pending slot.
func (e *engine) attempting() bool {
	switch e.Current() {
	case PhaseEvaluating, PhasePreflighting, PhaseDownloading:
		return true
	default:
		return false
	}
}

func setPhaseMetric(current string) {
	for _, p := range enginePhases {
		v := 0.0
		if p == current {
			v = 1.0
		}
		metrics.EngineState.WithLabelValues(p).Set(v)
	}
}
