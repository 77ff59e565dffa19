package timesync

import (
	"context"
	"time"

	"github.com/tidewatch-io/tidewatch/pkg/log"
)

// minPlausible is the floor for a believable wall clock. Devices come up at
// the epoch until time sync completes, and TLS certificate validation fails
// against such a clock.
var minPlausible = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

const pollInterval = 500 * time.Millisecond

// Gate answers whether the wall clock can be trusted for certificate
// validation. It is advisory: callers log and proceed when the clock never
// becomes plausible, trading a possible TLS failure for availability.
type Gate struct {
	now func() time.Time
	log log.Logger
}

// NewGate creates a gate against the real clock.
func NewGate(logger log.Logger) *Gate {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Gate{now: time.Now, log: logger.WithName("timesync")}
}

// Plausible reports whether the wall clock has reached the floor.
func (g *Gate) Plausible() bool {
	return !g.now().Before(minPlausible)
}

// Ensure polls until the clock becomes plausible or maxWait elapses. It
// returns the final plausibility verdict.
func (g *Gate) Ensure(ctx context.Context, maxWait time.Duration) bool {
	if g.Plausible() {
		return true
	}

	g.log.Warn("Wall clock not plausible, waiting for time sync", "now", g.now().UTC(), "maxWait", maxWait)

	deadline := time.NewTimer(maxWait)
	defer deadline.Stop()
	tick := time.NewTicker(pollInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return g.Plausible()
		case <-deadline.C:
			g.log.Warn("Wall clock still not plausible, proceeding anyway", "now", g.now().UTC())
			return g.Plausible()
		case <-tick.C:
			if g.Plausible() {
				g.log.Info("Wall clock became plausible", "now", g.now().UTC())
				return true
			}
		}
	}
}
