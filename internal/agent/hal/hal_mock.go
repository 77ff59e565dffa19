//go:build !linux

package hal

import (
	"github.com/tidewatch-io/tidewatch/pkg/log"
)

type mockSystem struct{}

// NewSystem returns a development adapter that only logs. It lets the agent
// run end to end on a workstation without rebooting it.
func NewSystem() System {
	return &mockSystem{}
}

func (s *mockSystem) Restart() error {
	log.Warn(">>> RESTART REQUESTED <<<")
	log.Warn("Running outside Linux, restart is a no-op")
	return nil
}
