//go:build linux

package hal

import (
	"syscall"

	"github.com/tidewatch-io/tidewatch/pkg/log"
)

type linuxSystem struct{}

// NewSystem returns the real host adapter.
func NewSystem() System {
	return &linuxSystem{}
}

func (s *linuxSystem) Restart() error {
	log.Warn("System is rebooting NOW...")
	syscall.Sync()
	return syscall.Reboot(syscall.LINUX_REBOOT_CMD_RESTART)
}
