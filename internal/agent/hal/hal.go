// Package hal isolates the host-specific operations the agent needs from
// the platform it runs on. Firmware slot management lives in the flash
// package; what remains here is the ability to restart the system so the
// bootloader picks up a newly activated slot.
package hal

// System is the host abstraction the update engine restarts through.
type System interface {
	// Restart flushes filesystem buffers and reboots the host. On success
	// it does not return.
	Restart() error
}
