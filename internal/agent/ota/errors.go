package ota

import (
	"errors"

	"github.com/tidewatch-io/tidewatch/internal/agent/flash"
)

var (
	// ErrNoAuthToken aborts an attempt because the device has no access
	// token for registry resolution. A fresh notification (or provisioning)
	// is required to try again.
	ErrNoAuthToken = errors.New("no access token provisioned")

	// ErrPreflight marks a failed existence/auth probe. It is the only
	// failure that re-arms the pending slot automatically.
	ErrPreflight = errors.New("preflight probe failed")

	// ErrBadStatus is a download GET answered outside the 200 class.
	ErrBadStatus = errors.New("unexpected download status")

	// ErrEmptyPayload is a completed download that transferred zero bytes.
	ErrEmptyPayload = errors.New("empty firmware payload")

	// ErrTransfer is a chunk-read failure mid-stream.
	ErrTransfer = errors.New("firmware transfer failed")

	// ErrChecksumMismatch means the streamed bytes do not hash to the
	// announced checksum. The staged image is discarded, never activated.
	ErrChecksumMismatch = errors.New("firmware checksum mismatch")
)

// failureReason renders a terminal attempt error as the fw_error token
// reported to the platform. Unknown errors pass through as free text.
func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrChecksumMismatch):
		return "checksum_mismatch"
	case errors.Is(err, ErrEmptyPayload):
		return "empty_payload"
	case errors.Is(err, ErrTransfer):
		return "transfer_error"
	case errors.Is(err, ErrBadStatus):
		return "bad_status"
	case errors.Is(err, ErrNoAuthToken):
		return "no_auth_token"
	case errors.Is(err, flash.ErrNoUpdateSlot):
		return "no_update_slot"
	case errors.Is(err, flash.ErrWrite):
		return "flash_write_error"
	case errors.Is(err, flash.ErrCommit):
		return "flash_commit_error"
	case errors.Is(err, flash.ErrSetBoot):
		return "set_boot_target_error"
	default:
		return err.Error()
	}
}
