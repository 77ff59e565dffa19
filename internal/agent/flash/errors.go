package flash

import "errors"

var (
	// ErrNoUpdateSlot indicates no inactive slot could be opened for
	// writing, typically because another transaction is in flight.
	ErrNoUpdateSlot = errors.New("no update slot available")

	// ErrWrite indicates a failed append. The transaction is poisoned and
	// must be aborted.
	ErrWrite = errors.New("flash write failed")

	// ErrCommit indicates the staged image could not be finalized.
	ErrCommit = errors.New("flash commit failed")

	// ErrSetBoot indicates the boot-target marker could not be updated.
	ErrSetBoot = errors.New("set boot target failed")
)
