package flash

import (
	"context"
)

// Device is the slot-based firmware store. One transaction may be open at a
// time; a committed image only becomes bootable after SetActive.
type Device interface {
	// Begin opens a write transaction on the inactive slot.
	Begin(ctx context.Context) (Transaction, error)

	// SetActive marks the given slot as the boot target.
	SetActive(slot string) error

	// ActiveSlot returns the current boot target, or "" when none is set.
	ActiveSlot() string

	// Slots describes the current slot layout for inspection.
	Slots() ([]SlotInfo, error)
}

// Transaction is a single append-only image write. Interrupted or aborted
// transactions leave no selectable image behind. There are no internal
// retries and no resume: any failure means the whole image is written again
// from the start.
type Transaction interface {
	// Write appends the chunk to the staged image.
	Write(p []byte) (int, error)

	// Commit finalizes the staged image into its slot.
	Commit() error

	// Abort discards the staged image. Safe to call after Commit failed or
	// as a deferred cleanup; it is a no-op once committed.
	Abort() error

	// Slot names the slot this transaction writes to.
	Slot() string
}

// SlotInfo describes one firmware slot for status surfaces.
type SlotInfo struct {
	Name   string `json:"name"`
	Size   int64  `json:"size"`
	Active bool   `json:"active"`
	Staged bool   `json:"staged"`
}
