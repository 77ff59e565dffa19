package flash

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tidewatch-io/tidewatch/pkg/log"
)

const (
	slotA = "a"
	slotB = "b"

	activeMarker  = "active"
	partialSuffix = ".partial"
)

// FileDevice implements Device on top of a state directory, mirroring an A/B
// partition scheme: two image files, a staging file per write, and an
// atomically replaced boot-target marker.
type FileDevice struct {
	dir string
	log log.Logger

	mu   sync.Mutex
	open *fileTxn
}

var _ Device = (*FileDevice)(nil)

// OpenFileDevice prepares the slot directory.
func OpenFileDevice(dir string, logger log.Logger) (*FileDevice, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create slot dir: %w", err)
	}
	return &FileDevice{
		dir: dir,
		log: logger.WithName("flash"),
	}, nil
}

func (d *FileDevice) slotPath(slot string) string {
	return filepath.Join(d.dir, "slot_"+slot+".bin")
}

// ActiveSlot returns the boot target recorded in the marker file.
func (d *FileDevice) ActiveSlot() string {
	data, err := os.ReadFile(filepath.Join(d.dir, activeMarker))
	if err != nil {
		return ""
	}
	switch s := string(data); s {
	case slotA, slotB:
		return s
	default:
		return ""
	}
}

// inactiveSlot picks the write target: the slot we are not booting from.
// A factory-fresh device with no marker writes to slot b, leaving a for the
// shipped image.
func (d *FileDevice) inactiveSlot() string {
	if d.ActiveSlot() == slotB {
		return slotA
	}
	return slotB
}

// Begin opens a transaction on the inactive slot. Only one transaction may
// exist at a time; a second Begin reports ErrNoUpdateSlot.
func (d *FileDevice) Begin(ctx context.Context) (Transaction, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.open != nil {
		return nil, fmt.Errorf("%w: transaction already open on slot %s", ErrNoUpdateSlot, d.open.slot)
	}

	slot := d.inactiveSlot()
	staging := d.slotPath(slot) + partialSuffix

	f, err := os.OpenFile(staging, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoUpdateSlot, err)
	}

	txn := &fileTxn{dev: d, slot: slot, staging: staging, f: f}
	d.open = txn
	d.log.Info("Opened firmware slot for writing", "slot", slot)
	return txn, nil
}

// SetActive atomically replaces the boot-target marker.
func (d *FileDevice) SetActive(slot string) error {
	if slot != slotA && slot != slotB {
		return fmt.Errorf("%w: unknown slot %q", ErrSetBoot, slot)
	}
	if _, err := os.Stat(d.slotPath(slot)); err != nil {
		return fmt.Errorf("%w: slot %s has no committed image: %v", ErrSetBoot, slot, err)
	}

	marker := filepath.Join(d.dir, activeMarker)
	tmp := marker + ".tmp"
	if err := writeFileSync(tmp, []byte(slot)); err != nil {
		return fmt.Errorf("%w: %v", ErrSetBoot, err)
	}
	if err := os.Rename(tmp, marker); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: %v", ErrSetBoot, err)
	}

	d.log.Info("Boot target switched", "slot", slot)
	return nil
}

// Slots reports the layout, including any staged partial image.
func (d *FileDevice) Slots() ([]SlotInfo, error) {
	active := d.ActiveSlot()
	infos := make([]SlotInfo, 0, 2)
	for _, slot := range []string{slotA, slotB} {
		info := SlotInfo{Name: slot, Active: slot == active}
		if st, err := os.Stat(d.slotPath(slot)); err == nil {
			info.Size = st.Size()
		}
		if _, err := os.Stat(d.slotPath(slot) + partialSuffix); err == nil {
			info.Staged = true
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// release detaches a finished transaction.
func (d *FileDevice) release(txn *fileTxn) {
	d.mu.Lock()
	if d.open == txn {
		d.open = nil
	}
	d.mu.Unlock()
}

// fileTxn is an append-only write onto a staging file. The first error
// poisons the transaction: every later Write or Commit reports it again so
// callers cannot accidentally commit a torn image.
type fileTxn struct {
	dev     *FileDevice
	slot    string
	staging string
	f       *os.File

	err       error
	committed bool
	written   int64
}

var _ Transaction = (*fileTxn)(nil)

func (t *fileTxn) Slot() string { return t.slot }

func (t *fileTxn) Write(p []byte) (int, error) {
	if t.err != nil {
		return 0, t.err
	}
	if t.committed {
		return 0, fmt.Errorf("%w: transaction already committed", ErrWrite)
	}

	n, err := t.f.Write(p)
	t.written += int64(n)
	if err != nil {
		t.err = fmt.Errorf("%w: %v", ErrWrite, err)
		return n, t.err
	}
	return n, nil
}

func (t *fileTxn) Commit() error {
	if t.err != nil {
		return t.err
	}
	if t.committed {
		return nil
	}

	if err := t.f.Sync(); err != nil {
		t.err = fmt.Errorf("%w: %v", ErrCommit, err)
		return t.err
	}
	if err := t.f.Close(); err != nil {
		t.err = fmt.Errorf("%w: %v", ErrCommit, err)
		return t.err
	}
	if err := os.Rename(t.staging, t.dev.slotPath(t.slot)); err != nil {
		t.err = fmt.Errorf("%w: %v", ErrCommit, err)
		return t.err
	}
	syncDir(t.dev.dir)

	t.committed = true
	t.dev.release(t)
	t.dev.log.Info("Firmware image committed", "slot", t.slot, "bytes", t.written)
	return nil
}

func (t *fileTxn) Abort() error {
	if t.committed {
		return nil
	}
	t.f.Close()
	err := os.Remove(t.staging)
	if err != nil && !os.IsNotExist(err) {
		t.dev.release(t)
		return fmt.Errorf("discard staged image: %w", err)
	}
	if t.err == nil {
		t.err = fmt.Errorf("%w: transaction aborted", ErrWrite)
	}
	t.dev.release(t)
	t.dev.log.Info("Staged firmware image discarded", "slot", t.slot)
	return nil
}

func writeFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	defer d.Close()
	_ = d.Sync()
}
