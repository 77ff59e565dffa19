package version

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tidewatch-io/tidewatch/pkg/log"
)

// ErrPersist marks failures to durably record the installed version. The
// flashed image is still valid when this happens; callers log and report but
// must not treat the update as failed.
var ErrPersist = errors.New("version record not persisted")

// Record is the durable description of the installed firmware.
type Record struct {
	Version string `json:"version"`
	Title   string `json:"title"`

	// Confirmed flips to true on the first successful boot of the image.
	Confirmed bool `json:"confirmed"`
}

// Store persists the installed-version record as a single JSON file with
// write-rename durability, the file-system analog of a dedicated NVS
// namespace.
type Store struct {
	path string
	log  log.Logger
}

// NewStore creates a store backed by dir/version.json.
func NewStore(dir string, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Store{
		path: filepath.Join(dir, "version.json"),
		log:  logger.WithName("version"),
	}
}

// Get returns the current record. A missing file is not an error: it reports
// ok=false, meaning no firmware has ever been recorded (factory state).
func (s *Store) Get() (Record, bool, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("read version record: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, false, fmt.Errorf("decode version record: %w", err)
	}
	return rec, true, nil
}

// Set overwrites the record. The write is staged to a temp file, fsynced and
// renamed so a power cut between Set returning and the next boot can never
// leave a torn record.
func (s *Store) Set(rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: encode: %v", ErrPersist, err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}

	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	syncDir(filepath.Dir(s.path))

	s.log.Debug("Version record written", "version", rec.Version, "title", rec.Title, "confirmed", rec.Confirmed)
	return nil
}

// Confirm marks the currently recorded firmware as successfully booted.
// A missing record is a no-op.
func (s *Store) Confirm() error {
	rec, ok, err := s.Get()
	if err != nil {
		return err
	}
	if !ok || rec.Confirmed {
		return nil
	}
	rec.Confirmed = true
	return s.Set(rec)
}

// syncDir flushes the directory entry so the rename itself is durable.
// Failure is logged at the caller's level of interest only; the data file is
// already synced.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	defer d.Close()
	_ = d.Sync()
}
