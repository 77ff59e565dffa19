package creds

import (
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tidewatch-io/tidewatch/pkg/log"
)

const (
	tokenFile    = "token"
	anchorFile   = "ca.pem"
	registryFile = "registry"
)

// ErrNotProvisioned indicates the device has no access token yet.
var ErrNotProvisioned = errors.New("device not provisioned")

// Store keeps the small provisioning values (access token, trust anchor) as
// individual files under a credentials directory, fsynced on write so a
// freshly provisioned device survives an immediate power cut.
type Store struct {
	dir string
	log log.Logger
	mu  sync.RWMutex
}

// NewStore opens (and if needed creates) the credentials directory.
func NewStore(dir string, logger log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create credentials dir: %w", err)
	}
	return &Store{dir: dir, log: logger.WithName("creds")}, nil
}

// Dir returns the backing directory, for wiring a change watcher.
func (s *Store) Dir() string { return s.dir }

// AccessToken returns the provisioned device token.
func (s *Store) AccessToken() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(filepath.Join(s.dir, tokenFile))
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotProvisioned
		}
		return "", fmt.Errorf("read access token: %w", err)
	}
	tok := strings.TrimSpace(string(data))
	if tok == "" {
		return "", ErrNotProvisioned
	}
	return tok, nil
}

// Provisioned reports whether an access token is present.
func (s *Store) Provisioned() bool {
	_, err := s.AccessToken()
	return err == nil
}

// SetAccessToken durably stores the device token.
func (s *Store) SetAccessToken(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("access token must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeFileSync(filepath.Join(s.dir, tokenFile), []byte(token), 0o600); err != nil {
		return fmt.Errorf("store access token: %w", err)
	}
	s.log.Info("Access token provisioned")
	return nil
}

// TrustAnchorPEM returns the provisioned CA bundle, or ok=false when the
// device relies on platform roots.
func (s *Store) TrustAnchorPEM() ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(filepath.Join(s.dir, anchorFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read trust anchor: %w", err)
	}
	return data, true, nil
}

// SetTrustAnchorPEM validates and durably stores a CA bundle.
func (s *Store) SetTrustAnchorPEM(pem []byte) error {
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return fmt.Errorf("trust anchor contains no valid PEM certificates")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeFileSync(filepath.Join(s.dir, anchorFile), pem, 0o644); err != nil {
		return fmt.Errorf("store trust anchor: %w", err)
	}
	s.log.Info("Trust anchor provisioned", "bytes", len(pem))
	return nil
}

// RegistryOverride returns the provisioning-time registry base URL, or
// ok=false when the device uses its configured default. The override is
// read at startup; changing it on a running agent takes effect on the next
// start.
func (s *Store) RegistryOverride() (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(filepath.Join(s.dir, registryFile))
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("read registry override: %w", err)
	}
	u := strings.TrimSpace(string(data))
	if u == "" {
		return "", false, nil
	}
	return u, true, nil
}

// SetRegistryOverride durably stores a registry base URL. An empty value
// clears the override.
func (s *Store) SetRegistryOverride(baseURL string) error {
	baseURL = strings.TrimSpace(baseURL)

	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, registryFile)
	if baseURL == "" {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("clear registry override: %w", err)
		}
		return nil
	}
	if err := writeFileSync(path, []byte(baseURL), 0o644); err != nil {
		return fmt.Errorf("store registry override: %w", err)
	}
	s.log.Info("Registry override provisioned", "url", baseURL)
	return nil
}

// CertPool builds an x509 pool from the provisioned anchor. It returns
// (nil, nil) when no anchor is present, which callers treat as "use the
// platform roots".
func (s *Store) CertPool() (*x509.CertPool, error) {
	pem, ok, err := s.TrustAnchorPEM()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("stored trust anchor is not valid PEM")
	}
	return pool, nil
}

func writeFileSync(path string, data []byte, mode os.FileMode) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
