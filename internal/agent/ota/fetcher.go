package ota

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidewatch-io/tidewatch/internal/agent/flash"
	"github.com/tidewatch-io/tidewatch/internal/agent/version"
	"github.com/tidewatch-io/tidewatch/internal/pkg/metrics"
	"github.com/tidewatch-io/tidewatch/pkg/log"
)

// Credentials supplies the device access token for registry resolution and
// the optional TLS trust anchors for the download endpoint.
type Credentials interface {
	AccessToken() (string, error)
	CertPool() (*x509.CertPool, error)
}

// ClockGate reports whether the wall clock can be trusted for certificate
// validation. Verdicts are advisory.
type ClockGate interface {
	Ensure(ctx context.Context, maxWait time.Duration) bool
}

// clockSyncWait bounds how long one attempt waits for the clock to become
// plausible before risking TLS anyway.
const clockSyncWait = 10 * time.Second

// FetcherConfig carries the tunables of the transfer path.
type FetcherConfig struct {
	// RegistryBaseURL resolves title/version descriptors without a direct URL.
	RegistryBaseURL string

	// ChunkSize is the fixed transfer buffer. Memory use is independent of
	// the payload size.
	ChunkSize int

	PreflightTimeout time.Duration
	DownloadTimeout  time.Duration
}

func (c *FetcherConfig) setDefaults() {
	if c.ChunkSize <= 0 {
		c.ChunkSize = 32 * 1024
	}
	if c.PreflightTimeout <= 0 {
		c.PreflightTimeout = 10 * time.Second
	}
	if c.DownloadTimeout <= 0 {
		c.DownloadTimeout = 10 * time.Minute
	}
}

// Fetcher performs the preflight probe and the streamed download of one
// firmware image, pumping the body through flash and digest together.
type Fetcher struct {
	cfg      FetcherConfig
	creds    Credentials
	device   flash.Device
	versions *version.Store
	status   StatusReporter
	clock    ClockGate
	log      log.Logger
}

// NewFetcher wires the transfer path. clock may be nil when no plausibility
// gate is available (tests).
func NewFetcher(cfg FetcherConfig, creds Credentials, device flash.Device, versions *version.Store,
	status StatusReporter, clock ClockGate, logger log.Logger) *Fetcher {
	cfg.setDefaults()
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Fetcher{
		cfg:      cfg,
		creds:    creds,
		device:   device,
		versions: versions,
		status:   status,
		clock:    clock,
		log:      logger.WithName("fetcher"),
	}
}

// Preflight probes the resolved download URL with a lightweight HEAD
// request. nil means the image is ready to download. A wrapped ErrPreflight
// is the retryable outcome; ErrNoAuthToken is terminal for this attempt.
func (f *Fetcher) Preflight(ctx context.Context, d Descriptor) error {
	target, err := f.resolveURL(d)
	if err != nil {
		return err
	}

	if f.clock != nil {
		f.clock.Ensure(ctx, clockSyncWait)
	}

	client, err := f.httpClient(f.cfg.PreflightTimeout)
	if err != nil {
		return fmt.Errorf("%w: trust anchors: %v", ErrPreflight, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPreflight, err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPreflight, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%w: status %s", ErrPreflight, resp.Status)
	}
	return nil
}

// FetchAndApply downloads the image, streams it into the inactive flash
// slot while hashing, verifies, commits, activates, and records the new
// version. The caller performs the restart; the fetcher never does.
func (f *Fetcher) FetchAndApply(ctx context.Context, d Descriptor) error {
	target, err := f.resolveURL(d)
	if err != nil {
		return err
	}

	f.status.ReportStatus(Status{State: StateDownloading})
	f.log.Info("Downloading firmware", "title", d.Title, "version", d.Version, "size", d.Size)

	client, err := f.httpClient(f.cfg.DownloadTimeout)
	if err != nil {
		return fmt.Errorf("%w: trust anchors: %v", ErrTransfer, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransfer, err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransfer, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s", ErrBadStatus, resp.Status)
	}

	txn, err := f.device.Begin(ctx)
	if err != nil {
		return err
	}

	digest := NewDigest(d.ChecksumAlgorithm)
	if digest == nil {
		f.log.Warn("No usable checksum algorithm announced, integrity verification skipped",
			"algorithm", d.ChecksumAlgorithm, "version", d.Version)
	}

	written, err := f.stream(resp.Body, txn, digest)
	if err != nil {
		txn.Abort()
		return err
	}
	if written == 0 {
		txn.Abort()
		return ErrEmptyPayload
	}
	if d.Size > 0 && written != d.Size {
		f.log.Warn("Downloaded size differs from announced size", "announced", d.Size, "written", written)
	}
	metrics.DownloadBytesTotal.Add(float64(written))
	f.status.ReportStatus(Status{State: StateDownloaded})

	if digest != nil {
		if !digest.Matches(d.Checksum) {
			txn.Abort()
			return fmt.Errorf("%w: got %s, want %s", ErrChecksumMismatch, digest.Sum(), strings.ToLower(d.Checksum))
		}
		f.status.ReportStatus(Status{State: StateVerified})
	}

	slot := txn.Slot()
	if err := txn.Commit(); err != nil {
		return err
	}
	if err := f.device.SetActive(slot); err != nil {
		return err
	}

	rec := version.Record{Version: d.Version, Title: d.Title, Confirmed: false}
	if err := f.versions.Set(rec); err != nil {
		// The image is already flashed and bootable. A stale record only
		// misreports the version until the next successful write.
		f.log.Error(err, "Failed to persist installed version record", "version", d.Version)
	}

	f.status.ReportStatus(Status{State: StateUpdated})
	f.log.Info("Firmware written and activated", "slot", slot, "version", d.Version, "bytes", written)
	return nil
}

// stream pumps the body into flash (and digest, when verifying) through one
// fixed-size buffer. Read failures map to ErrTransfer; write failures carry
// the flash error as-is.
func (f *Fetcher) stream(body io.Reader, txn flash.Transaction, digest *Digest) (int64, error) {
	var dst io.Writer = txn
	if digest != nil {
		dst = io.MultiWriter(txn, digest)
	}

	buf := make([]byte, f.cfg.ChunkSize)
	var written int64
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return written, werr
			}
			written += int64(n)
		}
		if err == io.EOF {
			return written, nil
		}
		if err != nil {
			return written, fmt.Errorf("%w: %v", ErrTransfer, err)
		}
	}
}

// resolveURL picks the direct URL when announced, otherwise builds the
// registry lookup from title, version, and the device access token.
func (f *Fetcher) resolveURL(d Descriptor) (string, error) {
	if d.URL != "" {
		return d.URL, nil
	}

	token, err := f.creds.AccessToken()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoAuthToken, err)
	}

	base := strings.TrimRight(f.cfg.RegistryBaseURL, "/")
	return fmt.Sprintf("%s/api/v1/%s/firmware?title=%s&version=%s",
		base, url.PathEscape(token), url.QueryEscape(d.Title), url.QueryEscape(d.Version)), nil
}

// httpClient builds a client against the current trust anchors. Built per
// attempt so a provisioning-time CA change needs no restart.
func (f *Fetcher) httpClient(timeout time.Duration) (*http.Client, error) {
	pool, err := f.creds.CertPool()
	if err != nil {
		return nil, err
	}

	transport := &http.Transport{}
	if pool != nil {
		transport.TLSClientConfig = &tls.Config{RootCAs: pool}
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}, nil
}
