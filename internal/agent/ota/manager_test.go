package ota

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tidewatch-io/tidewatch/internal/agent/flash"
	"github.com/tidewatch-io/tidewatch/internal/agent/version"
	"github.com/tidewatch-io/tidewatch/pkg/log"
)

type fakeRestarter struct {
	calls chan struct{}
}

func newFakeRestarter() *fakeRestarter {
	return &fakeRestarter{calls: make(chan struct{}, 8)}
}

func (r *fakeRestarter) Restart() error {
	r.calls <- struct{}{}
	return nil
}

type managerFixture struct {
	manager   *Manager
	device    flash.Device
	versions  *version.Store
	status    *statusRecorder
	restarter *fakeRestarter
}

func newManagerFixture(t *testing.T, retryDelay time.Duration) *managerFixture {
	t.Helper()

	device, err := flash.OpenFileDevice(t.TempDir(), log.NewNopLogger())
	if err != nil {
		t.Fatalf("OpenFileDevice() error = %v", err)
	}
	versions := version.NewStore(t.TempDir(), log.NewNopLogger())
	status := &statusRecorder{}
	restarter := newFakeRestarter()

	fetcher := NewFetcher(FetcherConfig{}, &fakeCreds{token: "tok"}, device, versions, status, nil, log.NewNopLogger())
	m := NewManager(ManagerConfig{RetryDelay: retryDelay}, fetcher, versions, status, restarter, log.NewNopLogger())
	m.restartFlush = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Start(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return &managerFixture{manager: m, device: device, versions: versions, status: status, restarter: restarter}
}

func notification(d Descriptor) []byte {
	return []byte(fmt.Sprintf(
		`{"fw_title":%q,"fw_version":%q,"fw_size":%d,"fw_checksum":%q,"fw_checksum_algorithm":%q,"fw_url":%q}`,
		d.Title, d.Version, d.Size, d.Checksum, d.ChecksumAlgorithm, d.URL))
}

func waitRestart(t *testing.T, r *fakeRestarter, timeout time.Duration) {
	t.Helper()
	select {
	case <-r.calls:
	case <-time.After(timeout):
		t.Fatal("timed out waiting for a restart request")
	}
}

func waitPhase(t *testing.T, m *Manager, phase string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for m.Phase() != phase {
		if time.Now().After(deadline) {
			t.Fatalf("engine phase = %q, want %q", m.Phase(), phase)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHandleNotificationMalformed(t *testing.T) {
	fx := newManagerFixture(t, time.Minute)

	payloads := [][]byte{
		nil,
		{},
		[]byte(`{"fw_title":`),
		[]byte(`"just a string"`),
		[]byte(`{"reportingInterval":30}`),
		[]byte(`{"shared":{"fw_title":"t"}}`),
	}
	for _, p := range payloads {
		fx.manager.HandleUpdateNotification(p)
	}

	if got := fx.manager.Phase(); got != PhaseIdle {
		t.Errorf("Phase() = %q after junk payloads, want %q", got, PhaseIdle)
	}
	if got := fx.manager.SlotState(); got != SlotEmpty {
		t.Errorf("SlotState() = %q after junk payloads, want %q", got, SlotEmpty)
	}
}

func TestSkipAlreadyInstalled(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
	}))
	defer srv.Close()

	fx := newManagerFixture(t, time.Minute)
	if err := fx.versions.Set(version.Record{Version: "1.0", Title: "tidewatch", Confirmed: true}); err != nil {
		t.Fatalf("versions.Set() error = %v", err)
	}

	image := []byte("same old firmware")
	fx.manager.HandleUpdateNotification(notification(Descriptor{
		Title: "tidewatch", Version: "1.0", Size: int64(len(image)),
		Checksum: sha256Hex(image), ChecksumAlgorithm: "SHA256", URL: srv.URL,
	}))

	time.Sleep(100 * time.Millisecond)

	if got := requests.Load(); got != 0 {
		t.Errorf("server saw %d requests for an already installed version, want 0", got)
	}
	if got := fx.manager.SlotState(); got != SlotEmpty {
		t.Errorf("SlotState() = %q, want %q", got, SlotEmpty)
	}
	if got := fx.manager.Phase(); got != PhaseIdle {
		t.Errorf("Phase() = %q, want %q", got, PhaseIdle)
	}
	select {
	case <-fx.restarter.calls:
		t.Error("restart requested for an already installed version")
	default:
	}
}

func TestScenarioApply(t *testing.T) {
	image := []byte("brand new firmware build")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(image)
	}))
	defer srv.Close()

	fx := newManagerFixture(t, time.Minute)
	if err := fx.versions.Set(version.Record{Version: "1.0", Title: "tidewatch", Confirmed: true}); err != nil {
		t.Fatalf("versions.Set() error = %v", err)
	}

	fx.manager.HandleUpdateNotification(notification(Descriptor{
		Title: "tidewatch", Version: "2.0", Size: int64(len(image)),
		Checksum: sha256Hex(image), ChecksumAlgorithm: "SHA256", URL: srv.URL,
	}))

	waitRestart(t, fx.restarter, 5*time.Second)

	select {
	case <-fx.restarter.calls:
		t.Error("restart requested more than once")
	case <-time.After(200 * time.Millisecond):
	}

	rec, found, err := fx.versions.Get()
	if err != nil || !found {
		t.Fatalf("versions.Get() = %v, %v, %v; want record", rec, found, err)
	}
	if rec.Version != "2.0" || rec.Title != "tidewatch" || rec.Confirmed {
		t.Errorf("record = %+v, want {2.0 tidewatch false}", rec)
	}

	if fx.device.ActiveSlot() == "" {
		t.Error("no active slot after applied update")
	}
	if got := fx.status.last().State; got != StateUpdated {
		t.Errorf("last reported state = %q, want %q", got, StateUpdated)
	}

	waitPhase(t, fx.manager, PhaseIdle, 2*time.Second)
}

func TestScenarioChecksumMismatch(t *testing.T) {
	image := []byte("corrupted in transit")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(image)
	}))
	defer srv.Close()

	fx := newManagerFixture(t, time.Minute)
	if err := fx.versions.Set(version.Record{Version: "1.0", Title: "tidewatch", Confirmed: true}); err != nil {
		t.Fatalf("versions.Set() error = %v", err)
	}

	fx.manager.HandleUpdateNotification(notification(Descriptor{
		Title: "tidewatch", Version: "2.0", Size: int64(len(image)),
		Checksum: sha256Hex([]byte("what the publisher hashed")), ChecksumAlgorithm: "SHA256", URL: srv.URL,
	}))

	deadline := time.Now().Add(5 * time.Second)
	for fx.status.last().State != StateFailed {
		if time.Now().After(deadline) {
			t.Fatalf("never saw FAILED, statuses = %v", fx.status.states())
		}
		time.Sleep(5 * time.Millisecond)
	}

	if got := fx.status.last().Error; got != "checksum_mismatch" {
		t.Errorf("fw_error = %q, want %q", got, "checksum_mismatch")
	}

	rec, _, _ := fx.versions.Get()
	if rec.Version != "1.0" {
		t.Errorf("installed version = %q after rejected image, want %q", rec.Version, "1.0")
	}
	if got := fx.device.ActiveSlot(); got != "" {
		t.Errorf("ActiveSlot() = %q after rejected image, want none", got)
	}
	select {
	case <-fx.restarter.calls:
		t.Error("restart requested after checksum mismatch")
	default:
	}

	waitPhase(t, fx.manager, PhaseIdle, 2*time.Second)
}

func TestScenarioDeferredRetry(t *testing.T) {
	image := []byte("firmware behind an auth wall")

	t.Run("timer retry", func(t *testing.T) {
		var ready atomic.Bool
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !ready.Load() {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.Write(image)
		}))
		defer srv.Close()

		fx := newManagerFixture(t, 50*time.Millisecond)
		fx.manager.HandleUpdateNotification(notification(Descriptor{
			Title: "tidewatch", Version: "2.0", Size: int64(len(image)),
			Checksum: sha256Hex(image), ChecksumAlgorithm: "SHA256", URL: srv.URL,
		}))

		waitPhase(t, fx.manager, PhaseDeferred, 2*time.Second)

		// No new notification: the armed request must retry by itself.
		ready.Store(true)
		waitRestart(t, fx.restarter, 5*time.Second)

		rec, _, _ := fx.versions.Get()
		if rec.Version != "2.0" {
			t.Errorf("installed version = %q after deferred retry, want %q", rec.Version, "2.0")
		}
	})

	t.Run("connectivity-ready retry", func(t *testing.T) {
		var ready atomic.Bool
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !ready.Load() {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.Write(image)
		}))
		defer srv.Close()

		// Retry delay far beyond the test horizon: only the connectivity
		// signal can fire the retry.
		fx := newManagerFixture(t, time.Hour)
		fx.manager.HandleUpdateNotification(notification(Descriptor{
			Title: "tidewatch", Version: "2.0", Size: int64(len(image)),
			Checksum: sha256Hex(image), ChecksumAlgorithm: "SHA256", URL: srv.URL,
		}))

		waitPhase(t, fx.manager, PhaseDeferred, 2*time.Second)

		ready.Store(true)
		fx.manager.NotifyConnectivityReady()
		waitRestart(t, fx.restarter, 5*time.Second)
	})
}

func TestConnectivityReadyWithoutPending(t *testing.T) {
	fx := newManagerFixture(t, time.Minute)

	fx.manager.NotifyConnectivityReady()

	time.Sleep(50 * time.Millisecond)
	if got := fx.manager.Phase(); got != PhaseIdle {
		t.Errorf("Phase() = %q after idle connectivity signal, want %q", got, PhaseIdle)
	}
	select {
	case <-fx.restarter.calls:
		t.Error("restart requested by an idle connectivity signal")
	default:
	}
}

func TestNewerNotificationReplacesDeferred(t *testing.T) {
	image := []byte("second announcement wins")
	var ready atomic.Bool
	var servedVersions atomic.Value

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !ready.Load() {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		servedVersions.Store(r.URL.Query().Get("v"))
		w.Write(image)
	}))
	defer srv.Close()

	fx := newManagerFixture(t, time.Hour)

	fx.manager.HandleUpdateNotification(notification(Descriptor{
		Title: "tidewatch", Version: "2.0", Size: int64(len(image)),
		Checksum: sha256Hex(image), ChecksumAlgorithm: "SHA256", URL: srv.URL + "/fw?v=2.0",
	}))
	waitPhase(t, fx.manager, PhaseDeferred, 2*time.Second)

	ready.Store(true)
	fx.manager.HandleUpdateNotification(notification(Descriptor{
		Title: "tidewatch", Version: "2.1", Size: int64(len(image)),
		Checksum: sha256Hex(image), ChecksumAlgorithm: "SHA256", URL: srv.URL + "/fw?v=2.1",
	}))

	waitRestart(t, fx.restarter, 5*time.Second)

	if got := servedVersions.Load(); got != "2.1" {
		t.Errorf("downloaded version = %v, want %q", got, "2.1")
	}
	rec, _, _ := fx.versions.Get()
	if rec.Version != "2.1" {
		t.Errorf("installed version = %q, want %q", rec.Version, "2.1")
	}
}
