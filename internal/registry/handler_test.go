package registry

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tidewatch-io/tidewatch/internal/registry/storage"
	"github.com/tidewatch-io/tidewatch/pkg/options"
)

// fakeStore serves objects from memory and records the keys it was asked
// for.
type fakeStore struct {
	objects map[string][]byte
	keys    []string
	statErr error
}

func (f *fakeStore) Stat(ctx context.Context, key string) (int64, error) {
	f.keys = append(f.keys, key)
	if f.statErr != nil {
		return 0, f.statErr
	}
	data, ok := f.objects[key]
	if !ok {
		return 0, storage.ErrNotExist
	}
	return int64(len(data)), nil
}

func (f *fakeStore) Fetch(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	f.keys = append(f.keys, key)
	data, ok := f.objects[key]
	if !ok {
		return nil, 0, storage.ErrNotExist
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

func (f *fakeStore) CheckBucket(ctx context.Context) error { return nil }

func newRegistryFixture(t *testing.T, store *fakeStore) *httptest.Server {
	t.Helper()
	cfg := &Config{
		HTTP:   options.NewHttpOptions(),
		Tokens: []string{"tok-123", "tok-456"},
	}
	srv := newServerWithStorage(cfg, store, nil)
	ts := httptest.NewServer(srv.server.Handler)
	t.Cleanup(ts.Close)
	return ts
}

func TestFirmwareAuthorization(t *testing.T) {
	store := &fakeStore{objects: map[string][]byte{"tidewatch/1.0.0.bin": []byte("image")}}
	ts := newRegistryFixture(t, store)

	tests := []struct {
		name     string
		token    string
		wantCode int
	}{
		{name: "listed token", token: "tok-123", wantCode: http.StatusOK},
		{name: "second listed token", token: "tok-456", wantCode: http.StatusOK},
		{name: "unknown token", token: "tok-999", wantCode: http.StatusUnauthorized},
		{name: "empty-looking token", token: "%20", wantCode: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url := ts.URL + "/api/v1/" + tt.token + "/firmware?title=tidewatch&version=1.0.0"
			for _, method := range []string{http.MethodHead, http.MethodGet} {
				req, err := http.NewRequest(method, url, nil)
				if err != nil {
					t.Fatal(err)
				}
				resp, err := http.DefaultClient.Do(req)
				if err != nil {
					t.Fatal(err)
				}
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
				if resp.StatusCode != tt.wantCode {
					t.Errorf("%s status = %d, want %d", method, resp.StatusCode, tt.wantCode)
				}
			}
		})
	}
}

func TestFirmwareHead(t *testing.T) {
	image := []byte("firmware image payload")
	store := &fakeStore{objects: map[string][]byte{"tidewatch/2.0.0.bin": image}}
	ts := newRegistryFixture(t, store)

	resp, err := http.Head(ts.URL + "/api/v1/tok-123/firmware?title=tidewatch&version=2.0.0")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if resp.ContentLength != int64(len(image)) {
		t.Errorf("content length = %d, want %d", resp.ContentLength, len(image))
	}
}

func TestFirmwareGet(t *testing.T) {
	image := []byte("firmware image payload")
	store := &fakeStore{objects: map[string][]byte{"tidewatch/2.0.0.bin": image}}
	ts := newRegistryFixture(t, store)

	resp, err := http.Get(ts.URL + "/api/v1/tok-123/firmware?title=tidewatch&version=2.0.0")
	if err != nil {
		t.Fatal(err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatal(err)
	}

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/octet-stream" {
		t.Errorf("content type = %q", ct)
	}
	if !bytes.Equal(body, image) {
		t.Errorf("body = %q, want the stored image", body)
	}
}

func TestFirmwareNotFound(t *testing.T) {
	store := &fakeStore{objects: map[string][]byte{}}
	ts := newRegistryFixture(t, store)

	url := ts.URL + "/api/v1/tok-123/firmware?title=tidewatch&version=9.9.9"

	resp, err := http.Head(url)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("HEAD status = %d, want 404", resp.StatusCode)
	}

	resp, err = http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET status = %d, want 404", resp.StatusCode)
	}
}

func TestFirmwareMissingParams(t *testing.T) {
	store := &fakeStore{objects: map[string][]byte{}}
	ts := newRegistryFixture(t, store)

	for _, query := range []string{"", "?title=tidewatch", "?version=1.0.0"} {
		resp, err := http.Get(ts.URL + "/api/v1/tok-123/firmware" + query)
		if err != nil {
			t.Fatal(err)
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("query %q status = %d, want 400", query, resp.StatusCode)
		}
	}
}

func TestDeviceURLContract(t *testing.T) {
	// The exact URL a device builds: path-escaped token, query-escaped
	// title and version.
	image := []byte("payload")
	store := &fakeStore{objects: map[string][]byte{"tidewatch gen2/2.0+beta.bin": image}}
	ts := newRegistryFixture(t, store)

	resp, err := http.Head(ts.URL + "/api/v1/tok-123/firmware?title=tidewatch+gen2&version=2.0%2Bbeta")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if len(store.keys) != 1 || store.keys[0] != "tidewatch gen2/2.0+beta.bin" {
		t.Errorf("resolved keys = %v", store.keys)
	}
}

func TestStorageFailure(t *testing.T) {
	store := &fakeStore{statErr: errors.New("backend down")}
	ts := newRegistryFixture(t, store)

	resp, err := http.Head(ts.URL + "/api/v1/tok-123/firmware?title=tidewatch&version=1.0.0")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", resp.StatusCode)
	}
}

func TestRegistryProbes(t *testing.T) {
	ts := newRegistryFixture(t, &fakeStore{})

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK || string(body) != "ok" {
			t.Errorf("%s = %d %q", path, resp.StatusCode, body)
		}
	}
}
