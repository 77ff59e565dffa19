package registry

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/tidewatch-io/tidewatch/internal/pkg/metrics"
	"github.com/tidewatch-io/tidewatch/internal/registry/storage"
)

// handleFirmware serves the device download contract:
// HEAD|GET /api/v1/{token}/firmware?title=<t>&version=<v>.
// Devices probe with HEAD before committing flash space and only start
// writing on a GET that answers 200.
func (s *Server) handleFirmware(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]
	title := r.URL.Query().Get("title")
	version := r.URL.Query().Get("version")

	code := http.StatusOK
	defer func() {
		metrics.FirmwareRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(code)).Inc()
	}()

	if _, ok := s.tokens[token]; !ok {
		s.log.Warn("Rejected firmware request with unknown token", "method", r.Method)
		code = http.StatusUnauthorized
		http.Error(w, "unknown device token", code)
		return
	}
	if title == "" || version == "" {
		code = http.StatusBadRequest
		http.Error(w, "title and version are required", code)
		return
	}

	key := objectKey(title, version)

	switch r.Method {
	case http.MethodHead:
		size, err := s.storage.Stat(r.Context(), key)
		if errors.Is(err, storage.ErrNotExist) {
			code = http.StatusNotFound
			w.WriteHeader(code)
			return
		}
		if err != nil {
			s.log.Error(err, "Firmware stat failed", "key", key)
			code = http.StatusBadGateway
			w.WriteHeader(code)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)

	case http.MethodGet:
		obj, size, err := s.storage.Fetch(r.Context(), key)
		if errors.Is(err, storage.ErrNotExist) {
			code = http.StatusNotFound
			http.Error(w, "no such firmware", code)
			return
		}
		if err != nil {
			s.log.Error(err, "Firmware fetch failed", "key", key)
			code = http.StatusBadGateway
			http.Error(w, "storage unavailable", code)
			return
		}
		defer obj.Close()

		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		if _, err := io.Copy(w, obj); err != nil {
			s.log.Error(err, "Firmware stream interrupted", "key", key)
			return
		}
		s.log.Info("Served firmware", "title", title, "version", version, "bytes", size)
	}
}

// objectKey maps a title/version pair onto the bucket layout.
func objectKey(title, version string) string {
	return title + "/" + version + ".bin"
}
