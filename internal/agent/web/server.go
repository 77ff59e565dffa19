// Package web serves the agent's local provisioning and operations surface.
// It is the landline to a device whose normal control path is the message
// bus: a human (or an installer script) can provision credentials and read
// the update engine state without any platform connectivity.
package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tidewatch-io/tidewatch/internal/agent/creds"
	"github.com/tidewatch-io/tidewatch/internal/agent/flash"
	"github.com/tidewatch-io/tidewatch/internal/agent/version"
	"github.com/tidewatch-io/tidewatch/pkg/log"
	"github.com/tidewatch-io/tidewatch/pkg/options"
)

const indexPage = `<!DOCTYPE html>
<html>
<head><title>tidewatch agent</title></head>
<body>
<h1>tidewatch agent</h1>
<form method="POST" action="/provision">
  <p><label>Access token: <input type="text" name="token"></label></p>
  <p><label>Registry base URL (optional): <input type="text" name="registry"></label></p>
  <p><label>CA certificate PEM (optional):<br><textarea name="ca" rows="8" cols="64"></textarea></label></p>
  <p><button type="submit">Provision</button></p>
</form>
<p><a href="/statusz">statusz</a> | <a href="/metrics">metrics</a></p>
</body>
</html>
`

// StatusSource is the update-engine surface reported by /statusz.
type StatusSource interface {
	Phase() string
	SlotState() string
}

// Server is the local HTTP server of the agent.
type Server struct {
	server   *http.Server
	creds    *creds.Store
	versions *version.Store
	device   flash.Device
	status   StatusSource
	log      log.Logger
}

// NewServer wires the provisioning and status routes.
func NewServer(opts *options.HttpOptions, store *creds.Store, versions *version.Store,
	device flash.Device, status StatusSource, logger log.Logger) *Server {
	if logger == nil {
		logger = log.NewNopLogger()
	}

	s := &Server{
		creds:    store,
		versions: versions,
		device:   device,
		status:   status,
		log:      logger.WithName("web"),
	}

	r := mux.NewRouter()
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/provision", s.handleProvision).Methods(http.MethodPost)
	r.HandleFunc("/statusz", s.handleStatusz).Methods(http.MethodGet)
	r.HandleFunc("/healthz", handleOK).Methods(http.MethodGet)
	r.HandleFunc("/readyz", handleOK).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s.server = &http.Server{
		Addr:              opts.Addr,
		Handler:           r,
		ReadHeaderTimeout: opts.Timeout,
	}
	return s
}

// Start serves until the context is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.log.Info("Starting HTTP server", "addr", s.server.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}

func handleOK(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(indexPage))
}

// handleProvision writes the posted credentials through the store. The
// token becomes effective immediately (the bus watches the credentials
// directory); a registry override applies on the next start.
func (s *Server) handleProvision(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	token := r.FormValue("token")
	if token == "" {
		http.Error(w, "token is required", http.StatusBadRequest)
		return
	}

	if registry := r.FormValue("registry"); registry != "" {
		u, err := url.Parse(registry)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			http.Error(w, "registry must be an http(s) URL", http.StatusBadRequest)
			return
		}
	}

	if ca := r.FormValue("ca"); ca != "" {
		if err := s.creds.SetTrustAnchorPEM([]byte(ca)); err != nil {
			s.log.Error(err, "Rejected trust anchor")
			http.Error(w, "ca is not a valid PEM certificate bundle", http.StatusBadRequest)
			return
		}
	}
	if registry := r.FormValue("registry"); registry != "" {
		if err := s.creds.SetRegistryOverride(registry); err != nil {
			s.log.Error(err, "Failed to store registry override")
			http.Error(w, "failed to store registry override", http.StatusInternalServerError)
			return
		}
	}
	if err := s.creds.SetAccessToken(token); err != nil {
		s.log.Error(err, "Failed to store access token")
		http.Error(w, "failed to store access token", http.StatusInternalServerError)
		return
	}

	s.log.Info("Device provisioned via web form")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("provisioned\n"))
}

type statusReply struct {
	Phase       string           `json:"phase"`
	Pending     string           `json:"pending"`
	Provisioned bool             `json:"provisioned"`
	Firmware    *version.Record  `json:"firmware,omitempty"`
	ActiveSlot  string           `json:"activeSlot"`
	Slots       []flash.SlotInfo `json:"slots"`
}

func (s *Server) handleStatusz(w http.ResponseWriter, r *http.Request) {
	reply := statusReply{
		Phase:       s.status.Phase(),
		Pending:     s.status.SlotState(),
		Provisioned: s.creds.Provisioned(),
		ActiveSlot:  s.device.ActiveSlot(),
	}

	if rec, ok, err := s.versions.Get(); err != nil {
		s.log.Error(err, "Failed to read version record for statusz")
	} else if ok {
		reply.Firmware = &rec
	}

	slots, err := s.device.Slots()
	if err != nil {
		s.log.Error(err, "Failed to read slot layout for statusz")
	}
	reply.Slots = slots

	writeJSON(w, http.StatusOK, reply)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error(err, "Failed to encode response")
	}
}
