// Package registry implements the firmware distribution endpoint devices
// download from. It serves the fixed device URL contract against an
// S3-compatible object store.
package registry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tidewatch-io/tidewatch/internal/registry/storage"
	"github.com/tidewatch-io/tidewatch/pkg/log"
)

// Server is the registry HTTP server.
type Server struct {
	server  *http.Server
	storage storage.Provider
	tokens  map[string]struct{}
	log     log.Logger
}

// NewServer builds the registry on a MinIO-backed store.
func NewServer(cfg *Config) (*Server, error) {
	provider, err := storage.NewMinIOProvider(cfg.S3, log.Std())
	if err != nil {
		return nil, fmt.Errorf("init firmware storage: %w", err)
	}
	return newServerWithStorage(cfg, provider, log.Std()), nil
}

func newServerWithStorage(cfg *Config, provider storage.Provider, logger log.Logger) *Server {
	if logger == nil {
		logger = log.NewNopLogger()
	}

	s := &Server{
		storage: provider,
		tokens:  make(map[string]struct{}, len(cfg.Tokens)),
		log:     logger.WithName("registry"),
	}
	for _, t := range cfg.Tokens {
		s.tokens[t] = struct{}{}
	}

	r := mux.NewRouter()
	r.HandleFunc("/api/v1/{token}/firmware", s.handleFirmware).
		Methods(http.MethodHead, http.MethodGet)
	r.HandleFunc("/healthz", handleOK).Methods(http.MethodGet)
	r.HandleFunc("/readyz", handleOK).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s.server = &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           r,
		ReadHeaderTimeout: cfg.HTTP.Timeout,
	}
	return s
}

// Start verifies the storage backend, then serves until the context is
// canceled.
func (s *Server) Start(ctx context.Context) error {
	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := s.storage.CheckBucket(checkCtx); err != nil {
		return fmt.Errorf("storage check failed: %w", err)
	}

	s.log.Info("Starting registry", "addr", s.server.Addr, "tokens", len(s.tokens))

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
