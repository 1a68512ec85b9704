package api

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/heysubinoy/filekv/pkg/kv"
)

// maxBodySize caps PUT bodies on the admin surface.
const maxBodySize = 1 << 20

// Server wraps a kv.Store and exposes HTTP endpoints for KV operations.
// It shares the store with the TCP listener, so both see the same records.
type Server struct {
	Store  kv.Store
	logger *slog.Logger
}

// NewServer creates a new HTTP server with the given store.
func NewServer(store kv.Store, logger *slog.Logger) *Server {
	return &Server{
		Store:  store,
		logger: logger,
	}
}

// RegisterRoutes registers all HTTP handlers on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /kv/{key}", s.handleGet)
	mux.HandleFunc("PUT /kv/{key}", s.handleSet)
	mux.HandleFunc("DELETE /kv/{key}", s.handleDelete)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		io.WriteString(w, "ok\n")
	})
}

// pathKey returns the {key} path value, or writes 400 when the key could
// not be addressed over the line protocol.
func pathKey(w http.ResponseWriter, r *http.Request) (string, bool) {
	key := r.PathValue("key")
	if strings.ContainsAny(key, " \t\r\n") {
		http.Error(w, kv.ReasonInvalidKey, http.StatusBadRequest)
		return "", false
	}
	return key, true
}

// handleGet handles GET /kv/{key}.
// Returns the raw value as the body, or 404.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	key, ok := pathKey(w, r)
	if !ok {
		return
	}

	value, found, err := s.Store.Get(r.Context(), key)
	if err != nil {
		s.storeError(w, err)
		return
	}
	if !found {
		http.Error(w, "Key not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(value)
}

// handleSet handles PUT /kv/{key}; the request body is the value.
// Values share the line framing of the TCP protocol, so they may not
// contain a newline.
func (s *Server) handleSet(w http.ResponseWriter, r *http.Request) {
	key, ok := pathKey(w, r)
	if !ok {
		return
	}

	value, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		http.Error(w, "Invalid body", http.StatusRequestEntityTooLarge)
		return
	}
	if bytes.IndexByte(value, '\n') >= 0 {
		http.Error(w, "value must not contain a newline", http.StatusBadRequest)
		return
	}

	if err := s.Store.Put(r.Context(), key, value); err != nil {
		s.storeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleDelete handles DELETE /kv/{key}. Missing keys are not an error.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	key, ok := pathKey(w, r)
	if !ok {
		return
	}

	if err := s.Store.Delete(r.Context(), key); err != nil {
		s.storeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) storeError(w http.ResponseWriter, err error) {
	reason := kv.ReasonOf(err)
	if errors.Is(err, kv.ErrInvalidKey) {
		http.Error(w, reason, http.StatusBadRequest)
		return
	}
	s.logger.Warn("admin storage error", "reason", reason, "error", err)
	http.Error(w, reason, http.StatusInternalServerError)
}
