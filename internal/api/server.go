// Package api exposes the HTTP surface for submitting and inspecting
// document retrieval requests.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/luvidal/jogiscraper/internal/request"
	"github.com/luvidal/jogiscraper/internal/store"
	"github.com/luvidal/jogiscraper/pkg/types"
)

// Service is the request lifecycle surface the server fronts.
type Service interface {
	Submit(ctx context.Context, sub request.Submission) (types.Request, error)
	Get(ctx context.Context, id int64) (types.Request, error)
	List(ctx context.Context, limit int) ([]types.Request, error)
	Delete(ctx context.Context, id int64) (bool, error)
	Catalog(ctx context.Context) ([]types.DocumentType, error)
}

// ProgressSource serves live fulfillment snapshots. May be nil.
type ProgressSource interface {
	Snapshot(ctx context.Context, id int64) (map[string]string, error)
}

// Server routes the public API onto the lifecycle service.
type Server struct {
	service     Service
	progress    ProgressSource
	internalKey string
	mux         *http.ServeMux
	logger      *slog.Logger
}

// NewServer wires handlers onto an HTTP mux.
func NewServer(service Service, progress ProgressSource, internalKey string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		service:     service,
		progress:    progress,
		internalKey: internalKey,
		mux:         http.NewServeMux(),
		logger:      logger,
	}
	s.routes()
	return s
}

// ServeHTTP satisfies the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/documents", s.handleDocuments)
	s.mux.HandleFunc("/api/requests", s.handleRequests)
	s.mux.HandleFunc("/api/requests/", s.handleRequestByID)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	}})
}

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	catalog, err := s.service.Catalog(r.Context())
	if err != nil {
		s.logger.Error("catalog listing failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not list document types")
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: catalog})
}

func (s *Server) handleRequests(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listRequests(w, r)
	case http.MethodPost:
		s.createRequest(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (s *Server) createRequest(w http.ResponseWriter, r *http.Request) {
	var payload CreateRequestPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid json payload: %v", err))
		return
	}

	req, err := s.service.Submit(r.Context(), request.Submission{
		Subject:       payload.Rut,
		Secret:        payload.Claveunica,
		SupportingID:  payload.Documento,
		Contact:       payload.Email,
		DocumentTypes: payload.Documents,
		Channels:      payload.Delivery,
	})
	if err != nil {
		var verr *request.ValidationError
		var cerr *request.ConflictError
		switch {
		case errors.As(err, &verr):
			writeError(w, http.StatusBadRequest, verr.Error())
		case errors.As(err, &cerr):
			writeError(w, http.StatusConflict, cerr.Error())
		default:
			s.logger.Error("request submission failed", "error", err)
			writeError(w, http.StatusInternalServerError, "could not create request")
		}
		return
	}
	writeJSON(w, http.StatusAccepted, envelope{Success: true, Data: req})
}

func (s *Server) listRequests(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = v
	}
	reqs, err := s.service.List(r.Context(), limit)
	if err != nil {
		s.logger.Error("request listing failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not list requests")
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: reqs})
}

func (s *Server) handleRequestByID(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/requests/"), "/")
	if trimmed == "" {
		http.NotFound(w, r)
		return
	}
	parts := strings.Split(trimmed, "/")
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request id")
		return
	}

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			s.getRequest(w, r, id)
		case http.MethodDelete:
			s.deleteRequest(w, r, id)
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
		}
		return
	}

	if parts[1] == "progress" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		s.getProgress(w, r, id)
		return
	}
	http.NotFound(w, r)
}

func (s *Server) getRequest(w http.ResponseWriter, r *http.Request, id int64) {
	req, err := s.service.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "request not found")
			return
		}
		s.logger.Error("request lookup failed", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "could not load request")
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: req})
}

// deleteRequest is an internal maintenance operation gated on the shared
// service key.
func (s *Server) deleteRequest(w http.ResponseWriter, r *http.Request, id int64) {
	if s.internalKey == "" || r.Header.Get("X-Internal-Key") != s.internalKey {
		writeError(w, http.StatusForbidden, "internal key required")
		return
	}
	existed, err := s.service.Delete(r.Context(), id)
	if err != nil {
		s.logger.Error("request deletion failed", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "could not delete request")
		return
	}
	if !existed {
		writeError(w, http.StatusNotFound, "request not found")
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true})
}

func (s *Server) getProgress(w http.ResponseWriter, r *http.Request, id int64) {
	if s.progress == nil {
		writeError(w, http.StatusNotFound, "live progress is not enabled")
		return
	}
	snap, err := s.progress.Snapshot(r.Context(), id)
	if err != nil {
		s.logger.Error("progress lookup failed", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "could not load progress")
		return
	}
	if len(snap) == 0 {
		writeError(w, http.StatusNotFound, "no progress recorded")
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: snap})
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
