// Package server exposes audits over HTTP.
//
// Routes:
//
//	GET  /healthz          liveness, plus Redis status when persistence is configured
//	POST /audits           run an audit; JSON report, or Markdown with Accept: text/markdown
//	GET  /audits/{runID}   fetch a saved report by full or short run ID
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/dyluth/tribunal/internal/report"
	"github.com/dyluth/tribunal/internal/resolver"
	"github.com/dyluth/tribunal/pkg/audit"
	"github.com/dyluth/tribunal/pkg/docket"
)

// maxBodyBytes caps audit request bodies.
const maxBodyBytes = 1 << 20

// Auditor runs one audit. *engine.Engine satisfies it.
type Auditor interface {
	Run(ctx context.Context, target audit.Target) (*audit.Report, error)
}

// Store persists reports. *docket.Client satisfies it.
type Store interface {
	resolver.RunLookup
	Ping(ctx context.Context) error
	SaveReport(ctx context.Context, r *audit.Report) error
	GetReport(ctx context.Context, runID string) (*audit.Report, error)
}

// Server serves the audit API.
type Server struct {
	auditor Auditor
	store   Store // nil when persistence is not configured
	router  chi.Router
	server  *http.Server
}

// New creates a server. store may be nil.
func New(auditor Auditor, store Store) *Server {
	s := &Server{auditor: auditor, store: store}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Route("/audits", func(r chi.Router) {
		r.Post("/", s.handleCreateAudit)
		r.Get("/{runID}", s.handleGetAudit)
	})

	s.router = r
	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on addr in the background.
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Surface immediate bind failures to the caller.
	select {
	case err := <-errCh:
		return err
	case <-time.After(100 * time.Millisecond):
	}
	log.Printf("[Server] Listening on %s", addr)
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// HealthResponse is the JSON response structure for health checks.
type HealthResponse struct {
	Status string `json:"status"`
	Redis  string `json:"redis,omitempty"`
	Error  string `json:"error,omitempty"`
}

// handleHealthz returns 200 when healthy, 503 when configured Redis is unreachable.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{Status: "healthy"}
	if s.store == nil {
		writeJSON(w, http.StatusOK, response)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		response.Status = "unhealthy"
		response.Redis = "disconnected"
		response.Error = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, response)
		return
	}

	response.Redis = "connected"
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleCreateAudit(w http.ResponseWriter, r *http.Request) {
	target, ok := readJSON[audit.Target](w, r, maxBodyBytes)
	if !ok {
		return
	}
	target.RepoURL = strings.TrimSpace(target.RepoURL)
	target.DocPath = strings.TrimSpace(target.DocPath)
	if err := target.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rep, err := s.auditor.Run(r.Context(), target)
	if err != nil {
		log.Printf("[Server] Audit of %s failed: %v", target, err)
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	if s.store != nil {
		if err := s.store.SaveReport(r.Context(), rep); err != nil {
			// The audit itself succeeded; return it unsaved.
			log.Printf("[Server] Failed to save run %s: %v", rep.RunID, err)
			w.Header().Set("X-Tribunal-Saved", "false")
		} else {
			w.Header().Set("X-Tribunal-Saved", "true")
		}
	}

	s.writeReport(w, r, http.StatusCreated, rep)
}

func (s *Server) handleGetAudit(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotImplemented, "run history is not configured")
		return
	}

	shortID := chi.URLParam(r, "runID")
	if len(shortID) < resolver.MinShortIDLength {
		writeError(w, http.StatusBadRequest, "run ID must be at least 6 characters")
		return
	}

	runID, err := resolver.ResolveRunID(r.Context(), s.store, shortID)
	if err != nil {
		var notFound *resolver.NotFoundError
		var ambiguous *resolver.AmbiguousError
		switch {
		case errors.As(err, &notFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.As(err, &ambiguous):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeInternalError(w, err)
		}
		return
	}

	rep, err := s.store.GetReport(r.Context(), runID)
	if err != nil {
		if docket.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "run not found: "+runID)
			return
		}
		writeInternalError(w, err)
		return
	}

	s.writeReport(w, r, http.StatusOK, rep)
}

func (s *Server) writeReport(w http.ResponseWriter, r *http.Request, status int, rep *audit.Report) {
	if !wantsMarkdown(r) {
		writeJSON(w, status, rep)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(status)
	if err := report.Markdown(w, rep); err != nil {
		log.Printf("[Server] Failed to write markdown response: %v", err)
	}
}

func wantsMarkdown(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/markdown")
}

// requestLogger logs one line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		log.Printf("[Server] %s %s %d %s request_id=%s",
			r.Method, r.URL.Path, ww.Status(), time.Since(start).Round(time.Millisecond), chimw.GetReqID(r.Context()))
	})
}

// readJSON decodes a JSON request body with a size limit.
func readJSON[T any](w http.ResponseWriter, r *http.Request, bodyLimit int64) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, bodyLimit)
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			writeError(w, http.StatusBadRequest, "invalid request body")
		}
		return v, false
	}
	return v, true
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[Server] Failed to write JSON response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeInternalError logs the actual error and returns a generic message.
func writeInternalError(w http.ResponseWriter, err error) {
	log.Printf("[Server] Request failed: %v", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}
