// Package handlers is the HTTP surface of imagebatch serve.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/lehigh-university-libraries/imagebatch/internal/batch"
	"github.com/lehigh-university-libraries/imagebatch/internal/credentials"
	"github.com/lehigh-university-libraries/imagebatch/internal/generation"
)

const maxBodySize = 1 << 20

// Handler serves the batch API on top of one runner
type Handler struct {
	service generation.Service
	runner  *batch.Runner
	pool    *credentials.Pool

	// runCtx bounds background runs; cancelled on shutdown
	runCtx context.Context
	runs   sync.WaitGroup
}

func New(ctx context.Context, service generation.Service, runner *batch.Runner, pool *credentials.Pool) *Handler {
	return &Handler{
		service: service,
		runner:  runner,
		pool:    pool,
		runCtx:  ctx,
	}
}

// Register adds the API routes to mux. The events and metrics handlers are
// optional.
func (h *Handler) Register(mux *http.ServeMux, events, metrics http.Handler) {
	mux.HandleFunc("/api/generate-image", h.HandleGenerateImage)

	mux.HandleFunc("POST /api/prompts", h.HandlePrompts)
	mux.HandleFunc("GET /api/items", h.HandleItems)
	mux.HandleFunc("GET /api/items/{id}", h.HandleItem)
	mux.HandleFunc("GET /api/items/{id}/image", h.HandleItemImage)

	mux.HandleFunc("POST /api/run", h.HandleRun)
	mux.HandleFunc("POST /api/reset", h.HandleReset)
	mux.HandleFunc("GET /api/state", h.HandleState)

	mux.HandleFunc("GET /api/keys", h.HandleKeys)
	mux.HandleFunc("PUT /api/keys", h.HandleKeysUpdate)

	if events != nil {
		mux.Handle("GET /api/events", events)
	}
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}
	mux.HandleFunc("GET /healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			slog.Error("Unable to write healthcheck", "err", err)
		}
	})
}

// Wait blocks until background runs started by HandleRun return
func (h *Handler) Wait() {
	h.runs.Wait()
}

// Response helpers
func (h *Handler) writeJSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Unable to encode JSON response", "err", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, message string, code int) {
	if code >= http.StatusInternalServerError {
		slog.Error(message, "status", code)
	} else {
		slog.Debug(message, "status", code)
	}
	h.writeJSON(w, code, map[string]string{"error": message})
}

func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, "Request body too large", http.StatusRequestEntityTooLarge)
			return false
		}
		h.writeError(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}
