package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/lehigh-university-libraries/imagebatch/internal/batch"
)

// HandleRun checks preconditions synchronously and runs the batch in the
// background. Progress is available from /api/state and /api/events.
func (h *Handler) HandleRun(w http.ResponseWriter, r *http.Request) {
	runID, run, err := h.runner.Begin()
	switch {
	case errors.Is(err, batch.ErrRunning):
		h.writeError(w, err.Error(), http.StatusConflict)
		return
	case errors.Is(err, batch.ErrNoPrompts), errors.Is(err, batch.ErrNoCredential):
		h.writeError(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.runs.Add(1)
	go func() {
		defer h.runs.Done()
		if _, err := run(h.runCtx); err != nil {
			slog.Warn("Background batch stopped", "run", runID, "err", err)
		}
	}()

	h.writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

func (h *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	if err := h.runner.Reset(); err != nil {
		if errors.Is(err, batch.ErrRunning) {
			h.writeError(w, err.Error(), http.StatusConflict)
			return
		}
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, h.runner.State())
}

func (h *Handler) HandleState(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.runner.State())
}
