package handlers

import (
	"log/slog"
	"net/http"

	"github.com/lehigh-university-libraries/imagebatch/internal/batch"
	"github.com/lehigh-university-libraries/imagebatch/internal/credentials"
)

type keysResponse struct {
	Keys        []string `json:"keys"`
	ActiveIndex int      `json:"activeIndex"`
}

// HandleKeys lists the slots in masked form
func (h *Handler) HandleKeys(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, keysResponse{
		Keys:        h.pool.Masked(),
		ActiveIndex: h.pool.Cursor(),
	})
}

// HandleKeysUpdate replaces every slot and the cursor, then persists them.
// The pool belongs to the runner while a batch is iterating.
func (h *Handler) HandleKeysUpdate(w http.ResponseWriter, r *http.Request) {
	if h.runner.State().IsRunning {
		h.writeError(w, batch.ErrRunning.Error(), http.StatusConflict)
		return
	}

	var req struct {
		Keys        []string `json:"keys"`
		ActiveIndex int      `json:"activeIndex"`
	}
	if !h.decodeJSON(w, r, &req) {
		return
	}
	if req.ActiveIndex < 0 || req.ActiveIndex >= credentials.SlotCount {
		h.writeError(w, credentials.ErrSlotOutOfRange.Error(), http.StatusBadRequest)
		return
	}
	if err := h.pool.Replace(req.Keys, req.ActiveIndex); err != nil {
		h.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.pool.Save(r.Context()); err != nil {
		h.writeError(w, "Failed to save credentials: "+err.Error(), http.StatusInternalServerError)
		return
	}

	slog.Info("Credentials updated", "filled", len(h.pool.Filled()))
	h.HandleKeys(w, r)
}
