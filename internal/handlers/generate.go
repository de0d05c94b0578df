package handlers

import (
	"errors"
	"net/http"

	"github.com/lehigh-university-libraries/imagebatch/internal/generation"
)

// HandleGenerateImage is the single-prompt service endpoint used by remote
// batch clients.
func (h *Handler) HandleGenerateImage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req generation.Request
	if !h.decodeJSON(w, r, &req) {
		return
	}

	resp, err := h.service.Generate(r.Context(), req)
	if err != nil {
		var genErr *generation.Error
		if errors.As(err, &genErr) {
			status := genErr.Status
			if status == 0 {
				status = http.StatusInternalServerError
			}
			h.writeError(w, genErr.Message, status)
			return
		}
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}
