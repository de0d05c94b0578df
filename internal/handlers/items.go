package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/lehigh-university-libraries/imagebatch/internal/batch"
	"github.com/lehigh-university-libraries/imagebatch/internal/generation"
	"github.com/lehigh-university-libraries/imagebatch/internal/models"
	"github.com/lehigh-university-libraries/imagebatch/internal/results"
)

// HandlePrompts replaces the queue with the prompts in {"text": "..."}
func (h *Handler) HandlePrompts(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if !h.decodeJSON(w, r, &req) {
		return
	}

	n, err := h.runner.Load(req.Text)
	if errors.Is(err, batch.ErrRunning) {
		h.writeError(w, err.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	slog.Info("Prompts loaded", "count", n)
	h.writeJSON(w, http.StatusOK, map[string]any{
		"count": n,
		"items": h.runner.Items(),
	})
}

func (h *Handler) HandleItems(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.runner.Items())
}

func (h *Handler) HandleItem(w http.ResponseWriter, r *http.Request) {
	item, ok := h.itemOrError(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, item)
}

// HandleItemImage downloads the image of a done item
func (h *Handler) HandleItemImage(w http.ResponseWriter, r *http.Request) {
	item, ok := h.itemOrError(w, r)
	if !ok {
		return
	}
	if item.Status != models.StatusDone || len(item.ImageData) == 0 {
		h.writeError(w, "Image not available", http.StatusNotFound)
		return
	}

	contentType := item.MIMEType
	if contentType == "" {
		contentType = generation.DefaultMIMEType
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(item.ImageData)))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", results.DownloadName(item)))
	if _, err := w.Write(item.ImageData); err != nil {
		slog.Error("Unable to write image", "item", item.Ordinal(), "err", err)
	}
}

func (h *Handler) itemOrError(w http.ResponseWriter, r *http.Request) (models.WorkItem, bool) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		h.writeError(w, "Invalid item id", http.StatusBadRequest)
		return models.WorkItem{}, false
	}
	item, ok := h.runner.Item(id)
	if !ok {
		h.writeError(w, "Item not found", http.StatusNotFound)
		return models.WorkItem{}, false
	}
	return item, true
}
