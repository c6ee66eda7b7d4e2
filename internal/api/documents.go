package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/snarg/voxdoc/internal/store"
)

// DocumentLister is the store surface the documents endpoint uses. Nil when
// the server runs without a database.
type DocumentLister interface {
	RecentDocuments(ctx context.Context, limit int) ([]store.DocumentRow, error)
}

type DocumentsHandler struct {
	docs DocumentLister
}

func NewDocumentsHandler(docs DocumentLister) *DocumentsHandler {
	return &DocumentsHandler{docs: docs}
}

// Routes registers document routes on the given router.
func (h *DocumentsHandler) Routes(r chi.Router) {
	r.Get("/documents", h.ListDocuments)
}

// ListDocuments serves the newest persisted documents, newest first. The
// limit query parameter caps the page; the store clamps it to a sane range.
func (h *DocumentsHandler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	if h.docs == nil {
		WriteError(w, http.StatusServiceUnavailable, "document store not configured")
		return
	}
	limit, _ := QueryInt(r, "limit")
	rows, err := h.docs.RecentDocuments(r.Context(), limit)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "listing documents failed")
		return
	}
	if rows == nil {
		rows = []store.DocumentRow{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"documents": rows,
		"count":     len(rows),
	})
}
