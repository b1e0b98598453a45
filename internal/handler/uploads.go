package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/plantdoc/internal/apperror"
	"github.com/sakif/plantdoc/internal/storage"
)

// UploadsHandler serves stored images at /uploads/{name}.
type UploadsHandler struct {
	store  storage.Store
	logger *slog.Logger
}

func NewUploadsHandler(store storage.Store, logger *slog.Logger) *UploadsHandler {
	return &UploadsHandler{store: store, logger: logger}
}

// HandleGet streams one stored object. Names embed a random UUID and are
// never rewritten, so responses are cacheable forever.
func (h *UploadsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	body, contentType, err := h.store.Open(r.Context(), name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrInvalidName) {
			writeError(w, h.logger, apperror.NotFound("upload", name))
			return
		}
		writeError(w, h.logger, err)
		return
	}
	defer body.Close()

	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, body); err != nil {
		h.logger.Warn("failed to stream upload",
			slog.String("name", name),
			slog.String("error", err.Error()),
		)
	}
}

// HandleHealth answers GET / for load balancers and the dev proxy.
func HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
