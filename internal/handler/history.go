package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/sakif/plantdoc/internal/apperror"
	"github.com/sakif/plantdoc/internal/auth"
	"github.com/sakif/plantdoc/internal/model"
	"github.com/sakif/plantdoc/internal/service"
)

// HistoryReader returns pages of a user's history.
type HistoryReader interface {
	Page(ctx context.Context, userID string, page, limit int) (*model.HistoryPage, error)
}

type HistoryHandler struct {
	history HistoryReader
	logger  *slog.Logger
}

func NewHistoryHandler(history HistoryReader, logger *slog.Logger) *HistoryHandler {
	return &HistoryHandler{history: history, logger: logger}
}

// HandleHistory returns the caller's history.
//
// HTTP: GET /history?page=1&limit=10 (auth)
//
// Missing, non-numeric or non-positive page/limit fall back to the
// defaults; larger values are clamped by the service.
func (h *HistoryHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, h.logger, apperror.Unauthorized(auth.MsgNoToken))
		return
	}

	q := r.URL.Query()
	page := intParam(q.Get("page"), service.DefaultPage)
	limit := intParam(q.Get("limit"), service.DefaultLimit)

	res, err := h.history.Page(r.Context(), userID, page, limit)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

func intParam(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return def
	}
	return n
}
