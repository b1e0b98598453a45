package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/sakif/plantdoc/internal/apperror"
	"github.com/sakif/plantdoc/internal/auth"
	"github.com/sakif/plantdoc/internal/imaging"
	"github.com/sakif/plantdoc/internal/model"
	"github.com/sakif/plantdoc/internal/service"
)

// multipartMemory is how much of a multipart body is kept in memory before
// spilling to temp files.
const multipartMemory = 8 << 20

// formOverhead is the room left above the image cap for the text fields and
// multipart framing.
const formOverhead = 64 << 10

// Analyzer runs the diagnosis pipeline.
type Analyzer interface {
	Analyze(ctx context.Context, in service.AnalyzeInput) (*model.Diagnosis, error)
}

// AnalyzeHandler serves POST /analyze.
type AnalyzeHandler struct {
	analyzer       Analyzer
	maxUploadBytes int64
	logger         *slog.Logger
}

func NewAnalyzeHandler(analyzer Analyzer, maxUploadBytes int64, logger *slog.Logger) *AnalyzeHandler {
	return &AnalyzeHandler{analyzer: analyzer, maxUploadBytes: maxUploadBytes, logger: logger}
}

// HandleAnalyze accepts a multipart form with one "image" file and the
// plantType, waterFreq and language fields.
//
// HTTP: POST /analyze (auth) → 200 {prediction, status, recommendation, imageUrl?, thumbnailUrl?}
func (h *AnalyzeHandler) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, h.logger, apperror.Unauthorized(auth.MsgNoToken))
		return
	}

	in, err := h.parseForm(w, r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	in.UserID = userID

	diagnosis, err := h.analyzer.Analyze(r.Context(), in)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, diagnosis)
}

func (h *AnalyzeHandler) parseForm(w http.ResponseWriter, r *http.Request) (service.AnalyzeInput, error) {
	var in service.AnalyzeInput

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+formOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return in, h.tooLarge()
		case errors.Is(err, http.ErrNotMultipart), errors.Is(err, http.ErrMissingBoundary):
			return in, apperror.ValidationFailed("image", "image is required")
		default:
			return in, apperror.ValidationFailed("body", "malformed multipart body")
		}
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("image")
	if err != nil {
		return in, apperror.ValidationFailed("image", "image is required")
	}
	defer file.Close()

	if header.Size > h.maxUploadBytes {
		return in, h.tooLarge()
	}
	data, err := io.ReadAll(io.LimitReader(file, h.maxUploadBytes+1))
	if err != nil {
		return in, fmt.Errorf("handler/analyze: reading upload: %w", err)
	}
	if int64(len(data)) > h.maxUploadBytes {
		return in, h.tooLarge()
	}
	if len(data) == 0 {
		return in, apperror.ValidationFailed("image", "image is required")
	}

	kind, err := imaging.Sniff(data)
	if err != nil {
		return in, apperror.ValidationFailed("image", "file must be an image")
	}

	in.Image = data
	in.Kind = kind
	in.PlantType = r.FormValue("plantType")
	in.Language = r.FormValue("language")

	raw := strings.TrimSpace(r.FormValue("waterFreq"))
	if raw == "" {
		return in, apperror.ValidationFailed("waterFreq", "waterFreq is required")
	}
	freq, err := strconv.Atoi(raw)
	if err != nil {
		return in, apperror.ValidationFailed("waterFreq", "waterFreq must be a whole number of days")
	}
	in.WaterFreq = freq

	return in, nil
}

func (h *AnalyzeHandler) tooLarge() error {
	return apperror.ValidationFailed("image",
		fmt.Sprintf("image must be at most %d bytes", h.maxUploadBytes))
}
