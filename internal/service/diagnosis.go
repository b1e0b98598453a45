package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/sakif/plantdoc/internal/apperror"
	"github.com/sakif/plantdoc/internal/imaging"
	"github.com/sakif/plantdoc/internal/model"
	"github.com/sakif/plantdoc/internal/repository"
	"github.com/sakif/plantdoc/internal/storage"
	"github.com/sakif/plantdoc/internal/upstream"
)

// Stage names one step of an analyze request. It is attached to log records
// as the "stage" attribute.
//
//	Received → Validated → (Normalized) → Predicted →
//	Recommended | RecommendationFallback → Persisted → Responded
type Stage string

const (
	StageReceived               Stage = "received"
	StageValidated              Stage = "validated"
	StageNormalized             Stage = "normalized"
	StagePredicted              Stage = "predicted"
	StageRecommended            Stage = "recommended"
	StageRecommendationFallback Stage = "recommendation_fallback"
	StagePersisted              Stage = "persisted"
	StageResponded              Stage = "responded"
)

// DefaultLanguage is used when the client does not choose one.
const DefaultLanguage = "english"

// Classifier predicts a disease label for an image.
type Classifier interface {
	Predict(ctx context.Context, image []byte) (upstream.Label, error)
}

// Recommender produces care advice for a label.
type Recommender interface {
	Recommend(ctx context.Context, req upstream.RecommendationRequest) (string, error)
}

// Normalizer downsizes and re-encodes an upload.
type Normalizer interface {
	Normalize(data []byte) (*imaging.Result, error)
}

// HistoryWriter accepts entries for asynchronous persistence.
type HistoryWriter interface {
	Record(entry *model.HistoryEntry)
}

// AnalyzeInput is a validated-at-the-edge analyze request. Analyze checks it
// again so the service is safe to call directly.
type AnalyzeInput struct {
	UserID    string       `json:"-" validate:"required"`
	Image     []byte       `json:"image" validate:"required"`
	Kind      imaging.Kind `json:"-"`
	PlantType string       `json:"plantType" validate:"required"`
	WaterFreq int          `json:"waterFreq" validate:"required,min=1,max=365"`
	Language  string       `json:"language"`
}

// DiagnosisService runs the analyze pipeline.
type DiagnosisService struct {
	users       repository.UserRepository
	classifier  Classifier
	recommender Recommender
	normalizer  Normalizer    // nil disables normalization
	images      storage.Store // nil disables image storage
	history     HistoryWriter
	logger      *slog.Logger
}

func NewDiagnosisService(
	users repository.UserRepository,
	classifier Classifier,
	recommender Recommender,
	normalizer Normalizer,
	images storage.Store,
	history HistoryWriter,
	logger *slog.Logger,
) *DiagnosisService {
	return &DiagnosisService{
		users:       users,
		classifier:  classifier,
		recommender: recommender,
		normalizer:  normalizer,
		images:      images,
		history:     history,
		logger:      logger,
	}
}

// Analyze classifies the image, fetches advice, stores the image, schedules
// the history append and returns the diagnosis.
//
// A classifier failure aborts the request with apperror.ErrUpstream: nothing
// is stored and no history is written. A recommender failure degrades to
// upstream.FallbackRecommendation. Storage and history failures are logged
// only.
func (s *DiagnosisService) Analyze(ctx context.Context, in AnalyzeInput) (*model.Diagnosis, error) {
	log := s.logger.With(slog.String("userID", in.UserID))
	log.Debug("analyze request received",
		slog.String("stage", string(StageReceived)),
		slog.Int("bytes", len(in.Image)),
	)

	in.PlantType = strings.TrimSpace(in.PlantType)
	in.Language = strings.TrimSpace(in.Language)
	if in.Language == "" {
		in.Language = DefaultLanguage
	}
	if len(in.Image) == 0 {
		return nil, apperror.ValidationFailed("image", "image is required")
	}
	if err := validateStruct(in); err != nil {
		return nil, err
	}

	user, err := s.users.GetUserByID(ctx, in.UserID)
	if err != nil {
		return nil, fmt.Errorf("service/diagnosis: looking up user %s: %w", in.UserID, err)
	}
	log.Debug("analyze request validated", slog.String("stage", string(StageValidated)))

	payload := in.Image
	contentType := in.Kind.MIME
	ext := in.Kind.Extension
	var thumbnail []byte
	if s.normalizer != nil {
		res, err := s.normalizer.Normalize(in.Image)
		if err != nil {
			log.Warn("image normalization failed, using original",
				slog.String("stage", string(StageNormalized)),
				slog.String("error", err.Error()),
			)
		} else {
			payload, thumbnail = res.Image, res.Thumbnail
			contentType, ext = imaging.ContentType, ".jpg"
			log.Debug("image normalized",
				slog.String("stage", string(StageNormalized)),
				slog.Int("width", res.Width),
				slog.Int("height", res.Height),
			)
		}
	}

	label, err := s.classifier.Predict(ctx, payload)
	if err != nil {
		log.Error("prediction failed",
			slog.String("stage", string(StagePredicted)),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	log.Info("image classified",
		slog.String("stage", string(StagePredicted)),
		slog.String("label", label.Name),
		slog.String("kind", string(label.Kind)),
	)

	recommendation, err := s.recommender.Recommend(ctx, upstream.RecommendationRequest{
		PredictedLabel: label.Name,
		Status:         label.Name,
		PlantType:      in.PlantType,
		WaterFreq:      in.WaterFreq,
		Language:       in.Language,
		Username:       user.Username,
	})
	if err != nil {
		recommendation = upstream.FallbackRecommendation
		log.Warn("recommendation unavailable, using fallback",
			slog.String("stage", string(StageRecommendationFallback)),
			slog.String("label", label.Name),
			slog.String("error", err.Error()),
		)
	} else {
		log.Debug("recommendation received", slog.String("stage", string(StageRecommended)))
	}

	imageURL, thumbURL := s.storeImages(ctx, log, payload, contentType, ext, thumbnail)

	s.history.Record(&model.HistoryEntry{
		UserID:         in.UserID,
		PlantType:      in.PlantType,
		Status:         label.Name,
		Recommendation: recommendation,
		ImageURL:       imageURL,
		ThumbnailURL:   thumbURL,
	})

	log.Debug("diagnosis ready", slog.String("stage", string(StageResponded)))
	return &model.Diagnosis{
		Prediction:     label.Name,
		Status:         label.Name,
		Recommendation: recommendation,
		ImageURL:       imageURL,
		ThumbnailURL:   thumbURL,
	}, nil
}

// storeImages saves the (possibly normalized) image and its thumbnail and
// returns their public URLs. Failures are logged and yield empty URLs. When
// there is no separate thumbnail the image URL doubles as the thumbnail URL.
func (s *DiagnosisService) storeImages(
	ctx context.Context,
	log *slog.Logger,
	data []byte,
	contentType, ext string,
	thumbnail []byte,
) (imageURL, thumbURL string) {
	if s.images == nil {
		return "", ""
	}
	if ext == "" {
		ext = ".img"
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	id := uuid.NewString()
	name := id + ext
	if err := s.images.Put(ctx, name, contentType, data); err != nil {
		log.Error("failed to store image",
			slog.String("stage", string(StagePersisted)),
			slog.String("error", err.Error()),
		)
		return "", ""
	}
	imageURL = storage.URLPath(name)

	if len(thumbnail) == 0 {
		return imageURL, imageURL
	}

	thumbName := "thumb-" + id + ".jpg"
	if err := s.images.Put(ctx, thumbName, imaging.ContentType, thumbnail); err != nil {
		log.Warn("failed to store thumbnail",
			slog.String("stage", string(StagePersisted)),
			slog.String("error", err.Error()),
		)
		return imageURL, imageURL
	}
	return imageURL, storage.URLPath(thumbName)
}
