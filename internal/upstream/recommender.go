package upstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
)

// FallbackRecommendation replaces the advice whenever the recommender cannot
// produce one.
const FallbackRecommendation = "Recommendation unavailable"

// ErrNoRecommendation is returned for a 2xx response without advice text.
var ErrNoRecommendation = errors.New("upstream: empty recommendation")

// RecommendationRequest is the JSON body sent to POST {base}/recommend.
// Status repeats PredictedLabel and Username is informational; the deployed
// advisor reads both.
type RecommendationRequest struct {
	PredictedLabel string `json:"predictedLabel"`
	Status         string `json:"status"`
	PlantType      string `json:"plantType"`
	WaterFreq      int    `json:"waterFreq"`
	Language       string `json:"language"`
	Username       string `json:"username,omitempty"`
}

type Recommender struct {
	client  *resty.Client
	timeout time.Duration
}

func NewRecommender(baseURL string, timeout time.Duration, hc *http.Client, logger *slog.Logger) *Recommender {
	return &Recommender{
		client:  newRestyClient(baseURL, hc, logger),
		timeout: timeout,
	}
}

// Recommend asks the advisor for care instructions. Any failure is returned
// as an error; callers substitute FallbackRecommendation.
func (r *Recommender) Recommend(ctx context.Context, req RecommendationRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	resp, err := r.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(req).
		Post("/recommend")
	if err != nil {
		return "", fmt.Errorf("upstream: calling recommender: %w", err)
	}
	if !resp.IsSuccess() {
		return "", fmt.Errorf("upstream: recommender returned status %d", resp.StatusCode())
	}

	text := strings.TrimSpace(gjson.GetBytes(resp.Body(), "recommendation").String())
	if text == "" {
		return "", ErrNoRecommendation
	}
	return text, nil
}
