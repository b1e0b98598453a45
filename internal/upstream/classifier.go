package upstream

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/sakif/plantdoc/internal/apperror"
)

// Classifier calls POST {base}/predict with the raw image bytes.
type Classifier struct {
	client  *resty.Client
	timeout time.Duration
	logger  *slog.Logger
}

func NewClassifier(baseURL string, timeout time.Duration, hc *http.Client, logger *slog.Logger) *Classifier {
	return &Classifier{
		client:  newRestyClient(baseURL, hc, logger),
		timeout: timeout,
		logger:  logger,
	}
}

// Predict sends image to the classifier and parses the label from its
// response. Transport errors, timeouts and non-2xx statuses are returned as
// apperror.ErrUpstream; a 2xx body without a label yields UnknownLabel.
func (c *Classifier) Predict(ctx context.Context, image []byte) (Label, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/octet-stream").
		SetBody(image).
		Post("/predict")
	if err != nil {
		return Label{}, apperror.UpstreamUnavailable("Prediction", err)
	}
	if !resp.IsSuccess() {
		return Label{}, apperror.UpstreamUnavailable("Prediction",
			fmt.Errorf("unexpected status %d", resp.StatusCode()))
	}

	label := ParseLabel(resp.Body())
	c.logger.Debug("classifier responded",
		slog.String("label", label.Name),
		slog.String("kind", string(label.Kind)),
		slog.Duration("elapsed", resp.Time()),
	)
	return label, nil
}
