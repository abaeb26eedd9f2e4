package report

import (
	"context"
	"errors"
	"fmt"
	"time"

	"platecam/internal/logger"
	"platecam/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const (
	FieldFullImage  = "full_image"
	FieldPlateImage = "plate_image"
	FieldPlateText  = "plate_text"

	DefaultTimeout = 10 * time.Second
)

var ErrNoEndpoint = errors.New("report: no endpoint configured")

// Uploader posts a ReportRecord as one multipart request. Delivery is at most
// once and unacknowledged: failures come back in the outcome and are logged,
// nothing is retried.
type Uploader struct {
	endpoint string
	client   *resty.Client
}

func NewUploader(endpoint string, timeout time.Duration) *Uploader {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Uploader{
		endpoint: endpoint,
		client:   resty.New().SetTimeout(timeout),
	}
}

func (u *Uploader) Endpoint() string { return u.endpoint }

func (u *Uploader) Report(ctx context.Context, rec models.ReportRecord) (out models.UploadOutcome) {
	log := logger.Log().With(zap.String("run", rec.RunID), zap.String("endpoint", u.endpoint))

	if u.endpoint == "" {
		return models.UploadOutcome{Err: ErrNoEndpoint}
	}

	defer func() {
		if r := recover(); r != nil {
			out = models.UploadOutcome{Attempted: true, Err: fmt.Errorf("report: panic: %v", r)}
			log.Error("upload panic recovered", zap.Any("panic", r))
		}
	}()

	resp, err := u.client.R().
		SetContext(ctx).
		SetFile(FieldFullImage, rec.FullImagePath).
		SetFile(FieldPlateImage, rec.PlateImagePath).
		SetFormData(map[string]string{FieldPlateText: rec.PlateText}).
		Post(u.endpoint)
	if err != nil {
		log.Warn("upload failed", zap.Error(err))
		return models.UploadOutcome{Attempted: true, Err: err}
	}

	out = models.UploadOutcome{Attempted: true, Status: resp.StatusCode()}
	if resp.IsError() {
		out.Err = fmt.Errorf("report: server returned %s", resp.Status())
		log.Warn("upload rejected", zap.Int("status", resp.StatusCode()), zap.String("body", resp.String()))
		return out
	}

	out.Delivered = true
	log.Info("upload sent", zap.Int("status", resp.StatusCode()))
	return out
}
