package tesseract

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"strings"
	"sync"

	"platecam/internal/models"

	"github.com/disintegration/imaging"
	"github.com/otiai10/gosseract/v2"
)

const (
	EngineName = "tesseract"

	// Crops shorter than this are upscaled before OCR.
	minHeight = 64
)

// Engine wraps one Tesseract client. The client is not goroutine safe, so
// calls are serialised.
type Engine struct {
	mu     sync.Mutex
	client *gosseract.Client
}

func New(language, whitelist string) (*Engine, error) {
	client := gosseract.NewClient()

	if err := client.SetLanguage(language); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set OCR language: %w", err)
	}
	if err := client.SetPageSegMode(gosseract.PSM_SINGLE_BLOCK); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set page segmentation mode: %w", err)
	}
	if whitelist != "" {
		if err := client.SetWhitelist(whitelist); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to set whitelist: %w", err)
		}
	}

	return &Engine{client: client}, nil
}

func (e *Engine) Recognize(ctx context.Context, crop image.Image) (models.Recognition, error) {
	bounds := crop.Bounds()
	rec := models.Recognition{Engine: EngineName, Width: bounds.Dx(), Height: bounds.Dy()}

	if err := ctx.Err(); err != nil {
		return rec, err
	}

	prepared, scale := prepare(crop)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, prepared, imaging.PNG); err != nil {
		return rec, fmt.Errorf("encode crop: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.client.SetImageFromBytes(buf.Bytes()); err != nil {
		return rec, fmt.Errorf("failed to set OCR image: %w", err)
	}

	boxes, err := e.client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return rec, fmt.Errorf("failed to get bounding boxes: %w", err)
	}

	for _, b := range boxes {
		text := strings.TrimSpace(b.Word)
		if text == "" {
			continue
		}
		rec.Fragments = append(rec.Fragments, models.Fragment{
			Text:       text,
			Confidence: b.Confidence / 100,
			Box: models.Box{
				X1: bounds.Min.X + int(float64(b.Box.Min.X)/scale),
				Y1: bounds.Min.Y + int(float64(b.Box.Min.Y)/scale),
				X2: bounds.Min.X + int(float64(b.Box.Max.X)/scale),
				Y2: bounds.Min.Y + int(float64(b.Box.Max.Y)/scale),
			},
		})
	}

	return rec, nil
}

// prepare converts the crop to grayscale and upscales small crops. It returns
// the factor applied to the crop size.
func prepare(crop image.Image) (image.Image, float64) {
	gray := imaging.Grayscale(crop)

	h := gray.Bounds().Dy()
	if h == 0 || h >= minHeight {
		return gray, 1
	}

	scale := float64(minHeight) / float64(h)
	w := int(float64(gray.Bounds().Dx()) * scale)
	return imaging.Resize(gray, w, minHeight, imaging.Lanczos), scale
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.client.Close()
}
