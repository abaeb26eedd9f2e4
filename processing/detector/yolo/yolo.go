package yolo

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"platecam/internal/models"

	"gocv.io/x/gocv"
)

const (
	DefaultInputSize  = 640
	DefaultConfidence = 0.25
	DefaultNMS        = 0.45
)

type Config struct {
	ModelPath  string
	Names      []string
	InputSize  int
	Confidence float32
	NMS        float32
}

// Detector runs an exported YOLO ONNX model through OpenCV's DNN module.
// The output tensor is [1, 4+classes, anchors] with centre/size boxes in
// input pixel space.
type Detector struct {
	cfg Config

	mu  sync.Mutex
	net gocv.Net
}

func New(cfg Config) (*Detector, error) {
	if cfg.InputSize <= 0 {
		cfg.InputSize = DefaultInputSize
	}
	if cfg.Confidence <= 0 {
		cfg.Confidence = DefaultConfidence
	}
	if cfg.NMS <= 0 {
		cfg.NMS = DefaultNMS
	}

	net := gocv.ReadNetFromONNX(cfg.ModelPath)
	if net.Empty() {
		return nil, fmt.Errorf("yolo: cannot load model %s", cfg.ModelPath)
	}
	if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
		net.Close()
		return nil, err
	}
	if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
		net.Close()
		return nil, err
	}

	return &Detector{cfg: cfg, net: net}, nil
}

func (d *Detector) Detect(ctx context.Context, frame image.Image) ([]models.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, err := gocv.ImageToMatRGB(frame)
	if err != nil {
		return nil, fmt.Errorf("yolo: convert frame: %w", err)
	}
	defer img.Close()

	size := d.cfg.InputSize
	blob := gocv.BlobFromImage(img, 1.0/255.0, image.Pt(size, size), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.mu.Lock()
	d.net.SetInput(blob, "")
	out := d.net.Forward("")
	d.mu.Unlock()
	defer out.Close()

	return d.decode(out, frame.Bounds())
}

func (d *Detector) decode(out gocv.Mat, bounds image.Rectangle) ([]models.Detection, error) {
	dims := out.Size()
	if len(dims) != 3 || dims[1] < 5 {
		return nil, errors.New("yolo: unexpected output shape")
	}
	attrs, anchors := dims[1], dims[2]

	data, err := out.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("yolo: read output: %w", err)
	}

	scaleX := float32(bounds.Dx()) / float32(d.cfg.InputSize)
	scaleY := float32(bounds.Dy()) / float32(d.cfg.InputSize)

	var (
		rects   []image.Rectangle
		scores  []float32
		classes []int
	)
	for i := 0; i < anchors; i++ {
		best, cls := float32(0), 0
		for c := 4; c < attrs; c++ {
			if s := data[c*anchors+i]; s > best {
				best, cls = s, c-4
			}
		}
		if best < d.cfg.Confidence {
			continue
		}

		cx, cy := data[i], data[anchors+i]
		w, h := data[2*anchors+i], data[3*anchors+i]

		x1 := int((cx-w/2)*scaleX) + bounds.Min.X
		y1 := int((cy-h/2)*scaleY) + bounds.Min.Y
		x2 := int((cx+w/2)*scaleX) + bounds.Min.X
		y2 := int((cy+h/2)*scaleY) + bounds.Min.Y

		rects = append(rects, image.Rect(x1, y1, x2, y2))
		scores = append(scores, best)
		classes = append(classes, cls)
	}

	if len(rects) == 0 {
		return nil, nil
	}

	keep := gocv.NMSBoxes(rects, scores, d.cfg.Confidence, d.cfg.NMS)

	dets := make([]models.Detection, 0, len(keep))
	for _, idx := range keep {
		dets = append(dets, models.Detection{
			Label:      d.label(classes[idx]),
			Confidence: scores[idx],
			Box:        models.BoxFromRect(rects[idx]),
		})
	}
	return dets, nil
}

func (d *Detector) label(cls int) string {
	if cls >= 0 && cls < len(d.cfg.Names) {
		return d.cfg.Names[cls]
	}
	return fmt.Sprintf("class_%d", cls)
}

func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}
