package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync/atomic"
	"time"

	"platecam/internal/artifact"
	"platecam/internal/logger"
	"platecam/internal/models"
	processing "platecam/processing/detector"
	"platecam/processing/recognizer"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"
)

var ErrEmptyFrame = errors.New("pipeline: empty frame")

// Reporter delivers one record to the remote endpoint.
type Reporter interface {
	Report(ctx context.Context, rec models.ReportRecord) models.UploadOutcome
}

// Observer is told about every finished run.
type Observer interface {
	ObserveRun(res models.Result)
}

type Option func(*Pipeline)

func WithPolicy(p processing.Policy) Option {
	return func(pl *Pipeline) { pl.policy = p }
}

// WithTimeout bounds a whole run. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(pl *Pipeline) { pl.timeout = d }
}

func WithObserver(o Observer) Option {
	return func(pl *Pipeline) { pl.observer = o }
}

// Pipeline runs detect, crop, recognize and report over one captured frame.
// Runs are independent and may overlap; each writes to its own run directory.
type Pipeline struct {
	detector   processing.Detector
	recognizer recognizer.Recognizer
	store      *artifact.Store
	reporter   Reporter

	policy   processing.Policy
	timeout  time.Duration
	observer Observer

	inFlight atomic.Int32
}

func New(det processing.Detector, rec recognizer.Recognizer, store *artifact.Store, rep Reporter, opts ...Option) *Pipeline {
	p := &Pipeline{
		detector:   det,
		recognizer: rec,
		store:      store,
		reporter:   rep,
		policy:     processing.PolicyFirst,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// InFlight reports how many runs are currently executing.
func (p *Pipeline) InFlight() int { return int(p.inFlight.Load()) }

// Trigger runs the pipeline in the background and hands the result to emit.
func (p *Pipeline) Trigger(ctx context.Context, frame image.Image, emit func(models.Result)) {
	go func() {
		res := p.Run(ctx, frame)
		if emit != nil {
			emit(res)
		}
	}()
}

func (p *Pipeline) Run(ctx context.Context, frame image.Image) (res models.Result) {
	start := time.Now()
	p.inFlight.Add(1)

	defer func() {
		if r := recover(); r != nil {
			logger.Log().Error("pipeline panic recovered", zap.String("run", res.RunID), zap.Any("panic", r))
			res = failure(res.RunID, models.ErrKindInternal, fmt.Errorf("panic: %v", r))
		}
		res.Elapsed = time.Since(start)
		p.inFlight.Add(-1)
		p.finish(res)
	}()

	if frame == nil || frame.Bounds().Empty() {
		return failure("", models.ErrKindCapture, ErrEmptyFrame)
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	run, err := p.store.NewRun()
	if err != nil {
		return failure("", models.ErrKindArtifact, err)
	}
	res.RunID = run.ID
	log := logger.Log().With(zap.String("run", run.ID))

	fullPath, err := run.SaveImage(artifact.FrameFile, frame)
	if err != nil {
		return failure(run.ID, models.ErrKindArtifact, err)
	}

	dets, err := p.detector.Detect(ctx, frame)
	if err != nil {
		return failure(run.ID, models.ErrKindDetect, err)
	}
	dets = processing.Normalize(dets, frame.Bounds())
	if len(dets) == 0 {
		log.Info("no plate detected")
		return models.Result{RunID: run.ID, Kind: models.ResultNoDetection}
	}

	selected := p.policy.Select(dets)
	log.Debug("detections", zap.Int("found", len(dets)), zap.Int("selected", len(selected)), zap.String("policy", string(p.policy)))

	// A failed plate does not discard the ones already read and reported.
	res = models.Result{RunID: run.ID, Kind: models.ResultSuccess}
	read := 0
	for i, det := range selected {
		plate, kind, err := p.readPlate(ctx, run, fullPath, i, frame, det)
		if err != nil {
			plate.ErrKind, plate.Err = kind, err
			log.Warn("plate failed", zap.Int("plate", i), zap.String("step", string(kind)), zap.Error(err))
		} else {
			read++
		}
		res.Plates = append(res.Plates, plate)
	}

	if read == 0 {
		first := res.Plates[0]
		failed := failure(run.ID, first.ErrKind, first.Err)
		failed.Plates = res.Plates
		return failed
	}
	return res
}

func (p *Pipeline) readPlate(ctx context.Context, run *artifact.Run, fullPath string, n int, frame image.Image, det models.Detection) (models.PlateRead, models.ErrorKind, error) {
	plate := models.PlateRead{Detection: det}

	crop := imaging.Crop(frame, det.Box.Rect())
	if crop.Bounds().Empty() {
		return plate, models.ErrKindCrop, fmt.Errorf("empty crop for box %v", det.Box)
	}
	if _, err := run.SaveImage(artifact.PlateFile(n), crop); err != nil {
		return plate, models.ErrKindArtifact, err
	}

	rec, err := p.recognizer.Recognize(ctx, crop)
	if err != nil {
		return plate, models.ErrKindRecognize, err
	}
	if _, err := run.SaveJSON(artifact.RecordFile(n), rec); err != nil {
		return plate, models.ErrKindArtifact, err
	}
	ocrPath, err := run.SaveImage(artifact.RecognizedFile(n), recognizer.Annotate(crop, rec))
	if err != nil {
		return plate, models.ErrKindArtifact, err
	}

	// The text comes from the persisted record, not the in-memory one.
	var stored models.Recognition
	if err := run.LoadJSON(artifact.RecordFile(n), &stored); err != nil {
		return plate, models.ErrKindArtifact, err
	}
	plate.Text = stored.PlateText()

	plate.Record = models.ReportRecord{
		RunID:          run.ID,
		FullImagePath:  fullPath,
		PlateImagePath: ocrPath,
		PlateText:      plate.Text,
	}
	if p.reporter != nil {
		plate.Upload = p.reporter.Report(ctx, plate.Record)
	}

	plate.Image = imaging.Grayscale(crop)
	return plate, models.ErrKindNone, nil
}

func (p *Pipeline) finish(res models.Result) {
	log := logger.Log().With(
		zap.String("run", res.RunID),
		zap.Stringer("kind", res.Kind),
		zap.Duration("elapsed", res.Elapsed),
	)
	if res.Kind == models.ResultFailure {
		log.Warn("run failed", zap.String("step", string(res.ErrKind)), zap.String("error", res.Message))
	} else {
		log.Info("run finished", zap.String("text", res.Text()))
	}

	if p.observer != nil {
		p.observer.ObserveRun(res)
	}
	// Only prune when idle so a running run never loses its directory.
	if p.store != nil && p.InFlight() == 0 {
		if err := p.store.Prune(); err != nil {
			log.Warn("prune artifacts", zap.Error(err))
		}
	}
}

func failure(runID string, kind models.ErrorKind, err error) models.Result {
	return models.Result{
		RunID:   runID,
		Kind:    models.ResultFailure,
		ErrKind: kind,
		Message: fmt.Sprintf("%s failed: %v", kind, err),
	}
}
