package main

import (
	"context"
	"fmt"
	"io"

	"platecam/internal/artifact"
	"platecam/internal/config"
	"platecam/internal/logger"
	"platecam/internal/monitor"
	"platecam/internal/report"
	ui "platecam/internal/ui"
	"platecam/processing/capture"
	"platecam/processing/capture/opencv"
	processing "platecam/processing/detector"
	"platecam/processing/detector/yolo"
	"platecam/processing/pipeline"
	"platecam/processing/recognizer/tesseract"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load(config.DefaultConfigPath, config.DefaultEnvPath)
	if err != nil {
		panic(err)
	}

	if err := logger.Init(logger.Options{Level: cfg.Log.Level, JSON: cfg.Log.JSON, File: cfg.Log.File}); err != nil {
		panic(err)
	}
	defer logger.Sync()
	log := logger.Log()

	det, err := newDetector(cfg)
	if err != nil {
		log.Fatal("detector", zap.Error(err))
	}
	defer det.Close()

	ocr, err := tesseract.New(cfg.Recognizer.Language, cfg.Recognizer.Whitelist)
	if err != nil {
		log.Fatal("recognizer", zap.Error(err))
	}
	defer ocr.Close()

	store, err := artifact.NewStore(cfg.Artifacts.Dir, cfg.Artifacts.Keep)
	if err != nil {
		log.Fatal("artifact store", zap.String("dir", cfg.Artifacts.Dir), zap.Error(err))
	}

	policy, err := processing.ParsePolicy(cfg.Detector.Policy)
	if err != nil {
		log.Fatal("detection policy", zap.Error(err))
	}

	opts := []pipeline.Option{
		pipeline.WithPolicy(policy),
		pipeline.WithTimeout(cfg.PipelineTimeout()),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Monitor.Addr != "" {
		mon, err := monitor.New()
		if err != nil {
			log.Fatal("monitor", zap.Error(err))
		}
		opts = append(opts, pipeline.WithObserver(mon))
		go mon.Start(ctx, cfg.Monitor.Addr)
	}

	pl := pipeline.New(det, ocr, store, report.NewUploader(cfg.Report.Endpoint, cfg.ReportTimeout()), opts...)
	cam := capture.NewCamera(newOpener(cfg))

	log.Info("starting",
		zap.String("detector", string(cfg.Detector.Backend)),
		zap.String("source_backend", string(cfg.Source.Backend)),
		zap.String("report", cfg.Report.Endpoint),
	)

	app := ui.CreateApp(cam, pl, cfg)

	app.Run()
}

type closingDetector interface {
	processing.Detector
	io.Closer
}

func newDetector(cfg *config.Config) (closingDetector, error) {
	switch cfg.Detector.Backend {
	case config.BackendRemote:
		return processing.NewRemoteDetector(cfg.Detector.RemoteHost), nil
	case config.BackendYOLO:
		det, err := yolo.New(yolo.Config{
			ModelPath:  cfg.Detector.ModelPath,
			Names:      []string{"plate"},
			InputSize:  cfg.Detector.InputSize,
			Confidence: cfg.Detector.Confidence,
			NMS:        cfg.Detector.NMS,
		})
		if err != nil {
			return nil, err
		}
		return det, nil
	default:
		return nil, fmt.Errorf("unknown detector backend %q", cfg.Detector.Backend)
	}
}

func newOpener(cfg *config.Config) capture.Opener {
	if cfg.Source.Backend == config.SourceFFmpeg {
		return capture.NewFFmpegOpener(cfg.Source.CaptureWidth, cfg.Source.CaptureHeight)
	}
	return opencv.Open
}
