package ui

import (
	"context"
	"fmt"
	"image"
	"time"

	"platecam/internal/config"
	"platecam/internal/logger"
	"platecam/internal/models"
	"platecam/internal/ui/cwidget"
	"platecam/processing/capture"
	"platecam/processing/pipeline"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"
	"go.uber.org/zap"
)

const (
	startLabel = "Start camera"
	stopLabel  = "Stop camera"
)

type PlateApp struct {
	fyneApp fyne.App
	mainWin fyne.Window

	config   *config.Config
	camera   *capture.Camera
	pipeline *pipeline.Pipeline
	player   *capture.Player

	ctx    context.Context
	cancel context.CancelFunc

	videoCanvas *canvas.Image
	plateCanvas *canvas.Image
	resultLabel *widget.Label
	statsLabel  *widget.Label
	toggleBtn   *widget.Button
	captureBtn  *widget.Button
	sourceInput *cwidget.Input[string]
}

func CreateApp(cam *capture.Camera, pl *pipeline.Pipeline, cfg *config.Config) *PlateApp {
	a := app.New()
	w := a.NewWindow("Plate Recognition")

	w.Resize(fyne.NewSize(900, 520))

	ctx, cancel := context.WithCancel(context.Background())

	return &PlateApp{
		fyneApp:  a,
		mainWin:  w,
		config:   cfg,
		camera:   cam,
		pipeline: pl,
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (a *PlateApp) Run() {
	width, height := a.config.GetDisplaySize()

	a.videoCanvas = canvas.NewImageFromImage(nil)
	a.videoCanvas.FillMode = canvas.ImageFillContain
	a.videoCanvas.SetMinSize(fyne.NewSize(float32(width), float32(height)))

	a.plateCanvas = canvas.NewImageFromImage(nil)
	a.plateCanvas.FillMode = canvas.ImageFillContain
	a.plateCanvas.SetMinSize(fyne.NewSize(200, 100))

	a.resultLabel = widget.NewLabelWithStyle("", fyne.TextAlignCenter, fyne.TextStyle{Bold: true})
	a.statsLabel = widget.NewLabel(a.formatStats())

	a.sourceInput = cwidget.NewSourceInput(
		"Source",
		"camera index, rtsp:// or http:// URL",
		a.config.GetSourceURI(),
		capture.ValidateURI,
		a.config.SetSourceURI,
	)

	tickInput := cwidget.NewIntInput(
		"Tick (ms)",
		"Enter integer",
		int(a.config.GetTick().Milliseconds()),
		a.config.SetTickMs,
	)

	a.toggleBtn = widget.NewButtonWithIcon(startLabel, theme.MediaPlayIcon(), a.toggleCamera)
	a.captureBtn = widget.NewButtonWithIcon("Capture", theme.MediaRecordIcon(), a.capture)
	a.captureBtn.Disable()

	sidebar := container.NewVBox(
		widget.NewLabelWithStyle("Camera", fyne.TextAlignLeading, fyne.TextStyle{Bold: true}),
		widget.NewSeparator(),
		a.sourceInput,
		tickInput,
		a.toggleBtn,
		a.captureBtn,
		widget.NewSeparator(),
		widget.NewLabelWithStyle("Result", fyne.TextAlignLeading, fyne.TextStyle{Bold: true}),
		a.plateCanvas,
		a.resultLabel,
	)

	videoContainer := container.NewBorder(a.statsLabel, nil, nil, nil, a.videoCanvas)

	split := container.NewHSplit(
		container.NewPadded(sidebar),
		container.NewPadded(videoContainer),
	)
	split.SetOffset(0.3)

	a.mainWin.SetContent(split)

	a.mainWin.SetCloseIntercept(func() {
		a.shutdown()
		a.mainWin.Close()
	})

	go a.runStatLoop()

	a.mainWin.CenterOnScreen()
	a.mainWin.ShowAndRun()
}

func (a *PlateApp) toggleCamera() {
	if a.camera.IsOpen() {
		a.stopPlayer()
	} else if !a.sourceInput.Valid() {
		dialog.ShowError(fmt.Errorf("invalid source %q", a.sourceInput.Text()), a.mainWin)
		return
	}

	open, err := a.camera.Toggle(a.config.GetSourceURI())
	if err != nil {
		logger.Log().Warn("camera toggle failed", zap.Error(err))
		dialog.ShowError(err, a.mainWin)
	}
	a.setCameraState(open)

	if open {
		a.startPlayer()
	}
}

func (a *PlateApp) setCameraState(open bool) {
	if open {
		a.toggleBtn.SetText(stopLabel)
		a.toggleBtn.SetIcon(theme.MediaStopIcon())
		a.captureBtn.Enable()
		return
	}
	a.toggleBtn.SetText(startLabel)
	a.toggleBtn.SetIcon(theme.MediaPlayIcon())
	a.captureBtn.Disable()
}

func (a *PlateApp) startPlayer() {
	width, height := a.config.GetDisplaySize()

	player := capture.NewPlayer(a.camera, a.config.GetTick(), width, height, func(frame image.Image) {
		fyne.Do(func() {
			a.videoCanvas.Image = frame
			a.videoCanvas.Refresh()
		})
	})
	a.player = player
	player.Start(a.ctx)

	go func() {
		err := player.Err()
		if err == nil {
			return
		}
		logger.Log().Warn("display loop stopped", zap.Error(err))
		fyne.Do(func() {
			if a.player != player {
				return
			}
			a.player = nil
			_ = a.camera.Close()
			a.setCameraState(false)
			dialog.ShowError(err, a.mainWin)
		})
	}()
}

func (a *PlateApp) stopPlayer() {
	if a.player != nil {
		a.player.Stop()
		a.player = nil
	}
}

func (a *PlateApp) capture() {
	frame, err := a.camera.Grab()
	if err != nil {
		dialog.ShowError(err, a.mainWin)
		return
	}

	a.resultLabel.SetText("Processing...")
	a.pipeline.Trigger(a.ctx, frame, func(res models.Result) {
		fyne.Do(func() { a.showResult(res) })
	})
}

func (a *PlateApp) showResult(res models.Result) {
	switch res.Kind {
	case models.ResultSuccess:
		a.plateCanvas.Image = res.Image()
		a.resultLabel.SetText(res.Text())
	case models.ResultNoDetection:
		a.plateCanvas.Image = nil
		a.resultLabel.SetText(res.Text())
	default:
		a.plateCanvas.Image = nil
		a.resultLabel.SetText("Error: " + res.Text())
	}
	a.plateCanvas.Refresh()
}

func (a *PlateApp) runStatLoop() {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			fyne.Do(func() {
				a.statsLabel.SetText(a.formatStats())
			})
		case <-a.ctx.Done():
			return
		}
	}
}

func (a *PlateApp) formatStats() string {
	var frames uint64
	if a.player != nil {
		frames = a.player.Frames()
	}
	return fmt.Sprintf("Frames: %d | Captures in flight: %d", frames, a.pipeline.InFlight())
}

func (a *PlateApp) shutdown() {
	a.stopPlayer()
	if err := a.camera.Close(); err != nil {
		logger.Log().Warn("camera close", zap.Error(err))
	}
	a.cancel()
	if err := a.config.SaveByDefault(); err != nil {
		logger.Log().Warn("config save", zap.Error(err))
	}
}
