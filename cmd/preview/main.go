package main

import (
	"flag"
	"os"

	"platecam/internal/logger"
	"platecam/processing/capture/opencv"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

const keyEsc = 27

func main() {
	source := flag.String("source", "", "camera index or stream URI, empty for the default camera")
	flag.Parse()

	if err := logger.Init(logger.Options{Level: "info"}); err != nil {
		panic(err)
	}
	defer logger.Sync()
	log := logger.Log().With(zap.String("source", *source))

	src, err := opencv.OpenCapture(*source)
	if err != nil {
		log.Error("cannot open source", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	defer src.Close()

	window := gocv.NewWindow("Camera preview")
	defer window.Close()

	frame := gocv.NewMat()
	defer frame.Close()

	log.Info("preview started, press ESC to quit")
	for {
		if err := src.ReadMat(&frame); err != nil {
			log.Warn("read failed", zap.Error(err))
			return
		}
		window.IMShow(frame)
		if window.WaitKey(1) == keyEsc {
			return
		}
	}
}
