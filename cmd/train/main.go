package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"platecam/internal/logger"
	"platecam/internal/trainer"

	"go.uber.org/zap"
)

func main() {
	tr := trainer.New()

	flag.StringVar(&tr.Binary, "bin", tr.Binary, "trainer executable")
	flag.StringVar(&tr.Model, "model", tr.Model, "base weights")
	flag.StringVar(&tr.Data, "data", tr.Data, "dataset description")
	flag.IntVar(&tr.Epochs, "epochs", tr.Epochs, "training epochs")
	flag.StringVar(&tr.Project, "project", "", "output project directory")
	flag.Parse()

	if err := logger.Init(logger.Options{Level: "info"}); err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := tr.Run(ctx); err != nil {
		logger.Log().Error("training failed", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}
