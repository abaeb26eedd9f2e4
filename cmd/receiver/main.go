package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"platecam/internal/logger"
	"platecam/internal/receiver"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	addr := flag.String("addr", ":8000", "listen address")
	dir := flag.String("dir", "received", "directory for uploaded plates")
	debug := flag.Bool("debug", false, "verbose logging and gin debug mode")
	flag.Parse()

	level := "info"
	if *debug {
		level = "debug"
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	if err := logger.Init(logger.Options{Level: level}); err != nil {
		panic(err)
	}
	defer logger.Sync()
	log := logger.Log()

	rc, err := receiver.New(*dir)
	if err != nil {
		log.Fatal("cannot prepare storage", zap.String("dir", *dir), zap.Error(err))
	}

	srv := &http.Server{
		Addr:    *addr,
		Handler: rc.Router(),
	}

	go func() {
		log.Info("receiver listening", zap.String("addr", *addr), zap.String("dir", *dir))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down receiver")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("forced shutdown", zap.Error(err))
	}
}
