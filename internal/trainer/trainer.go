package trainer

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"

	"platecam/internal/logger"

	"go.uber.org/zap"
)

const (
	DefaultBinary = "yolo"
	DefaultModel  = "yolo11s.pt"
	DefaultData   = "coco8.yaml"
	DefaultEpochs = 100
)

// Trainer drives the external YOLO command line trainer.
type Trainer struct {
	Binary  string
	Model   string
	Data    string
	Epochs  int
	Project string
}

func New() *Trainer {
	return &Trainer{
		Binary: DefaultBinary,
		Model:  DefaultModel,
		Data:   DefaultData,
		Epochs: DefaultEpochs,
	}
}

func (t *Trainer) Args() []string {
	args := []string{
		"detect", "train",
		"model=" + t.Model,
		"data=" + t.Data,
		"epochs=" + strconv.Itoa(t.Epochs),
	}
	if t.Project != "" {
		args = append(args, "project="+t.Project)
	}
	return args
}

func (t *Trainer) Validate() error {
	if t.Binary == "" || t.Model == "" || t.Data == "" {
		return fmt.Errorf("trainer: binary, model and data are required")
	}
	if t.Epochs <= 0 {
		return fmt.Errorf("trainer: epochs must be positive, got %d", t.Epochs)
	}
	return nil
}

// Run executes the trainer and forwards its output to the logger line by line.
func (t *Trainer) Run(ctx context.Context) error {
	if err := t.Validate(); err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, t.Binary, t.Args()...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}

	log := logger.Log().With(zap.String("model", t.Model), zap.String("data", t.Data))
	log.Info("training started", zap.Strings("args", t.Args()))

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("trainer: start %s: %w", t.Binary, err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); forward(stdout, log, "stdout") }()
	go func() { defer wg.Done(); forward(stderr, log, "stderr") }()
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("trainer: %w", err)
	}
	log.Info("training finished")
	return nil
}

func forward(r io.Reader, log *zap.Logger, stream string) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		log.Info(scanner.Text(), zap.String("stream", stream))
	}
}
