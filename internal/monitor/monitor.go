package monitor

import (
	"context"
	"errors"
	"math"
	"net/http"
	"os"
	"time"

	"platecam/internal/logger"
	"platecam/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

const sampleInterval = 500 * time.Millisecond

// Monitor exposes pipeline and process metrics on a private registry.
type Monitor struct {
	registry *prometheus.Registry
	proc     *process.Process

	runs           *prometheus.CounterVec
	duration       prometheus.Histogram
	plates         prometheus.Counter
	uploadFailures prometheus.Counter
	memUsage       prometheus.Gauge
	cpuUsage       prometheus.Gauge
}

func New() (*Monitor, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}

	m := &Monitor{
		registry: prometheus.NewRegistry(),
		proc:     proc,
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "platecam_runs_total",
			Help: "Finished capture runs by outcome",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "platecam_run_duration_seconds",
			Help:    "Wall time of one capture run",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		plates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "platecam_plates_total",
			Help: "Plates read across all runs",
		}),
		uploadFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "platecam_upload_failures_total",
			Help: "Reports that were attempted but not delivered",
		}),
		memUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "platecam_memory_usage_megabytes",
			Help: "Resident memory in megabytes",
		}),
		cpuUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "platecam_cpu_usage_percent",
			Help: "Process CPU usage in percent",
		}),
	}

	m.registry.MustRegister(m.runs, m.duration, m.plates, m.uploadFailures, m.memUsage, m.cpuUsage)
	return m, nil
}

func (m *Monitor) ObserveRun(res models.Result) {
	m.runs.WithLabelValues(res.Kind.String()).Inc()
	m.duration.Observe(res.Elapsed.Seconds())

	for _, p := range res.Plates {
		if !p.OK() {
			continue
		}
		m.plates.Inc()
		if p.Upload.Attempted && !p.Upload.Delivered {
			m.uploadFailures.Inc()
		}
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Monitor) sample() {
	if mem, err := m.proc.MemoryInfo(); err == nil {
		m.memUsage.Set(float64(mem.RSS / 1024 / 1024))
	}
	if cpu, err := m.proc.CPUPercent(); err == nil {
		m.cpuUsage.Set(math.Round(cpu*100) / 100)
	}
}

// Start serves /metrics on addr and samples the process until ctx is done.
func (m *Monitor) Start(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log().Error("metrics server", zap.String("addr", addr), zap.Error(err))
		}
	}()
	logger.Log().Info("metrics listening", zap.String("addr", addr))

	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Log().Warn("metrics server shutdown", zap.Error(err))
			}
			return
		case <-ticker.C:
			m.sample()
		}
	}
}
