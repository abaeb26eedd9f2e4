package monitor

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"platecam/internal/models"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitor_ObserveRun(t *testing.T) {
	m, err := New()
	require.NoError(t, err)

	m.ObserveRun(models.Result{
		Kind:    models.ResultSuccess,
		Elapsed: 200 * time.Millisecond,
		Plates: []models.PlateRead{
			{Upload: models.UploadOutcome{Attempted: true, Delivered: true}},
			{Upload: models.UploadOutcome{Attempted: true, Err: errors.New("refused")}},
			{ErrKind: models.ErrKindRecognize, Err: errors.New("ocr down")},
		},
	})
	m.ObserveRun(models.Result{Kind: models.ResultNoDetection})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("no_detection")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.plates))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.uploadFailures))
}

func TestMonitor_Handler(t *testing.T) {
	m, err := New()
	require.NoError(t, err)
	m.sample()
	m.ObserveRun(models.Result{Kind: models.ResultFailure, ErrKind: models.ErrKindDetect})

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `platecam_runs_total{outcome="failure"} 1`)
	assert.Contains(t, string(body), "platecam_memory_usage_megabytes")
}
