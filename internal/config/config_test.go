package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestLoad(t *testing.T) {
	t.Run("missing file gives defaults", func(t *testing.T) {
		dir := t.TempDir()
		cfg, err := Load(filepath.Join(dir, "none.yaml"), "")
		require.NoError(t, err)
		assert.Equal(t, 30*time.Millisecond, cfg.GetTick())
		assert.Equal(t, DefaultReportURL, cfg.Report.Endpoint)
		assert.Equal(t, "first", cfg.Detector.Policy)

		w, h := cfg.GetDisplaySize()
		assert.Equal(t, 400, w)
		assert.Equal(t, 300, h)
	})

	t.Run("yaml overrides", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
source:
  uri: rtsp://cam.local/stream
detector:
  backend: remote
  remote_host: detector:9000
  policy: all
report:
  endpoint: http://example.com/api/plate
  timeout_sec: 3
`), 0o644))

		cfg, err := Load(path, "")
		require.NoError(t, err)
		assert.Equal(t, "rtsp://cam.local/stream", cfg.GetSourceURI())
		assert.Equal(t, BackendRemote, cfg.Detector.Backend)
		assert.Equal(t, "detector:9000", cfg.Detector.RemoteHost)
		assert.Equal(t, "all", cfg.Detector.Policy)
		assert.Equal(t, 3*time.Second, cfg.ReportTimeout())
		assert.Equal(t, 640, cfg.Detector.InputSize)
	})

	t.Run("env overrides", func(t *testing.T) {
		dir := t.TempDir()
		envPath := filepath.Join(dir, ".env")
		require.NoError(t, os.WriteFile(envPath, []byte("PLATECAM_ARTIFACTS_KEEP=5\n"), 0o644))
		t.Setenv("PLATECAM_SOURCE_URI", "1")
		t.Setenv("PLATECAM_DETECTOR_POLICY", "highest-confidence")
		t.Cleanup(func() { os.Unsetenv("PLATECAM_ARTIFACTS_KEEP") })

		cfg, err := Load(filepath.Join(dir, "none.yaml"), envPath)
		require.NoError(t, err)
		assert.Equal(t, "1", cfg.GetSourceURI())
		assert.Equal(t, "highest-confidence", cfg.Detector.Policy)
		assert.Equal(t, 5, cfg.Artifacts.Keep)
	})

	t.Run("invalid", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("detector:\n  policy: every-other\n"), 0o644))

		_, err := Load(path, "")
		assert.Error(t, err)
	})

	t.Run("bad env number", func(t *testing.T) {
		t.Setenv("PLATECAM_SOURCE_TICK_MS", "fast")
		_, err := Load(filepath.Join(t.TempDir(), "none.yaml"), "")
		assert.Error(t, err)
	})
}

func TestConfig_SaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := NewDefaultConfig()
	cfg.SetSourceURI("http://cam/mjpeg")
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path, "")
	require.NoError(t, err)
	assert.Equal(t, "http://cam/mjpeg", loaded.GetSourceURI())
}

func TestConfig_SaveKeepsEnvOverridesOut(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("source:\n  uri: rtsp://cam.local/stream\nartifacts:\n  keep: 3\n"), 0o644))

	t.Setenv("PLATECAM_SOURCE_URI", "2")
	t.Setenv("PLATECAM_ARTIFACTS_KEEP", "9")
	t.Setenv("PLATECAM_LOG_LEVEL", "debug")

	cfg, err := Load(path, "")
	require.NoError(t, err)
	assert.Equal(t, "2", cfg.GetSourceURI())
	assert.Equal(t, 9, cfg.Artifacts.Keep)

	readBack := func() *Config {
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		saved := NewDefaultConfig()
		require.NoError(t, yaml.Unmarshal(data, saved))
		return saved
	}

	t.Run("untouched overrides are not persisted", func(t *testing.T) {
		require.NoError(t, cfg.Save(path))
		saved := readBack()
		assert.Equal(t, "rtsp://cam.local/stream", saved.Source.URI)
		assert.Equal(t, 3, saved.Artifacts.Keep)
		assert.Equal(t, "info", saved.Log.Level)
	})

	t.Run("values edited after load are persisted", func(t *testing.T) {
		cfg.SetSourceURI("http://cam/mjpeg")
		require.NoError(t, cfg.Save(path))
		assert.Equal(t, "http://cam/mjpeg", readBack().Source.URI)
	})
}
