package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type DetectorBackend string

const (
	BackendYOLO   DetectorBackend = "yolo"
	BackendRemote DetectorBackend = "remote"

	DefaultConfigPath   string = "config.yaml"
	DefaultEnvPath      string = ".env"
	DefaultReportURL    string = "http://localhost:8000/api/plate"
	DefaultRemoteHost   string = "localhost:8080"
	DefaultArtifactsDir string = "output"

	envPrefix = "PLATECAM_"
)

type SourceBackend string

const (
	SourceOpenCV SourceBackend = "opencv"
	SourceFFmpeg SourceBackend = "ffmpeg"
)

type SourceConfig struct {
	Backend SourceBackend `yaml:"backend" validate:"oneof=opencv ffmpeg"`
	URI     string        `yaml:"uri"`
	TickMs  int           `yaml:"tick_ms" validate:"min=1"`

	DisplayWidth  int `yaml:"display_width" validate:"min=1"`
	DisplayHeight int `yaml:"display_height" validate:"min=1"`

	// Frame size produced by the ffmpeg backend.
	CaptureWidth  int `yaml:"capture_width" validate:"min=1"`
	CaptureHeight int `yaml:"capture_height" validate:"min=1"`
}

type DetectorConfig struct {
	Backend    DetectorBackend `yaml:"backend" validate:"oneof=yolo remote"`
	ModelPath  string          `yaml:"model_path" validate:"required_if=Backend yolo"`
	RemoteHost string          `yaml:"remote_host" validate:"required_if=Backend remote"`
	InputSize  int             `yaml:"input_size" validate:"min=32"`
	Confidence float32         `yaml:"confidence" validate:"gt=0,lte=1"`
	NMS        float32         `yaml:"nms" validate:"gt=0,lte=1"`
	Policy     string          `yaml:"policy" validate:"oneof=first highest-confidence all"`
}

type RecognizerConfig struct {
	Language  string `yaml:"language" validate:"required"`
	Whitelist string `yaml:"whitelist"`
}

type ReportConfig struct {
	Endpoint   string `yaml:"endpoint" validate:"omitempty,url"`
	TimeoutSec int    `yaml:"timeout_sec" validate:"min=0"`
}

type ArtifactsConfig struct {
	Dir  string `yaml:"dir" validate:"required"`
	Keep int    `yaml:"keep" validate:"min=0"`
}

type PipelineConfig struct {
	TimeoutSec int `yaml:"timeout_sec" validate:"min=0"`
}

type LogConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	JSON  bool   `yaml:"json"`
	File  string `yaml:"file"`
}

type MonitorConfig struct {
	Addr string `yaml:"addr" validate:"omitempty,hostname_port"`
}

type Config struct {
	mu sync.RWMutex

	Source     SourceConfig     `yaml:"source"`
	Detector   DetectorConfig   `yaml:"detector"`
	Recognizer RecognizerConfig `yaml:"recognizer"`
	Report     ReportConfig     `yaml:"report"`
	Artifacts  ArtifactsConfig  `yaml:"artifacts"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Log        LogConfig        `yaml:"log"`
	Monitor    MonitorConfig    `yaml:"monitor"`

	// Values before environment overrides, and the overrides applied.
	fileValues *Config
	envValues  map[string]string
}

func (c *Config) GetSourceURI() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Source.URI
}

func (c *Config) SetSourceURI(uri string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Source.URI = uri
}

func (c *Config) GetTick() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.Source.TickMs) * time.Millisecond
}

func (c *Config) SetTickMs(ms int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Source.TickMs = ms
}

func (c *Config) GetDisplaySize() (int, int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Source.DisplayWidth, c.Source.DisplayHeight
}

func (c *Config) ReportTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.Report.TimeoutSec) * time.Second
}

func (c *Config) PipelineTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.Pipeline.TimeoutSec) * time.Second
}

func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Save writes the config to path. Environment overrides are left out unless
// the value was changed after Load.
func (c *Config) Save(path string) error {
	c.mu.RLock()
	data, err := yaml.Marshal(c.persistable())
	c.mu.RUnlock()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (c *Config) SaveByDefault() error {
	return c.Save(DefaultConfigPath)
}

// Load reads the YAML file at path (a missing file means defaults), applies
// .env and PLATECAM_* overrides and validates the result.
func Load(path, envPath string) (*Config, error) {
	cfg := NewDefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return nil, err
	}
	cfg.fileValues = cfg.clone()

	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envPath, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) clone() *Config {
	return &Config{
		Source:     c.Source,
		Detector:   c.Detector,
		Recognizer: c.Recognizer,
		Report:     c.Report,
		Artifacts:  c.Artifacts,
		Pipeline:   c.Pipeline,
		Log:        c.Log,
		Monitor:    c.Monitor,
	}
}

// envFields maps PLATECAM_* keys, without the prefix, to fields of c.
func envFields(c *Config) (map[string]*string, map[string]*int) {
	strs := map[string]*string{
		"SOURCE_URI":       &c.Source.URI,
		"SOURCE_BACKEND":   (*string)(&c.Source.Backend),
		"DETECTOR_BACKEND": (*string)(&c.Detector.Backend),
		"DETECTOR_MODEL":   &c.Detector.ModelPath,
		"DETECTOR_REMOTE":  &c.Detector.RemoteHost,
		"DETECTOR_POLICY":  &c.Detector.Policy,
		"REPORT_ENDPOINT":  &c.Report.Endpoint,
		"ARTIFACTS_DIR":    &c.Artifacts.Dir,
		"LOG_LEVEL":        &c.Log.Level,
		"LOG_FILE":         &c.Log.File,
		"MONITOR_ADDR":     &c.Monitor.Addr,
		"RECOGNIZER_LANG":  &c.Recognizer.Language,
		"RECOGNIZER_CHARS": &c.Recognizer.Whitelist,
	}
	ints := map[string]*int{
		"SOURCE_TICK_MS":       &c.Source.TickMs,
		"REPORT_TIMEOUT_SEC":   &c.Report.TimeoutSec,
		"ARTIFACTS_KEEP":       &c.Artifacts.Keep,
		"PIPELINE_TIMEOUT_SEC": &c.Pipeline.TimeoutSec,
	}
	return strs, ints
}

func (c *Config) applyEnv() error {
	strs, ints := envFields(c)
	applied := map[string]string{}

	for key, dst := range strs {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			*dst = v
			applied[key] = v
		}
	}

	for key, dst := range ints {
		v, ok := os.LookupEnv(envPrefix + key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, key, err)
		}
		*dst = n
		applied[key] = v
	}

	c.envValues = applied
	return nil
}

// persistable returns a copy with untouched environment overrides reverted
// to their file or default values.
func (c *Config) persistable() *Config {
	out := c.clone()
	if c.fileValues == nil {
		return out
	}

	outStrs, outInts := envFields(out)
	baseStrs, baseInts := envFields(c.fileValues)
	for key, v := range c.envValues {
		if dst, ok := outStrs[key]; ok && *dst == v {
			*dst = *baseStrs[key]
		}
		if dst, ok := outInts[key]; ok {
			if n, err := strconv.Atoi(v); err == nil && *dst == n {
				*dst = *baseInts[key]
			}
		}
	}
	return out
}

func NewDefaultConfig() *Config {
	return &Config{
		Source: SourceConfig{
			Backend:       SourceOpenCV,
			TickMs:        30,
			DisplayWidth:  400,
			DisplayHeight: 300,
			CaptureWidth:  1280,
			CaptureHeight: 720,
		},
		Detector: DetectorConfig{
			Backend:    BackendYOLO,
			ModelPath:  "weights/best.onnx",
			RemoteHost: DefaultRemoteHost,
			InputSize:  640,
			Confidence: 0.25,
			NMS:        0.45,
			Policy:     "first",
		},
		Recognizer: RecognizerConfig{
			Language:  "eng",
			Whitelist: "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789-.",
		},
		Report: ReportConfig{
			Endpoint:   DefaultReportURL,
			TimeoutSec: 10,
		},
		Artifacts: ArtifactsConfig{
			Dir: DefaultArtifactsDir,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}
