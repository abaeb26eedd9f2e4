package models

import (
	"image"
	"strings"
	"time"
)

const (
	UnknownPlate    = "unknown"
	NoPlateDetected = "no plate detected"
)

// Fragment is one piece of text found by the recognizer.
type Fragment struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Box        Box     `json:"box"`
}

// Recognition is the structured recognizer output persisted next to the crop.
type Recognition struct {
	Engine    string     `json:"engine"`
	Width     int        `json:"width"`
	Height    int        `json:"height"`
	Fragments []Fragment `json:"fragments"`
}

func (r Recognition) Texts() []string {
	texts := make([]string, 0, len(r.Fragments))
	for _, f := range r.Fragments {
		texts = append(texts, f.Text)
	}
	return texts
}

// PlateText joins all fragments and falls back to UnknownPlate.
func (r Recognition) PlateText() string {
	text := strings.TrimSpace(strings.Join(r.Texts(), ""))
	if text == "" {
		return UnknownPlate
	}
	return text
}

// ReportRecord is the unit uploaded to the remote endpoint.
type ReportRecord struct {
	RunID          string
	FullImagePath  string
	PlateImagePath string
	PlateText      string
}

type UploadOutcome struct {
	Attempted bool
	Delivered bool
	Status    int
	Err       error
}

type ResultKind int

const (
	ResultSuccess ResultKind = iota
	ResultNoDetection
	ResultFailure
)

func (k ResultKind) String() string {
	switch k {
	case ResultSuccess:
		return "success"
	case ResultNoDetection:
		return "no_detection"
	case ResultFailure:
		return "failure"
	default:
		return "unknown"
	}
}

type ErrorKind string

const (
	ErrKindNone      ErrorKind = ""
	ErrKindCapture   ErrorKind = "capture"
	ErrKindArtifact  ErrorKind = "artifact"
	ErrKindDetect    ErrorKind = "detect"
	ErrKindCrop      ErrorKind = "crop"
	ErrKindRecognize ErrorKind = "recognize"
	ErrKindInternal  ErrorKind = "internal"
)

// PlateRead is one processed detection. A non-nil Err means the detection
// could not be read and nothing was reported for it.
type PlateRead struct {
	Detection Detection
	Text      string
	Image     image.Image
	Record    ReportRecord
	Upload    UploadOutcome

	ErrKind ErrorKind
	Err     error
}

func (p PlateRead) OK() bool { return p.Err == nil }

// Result is what a pipeline run delivers back to the UI.
type Result struct {
	RunID   string
	Kind    ResultKind
	Plates  []PlateRead
	ErrKind ErrorKind
	Message string
	Elapsed time.Duration
}

// Text is the label shown for the result.
func (r Result) Text() string {
	switch r.Kind {
	case ResultSuccess:
		texts := make([]string, 0, len(r.Plates))
		for _, p := range r.Plates {
			if p.OK() {
				texts = append(texts, p.Text)
			}
		}
		return strings.Join(texts, ", ")
	case ResultNoDetection:
		return NoPlateDetected
	default:
		return r.Message
	}
}

// Image returns the display image of the first plate that was read, if any.
func (r Result) Image() image.Image {
	for _, p := range r.Plates {
		if p.OK() {
			return p.Image
		}
	}
	return nil
}
