package processing

import (
	"context"
	"fmt"
	"image"
	"sort"

	"platecam/internal/models"
)

// Detector locates plate regions in a frame.
type Detector interface {
	Detect(ctx context.Context, frame image.Image) ([]models.Detection, error)
}

// Policy decides which detections of one frame are processed.
type Policy string

const (
	// PolicyFirst keeps only the first detection in detector order.
	PolicyFirst Policy = "first"
	// PolicyHighestConfidence keeps the single most confident detection.
	PolicyHighestConfidence Policy = "highest-confidence"
	// PolicyAll keeps every detection.
	PolicyAll Policy = "all"
)

func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case PolicyFirst, PolicyHighestConfidence, PolicyAll:
		return p, nil
	case "":
		return PolicyFirst, nil
	default:
		return "", fmt.Errorf("unknown detection policy %q", s)
	}
}

// Select applies the policy. The input slice is not modified.
func (p Policy) Select(dets []models.Detection) []models.Detection {
	if len(dets) == 0 {
		return nil
	}

	switch p {
	case PolicyAll:
		out := make([]models.Detection, len(dets))
		copy(out, dets)
		return out
	case PolicyHighestConfidence:
		ranked := make([]models.Detection, len(dets))
		copy(ranked, dets)
		SortByConfidence(ranked)
		return ranked[:1]
	default:
		return []models.Detection{dets[0]}
	}
}

// Normalize clamps every box to bounds and drops the ones left empty.
func Normalize(dets []models.Detection, bounds image.Rectangle) []models.Detection {
	out := make([]models.Detection, 0, len(dets))
	for _, d := range dets {
		d.Box = d.Box.Clamp(bounds)
		if d.Box.Empty() {
			continue
		}
		out = append(out, d)
	}
	return out
}

// SortByConfidence orders detections from most to least confident.
func SortByConfidence(dets []models.Detection) {
	sort.SliceStable(dets, func(i, j int) bool {
		return dets[i].Confidence > dets[j].Confidence
	})
}
