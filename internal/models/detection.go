package models

import "image"

type Box struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

func BoxFromRect(r image.Rectangle) Box {
	return Box{X1: r.Min.X, Y1: r.Min.Y, X2: r.Max.X, Y2: r.Max.Y}
}

func (b Box) Rect() image.Rectangle {
	return image.Rect(b.X1, b.Y1, b.X2, b.Y2)
}

func (b Box) Empty() bool {
	return b.X2 <= b.X1 || b.Y2 <= b.Y1
}

// Clamp limits the box to bounds. The result may be empty when the box lies
// entirely outside of bounds.
func (b Box) Clamp(bounds image.Rectangle) Box {
	r := b.Rect().Intersect(bounds)
	if r.Empty() {
		return Box{}
	}
	return BoxFromRect(r)
}

type Detection struct {
	Label      string  `json:"label"`
	Confidence float32 `json:"confidence"`
	Box        Box     `json:"box"`
}

// DetectionResult is the wire format of the remote detector. Box holds
// normalised [y1, x1, y2, x2] coordinates.
type DetectionResult struct {
	Label      string    `json:"label"`
	Confidence float32   `json:"confidence"`
	Box        []float32 `json:"box"`
}

// ToDetection scales the normalised box to a frame of the given bounds.
func (r DetectionResult) ToDetection(bounds image.Rectangle) (Detection, bool) {
	if len(r.Box) < 4 {
		return Detection{}, false
	}

	w := float32(bounds.Dx())
	h := float32(bounds.Dy())

	box := Box{
		Y1: bounds.Min.Y + int(r.Box[0]*h),
		X1: bounds.Min.X + int(r.Box[1]*w),
		Y2: bounds.Min.Y + int(r.Box[2]*h),
		X2: bounds.Min.X + int(r.Box[3]*w),
	}

	return Detection{Label: r.Label, Confidence: r.Confidence, Box: box}, true
}
