package recognizer

import (
	"context"
	"image"
	"image/color"
	"image/draw"

	"platecam/internal/models"
)

// Recognizer turns a plate crop into text fragments. Implementations decide
// for themselves whether they may be called concurrently.
type Recognizer interface {
	Recognize(ctx context.Context, crop image.Image) (models.Recognition, error)
}

var fragmentColor = color.RGBA{0, 255, 0, 255}

// Annotate returns a copy of crop with a rectangle around every fragment.
func Annotate(crop image.Image, rec models.Recognition) *image.RGBA {
	bounds := crop.Bounds()
	out := image.NewRGBA(bounds)
	draw.Draw(out, bounds, crop, bounds.Min, draw.Src)

	for _, f := range rec.Fragments {
		drawRect(out, f.Box.Y1, f.Box.X1, f.Box.Y2, f.Box.X2, fragmentColor)
	}
	return out
}

func drawRect(img *image.RGBA, y1, x1, y2, x2 int, col color.Color) {
	thickness := 2
	bounds := img.Bounds()

	setPixel := func(x, y int) {
		if x >= bounds.Min.X && x < bounds.Max.X && y >= bounds.Min.Y && y < bounds.Max.Y {
			img.Set(x, y, col)
		}
	}

	for t := 0; t < thickness; t++ {
		for x := x1; x <= x2; x++ {
			setPixel(x, y1+t)
			setPixel(x, y2-t)
		}
		for y := y1; y <= y2; y++ {
			setPixel(x1+t, y)
			setPixel(x2-t, y)
		}
	}
}
