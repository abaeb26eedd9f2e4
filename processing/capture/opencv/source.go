package opencv

import (
	"fmt"
	"image"
	"sync"

	"platecam/processing/capture"

	"gocv.io/x/gocv"
)

// Source reads frames through OpenCV's VideoCapture. Frames are converted
// from BGR to RGB on the way out.
type Source struct {
	closeOnce sync.Once

	cap *gocv.VideoCapture
	mat gocv.Mat
}

// Open satisfies capture.Opener.
func Open(uri string) (capture.Source, error) {
	return OpenCapture(uri)
}

func OpenCapture(uri string) (*Source, error) {
	var device any = uri
	if id, ok := capture.DeviceID(uri); ok {
		device = id
	}

	vc, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", capture.ErrOpen, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("%w: video capture is not opened", capture.ErrOpen)
	}

	return &Source{cap: vc, mat: gocv.NewMat()}, nil
}

// ReadMat reads the next frame into dst without converting it.
func (s *Source) ReadMat(dst *gocv.Mat) error {
	if ok := s.cap.Read(dst); !ok || dst.Empty() {
		return capture.ErrEndOfStream
	}
	return nil
}

func (s *Source) Read() (image.Image, error) {
	if err := s.ReadMat(&s.mat); err != nil {
		return nil, err
	}
	img, err := s.mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("convert frame: %w", err)
	}
	return img, nil
}

func (s *Source) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mat.Close()
		err = s.cap.Close()
	})
	return err
}
