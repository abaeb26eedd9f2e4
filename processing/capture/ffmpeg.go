package capture

import (
	"bytes"
	"fmt"
	"image"
	"io"
	"os/exec"
	"regexp"
	"runtime"
	"sync"
)

const bytesPerPixel = 4

// FFmpegSource decodes any input ffmpeg understands into raw RGBA frames of
// a fixed size read from the process stdout.
type FFmpegSource struct {
	closeOnce sync.Once

	width  int
	height int

	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr bytes.Buffer
	buffer []byte
}

// NewFFmpegOpener returns an Opener that scales every frame to width x height.
func NewFFmpegOpener(width, height int) Opener {
	return func(uri string) (Source, error) {
		return OpenFFmpeg(uri, width, height)
	}
}

func OpenFFmpeg(uri string, width, height int) (*FFmpegSource, error) {
	input, err := ffmpegInput(uri)
	if err != nil {
		return nil, err
	}

	args := append(input,
		"-vf", fmt.Sprintf("scale=%d:%d", width, height),
		"-f", "image2pipe",
		"-pix_fmt", "rgba",
		"-vcodec", "rawvideo",
		"-",
	)

	fs := &FFmpegSource{
		width:  width,
		height: height,
		buffer: make([]byte, width*height*bytesPerPixel),
	}

	fs.cmd = exec.Command("ffmpeg", args...)
	fs.cmd.Stderr = &fs.stderr

	fs.stdout, err = fs.cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}

	if err := fs.cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: ffmpeg start error: %v. Details: %s", ErrOpen, err, fs.stderr.String())
	}

	return fs, nil
}

func ffmpegInput(uri string) ([]string, error) {
	id, isDevice := DeviceID(uri)
	if !isDevice {
		return []string{"-i", uri}, nil
	}

	if runtime.GOOS == "windows" {
		cameras, err := ListCameras()
		if err != nil {
			return nil, err
		}
		if id >= len(cameras) {
			return nil, fmt.Errorf("%w: camera %d not found", ErrOpen, id)
		}
		return []string{"-f", "dshow", "-i", fmt.Sprintf("video=%s", cameras[id])}, nil
	}

	return []string{"-f", "v4l2", "-i", fmt.Sprintf("/dev/video%d", id)}, nil
}

func (fs *FFmpegSource) Read() (image.Image, error) {
	if _, err := io.ReadFull(fs.stdout, fs.buffer); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEndOfStream, err)
	}

	pixelData := make([]byte, len(fs.buffer))
	copy(pixelData, fs.buffer)

	return &image.RGBA{
		Pix:    pixelData,
		Stride: fs.width * bytesPerPixel,
		Rect:   image.Rect(0, 0, fs.width, fs.height),
	}, nil
}

func (fs *FFmpegSource) Close() error {
	fs.closeOnce.Do(func() {
		if fs.cmd != nil && fs.cmd.Process != nil {
			fs.cmd.Process.Kill()
			fs.cmd.Wait()
		}
	})
	return nil
}

var dshowVideoDevice = regexp.MustCompile(`"([^"]+)"\s+\(video\)`)

// ListCameras lists DirectShow video devices on Windows and the first v4l2
// nodes elsewhere.
func ListCameras() ([]string, error) {
	if runtime.GOOS != "windows" {
		return []string{"/dev/video0", "/dev/video1"}, nil
	}

	cmd := exec.Command("ffmpeg", "-list_devices", "true", "-f", "dshow", "-i", "dummy")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.Run()

	return parseDShowDevices(stderr.String()), nil
}

func parseDShowDevices(output string) []string {
	var cameras []string
	seen := make(map[string]bool)
	for _, m := range dshowVideoDevice.FindAllStringSubmatch(output, -1) {
		name := m[1]
		if name != "dummy" && !seen[name] {
			cameras = append(cameras, name)
			seen[name] = true
		}
	}
	return cameras
}
