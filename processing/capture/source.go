package capture

import (
	"errors"
	"fmt"
	"image"
	"net/url"
	"os"
	"strconv"
	"strings"
)

var (
	ErrOpen        = errors.New("capture: cannot open source")
	ErrNotOpen     = errors.New("capture: source is not open")
	ErrEndOfStream = errors.New("capture: no frame received")
)

// Source is an opened video source. Read returns a frame the caller owns.
type Source interface {
	Read() (image.Image, error)
	Close() error
}

// Opener opens the default camera for an empty uri, a local device for a
// numeric uri and a network stream or file otherwise.
type Opener func(uri string) (Source, error)

// DeviceID reports whether uri names a local camera device.
func DeviceID(uri string) (int, bool) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return 0, true
	}
	id, err := strconv.Atoi(uri)
	if err != nil || id < 0 {
		return 0, false
	}
	return id, true
}

// ValidateURI accepts a device id, a URL with a scheme or an existing file.
func ValidateURI(uri string) error {
	if _, ok := DeviceID(uri); ok {
		return nil
	}
	uri = strings.TrimSpace(uri)
	if u, err := url.Parse(uri); err == nil && u.Scheme != "" && (u.Host != "" || u.Opaque != "") {
		return nil
	}
	if _, err := os.Stat(uri); err == nil {
		return nil
	}
	return fmt.Errorf("not a device, stream URL or file: %q", uri)
}
