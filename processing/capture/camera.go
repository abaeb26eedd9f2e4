package capture

import (
	"fmt"
	"image"
	"sync"
)

// Camera owns the currently opened Source. All access to the handle goes
// through the mutex, so the display loop and a capture action never read
// from it at the same time.
type Camera struct {
	open Opener

	mu      sync.Mutex
	src     Source
	lastURI string
}

func NewCamera(open Opener) *Camera {
	return &Camera{open: open}
}

// Open replaces any opened source with a new one for uri.
func (c *Camera) Open(uri string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closeLocked()

	src, err := c.open(uri)
	if err != nil {
		return fmt.Errorf("open %q: %w", uri, err)
	}

	c.src = src
	c.lastURI = uri
	return nil
}

func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *Camera) closeLocked() error {
	if c.src == nil {
		return nil
	}
	err := c.src.Close()
	c.src = nil
	return err
}

// Toggle closes an opened source, or opens uri when none is open. It reports
// whether a source is open afterwards.
func (c *Camera) Toggle(uri string) (bool, error) {
	if c.IsOpen() {
		return false, c.Close()
	}
	if err := c.Open(uri); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Camera) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.src != nil
}

func (c *Camera) LastURI() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastURI
}

// Read returns the next frame of the opened source.
func (c *Camera) Read() (image.Image, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.src == nil {
		return nil, ErrNotOpen
	}
	return c.src.Read()
}

// Grab takes one frame for a capture action.
func (c *Camera) Grab() (image.Image, error) {
	frame, err := c.Read()
	if err != nil {
		return nil, err
	}
	if frame == nil || frame.Bounds().Empty() {
		return nil, ErrEndOfStream
	}
	return frame, nil
}
