// Package capture abstracts the camera a session grabs frames from.
package capture

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
)

var (
	// ErrDeviceUnavailable means the device was denied or is missing.
	ErrDeviceUnavailable = errors.New("capture device unavailable")
	// ErrFrameNotReady means the stream has no frame to hand out yet.
	ErrFrameNotReady = errors.New("frame not ready")
)

// Constraints are the preferred stream settings. Devices treat them as hints.
type Constraints struct {
	Width      int
	Height     int
	FacingMode string
}

// DefaultConstraints asks for a 720p user-facing stream.
var DefaultConstraints = Constraints{Width: 1280, Height: 720, FacingMode: "user"}

// Device hands out live streams.
type Device interface {
	Acquire(ctx context.Context, c Constraints) (Stream, error)
}

// Stream is a held device handle. Release must be safe to call more than once.
type Stream interface {
	Frame() (image.Image, error)
	Release() error
}

// SliceDevice replays a fixed list of frames; a nil entry reads as not ready.
type SliceDevice struct {
	Frames []image.Image
	Denied bool

	mu     sync.Mutex
	next   int
	active int
}

// Acquire returns a stream over the remaining frames.
func (d *SliceDevice) Acquire(ctx context.Context, c Constraints) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Denied {
		return nil, ErrDeviceUnavailable
	}
	d.active++
	return &sliceStream{dev: d}, nil
}

// Active reports how many streams are currently held.
func (d *SliceDevice) Active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

type sliceStream struct {
	dev  *SliceDevice
	once sync.Once
}

func (s *sliceStream) Frame() (image.Image, error) {
	d := s.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.next >= len(d.Frames) {
		return nil, ErrFrameNotReady
	}
	f := d.Frames[d.next]
	d.next++
	if f == nil {
		return nil, ErrFrameNotReady
	}
	return f, nil
}

func (s *sliceStream) Release() error {
	s.once.Do(func() {
		s.dev.mu.Lock()
		s.dev.active--
		s.dev.mu.Unlock()
	})
	return nil
}

// TestPattern builds n solid frames of distinct hues for demo runs.
func TestPattern(n, width, height int) []image.Image {
	palette := []color.RGBA{
		{R: 0xe6, G: 0x39, B: 0x46, A: 0xff},
		{R: 0xf4, G: 0xa2, B: 0x61, A: 0xff},
		{R: 0x2a, G: 0x9d, B: 0x8f, A: 0xff},
		{R: 0x26, G: 0x46, B: 0x53, A: 0xff},
		{R: 0xe9, G: 0xc4, B: 0x6a, A: 0xff},
		{R: 0x8e, G: 0x44, B: 0xad, A: 0xff},
	}
	frames := make([]image.Image, n)
	for i := range frames {
		img := image.NewRGBA(image.Rect(0, 0, width, height))
		c := palette[i%len(palette)]
		for p := 0; p < len(img.Pix); p += 4 {
			img.Pix[p], img.Pix[p+1], img.Pix[p+2], img.Pix[p+3] = c.R, c.G, c.B, c.A
		}
		frames[i] = img
	}
	return frames
}
