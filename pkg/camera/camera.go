// Package camera provides frame sources for the recognition loop.
// A source yields JPEG-encoded frames, either from a live capture device
// or from a single still image.
package camera

import (
	"context"
	"errors"
	"time"
)

// Frame represents a single captured frame.
type Frame struct {
	Data      []byte // JPEG
	Width     int
	Height    int
	Timestamp time.Time
	Seq       uint64
}

// Empty reports whether the frame carries no image data.
func (f Frame) Empty() bool {
	return len(f.Data) == 0
}

// Source defines the interface for frame sources.
type Source interface {
	Open(ctx context.Context) error
	Read(ctx context.Context) (Frame, error)
	Close() error
}

// ErrCameraNotFound is returned when the camera device is not found.
var ErrCameraNotFound = errors.New("camera device not found")

// ErrCameraNotOpen is returned when trying to capture from a closed camera.
var ErrCameraNotOpen = errors.New("camera not open")

// ErrNoFrame is returned when no frame could be captured.
var ErrNoFrame = errors.New("failed to capture frame")
