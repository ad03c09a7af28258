// Package render draws recognition results on top of frames.
package render

import (
	"errors"
	"fmt"

	"github.com/MrCodeEU/facerange/pkg/camera"
	"github.com/MrCodeEU/facerange/pkg/recognition"
)

// Size is the display size in pixels.
type Size = recognition.Size

// ErrNotBegun is returned when drawing before Begin.
var ErrNotBegun = errors.New("render: no frame begun")

// Surface is a display target. Begin replaces whatever was drawn before
// with the new frame, DrawBox adds one labelled box in display
// coordinates and Present makes the result visible.
type Surface interface {
	Size() Size
	Begin(frame camera.Frame) error
	DrawBox(rect recognition.Rectangle, label string) error
	Present() error
	Close() error
}

// Box is one labelled rectangle.
type Box struct {
	Rect  recognition.Rectangle
	Label string
}

// Draw renders frame with boxes on s. An empty box list still clears the
// previous overlay.
func Draw(s Surface, frame camera.Frame, boxes []Box) error {
	if err := s.Begin(frame); err != nil {
		return fmt.Errorf("begin frame: %w", err)
	}
	for _, b := range boxes {
		if err := s.DrawBox(b.Rect, b.Label); err != nil {
			return fmt.Errorf("draw box %q: %w", b.Label, err)
		}
	}
	if err := s.Present(); err != nil {
		return fmt.Errorf("present frame: %w", err)
	}
	return nil
}
