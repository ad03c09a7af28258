package render

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"github.com/MrCodeEU/facerange/pkg/camera"
	"github.com/MrCodeEU/facerange/pkg/recognition"
	"github.com/fogleman/gg"
)

const (
	boxLineWidth = 2
	labelPadding = 3
)

// ImageSurface draws into an in-memory image.
type ImageSurface struct {
	size Size

	mu        sync.Mutex
	dc        *gg.Context
	boxes     []Box
	presented int
}

// NewImageSurface creates a surface of the given size. A zero size adopts
// the size of each frame passed to Begin.
func NewImageSurface(width, height int) *ImageSurface {
	return &ImageSurface{size: Size{Width: width, Height: height}}
}

// Size implements Surface.
func (s *ImageSurface) Size() Size {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// Begin implements Surface.
func (s *ImageSurface) Begin(frame camera.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var img image.Image
	if !frame.Empty() {
		decoded, _, err := image.Decode(bytes.NewReader(frame.Data))
		if err != nil {
			return fmt.Errorf("decode frame: %w", err)
		}
		img = decoded
	}

	size := s.size
	if !size.Valid() {
		if img == nil {
			return fmt.Errorf("surface has no size and frame is empty")
		}
		b := img.Bounds()
		size = Size{Width: b.Dx(), Height: b.Dy()}
		s.size = size
	}

	dc := gg.NewContext(size.Width, size.Height)
	dc.SetRGB(0, 0, 0)
	dc.Clear()
	if img != nil {
		b := img.Bounds()
		dc.Push()
		dc.Scale(float64(size.Width)/float64(b.Dx()), float64(size.Height)/float64(b.Dy()))
		dc.DrawImage(img, -b.Min.X, -b.Min.Y)
		dc.Pop()
	}

	s.dc = dc
	s.boxes = s.boxes[:0]
	return nil
}

// DrawBox implements Surface.
func (s *ImageSurface) DrawBox(rect recognition.Rectangle, label string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dc == nil {
		return ErrNotBegun
	}

	dc := s.dc
	dc.SetRGB(0, 0, 1)
	dc.SetLineWidth(boxLineWidth)
	dc.DrawRectangle(rect.X, rect.Y, rect.Width, rect.Height)
	dc.Stroke()

	if label != "" {
		w, h := dc.MeasureString(label)
		top := rect.Y + rect.Height
		dc.DrawRectangle(rect.X, top, w+2*labelPadding, h+2*labelPadding)
		dc.Fill()
		dc.SetRGB(1, 1, 1)
		dc.DrawStringAnchored(label, rect.X+labelPadding, top+labelPadding, 0, 1)
	}

	s.boxes = append(s.boxes, Box{Rect: rect, Label: label})
	return nil
}

// Present implements Surface.
func (s *ImageSurface) Present() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dc == nil {
		return ErrNotBegun
	}
	s.presented++
	return nil
}

// Close implements Surface.
func (s *ImageSurface) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dc = nil
	return nil
}

// Image returns the current canvas, or nil before the first Begin.
func (s *ImageSurface) Image() image.Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dc == nil {
		return nil
	}
	return s.dc.Image()
}

// Boxes returns the boxes drawn since the last Begin.
func (s *ImageSurface) Boxes() []Box {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Box, len(s.boxes))
	copy(out, s.boxes)
	return out
}

// Presented returns how many frames were presented.
func (s *ImageSurface) Presented() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.presented
}

// Encode writes the canvas as "png" or "jpeg".
func (s *ImageSurface) Encode(w io.Writer, format string) error {
	img := s.Image()
	if img == nil {
		return ErrNotBegun
	}
	switch strings.ToLower(format) {
	case "png":
		return png.Encode(w, img)
	case "jpg", "jpeg":
		return jpeg.Encode(w, img, &jpeg.Options{Quality: 92})
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

// FormatFromPath picks an output format from a file extension, defaulting to png.
func FormatFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "jpeg"
	default:
		return "png"
	}
}
