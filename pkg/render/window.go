package render

import (
	"fmt"
	"image"
	"image/color"
	"sync"

	"github.com/MrCodeEU/facerange/pkg/camera"
	"github.com/MrCodeEU/facerange/pkg/recognition"
	"gocv.io/x/gocv"
)

var (
	boxColor   = color.RGBA{R: 0, G: 0, B: 255, A: 255}
	labelColor = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

// WindowSurface shows frames in a desktop window through OpenCV highgui.
type WindowSurface struct {
	name string
	size Size

	mu     sync.Mutex
	window *gocv.Window
	canvas gocv.Mat
	begun  bool
}

// NewWindowSurface creates a window surface. The window itself opens on
// the first Present.
func NewWindowSurface(name string, width, height int) *WindowSurface {
	return &WindowSurface{name: name, size: Size{Width: width, Height: height}}
}

// Size implements Surface.
func (s *WindowSurface) Size() Size {
	return s.size
}

// Begin implements Surface.
func (s *WindowSurface) Begin(frame camera.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.begun {
		_ = s.canvas.Close()
		s.begun = false
	}

	if frame.Empty() {
		s.canvas = gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), s.size.Height, s.size.Width, gocv.MatTypeCV8UC3)
		s.begun = true
		return nil
	}

	decoded, err := gocv.IMDecode(frame.Data, gocv.IMReadColor)
	if err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	if decoded.Empty() {
		_ = decoded.Close()
		return fmt.Errorf("decode frame: empty image")
	}

	if decoded.Cols() == s.size.Width && decoded.Rows() == s.size.Height {
		s.canvas = decoded
	} else {
		s.canvas = gocv.NewMat()
		gocv.Resize(decoded, &s.canvas, image.Pt(s.size.Width, s.size.Height), 0, 0, gocv.InterpolationLinear)
		_ = decoded.Close()
	}
	s.begun = true
	return nil
}

// DrawBox implements Surface.
func (s *WindowSurface) DrawBox(rect recognition.Rectangle, label string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.begun {
		return ErrNotBegun
	}

	r := image.Rect(int(rect.X), int(rect.Y), int(rect.X+rect.Width), int(rect.Y+rect.Height))
	gocv.Rectangle(&s.canvas, r, boxColor, boxLineWidth)

	if label != "" {
		textSize := gocv.GetTextSize(label, gocv.FontHersheySimplex, 0.5, 1)
		bg := image.Rect(r.Min.X, r.Max.Y, r.Min.X+textSize.X+2*labelPadding, r.Max.Y+textSize.Y+2*labelPadding)
		gocv.Rectangle(&s.canvas, bg, boxColor, -1)
		gocv.PutText(&s.canvas, label, image.Pt(r.Min.X+labelPadding, r.Max.Y+textSize.Y+labelPadding), gocv.FontHersheySimplex, 0.5, labelColor, 1)
	}
	return nil
}

// Present implements Surface.
func (s *WindowSurface) Present() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.begun {
		return ErrNotBegun
	}
	if s.window == nil {
		s.window = gocv.NewWindow(s.name)
	}
	s.window.IMShow(s.canvas)
	s.window.WaitKey(1)
	return nil
}

// Close implements Surface.
func (s *WindowSurface) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.begun {
		_ = s.canvas.Close()
		s.begun = false
	}
	if s.window == nil {
		return nil
	}
	err := s.window.Close()
	s.window = nil
	return err
}
