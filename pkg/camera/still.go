package camera

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"os"
	"sync"
	"time"
)

// StillSource serves the same image on every Read.
type StillSource struct {
	Path string

	mu     sync.Mutex
	raw    []byte
	frame  Frame
	opened bool
}

// NewStillSource serves the image stored at path.
func NewStillSource(path string) *StillSource {
	return &StillSource{Path: path}
}

// NewStillSourceBytes serves an in-memory JPEG or PNG image.
func NewStillSourceBytes(data []byte) *StillSource {
	return &StillSource{raw: data}
}

// Open loads and, if needed, converts the image to JPEG.
func (s *StillSource) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data := s.raw
	if s.Path != "" {
		var err error
		data, err = os.ReadFile(s.Path)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrCameraNotFound, s.Path, err)
		}
	}
	if len(data) == 0 {
		return fmt.Errorf("%w: no image data", ErrNoFrame)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoFrame, err)
	}

	if format != "jpeg" {
		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrNoFrame, err)
		}
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 92}); err != nil {
			return fmt.Errorf("%w: encode: %v", ErrNoFrame, err)
		}
		data = buf.Bytes()
	}

	s.frame = Frame{Data: data, Width: cfg.Width, Height: cfg.Height}
	s.opened = true
	return nil
}

// Read returns the image with a fresh timestamp and sequence number.
func (s *StillSource) Read(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return Frame{}, ErrCameraNotOpen
	}

	s.frame.Seq++
	s.frame.Timestamp = time.Now()
	return s.frame, nil
}

// Close implements Source.
func (s *StillSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = false
	return nil
}
