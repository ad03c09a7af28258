package pipeline

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrCodeEU/facerange/pkg/camera"
	"github.com/MrCodeEU/facerange/pkg/gallery"
	"github.com/MrCodeEU/facerange/pkg/recognition"
	"github.com/stretchr/testify/require"
)

type fakeDetector struct {
	loadErr   error
	detectErr error
	delay     time.Duration

	mu    sync.Mutex
	faces []recognition.Face

	calls    atomic.Int32
	inflight atomic.Int32
	peak     atomic.Int32
}

func (d *fakeDetector) LoadModels(string) error {
	return d.loadErr
}

func (d *fakeDetector) setFaces(faces []recognition.Face) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.faces = faces
}

func (d *fakeDetector) DetectAll(img []byte) ([]recognition.Face, error) {
	d.calls.Add(1)
	n := d.inflight.Add(1)
	defer d.inflight.Add(-1)
	for {
		peak := d.peak.Load()
		if n <= peak || d.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	if d.detectErr != nil {
		return nil, d.detectErr
	}
	if len(img) == 0 {
		return nil, recognition.ErrNoFaceDetected
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.faces) == 0 {
		return nil, recognition.ErrNoFaceDetected
	}
	out := make([]recognition.Face, len(d.faces))
	copy(out, d.faces)
	return out, nil
}

type fakeBuilder struct {
	gallery *gallery.Gallery
	err     error
}

func (b *fakeBuilder) Build(ctx context.Context, ids []gallery.Identity, samples int) (*gallery.Gallery, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.gallery, ctx.Err()
}

type fakeSource struct {
	openErr error
	readErr error

	mu     sync.Mutex
	frame  camera.Frame
	seq    uint64
	opened bool
	closed bool
	reads  atomic.Int32
}

func (s *fakeSource) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openErr != nil {
		return s.openErr
	}
	s.opened = true
	return nil
}

func (s *fakeSource) Read(ctx context.Context) (camera.Frame, error) {
	s.reads.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return camera.Frame{}, s.readErr
	}
	s.seq++
	f := s.frame
	f.Seq = s.seq
	return f, nil
}

func (s *fakeSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSource) setFrame(f camera.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frame = f
}

func (s *fakeSource) setReadErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readErr = err
}

func (s *fakeSource) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func jpegFrame(t *testing.T, w, h int) camera.Frame {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.Gray{Y: 180})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return camera.Frame{Data: buf.Bytes(), Width: w, Height: h}
}

func desc(values ...float32) recognition.Descriptor {
	var d recognition.Descriptor
	copy(d[:], values)
	return d
}

func testGallery(t *testing.T) *gallery.Gallery {
	t.Helper()
	g, err := gallery.New([]gallery.Entry{
		{Identity: "Tony Stark", Descriptors: []recognition.Descriptor{desc(0, 0), desc(0.05, 0)}},
		{Identity: "Pepper Potts", Descriptors: []recognition.Descriptor{desc(1, 0)}},
		{Identity: "Ghost"},
	})
	require.NoError(t, err)
	return g
}

func face(x, y, w, h float64, d recognition.Descriptor) recognition.Face {
	return recognition.Face{
		BoundingBox: recognition.Rectangle{X: x, Y: y, Width: w, Height: h},
		Descriptor:  d,
	}
}
