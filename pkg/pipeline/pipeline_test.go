package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrCodeEU/facerange/pkg/camera"
	"github.com/MrCodeEU/facerange/pkg/gallery"
	"github.com/MrCodeEU/facerange/pkg/recognition"
	"github.com/MrCodeEU/facerange/pkg/render"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOptions() Options {
	return Options{
		ModelPath:          "/models",
		Identities:         []gallery.Identity{"Tony Stark", "Pepper Potts", "Ghost"},
		SamplesPerIdentity: 2,
		Threshold:          0.55,
		Interval:           5 * time.Millisecond,
		Session:            "test-session",
	}
}

// run starts p in the background and returns a stop function that cancels
// it and yields Start's result.
func run(t *testing.T, p *Pipeline) func() error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Start(ctx) }()
	return func() error {
		cancel()
		select {
		case err := <-done:
			return err
		case <-time.After(5 * time.Second):
			t.Fatal("pipeline did not stop")
			return nil
		}
	}
}

// drain collects statuses until ch is closed.
func drain(t *testing.T, ch <-chan Status) []Status {
	t.Helper()
	var out []Status
	timeout := time.After(2 * time.Second)
	for {
		select {
		case st, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, st)
		case <-timeout:
			t.Fatal("status channel was never closed")
			return out
		}
	}
}

func waitForState(t *testing.T, p *Pipeline, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return p.State() == want }, 2*time.Second, time.Millisecond,
		"pipeline never reached %s", want)
}

func TestPipeline_Lifecycle(t *testing.T) {
	det := &fakeDetector{}
	det.setFaces([]recognition.Face{face(10, 10, 150, 150, desc(0, 0))})
	src := &fakeSource{frame: jpegFrame(t, 64, 48)}
	p := New(det, &fakeBuilder{gallery: testGallery(t)}, src, nil, testOptions())

	assert.True(t, p.Snapshot().Loading)
	statuses := p.Subscribe()
	stop := run(t, p)

	waitForState(t, p, Running)
	assert.False(t, p.Snapshot().Loading)
	require.Eventually(t, func() bool { return p.Snapshot().Ticks > 0 }, 2*time.Second, time.Millisecond)

	require.NoError(t, stop())
	assert.Equal(t, Stopped, p.State())
	assert.True(t, src.isClosed())

	var seen []State
	for st := range statuses {
		seen = append(seen, st.State)
	}
	assert.Equal(t, []State{Uninitialized, GalleryReady, Running, Stopped}, seen)

	snap := p.Snapshot()
	assert.Equal(t, "test-session", snap.Session)
	assert.Empty(t, snap.Error)
	require.NotNil(t, snap.Gallery)
	assert.Equal(t, 3, snap.Gallery.Identities)
	assert.Equal(t, 3, snap.Gallery.Descriptors)
	assert.Equal(t, []gallery.Identity{"Ghost"}, snap.Gallery.Unmatchable)
	assert.Len(t, snap.Gallery.Fingerprint, 64)
	require.Len(t, snap.Annotations, 1)
	assert.Equal(t, "Tony Stark - 85.00 cm", snap.Annotations[0].Label)
	assert.NotZero(t, snap.LastFrame)
}

func TestPipeline_SubscribeAfterStop(t *testing.T) {
	p := New(&fakeDetector{}, &fakeBuilder{gallery: testGallery(t)}, &fakeSource{frame: jpegFrame(t, 8, 8)}, nil, testOptions())
	stop := run(t, p)
	waitForState(t, p, Running)
	require.NoError(t, stop())

	ch := p.Subscribe()
	st, ok := <-ch
	require.True(t, ok)
	assert.Equal(t, Stopped, st.State)
	_, ok = <-ch
	assert.False(t, ok, "channel is closed after stop")
}

func TestPipeline_AssetLoadFailure(t *testing.T) {
	det := &fakeDetector{loadErr: errors.New("missing shape predictor")}
	src := &fakeSource{}
	p := New(det, &fakeBuilder{gallery: testGallery(t)}, src, nil, testOptions())
	statuses := p.Subscribe()

	err := p.Start(context.Background())
	require.ErrorIs(t, err, recognition.ErrAssetLoad)
	assert.Equal(t, Uninitialized, p.State())
	snap := p.Snapshot()
	assert.Contains(t, snap.Error, "missing shape predictor")
	assert.False(t, snap.Loading, "a failed load is no longer loading")
	assert.Zero(t, src.reads.Load())

	seen := drain(t, statuses)
	require.NotEmpty(t, seen)
	last := seen[len(seen)-1]
	assert.Equal(t, Uninitialized, last.State)
	assert.ErrorIs(t, last.Err, recognition.ErrAssetLoad)
}

func TestPipeline_GalleryFailure(t *testing.T) {
	p := New(&fakeDetector{}, &fakeBuilder{err: gallery.ErrEmptyIdentity}, &fakeSource{}, nil, testOptions())
	statuses := p.Subscribe()

	err := p.Start(context.Background())
	require.ErrorIs(t, err, gallery.ErrEmptyIdentity)
	assert.Equal(t, Uninitialized, p.State())

	seen := drain(t, statuses)
	require.NotEmpty(t, seen)
	assert.ErrorIs(t, seen[len(seen)-1].Err, gallery.ErrEmptyIdentity)
}

func TestPipeline_CaptureFailure(t *testing.T) {
	src := &fakeSource{openErr: camera.ErrCameraNotFound}
	p := New(&fakeDetector{}, &fakeBuilder{gallery: testGallery(t)}, src, nil, testOptions())
	statuses := p.Subscribe()

	err := p.Start(context.Background())
	require.ErrorIs(t, err, ErrCapture)
	assert.ErrorIs(t, err, camera.ErrCameraNotFound)

	assert.Equal(t, GalleryReady, p.State(), "capture failure keeps the gallery")
	assert.NotEmpty(t, p.Snapshot().Error)
	assert.NotNil(t, p.Snapshot().Gallery)
	assert.Zero(t, src.reads.Load(), "no retry")

	seen := drain(t, statuses)
	require.Len(t, seen, 3)
	assert.Equal(t, Uninitialized, seen[0].State)
	assert.Equal(t, GalleryReady, seen[1].State)
	assert.NoError(t, seen[1].Err)
	assert.Equal(t, GalleryReady, seen[2].State)
	assert.ErrorIs(t, seen[2].Err, ErrCapture)

	st, ok := <-p.Subscribe()
	require.True(t, ok)
	assert.ErrorIs(t, st.Err, ErrCapture, "late subscribers still see the failure")
}

func TestPipeline_StartTwice(t *testing.T) {
	p := New(&fakeDetector{}, &fakeBuilder{gallery: testGallery(t)}, &fakeSource{frame: jpegFrame(t, 8, 8)}, nil, testOptions())
	stop := run(t, p)
	waitForState(t, p, Running)

	assert.ErrorIs(t, p.Start(context.Background()), ErrAlreadyStarted)
	require.NoError(t, stop())
}

func TestPipeline_CancelledDuringStartup(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := New(&fakeDetector{}, &fakeBuilder{gallery: testGallery(t)}, &fakeSource{}, nil, testOptions())
	err := p.Start(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Stopped, p.State())
}

func TestPipeline_SingleFlight(t *testing.T) {
	det := &fakeDetector{delay: 40 * time.Millisecond}
	det.setFaces([]recognition.Face{face(0, 0, 100, 100, desc(0, 0))})
	p := New(det, &fakeBuilder{gallery: testGallery(t)}, &fakeSource{frame: jpegFrame(t, 8, 8)}, nil, testOptions())

	stop := run(t, p)
	require.Eventually(t, func() bool {
		s := p.Snapshot()
		return s.Ticks >= 2 && s.Skipped >= 2
	}, 3*time.Second, 5*time.Millisecond)
	require.NoError(t, stop())

	assert.Equal(t, int32(1), det.peak.Load(), "ticks never overlap")
}

func TestPipeline_TickNotReady(t *testing.T) {
	p := New(&fakeDetector{}, &fakeBuilder{}, &fakeSource{}, nil, testOptions())
	_, err := p.Tick(context.Background())
	assert.ErrorIs(t, err, ErrNotReady)
}

// ready builds a pipeline past startup without running the loop.
func ready(t *testing.T, det *fakeDetector, src *fakeSource, surface render.Surface) *Pipeline {
	t.Helper()
	p := New(det, &fakeBuilder{gallery: testGallery(t)}, src, surface, testOptions())
	require.NoError(t, p.prepare(context.Background()))
	require.Equal(t, GalleryReady, p.State())
	return p
}

func TestTick_RendersScaledAnnotations(t *testing.T) {
	det := &fakeDetector{}
	det.setFaces([]recognition.Face{face(10, 10, 75, 75, desc(0, 0))})
	src := &fakeSource{frame: jpegFrame(t, 320, 240)}
	surface := render.NewImageSurface(640, 480)
	p := ready(t, det, src, surface)

	got, err := p.Tick(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.InDelta(t, 150.0, got[0].Box.Width, 1e-9)
	assert.Equal(t, "Tony Stark - 85.00 cm", got[0].Label)

	drawn := surface.Boxes()
	require.Len(t, drawn, 1)
	assert.Equal(t, "Tony Stark - 85.00 cm", drawn[0].Label)
	assert.InDelta(t, 20.0, drawn[0].Rect.X, 1e-9)
	assert.Equal(t, 1, surface.Presented())
}

func TestTick_EmptyFrameClearsOverlay(t *testing.T) {
	det := &fakeDetector{}
	det.setFaces([]recognition.Face{face(10, 10, 20, 20, desc(1, 0))})
	src := &fakeSource{frame: jpegFrame(t, 64, 64)}
	surface := render.NewImageSurface(64, 64)
	p := ready(t, det, src, surface)

	_, err := p.Tick(context.Background())
	require.NoError(t, err)
	require.Len(t, surface.Boxes(), 1)

	src.setFrame(camera.Frame{})
	got, err := p.Tick(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Empty(t, surface.Boxes(), "previous overlay is cleared")
	assert.Equal(t, 2, surface.Presented())
	assert.Empty(t, p.Snapshot().Annotations)
}

func TestTick_ReadErrorClearsOverlay(t *testing.T) {
	det := &fakeDetector{}
	det.setFaces([]recognition.Face{face(10, 10, 20, 20, desc(0, 0))})
	src := &fakeSource{frame: jpegFrame(t, 64, 64)}
	surface := render.NewImageSurface(64, 64)
	p := ready(t, det, src, surface)

	_, err := p.Tick(context.Background())
	require.NoError(t, err)
	require.Len(t, surface.Boxes(), 1)

	src.setReadErr(camera.ErrNoFrame)
	_, err = p.Tick(context.Background())
	assert.ErrorIs(t, err, ErrCapture)
	assert.Empty(t, surface.Boxes(), "stale boxes are not left on screen")
	assert.Equal(t, 2, surface.Presented())
}

func TestTick_ReadErrorBeforeFirstFrame(t *testing.T) {
	surface := render.NewImageSurface(64, 64)
	p := ready(t, &fakeDetector{}, &fakeSource{readErr: camera.ErrNoFrame}, surface)

	_, err := p.Tick(context.Background())
	assert.ErrorIs(t, err, ErrCapture)
	assert.Zero(t, surface.Presented(), "nothing shown yet, nothing to clear")
}

func TestTick_DetectErrorIsAbsorbed(t *testing.T) {
	det := &fakeDetector{detectErr: errors.New("dlib exploded")}
	p := ready(t, det, &fakeSource{frame: jpegFrame(t, 16, 16)}, nil)

	got, err := p.Tick(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, uint64(1), p.Snapshot().Ticks)
}

func TestTick_ReadError(t *testing.T) {
	src := &fakeSource{readErr: camera.ErrNoFrame}
	p := ready(t, &fakeDetector{}, src, nil)

	_, err := p.Tick(context.Background())
	assert.ErrorIs(t, err, ErrCapture)
	assert.ErrorIs(t, err, camera.ErrNoFrame)
	assert.Equal(t, uint64(1), p.Snapshot().FrameErrors)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "gallery_ready", GalleryReady.String())
	assert.Equal(t, "state(42)", State(42).String())

	text, err := Running.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "running", string(text))
}

func TestStatusLoading(t *testing.T) {
	assert.True(t, Status{State: Uninitialized}.Loading())
	assert.False(t, Status{State: Uninitialized, Err: errors.New("x")}.Loading())
	assert.False(t, Status{State: Running}.Loading())
}

func TestPipeline_Unsubscribe(t *testing.T) {
	p := New(&fakeDetector{}, &fakeBuilder{gallery: testGallery(t)}, &fakeSource{frame: jpegFrame(t, 8, 8)}, nil, testOptions())
	ch := p.Subscribe()
	<-ch

	p.Unsubscribe(ch)
	_, ok := <-ch
	assert.False(t, ok)

	p.Unsubscribe(ch)
	stop := run(t, p)
	waitForState(t, p, Running)
	require.NoError(t, stop())
}
