// Package pipeline runs the live recognition loop.
//
// A Pipeline loads the detection models, enrolls the gallery, opens the
// frame source and then, on every tick, detects faces in the current
// frame, matches them against the gallery, estimates their distance and
// renders the result. Lifecycle changes are published as Status values
// on subscriber channels.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrCodeEU/facerange/pkg/camera"
	"github.com/MrCodeEU/facerange/pkg/distance"
	"github.com/MrCodeEU/facerange/pkg/gallery"
	"github.com/MrCodeEU/facerange/pkg/logging"
	"github.com/MrCodeEU/facerange/pkg/matcher"
	"github.com/MrCodeEU/facerange/pkg/recognition"
	"github.com/MrCodeEU/facerange/pkg/render"
)

// ErrCapture is returned when the frame source cannot be opened or read.
var ErrCapture = errors.New("capture failure")

// ErrNotReady is returned by Tick before the gallery is ready.
var ErrNotReady = errors.New("pipeline not ready")

// ErrAlreadyStarted is returned when Start is called twice.
var ErrAlreadyStarted = errors.New("pipeline already started")

// DefaultInterval is the default tick period.
const DefaultInterval = 100 * time.Millisecond

const subscriberBuffer = 8

// Detector is the detection capability the loop needs.
type Detector interface {
	LoadModels(modelPath string) error
	DetectAll(imageData []byte) ([]recognition.Face, error)
}

// GalleryBuilder enrolls the reference gallery.
type GalleryBuilder interface {
	Build(ctx context.Context, identities []gallery.Identity, samplesPerIdentity int) (*gallery.Gallery, error)
}

// Options configures a Pipeline.
type Options struct {
	ModelPath          string
	Identities         []gallery.Identity
	SamplesPerIdentity int
	Threshold          float64
	Calibration        distance.Calibration
	Interval           time.Duration
	// Session tags log lines and snapshots of one run.
	Session string
}

// Pipeline is the recognition loop. Surface may be nil for headless runs.
type Pipeline struct {
	detector Detector
	builder  GalleryBuilder
	source   camera.Source
	surface  render.Surface
	opts     Options
	log      *logging.Entry

	started atomic.Bool
	busy    atomic.Bool

	ticks       atomic.Uint64
	skipped     atomic.Uint64
	frameErrors atomic.Uint64

	mu          sync.RWMutex
	state       State
	lastErr     error
	matcher     *matcher.Matcher
	summary     *GallerySummary
	annotations []Annotation
	lastFrame   uint64
	updatedAt   time.Time

	renderMu sync.Mutex
	shown    camera.Frame

	subsMu sync.Mutex
	subs   []chan Status
	closed bool
}

// New creates a Pipeline in the Uninitialized state.
func New(detector Detector, builder GalleryBuilder, source camera.Source, surface render.Surface, opts Options) *Pipeline {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.SamplesPerIdentity <= 0 {
		opts.SamplesPerIdentity = 2
	}
	if opts.Calibration == (distance.Calibration{}) {
		opts.Calibration = distance.DefaultCalibration
	}

	log := logging.Component("pipeline")
	if opts.Session != "" {
		log = log.WithField("session", opts.Session)
	}

	return &Pipeline{
		detector:  detector,
		builder:   builder,
		source:    source,
		surface:   surface,
		opts:      opts,
		log:       log,
		state:     Uninitialized,
		updatedAt: time.Now(),
	}
}

// Start prepares the pipeline and runs the loop until ctx is cancelled.
// It returns nil after a clean stop. Startup failures are returned and
// leave the pipeline in the state it had reached; subscribers receive the
// failure and their channels are closed.
func (p *Pipeline) Start(ctx context.Context) error {
	if !p.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	if err := p.prepare(ctx); err != nil {
		return p.abort(ctx, err)
	}

	if err := p.source.Open(ctx); err != nil {
		if ctx.Err() == nil {
			err = fmt.Errorf("%w: %w", ErrCapture, err)
			p.log.WithError(err).Error("Failed to open frame source")
			p.fail(err)
		}
		return p.abort(ctx, err)
	}

	p.transition(Running, nil)
	p.log.WithField("interval", p.opts.Interval).Info("Recognition loop running")

	p.loop(ctx)

	if err := p.source.Close(); err != nil {
		p.log.WithError(err).Warn("Failed to close frame source")
	}
	p.stop()
	return nil
}

// abort ends a failed startup.
func (p *Pipeline) abort(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		p.stop()
		return ctx.Err()
	}
	p.closeSubscribers()
	return err
}

// prepare loads models and enrolls the gallery.
func (p *Pipeline) prepare(ctx context.Context) error {
	p.log.WithField("model_path", p.opts.ModelPath).Info("Loading face models")
	if err := p.detector.LoadModels(p.opts.ModelPath); err != nil {
		if !errors.Is(err, recognition.ErrAssetLoad) {
			err = fmt.Errorf("%w: %v", recognition.ErrAssetLoad, err)
		}
		p.log.WithError(err).Error("Failed to load face models")
		p.fail(err)
		return err
	}

	g, err := p.builder.Build(ctx, p.opts.Identities, p.opts.SamplesPerIdentity)
	if err != nil {
		err = fmt.Errorf("build gallery: %w", err)
		p.log.WithError(err).Error("Failed to build gallery")
		p.fail(err)
		return err
	}

	m, err := matcher.New(g, p.opts.Threshold)
	if err != nil {
		p.fail(err)
		return err
	}

	p.mu.Lock()
	p.matcher = m
	p.summary = summarize(g)
	p.mu.Unlock()

	p.transition(GalleryReady, nil)
	return nil
}

// tickResult carries one processed frame to the presenter.
type tickResult struct {
	frame       camera.Frame
	annotations []Annotation
	err         error
}

// loop dispatches a tick per interval. A tick that fires while the
// previous one is still running is skipped. Detection runs on worker
// goroutines; the surface is only ever driven from this goroutine, which
// stays on one OS thread, and is closed when the loop ends.
func (p *Pipeline) loop(ctx context.Context) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer p.closeSurface()

	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	results := make(chan tickResult)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case res := <-results:
			if err := p.present(res); err != nil {
				p.log.WithError(err).Debug("Render failed")
			}
			if res.err != nil && ctx.Err() == nil {
				p.log.WithError(res.err).Debug("Tick failed")
			}
			p.busy.Store(false)
		case <-ticker.C:
			if !p.busy.CompareAndSwap(false, true) {
				p.skipped.Add(1)
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := p.process(ctx)
				if err != nil {
					res.err = err
				}
				select {
				case results <- res:
				case <-ctx.Done():
					p.busy.Store(false)
				}
			}()
		}
	}
}

// Tick runs one detect, match and render pass on the current frame on the
// calling goroutine. Detection failures count as zero faces.
func (p *Pipeline) Tick(ctx context.Context) ([]Annotation, error) {
	res, err := p.process(ctx)
	if err != nil {
		return nil, err
	}
	if err := p.present(res); err != nil {
		return res.annotations, err
	}
	return res.annotations, res.err
}

// process reads, detects and annotates one frame. A read failure is
// reported in the result so the presenter can clear the overlay.
func (p *Pipeline) process(ctx context.Context) (tickResult, error) {
	p.mu.RLock()
	m := p.matcher
	p.mu.RUnlock()
	if m == nil {
		return tickResult{}, ErrNotReady
	}

	frame, err := p.source.Read(ctx)
	if err != nil {
		p.frameErrors.Add(1)
		return tickResult{err: fmt.Errorf("%w: %w", ErrCapture, err)}, nil
	}

	faces, err := p.detector.DetectAll(frame.Data)
	if err != nil {
		if !errors.Is(err, recognition.ErrNoFaceDetected) {
			p.log.WithError(err).Debug("Detection failed, treating frame as empty")
		}
		faces = nil
	}

	from := recognition.Size{Width: frame.Width, Height: frame.Height}
	to := from
	if p.surface != nil {
		to = p.surface.Size()
	}
	annotations := Annotate(m, p.opts.Calibration, ResizeDetections(faces, from, to))

	p.ticks.Add(1)
	p.mu.Lock()
	p.annotations = annotations
	p.lastFrame = frame.Seq
	p.updatedAt = time.Now()
	p.mu.Unlock()

	if len(annotations) > 0 {
		known := 0
		for _, a := range annotations {
			if a.Match.Known() {
				known++
			}
		}
		p.log.WithFields(logging.Fields{
			"frame": frame.Seq,
			"faces": len(annotations),
			"known": known,
		}).Debug("Frame annotated")
	}

	return tickResult{frame: frame, annotations: annotations}, nil
}

// present draws a result. A failed read redraws the last shown frame
// without boxes so no stale overlay remains.
func (p *Pipeline) present(res tickResult) error {
	if p.surface == nil {
		return nil
	}

	p.renderMu.Lock()
	defer p.renderMu.Unlock()

	frame := res.frame
	if res.err != nil {
		if p.shown.Empty() {
			return nil
		}
		frame = p.shown
	}
	if err := render.Draw(p.surface, frame, boxes(res.annotations)); err != nil {
		return err
	}
	p.shown = frame
	return nil
}

func (p *Pipeline) closeSurface() {
	if p.surface == nil {
		return
	}
	p.renderMu.Lock()
	defer p.renderMu.Unlock()
	if err := p.surface.Close(); err != nil {
		p.log.WithError(err).Warn("Failed to close render surface")
	}
}

// State returns the current lifecycle state.
func (p *Pipeline) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Snapshot returns a point-in-time view of the pipeline.
func (p *Pipeline) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	s := Snapshot{
		Session:     p.opts.Session,
		State:       p.state,
		Loading:     Status{State: p.state, Err: p.lastErr}.Loading(),
		Gallery:     p.summary,
		Ticks:       p.ticks.Load(),
		Skipped:     p.skipped.Load(),
		FrameErrors: p.frameErrors.Load(),
		LastFrame:   p.lastFrame,
		Annotations: make([]Annotation, len(p.annotations)),
		UpdatedAt:   p.updatedAt,
	}
	copy(s.Annotations, p.annotations)
	if p.lastErr != nil {
		s.Error = p.lastErr.Error()
	}
	return s
}

// Subscribe returns a channel that receives the current status followed by
// every change. Slow subscribers lose the oldest pending values. The
// channel is closed once the pipeline has stopped.
func (p *Pipeline) Subscribe() <-chan Status {
	ch := make(chan Status, subscriberBuffer)

	p.subsMu.Lock()
	defer p.subsMu.Unlock()

	ch <- p.status()
	if p.closed {
		close(ch)
		return ch
	}
	p.subs = append(p.subs, ch)
	return ch
}

// Unsubscribe stops delivery to ch and closes it.
func (p *Pipeline) Unsubscribe(ch <-chan Status) {
	p.subsMu.Lock()
	defer p.subsMu.Unlock()
	for i, sub := range p.subs {
		if sub == ch {
			close(sub)
			p.subs = append(p.subs[:i], p.subs[i+1:]...)
			return
		}
	}
}

func (p *Pipeline) status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Status{State: p.state, Err: p.lastErr, At: p.updatedAt}
}

func (p *Pipeline) transition(state State, err error) {
	p.mu.Lock()
	p.state = state
	p.lastErr = err
	p.updatedAt = time.Now()
	st := Status{State: state, Err: err, At: p.updatedAt}
	p.mu.Unlock()

	p.log.WithField("state", state).Debug("State changed")
	p.publish(st)
}

// fail records err without leaving the current state.
func (p *Pipeline) fail(err error) {
	p.transition(p.State(), err)
}

func (p *Pipeline) stop() {
	p.transition(Stopped, nil)
	p.log.WithFields(logging.Fields{
		"ticks":   p.ticks.Load(),
		"skipped": p.skipped.Load(),
	}).Info("Recognition loop stopped")
	p.closeSubscribers()
}

// closeSubscribers closes every subscriber channel. Later subscribers get
// the final status on an already closed channel.
func (p *Pipeline) closeSubscribers() {
	p.subsMu.Lock()
	defer p.subsMu.Unlock()
	if p.closed {
		return
	}
	for _, ch := range p.subs {
		close(ch)
	}
	p.subs = nil
	p.closed = true
}

func (p *Pipeline) publish(st Status) {
	p.subsMu.Lock()
	defer p.subsMu.Unlock()
	for _, ch := range p.subs {
		select {
		case ch <- st:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- st:
			default:
			}
		}
	}
}

func summarize(g *gallery.Gallery) *GallerySummary {
	return &GallerySummary{
		Identities:  g.Len(),
		Descriptors: g.DescriptorCount(),
		Unmatchable: g.Unmatchable(),
		Fingerprint: g.Fingerprint(),
	}
}
