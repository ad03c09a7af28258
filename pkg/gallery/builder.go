package gallery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrCodeEU/facerange/pkg/logging"
	"github.com/MrCodeEU/facerange/pkg/recognition"
	"golang.org/x/sync/errgroup"
)

// ErrInvalidIdentity is returned for empty, duplicate or reserved identity
// labels.
var ErrInvalidIdentity = errors.New("invalid identity")

// ErrEmptyIdentity is returned in strict mode when an identity yields no descriptor.
var ErrEmptyIdentity = errors.New("identity has no usable samples")

// FaceDetector is the single-face detection capability used for enrollment.
type FaceDetector interface {
	DetectSingle(imageData []byte) (*recognition.Face, error)
}

// SampleEvent reports the outcome of one sample. Err is nil when the
// sample contributed a descriptor.
type SampleEvent struct {
	Identity Identity
	Index    int
	Err      error
}

// Builder enrolls identities from a SampleSource.
type Builder struct {
	Source   SampleSource
	Detector FaceDetector

	// Concurrency bounds how many identities are enrolled at once.
	Concurrency int
	// MaxSampleDimension downscales larger samples before detection. 0 disables.
	MaxSampleDimension int
	// RequireSamples turns a zero-descriptor identity into ErrEmptyIdentity.
	RequireSamples bool
	// Progress, if set, is called once per sample. It may be called from
	// several goroutines at once.
	Progress func(SampleEvent)
}

// Build enrolls every identity using samples 1..samplesPerIdentity.
//
// Missing, undecodable or faceless samples are skipped. An identity left
// without descriptors is still part of the gallery unless RequireSamples is
// set. Only cancellation, invalid input, unloaded models or strict mode fail
// the build.
func (b *Builder) Build(ctx context.Context, identities []Identity, samplesPerIdentity int) (*Gallery, error) {
	if samplesPerIdentity <= 0 {
		return nil, fmt.Errorf("samples per identity must be positive, got %d", samplesPerIdentity)
	}
	if err := validateIdentities(identities); err != nil {
		return nil, err
	}

	log := logging.Component("gallery")
	start := time.Now()
	log.Infof("Enrolling %d identities with up to %d samples each", len(identities), samplesPerIdentity)

	entries := make([]Entry, len(identities))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, b.Concurrency))
	for i, id := range identities {
		g.Go(func() error {
			descriptors, err := b.enroll(gctx, id, samplesPerIdentity)
			if err != nil {
				return err
			}
			entries[i] = Entry{Identity: id, Descriptors: descriptors}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var empty []string
	for _, e := range entries {
		if len(e.Descriptors) == 0 {
			empty = append(empty, string(e.Identity))
			log.WithField("identity", e.Identity).Warn("Identity has no usable samples and can never be matched")
		}
	}
	if b.RequireSamples && len(empty) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyIdentity, strings.Join(empty, ", "))
	}

	gallery, err := New(entries)
	if err != nil {
		return nil, err
	}

	log.WithFields(logging.Fields{
		"identities":  gallery.Len(),
		"descriptors": gallery.DescriptorCount(),
		"duration":    time.Since(start).Round(time.Millisecond),
	}).Info("Gallery built")
	return gallery, nil
}

// enroll collects the descriptors of one identity, in sample order.
func (b *Builder) enroll(ctx context.Context, id Identity, samples int) ([]recognition.Descriptor, error) {
	log := logging.Component("gallery").WithField("identity", id)
	var descriptors []recognition.Descriptor

	for index := 1; index <= samples; index++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		descriptor, err := b.extract(ctx, id, index)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return nil, ctx.Err()
			case errors.Is(err, recognition.ErrModelNotLoaded):
				return nil, err
			case errors.Is(err, ErrSampleNotFound), errors.Is(err, recognition.ErrNoFaceDetected):
				log.WithField("sample", index).Debugf("Skipping sample: %v", err)
			default:
				log.WithField("sample", index).WithError(err).Warn("Skipping sample")
			}
			b.report(SampleEvent{Identity: id, Index: index, Err: err})
			continue
		}

		descriptors = append(descriptors, descriptor)
		b.report(SampleEvent{Identity: id, Index: index})
	}

	log.Debugf("Enrolled %d/%d samples", len(descriptors), samples)
	return descriptors, nil
}

func (b *Builder) extract(ctx context.Context, id Identity, index int) (recognition.Descriptor, error) {
	data, err := b.Source.Sample(ctx, id, index)
	if err != nil {
		return recognition.Descriptor{}, err
	}

	prepared, err := PrepareSample(data, b.MaxSampleDimension)
	if err != nil {
		return recognition.Descriptor{}, err
	}

	face, err := b.Detector.DetectSingle(prepared)
	if err != nil {
		return recognition.Descriptor{}, err
	}
	if face == nil {
		return recognition.Descriptor{}, recognition.ErrNoFaceDetected
	}
	return face.Descriptor, nil
}

func (b *Builder) report(ev SampleEvent) {
	if b.Progress != nil {
		b.Progress(ev)
	}
}

func validateIdentities(ids []Identity) error {
	seen := make(map[Identity]struct{}, len(ids))
	for _, id := range ids {
		if strings.TrimSpace(string(id)) == "" {
			return fmt.Errorf("%w: empty label", ErrInvalidIdentity)
		}
		if strings.EqualFold(strings.TrimSpace(string(id)), string(ReservedIdentity)) {
			return fmt.Errorf("%w: label %q is reserved", ErrInvalidIdentity, id)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: duplicate label %q", ErrInvalidIdentity, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}
