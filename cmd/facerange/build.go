package main

import (
	"fmt"

	"github.com/MrCodeEU/facerange/pkg/config"
	"github.com/MrCodeEU/facerange/pkg/distance"
	"github.com/MrCodeEU/facerange/pkg/gallery"
	"github.com/MrCodeEU/facerange/pkg/recognition"
)

func newRecognizer(c *config.Config) *recognition.DlibRecognizer {
	return recognition.NewRecognizer(recognition.DetectorMode(c.Recognition.Detector))
}

func newSampleSource(c *config.Config) gallery.SampleSource {
	if c.Gallery.Source == "http" {
		return gallery.NewHTTPSource(c.Gallery.BaseURL)
	}
	return gallery.NewDirSource(c.Gallery.Root)
}

func newBuilder(c *config.Config, detector gallery.FaceDetector) *gallery.Builder {
	return &gallery.Builder{
		Source:             newSampleSource(c),
		Detector:           detector,
		Concurrency:        c.Gallery.Concurrency,
		MaxSampleDimension: c.Gallery.MaxSampleDimension,
		RequireSamples:     c.Gallery.RequireSamples,
	}
}

// resolveIdentities returns the configured identities or, for a directory
// gallery without a list, every identity directory under the root.
func resolveIdentities(c *config.Config) ([]gallery.Identity, error) {
	if len(c.Gallery.Identities) > 0 {
		ids := make([]gallery.Identity, len(c.Gallery.Identities))
		for i, id := range c.Gallery.Identities {
			ids[i] = gallery.Identity(id)
		}
		return ids, nil
	}

	if c.Gallery.Source == "http" {
		return nil, fmt.Errorf("gallery.identities is required for an http gallery")
	}
	ids, err := gallery.NewDirSource(c.Gallery.Root).Discover()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no identity directories found under %s", c.Gallery.Root)
	}
	return ids, nil
}

func calibration(c *config.Config) distance.Calibration {
	return distance.Calibration{
		ReferenceBoxWidth: c.Distance.ReferenceBoxWidth,
		ReferenceDistance: c.Distance.ReferenceDistance,
		AdjustmentFactor:  c.Distance.AdjustmentFactor,
	}
}
