package pipeline

import (
	"fmt"

	"github.com/MrCodeEU/facerange/pkg/distance"
	"github.com/MrCodeEU/facerange/pkg/matcher"
	"github.com/MrCodeEU/facerange/pkg/recognition"
	"github.com/MrCodeEU/facerange/pkg/render"
)

// Annotation is the presentation-ready result for one detected face.
type Annotation struct {
	Box        recognition.Rectangle `json:"box"`
	Match      matcher.MatchResult   `json:"match"`
	DistanceCM float64               `json:"distance_cm"`
	Label      string                `json:"label"`
	// Err is set when the camera distance could not be estimated; Label
	// then carries the identity alone.
	Err error `json:"-"`
}

// Annotate matches every face and estimates its distance from the camera.
// Face geometry must already be in display coordinates.
func Annotate(m *matcher.Matcher, cal distance.Calibration, faces []recognition.Face) []Annotation {
	annotations := make([]Annotation, 0, len(faces))
	for _, f := range faces {
		a := Annotation{Box: f.BoundingBox}
		if m != nil {
			a.Match = m.Match(f.Descriptor)
		} else {
			a.Match = matcher.Match(nil, f.Descriptor, 0)
		}

		cm, err := cal.Estimate(f.BoundingBox.Width)
		if err != nil {
			a.Err = err
			a.Label = string(a.Match.Identity)
		} else {
			a.DistanceCM = cm
			a.Label = Label(a.Match, cm)
		}
		annotations = append(annotations, a)
	}
	return annotations
}

// Label formats the overlay text for a match at the given distance.
func Label(match matcher.MatchResult, distanceCM float64) string {
	return fmt.Sprintf("%s - %.2f cm", match.Identity, distanceCM)
}

// ResizeDetections maps detections from frame coordinates to display coordinates.
func ResizeDetections(faces []recognition.Face, from, to recognition.Size) []recognition.Face {
	return recognition.ScaleFaces(faces, from, to)
}

func boxes(annotations []Annotation) []render.Box {
	out := make([]render.Box, len(annotations))
	for i, a := range annotations {
		out[i] = render.Box{Rect: a.Box, Label: a.Label}
	}
	return out
}
