// Package matcher resolves a query descriptor to the closest enrolled identity.
package matcher

import (
	"errors"
	"fmt"
	"math"

	"github.com/MrCodeEU/facerange/pkg/gallery"
	"github.com/MrCodeEU/facerange/pkg/recognition"
)

// Unknown is the label reported when no identity is close enough.
const Unknown = gallery.ReservedIdentity

// DefaultThreshold is the maximum distance still accepted as a match.
const DefaultThreshold = 0.55

// ErrInvalidThreshold is returned for negative or non-finite thresholds.
var ErrInvalidThreshold = errors.New("invalid match threshold")

// MatchResult is the outcome of one lookup. Distance is the distance to the
// best candidate even when Identity is Unknown, and math.MaxFloat64 when
// there was no candidate at all.
type MatchResult struct {
	Identity gallery.Identity `json:"identity"`
	Distance float64          `json:"distance"`
}

// Known reports whether the result names an enrolled identity.
func (r MatchResult) Known() bool {
	return r.Identity != Unknown
}

func (r MatchResult) String() string {
	if r.Distance == math.MaxFloat64 {
		return string(r.Identity)
	}
	return fmt.Sprintf("%s (%.4f)", r.Identity, r.Distance)
}

// Match compares query against every descriptor in g. Each identity scores
// its minimum distance; the lowest score wins, with ties going to the
// identity enrolled first. A winning score above threshold yields Unknown.
func Match(g *gallery.Gallery, query recognition.Descriptor, threshold float64) MatchResult {
	best := MatchResult{Identity: Unknown, Distance: math.MaxFloat64}
	if g == nil {
		return best
	}

	var bestID gallery.Identity
	g.Each(func(id gallery.Identity, descriptors []recognition.Descriptor) {
		for _, d := range descriptors {
			dist := recognition.EuclideanDistance(query, d)
			if dist < best.Distance {
				best.Distance = dist
				bestID = id
			}
		}
	})

	if bestID != "" && best.Distance <= threshold {
		best.Identity = bestID
	}
	return best
}

// Matcher binds a gallery to a threshold.
type Matcher struct {
	gallery   *gallery.Gallery
	threshold float64
}

// New creates a Matcher. A nil gallery matches nothing.
func New(g *gallery.Gallery, threshold float64) (*Matcher, error) {
	if threshold < 0 || math.IsNaN(threshold) || math.IsInf(threshold, 0) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidThreshold, threshold)
	}
	return &Matcher{gallery: g, threshold: threshold}, nil
}

// Match resolves query against the bound gallery.
func (m *Matcher) Match(query recognition.Descriptor) MatchResult {
	return Match(m.gallery, query, m.threshold)
}
