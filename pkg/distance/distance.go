// Package distance estimates subject-to-camera distance from the apparent
// width of a face bounding box.
//
// The estimate assumes apparent width is inversely proportional to distance
// (pinhole approximation) and is calibrated from one reference measurement:
// a face of ReferenceBoxWidth pixels at ReferenceDistance centimetres.
package distance

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidGeometry is returned for zero, negative or non-finite box widths.
var ErrInvalidGeometry = errors.New("invalid bounding box geometry")

// ErrInvalidCalibration is returned when calibration constants are not positive and finite.
var ErrInvalidCalibration = errors.New("invalid distance calibration")

// Calibration holds the reference measurement and a global correction factor.
type Calibration struct {
	ReferenceBoxWidth float64 // px
	ReferenceDistance float64 // cm
	AdjustmentFactor  float64
}

// DefaultCalibration is a face 150 px wide at 100 cm, corrected by 0.85.
var DefaultCalibration = Calibration{
	ReferenceBoxWidth: 150,
	ReferenceDistance: 100,
	AdjustmentFactor:  0.85,
}

// Validate checks that every calibration constant is positive and finite.
func (c Calibration) Validate() error {
	for name, v := range map[string]float64{
		"reference box width": c.ReferenceBoxWidth,
		"reference distance":  c.ReferenceDistance,
		"adjustment factor":   c.AdjustmentFactor,
	} {
		if !positiveFinite(v) {
			return fmt.Errorf("%w: %s must be positive, got %v", ErrInvalidCalibration, name, v)
		}
	}
	return nil
}

// Estimate returns the estimated distance in centimetres for a box of the given width.
func (c Calibration) Estimate(boxWidth float64) (float64, error) {
	return Estimate(boxWidth, c.ReferenceBoxWidth, c.ReferenceDistance, c.AdjustmentFactor)
}

// Estimate computes (referenceBoxWidth / boxWidth) * referenceDistance * adjustmentFactor.
// It never returns Inf or NaN.
func Estimate(boxWidth, referenceBoxWidth, referenceDistance, adjustmentFactor float64) (float64, error) {
	if !positiveFinite(boxWidth) {
		return 0, fmt.Errorf("%w: box width %v", ErrInvalidGeometry, boxWidth)
	}
	if err := (Calibration{referenceBoxWidth, referenceDistance, adjustmentFactor}).Validate(); err != nil {
		return 0, err
	}

	estimate := (referenceBoxWidth / boxWidth) * referenceDistance * adjustmentFactor
	if math.IsInf(estimate, 0) || math.IsNaN(estimate) {
		// Only reachable with a subnormal box width.
		return 0, fmt.Errorf("%w: box width %v overflows the estimate", ErrInvalidGeometry, boxWidth)
	}
	return estimate, nil
}

func positiveFinite(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
