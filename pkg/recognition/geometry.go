package recognition

import "math"

// Rectangle is a bounding box in pixel coordinates.
// Float fields keep sub-pixel precision after resizing to a display surface.
type Rectangle struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Point is a 2D landmark.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Size is a frame or display dimension in pixels.
type Size struct {
	Width, Height int
}

// Valid reports whether both dimensions are positive.
func (s Size) Valid() bool {
	return s.Width > 0 && s.Height > 0
}

// Area returns the box area, or 0 for degenerate boxes.
func (r Rectangle) Area() float64 {
	if r.Width <= 0 || r.Height <= 0 {
		return 0
	}
	return r.Width * r.Height
}

// Scale maps the rectangle by independent x and y factors.
func (r Rectangle) Scale(sx, sy float64) Rectangle {
	return Rectangle{
		X:      r.X * sx,
		Y:      r.Y * sy,
		Width:  r.Width * sx,
		Height: r.Height * sy,
	}
}

// ScaleFaces maps detection geometry from frame coordinates to display
// coordinates. Descriptors are untouched. When either size is invalid or
// both are equal, the faces are returned as they are.
func ScaleFaces(faces []Face, from, to Size) []Face {
	if !from.Valid() || !to.Valid() || from == to {
		return faces
	}

	sx := float64(to.Width) / float64(from.Width)
	sy := float64(to.Height) / float64(from.Height)

	scaled := make([]Face, len(faces))
	for i, f := range faces {
		scaled[i] = f
		scaled[i].BoundingBox = f.BoundingBox.Scale(sx, sy)
		if len(f.Landmarks) > 0 {
			landmarks := make([]Point, len(f.Landmarks))
			for j, p := range f.Landmarks {
				landmarks[j] = Point{X: p.X * sx, Y: p.Y * sy}
			}
			scaled[i].Landmarks = landmarks
		}
	}
	return scaled
}

// EuclideanDistance calculates the Euclidean distance between two descriptors.
func EuclideanDistance(d1, d2 Descriptor) float64 {
	var sum float64
	for i := range d1 {
		diff := float64(d1[i] - d2[i])
		sum += diff * diff
	}
	return math.Sqrt(sum)
}
