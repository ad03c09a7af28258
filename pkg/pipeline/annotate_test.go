package pipeline

import (
	"testing"

	"github.com/MrCodeEU/facerange/pkg/distance"
	"github.com/MrCodeEU/facerange/pkg/gallery"
	"github.com/MrCodeEU/facerange/pkg/matcher"
	"github.com/MrCodeEU/facerange/pkg/recognition"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnnotate(t *testing.T) {
	m, err := matcher.New(testGallery(t), matcher.DefaultThreshold)
	require.NoError(t, err)

	faces := []recognition.Face{
		face(10, 10, 150, 150, desc(0, 0)),
		face(200, 10, 75, 75, desc(1, 0.1)),
		face(300, 10, 150, 150, desc(5, 5)),
	}
	got := Annotate(m, distance.DefaultCalibration, faces)
	require.Len(t, got, 3)

	assert.Equal(t, "Tony Stark - 85.00 cm", got[0].Label)
	assert.Equal(t, gallery.Identity("Tony Stark"), got[0].Match.Identity)
	assert.InDelta(t, 85.0, got[0].DistanceCM, 1e-9)
	assert.Equal(t, faces[0].BoundingBox, got[0].Box)
	assert.NoError(t, got[0].Err)

	assert.Equal(t, "Pepper Potts - 170.00 cm", got[1].Label)

	assert.Equal(t, matcher.Unknown, got[2].Match.Identity)
	assert.Equal(t, "unknown - 85.00 cm", got[2].Label)
}

func TestAnnotate_InvalidGeometry(t *testing.T) {
	m, err := matcher.New(testGallery(t), matcher.DefaultThreshold)
	require.NoError(t, err)

	got := Annotate(m, distance.DefaultCalibration, []recognition.Face{face(0, 0, 0, 10, desc(0, 0))})
	require.Len(t, got, 1)
	assert.ErrorIs(t, got[0].Err, distance.ErrInvalidGeometry)
	assert.Equal(t, "Tony Stark", got[0].Label)
	assert.Zero(t, got[0].DistanceCM)
}

func TestAnnotate_NoFaces(t *testing.T) {
	got := Annotate(nil, distance.DefaultCalibration, nil)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestAnnotate_NilMatcher(t *testing.T) {
	got := Annotate(nil, distance.DefaultCalibration, []recognition.Face{face(0, 0, 150, 150, desc(0))})
	require.Len(t, got, 1)
	assert.Equal(t, "unknown - 85.00 cm", got[0].Label)
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "A - 12.35 cm", Label(matcher.MatchResult{Identity: "A"}, 12.346))
}

func TestResizeDetections(t *testing.T) {
	faces := []recognition.Face{face(10, 20, 30, 40, desc())}
	got := ResizeDetections(faces, recognition.Size{Width: 320, Height: 240}, recognition.Size{Width: 640, Height: 480})
	require.Len(t, got, 1)
	assert.InDelta(t, 20.0, got[0].BoundingBox.X, 1e-9)
	assert.InDelta(t, 40.0, got[0].BoundingBox.Y, 1e-9)
	assert.InDelta(t, 60.0, got[0].BoundingBox.Width, 1e-9)
	assert.InDelta(t, 80.0, got[0].BoundingBox.Height, 1e-9)
	assert.InDelta(t, 10.0, faces[0].BoundingBox.X, 1e-9, "input is untouched")
}
