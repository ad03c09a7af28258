// Package recognition provides face detection and descriptor extraction.
// It uses dlib through go-face for detection, landmarks and 128-d descriptors.
package recognition

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/Kagami/go-face"
	"github.com/MrCodeEU/facerange/pkg/logging"
)

// Face is one detected face: where it is and who it looks like.
type Face struct {
	BoundingBox Rectangle
	Landmarks   []Point
	Descriptor  Descriptor
}

// Descriptor is a 128-dimensional face descriptor from dlib.
type Descriptor = face.Descriptor

// Detector is the detection capability consumed by enrollment and the recognition loop.
type Detector interface {
	LoadModels(modelPath string) error
	IsLoaded() bool
	DetectAll(imageData []byte) ([]Face, error)
	DetectSingle(imageData []byte) (*Face, error)
	Close() error
}

// FaceEngine is the subset of *face.Recognizer used by DlibRecognizer.
type FaceEngine interface {
	Recognize(imgData []byte) ([]face.Face, error)
	RecognizeCNN(imgData []byte) ([]face.Face, error)
	Close()
}

// DetectorMode selects the dlib face detector.
type DetectorMode string

const (
	// ModeHOG uses the HOG frontal face detector. Fast, CPU friendly.
	ModeHOG DetectorMode = "hog"
	// ModeCNN uses the MMOD CNN detector. Slower, better with angled faces.
	ModeCNN DetectorMode = "cnn"
)

// Model bundles that must be present before any detection call is valid.
const (
	DetectorModel   = "mmod_human_face_detector.dat"
	LandmarkModel   = "shape_predictor_5_face_landmarks.dat"
	DescriptorModel = "dlib_face_recognition_resnet_model_v1.dat"
)

// RequiredModels lists the detector, landmark and descriptor bundles in load order.
var RequiredModels = []string{DetectorModel, LandmarkModel, DescriptorModel}

// ErrNoFaceDetected is returned when no face is found in the image.
var ErrNoFaceDetected = errors.New("no face detected")

// ErrModelNotLoaded is returned when detection is attempted before LoadModels.
var ErrModelNotLoaded = errors.New("recognition models not loaded")

// ErrAssetLoad is returned when a required model bundle cannot be loaded.
var ErrAssetLoad = errors.New("model assets failed to load")

// DlibRecognizer implements Detector using dlib via go-face.
type DlibRecognizer struct {
	rec       FaceEngine
	modelPath string
	mode      DetectorMode
	loaded    bool
	mu        sync.RWMutex

	factory func(modelPath string) (FaceEngine, error)
}

// NewRecognizer creates a new DlibRecognizer using the given detector mode.
func NewRecognizer(mode DetectorMode) *DlibRecognizer {
	if mode != ModeCNN {
		mode = ModeHOG
	}
	return &DlibRecognizer{
		mode: mode,
		factory: func(modelPath string) (FaceEngine, error) {
			rec, err := face.NewRecognizer(modelPath)
			if err != nil {
				return nil, err
			}
			return rec, nil
		},
	}
}

// Mode returns the configured detector mode.
func (r *DlibRecognizer) Mode() DetectorMode {
	return r.mode
}

// CheckModels reports every required bundle missing from modelPath.
func CheckModels(modelPath string) error {
	var missing []string
	for _, name := range RequiredModels {
		info, err := os.Stat(filepath.Join(modelPath, name))
		if err != nil || info.IsDir() || info.Size() == 0 {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s in %s", ErrAssetLoad, strings.Join(missing, ", "), modelPath)
	}
	return nil
}

// LoadModels loads the dlib models from modelPath. All of RequiredModels
// must be present; a partial set fails with ErrAssetLoad and leaves the
// recognizer unloaded.
func (r *DlibRecognizer) LoadModels(modelPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.loaded {
		return nil
	}

	log := logging.Component("recognition")
	log.Infof("Loading face recognition models from: %s", modelPath)

	if err := CheckModels(modelPath); err != nil {
		return err
	}

	rec, err := r.factory(modelPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAssetLoad, err)
	}

	r.rec = rec
	r.modelPath = modelPath
	r.loaded = true

	log.WithField("mode", r.mode).Info("Face recognition models loaded")
	return nil
}

// IsLoaded returns true if models are loaded.
func (r *DlibRecognizer) IsLoaded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loaded
}

// Close releases the recognizer resources.
func (r *DlibRecognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.rec != nil {
		r.rec.Close()
		r.rec = nil
	}
	r.loaded = false
	return nil
}

// DetectAll detects every face in a JPEG image.
// Returns ErrNoFaceDetected when the image contains no face.
func (r *DlibRecognizer) DetectAll(imageData []byte) ([]Face, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.loaded {
		return nil, ErrModelNotLoaded
	}

	var (
		faces []face.Face
		err   error
	)
	if r.mode == ModeCNN {
		faces, err = r.rec.RecognizeCNN(imageData)
	} else {
		faces, err = r.rec.Recognize(imageData)
	}
	if err != nil {
		return nil, fmt.Errorf("face detection failed: %w", err)
	}

	if len(faces) == 0 {
		return nil, ErrNoFaceDetected
	}

	result := make([]Face, len(faces))
	for i, f := range faces {
		rect := f.Rectangle
		landmarks := make([]Point, len(f.Shapes))
		for j, p := range f.Shapes {
			landmarks[j] = Point{X: float64(p.X), Y: float64(p.Y)}
		}
		result[i] = Face{
			BoundingBox: Rectangle{
				X:      float64(rect.Min.X),
				Y:      float64(rect.Min.Y),
				Width:  float64(rect.Dx()),
				Height: float64(rect.Dy()),
			},
			Landmarks:  landmarks,
			Descriptor: f.Descriptor,
		}
	}

	logging.Debugf("Detected %d face(s) in image", len(result))
	return result, nil
}

// DetectSingle detects the most prominent face in the image, which is the
// one with the largest bounding box. Returns ErrNoFaceDetected when there is none.
func (r *DlibRecognizer) DetectSingle(imageData []byte) (*Face, error) {
	faces, err := r.DetectAll(imageData)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(faces, func(i, j int) bool {
		return faces[i].BoundingBox.Area() > faces[j].BoundingBox.Area()
	})
	return &faces[0], nil
}
