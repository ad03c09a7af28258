package camera

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MrCodeEU/facerange/pkg/logging"
	"gocv.io/x/gocv"
)

// VideoSource captures frames through OpenCV. Device may be a device index
// ("0"), a device node or a file or stream URL.
type VideoSource struct {
	Device string
	Width  int
	Height int

	mu      sync.Mutex
	capture *gocv.VideoCapture
	mat     gocv.Mat
	seq     uint64
}

// NewVideoSource creates a VideoSource requesting the given resolution.
// A zero width or height keeps the device default.
func NewVideoSource(device string, width, height int) *VideoSource {
	return &VideoSource{Device: device, Width: width, Height: height}
}

// Open starts the capture device.
func (v *VideoSource) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.capture != nil {
		return nil
	}

	capture, err := gocv.OpenVideoCapture(v.Device)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCameraNotFound, v.Device, err)
	}
	if !capture.IsOpened() {
		_ = capture.Close()
		return fmt.Errorf("%w: %s", ErrCameraNotFound, v.Device)
	}

	if v.Width > 0 && v.Height > 0 {
		capture.Set(gocv.VideoCaptureFrameWidth, float64(v.Width))
		capture.Set(gocv.VideoCaptureFrameHeight, float64(v.Height))
	}

	v.capture = capture
	v.mat = gocv.NewMat()

	logging.Component("camera").WithFields(logging.Fields{
		"device": v.Device,
		"width":  int(capture.Get(gocv.VideoCaptureFrameWidth)),
		"height": int(capture.Get(gocv.VideoCaptureFrameHeight)),
	}).Info("Camera opened")
	return nil
}

// Read grabs the next frame and encodes it as JPEG.
func (v *VideoSource) Read(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.capture == nil {
		return Frame{}, ErrCameraNotOpen
	}

	if ok := v.capture.Read(&v.mat); !ok || v.mat.Empty() {
		return Frame{}, ErrNoFrame
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, v.mat)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: encode: %v", ErrNoFrame, err)
	}
	defer buf.Close()

	data := make([]byte, buf.Len())
	copy(data, buf.GetBytes())

	v.seq++
	return Frame{
		Data:      data,
		Width:     v.mat.Cols(),
		Height:    v.mat.Rows(),
		Timestamp: time.Now(),
		Seq:       v.seq,
	}, nil
}

// Close releases the capture device. It is safe to call more than once.
func (v *VideoSource) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.capture == nil {
		return nil
	}

	_ = v.mat.Close()
	err := v.capture.Close()
	v.capture = nil
	logging.Component("camera").WithField("device", v.Device).Debug("Camera closed")
	return err
}
