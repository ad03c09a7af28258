package pipeline

import (
	"fmt"
	"time"

	"github.com/MrCodeEU/facerange/pkg/gallery"
)

// State is the lifecycle state of a Pipeline.
type State int

const (
	// Uninitialized: models or gallery not ready yet.
	Uninitialized State = iota
	// GalleryReady: gallery built, frame source not running.
	GalleryReady
	// Running: the loop is processing frames.
	Running
	// Stopped: the host cancelled the loop.
	Stopped
)

var stateNames = map[State]string{
	Uninitialized: "uninitialized",
	GalleryReady:  "gallery_ready",
	Running:       "running",
	Stopped:       "stopped",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status is published on every state change and on recorded failures.
type Status struct {
	State State
	Err   error
	At    time.Time
}

// Loading reports whether the pipeline is still preparing.
func (s Status) Loading() bool {
	return s.State == Uninitialized && s.Err == nil
}

// GallerySummary describes the enrolled gallery.
type GallerySummary struct {
	Identities  int                `json:"identities"`
	Descriptors int                `json:"descriptors"`
	Unmatchable []gallery.Identity `json:"unmatchable,omitempty"`
	Fingerprint string             `json:"fingerprint"`
}

// Snapshot is a point-in-time view of a Pipeline.
type Snapshot struct {
	Session     string          `json:"session,omitempty"`
	State       State           `json:"state"`
	Error       string          `json:"error,omitempty"`
	Loading     bool            `json:"loading"`
	Gallery     *GallerySummary `json:"gallery,omitempty"`
	Ticks       uint64          `json:"ticks"`
	Skipped     uint64          `json:"skipped"`
	FrameErrors uint64          `json:"frame_errors"`
	LastFrame   uint64          `json:"last_frame"`
	Annotations []Annotation    `json:"annotations"`
	UpdatedAt   time.Time       `json:"updated_at"`
}
