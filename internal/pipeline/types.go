package pipeline

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"time"
)

// DefaultFPS is used for pacing when the source reports no frame rate
const DefaultFPS = 30.0

// DefaultJPEGQuality is the encoding quality for verifier and alert images
const DefaultJPEGQuality = 85

// Condition names a hazard the pipeline can confirm
type Condition string

const (
	// ConditionFire - flagged by the primary detector
	ConditionFire Condition = "fire"
	// ConditionFall - flagged by the motion-shape heuristic
	ConditionFall Condition = "fall"
)

// Conditions lists every condition in reporting order
var Conditions = []Condition{ConditionFire, ConditionFall}

// Frame is a captured (and possibly annotated) video frame.
// A Frame is never mutated after it has been published.
type Frame struct {
	Seq       uint64      // Frame sequence number assigned by the source
	Timestamp time.Time   // Capture timestamp
	Image     image.Image // Decoded pixels
	Encoded   []byte      // Original JPEG bytes when the source produced them
}

// Width returns the frame width in pixels
func (f *Frame) Width() int {
	if f == nil || f.Image == nil {
		return 0
	}
	return f.Image.Bounds().Dx()
}

// Height returns the frame height in pixels
func (f *Frame) Height() int {
	if f == nil || f.Image == nil {
		return 0
	}
	return f.Image.Bounds().Dy()
}

// EncodeJPEG returns the frame as JPEG bytes. Frames that still carry their
// source encoding return it unchanged.
func EncodeJPEG(f *Frame, quality int) ([]byte, error) {
	if f == nil {
		return nil, ErrNoFrame
	}
	if len(f.Encoded) > 0 {
		return f.Encoded, nil
	}
	if f.Image == nil {
		return nil, ErrNoFrame
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, f.Image, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode frame %d: %w", f.Seq, err)
	}
	return buf.Bytes(), nil
}

// BBox is a bounding box in pixel coordinates
type BBox struct {
	X1 float32 `json:"x1"` // Left
	Y1 float32 `json:"y1"` // Top
	X2 float32 `json:"x2"` // Right
	Y2 float32 `json:"y2"` // Bottom
}

// Detection is a single region reported by the primary detector
type Detection struct {
	ClassID    int     `json:"class_id"`   // Numeric class identifier
	Class      string  `json:"class"`      // Class label, when the detector provides one
	Confidence float32 `json:"confidence"` // Detection confidence [0-1]
	BBox       BBox    `json:"bbox"`
}

// DetectionResult holds every region detected on one frame
type DetectionResult struct {
	FrameSeq    uint64      `json:"frame_seq"`
	Detections  []Detection `json:"detections"`
	InferenceMs float32     `json:"inference_ms"`
}

// HasCandidate reports whether any region belongs to classID with
// confidence strictly above threshold.
func (r *DetectionResult) HasCandidate(classID int, threshold float32) bool {
	if r == nil {
		return false
	}
	for _, d := range r.Detections {
		if d.ClassID == classID && d.Confidence > threshold {
			return true
		}
	}
	return false
}

// Flags are the per-frame candidate signals
type Flags struct {
	Primary   bool `json:"primary"`   // Primary detector flagged the monitored class
	Heuristic bool `json:"heuristic"` // Motion-shape heuristic flagged a fall
}

// Any reports whether either signal is raised
func (f Flags) Any() bool {
	return f.Primary || f.Heuristic
}
