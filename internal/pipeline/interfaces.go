package pipeline

import (
	"context"
	"errors"
)

// ErrNoFrame is returned when an operation needs a frame and none exists
var ErrNoFrame = errors.New("no frame available")

// Source produces frames in order. Read blocks until the next frame is
// available and returns io.EOF once the stream is exhausted.
type Source interface {
	// Read returns the next frame
	Read(ctx context.Context) (*Frame, error)

	// FPS returns the nominal frame rate, or 0 when unknown
	FPS() float64

	// Close releases the underlying stream
	Close() error
}

// Detector is the fast primary detector run on every frame
type Detector interface {
	Detect(ctx context.Context, frame *Frame) (*DetectionResult, error)
}

// Heuristic evaluates the motion-shape fall signal for one frame.
// Implementations keep state across calls and are not safe for concurrent use.
type Heuristic interface {
	Evaluate(frame *Frame) (bool, error)
}

// Annotator produces the display copy of a frame. It must not modify the
// input frame.
type Annotator interface {
	Annotate(frame *Frame, result *DetectionResult, flags Flags) *Frame
}

// Verifier is the slow secondary model. It returns free-form text.
type Verifier interface {
	Verify(ctx context.Context, jpeg []byte, prompt string) (string, error)
}

// Notifier delivers alerts to an external channel
type Notifier interface {
	SendText(ctx context.Context, message string) error
	SendImage(ctx context.Context, path string, caption string) error
}

// StateReader is the read-only view of SharedFrameState used by display
// and status consumers.
type StateReader interface {
	Snapshot() Snapshot
}
