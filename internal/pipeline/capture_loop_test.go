package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"hazardwatch/internal/metrics"
	"hazardwatch/internal/timeutil"
)

func newTestCaptureLoop(src Source, det Detector, h Heuristic, state *SharedFrameState, clock *timeutil.MockClock, opts ...CaptureOption) *CaptureLoop {
	opts = append([]CaptureOption{WithCaptureClock(clock)}, opts...)
	return NewCaptureLoop(src, det, h, state, NewTuningStore(DefaultTuning()), zap.NewNop(), opts...)
}

func TestCaptureLoop_StopsCleanlyAtEndOfStream(t *testing.T) {
	const n = 5
	src := newFrameSource(n, 25)
	det := &fixedDetector{}
	state := NewSharedFrameState()
	m := metrics.New()
	clock := timeutil.NewMockClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	loop := newTestCaptureLoop(src, det, nil, state, clock, WithCaptureMetrics(m))

	err := loop.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, n+1, src.Reads())
	assert.Equal(t, n, det.Calls())
	assert.Equal(t, uint64(n), m.FramesProcessed.Load())
	assert.Equal(t, uint64(n), state.Snapshot().Frame.Seq)
}

func TestCaptureLoop_PacesToSourceFPS(t *testing.T) {
	src := newFrameSource(3, 25)
	clock := timeutil.NewMockClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	loop := newTestCaptureLoop(src, &fixedDetector{}, nil, NewSharedFrameState(), clock)

	require.NoError(t, loop.Run(context.Background()))

	assert.Equal(t, []time.Duration{40 * time.Millisecond, 40 * time.Millisecond, 40 * time.Millisecond}, clock.Sleeps())
}

func TestCaptureLoop_DefaultsToThirtyFPS(t *testing.T) {
	src := newFrameSource(1, 0)
	clock := timeutil.NewMockClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	loop := newTestCaptureLoop(src, &fixedDetector{}, nil, NewSharedFrameState(), clock)

	require.NoError(t, loop.Run(context.Background()))

	require.Len(t, clock.Sleeps(), 1)
	assert.Equal(t, time.Second/30, clock.Sleeps()[0])
}

func TestCaptureLoop_ConfidenceThresholdIsStrict(t *testing.T) {
	cases := []struct {
		confidence float32
		want       bool
	}{
		{0.59, false},
		{0.60, false},
		{0.61, true},
	}
	for _, tc := range cases {
		det := &fixedDetector{detections: []Detection{{ClassID: 0, Class: "fire", Confidence: tc.confidence}}}
		state := NewSharedFrameState()
		clock := timeutil.NewMockClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
		loop := newTestCaptureLoop(newFrameSource(1, 30), det, nil, state, clock)

		require.NoError(t, loop.Run(context.Background()))
		assert.Equal(t, tc.want, state.Snapshot().PrimaryCandidate, "confidence %.2f", tc.confidence)
	}
}

func TestCaptureLoop_IgnoresOtherClasses(t *testing.T) {
	det := &fixedDetector{detections: []Detection{{ClassID: 3, Confidence: 0.99}}}
	state := NewSharedFrameState()
	clock := timeutil.NewMockClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	loop := newTestCaptureLoop(newFrameSource(1, 30), det, nil, state, clock)

	require.NoError(t, loop.Run(context.Background()))

	assert.False(t, state.Snapshot().PrimaryCandidate)
}

func TestCaptureLoop_DetectorFailureFailsOpen(t *testing.T) {
	det := &fixedDetector{err: errors.New("connection refused")}
	state := NewSharedFrameState()
	m := metrics.New()
	clock := timeutil.NewMockClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	loop := newTestCaptureLoop(newFrameSource(2, 30), det, &stubHeuristic{result: true}, state, clock, WithCaptureMetrics(m))

	require.NoError(t, loop.Run(context.Background()))

	snap := state.Snapshot()
	assert.True(t, snap.Published)
	assert.False(t, snap.PrimaryCandidate)
	assert.True(t, snap.HeuristicCandidate)
	assert.Equal(t, uint64(2), m.DetectorErrors.Load())
	assert.Equal(t, uint64(2), m.FramesProcessed.Load())
}

func TestCaptureLoop_HeuristicErrorClearsFlag(t *testing.T) {
	state := NewSharedFrameState()
	clock := timeutil.NewMockClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	loop := newTestCaptureLoop(newFrameSource(1, 30), &fixedDetector{}, &stubHeuristic{result: true, err: errors.New("bad frame")}, state, clock)

	require.NoError(t, loop.Run(context.Background()))

	assert.False(t, state.Snapshot().HeuristicCandidate)
}

func TestCaptureLoop_SkipsReadErrors(t *testing.T) {
	src := &scriptedSource{fps: 30, items: []sourceItem{
		{frame: testFrame(1)},
		{err: errors.New("corrupt jpeg")},
		{frame: testFrame(2)},
	}}
	det := &fixedDetector{}
	state := NewSharedFrameState()
	m := metrics.New()
	clock := timeutil.NewMockClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	loop := newTestCaptureLoop(src, det, nil, state, clock, WithCaptureMetrics(m))

	require.NoError(t, loop.Run(context.Background()))

	assert.Equal(t, 4, src.Reads())
	assert.Equal(t, 2, det.Calls())
	assert.Equal(t, uint64(1), m.ReadErrors.Load())
	assert.Equal(t, uint64(2), state.Snapshot().Frame.Seq)
}

func TestCaptureLoop_RecoversFromPanickingDetector(t *testing.T) {
	state := NewSharedFrameState()
	m := metrics.New()
	clock := timeutil.NewMockClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	loop := newTestCaptureLoop(newFrameSource(2, 30), panicDetector{}, nil, state, clock, WithCaptureMetrics(m))

	require.NoError(t, loop.Run(context.Background()))

	assert.Equal(t, uint64(2), m.FramesSkipped.Load())
	assert.False(t, state.Snapshot().Published)
}

func TestCaptureLoop_ContextCancelStopsLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := newFrameSource(10, 30)
	clock := timeutil.NewMockClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	loop := newTestCaptureLoop(src, &fixedDetector{}, nil, NewSharedFrameState(), clock)

	err := loop.Run(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, src.Reads())
}

type markingAnnotator struct{}

func (markingAnnotator) Annotate(f *Frame, _ *DetectionResult, flags Flags) *Frame {
	return &Frame{Seq: f.Seq + 1000, Image: f.Image}
}

func TestCaptureLoop_PublishesAnnotatedFrame(t *testing.T) {
	state := NewSharedFrameState()
	clock := timeutil.NewMockClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	loop := newTestCaptureLoop(newFrameSource(1, 30), &fixedDetector{}, nil, state, clock, WithAnnotator(markingAnnotator{}))

	require.NoError(t, loop.Run(context.Background()))

	assert.Equal(t, uint64(1001), state.Snapshot().Frame.Seq)
}
