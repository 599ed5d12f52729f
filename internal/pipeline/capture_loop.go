package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"hazardwatch/internal/metrics"
	"hazardwatch/internal/timeutil"
)

// CaptureLoop is the producer side of the pipeline. It reads frames, runs
// the primary detector and the fall heuristic, and publishes the annotated
// result to the shared state.
type CaptureLoop struct {
	source    Source
	detector  Detector
	heuristic Heuristic
	annotator Annotator
	state     *SharedFrameState
	tuning    *TuningStore
	clock     timeutil.Clock
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// CaptureOption customizes a CaptureLoop
type CaptureOption func(*CaptureLoop)

// WithCaptureClock replaces the wall clock used for pacing
func WithCaptureClock(c timeutil.Clock) CaptureOption {
	return func(l *CaptureLoop) { l.clock = c }
}

// WithCaptureMetrics records loop counters into m
func WithCaptureMetrics(m *metrics.Metrics) CaptureOption {
	return func(l *CaptureLoop) { l.metrics = m }
}

// WithAnnotator sets the display annotator. Without one the raw frame is
// published.
func WithAnnotator(a Annotator) CaptureOption {
	return func(l *CaptureLoop) { l.annotator = a }
}

// NewCaptureLoop creates the producer loop. heuristic may be nil to
// disable the fall signal.
func NewCaptureLoop(source Source, detector Detector, heuristic Heuristic, state *SharedFrameState, tuning *TuningStore, logger *zap.Logger, opts ...CaptureOption) *CaptureLoop {
	l := &CaptureLoop{
		source:    source,
		detector:  detector,
		heuristic: heuristic,
		state:     state,
		tuning:    tuning,
		clock:     timeutil.RealClock{},
		logger:    logger.Named("capture"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run loops until the source is exhausted (returns nil) or ctx is
// cancelled (returns ctx.Err()). Per-frame failures never end the loop.
func (l *CaptureLoop) Run(ctx context.Context) error {
	fps := l.source.FPS()
	if fps <= 0 {
		fps = DefaultFPS
	}
	interval := time.Duration(float64(time.Second) / fps)
	l.logger.Info("capture loop started", zap.Float64("fps", fps), zap.Duration("interval", interval))

	var processed uint64
	for {
		if err := ctx.Err(); err != nil {
			l.logger.Info("capture loop stopped", zap.Uint64("frames", processed), zap.Error(err))
			return err
		}

		start := l.clock.Now()
		frame, err := l.source.Read(ctx)
		if errors.Is(err, io.EOF) || (err == nil && frame == nil) {
			l.logger.Info("source exhausted, capture loop finished", zap.Uint64("frames", processed))
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			l.metrics.ReadError()
			l.logger.Warn("failed to read frame, skipping", zap.Error(err))
			l.pace(start, interval)
			continue
		}
		l.metrics.FrameRead()

		if err := l.process(ctx, frame); err != nil {
			l.metrics.FrameSkipped()
			l.logger.Warn("failed to process frame, skipping", zap.Uint64("seq", frame.Seq), zap.Error(err))
		} else {
			processed++
			l.metrics.FrameProcessed()
		}
		l.pace(start, interval)
	}
}

// process handles one frame end to end. A panic in a collaborator is
// converted into an error so the frame is skipped instead of killing the
// loop.
func (l *CaptureLoop) process(ctx context.Context, frame *Frame) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while processing frame: %v", r)
		}
	}()

	tuning := l.tuning.Load()

	result, derr := l.detector.Detect(ctx, frame)
	if derr != nil {
		// The frame still reaches the heuristic and the display.
		l.metrics.DetectorError()
		l.logger.Debug("detector failed, treating frame as no detections", zap.Uint64("seq", frame.Seq), zap.Error(derr))
		result = &DetectionResult{FrameSeq: frame.Seq}
	}
	flags := Flags{Primary: result.HasCandidate(tuning.MonitoredClassID, tuning.ConfidenceThreshold)}

	if l.heuristic != nil {
		fallen, herr := l.heuristic.Evaluate(frame)
		if herr != nil {
			l.metrics.HeuristicError()
			l.logger.Debug("fall heuristic failed", zap.Uint64("seq", frame.Seq), zap.Error(herr))
		}
		flags.Heuristic = fallen && herr == nil
	}

	display := frame
	if l.annotator != nil {
		if annotated := l.annotator.Annotate(frame, result, flags); annotated != nil {
			display = annotated
		}
	}

	l.state.Publish(display, flags.Primary, flags.Heuristic)
	if flags.Any() {
		l.logger.Debug("candidate frame published",
			zap.Uint64("seq", frame.Seq),
			zap.Bool("primary", flags.Primary),
			zap.Bool("heuristic", flags.Heuristic))
	}
	return nil
}

func (l *CaptureLoop) pace(start time.Time, interval time.Duration) {
	if remaining := interval - l.clock.Since(start); remaining > 0 {
		l.clock.Sleep(remaining)
	}
}
