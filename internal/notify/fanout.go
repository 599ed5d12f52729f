package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"hazardwatch/internal/metrics"
	"hazardwatch/internal/pipeline"
)

// Channel is a named notifier
type Channel struct {
	Name     string
	Notifier pipeline.Notifier
}

// toggler is implemented by notifiers that can be switched off at runtime
type toggler interface {
	IsEnabled() bool
}

// Fanout delivers every notification to all channels in order. A failing
// channel does not stop delivery to the others.
type Fanout struct {
	channels []Channel
	logger   *zap.Logger
	metrics  *metrics.Metrics
	timeout  time.Duration
}

var _ pipeline.Notifier = (*Fanout)(nil)

// NewFanout creates a fan-out notifier. timeout bounds each channel call
// when positive.
func NewFanout(logger *zap.Logger, m *metrics.Metrics, timeout time.Duration, channels ...Channel) *Fanout {
	return &Fanout{
		channels: channels,
		logger:   logger.Named("notify"),
		metrics:  m,
		timeout:  timeout,
	}
}

// Channels returns the configured channel names
func (f *Fanout) Channels() []string {
	names := make([]string, 0, len(f.channels))
	for _, c := range f.channels {
		names = append(names, c.Name)
	}
	return names
}

// SendText sends message on every enabled channel
func (f *Fanout) SendText(ctx context.Context, message string) error {
	return f.each(ctx, "text", func(ctx context.Context, n pipeline.Notifier) error {
		return n.SendText(ctx, message)
	})
}

// SendImage sends the image at path on every enabled channel
func (f *Fanout) SendImage(ctx context.Context, path string, caption string) error {
	return f.each(ctx, "image", func(ctx context.Context, n pipeline.Notifier) error {
		return n.SendImage(ctx, path, caption)
	})
}

func (f *Fanout) each(ctx context.Context, kind string, send func(context.Context, pipeline.Notifier) error) error {
	var errs []error
	for _, c := range f.channels {
		if t, ok := c.Notifier.(toggler); ok && !t.IsEnabled() {
			continue
		}

		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if f.timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, f.timeout)
		}
		err := send(callCtx, c.Notifier)
		cancel()

		f.metrics.Notification(c.Name, err)
		if err != nil {
			f.logger.Warn("Notification failed",
				zap.String("channel", c.Name),
				zap.String("kind", kind),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", c.Name, err))
			continue
		}
		f.logger.Debug("Notification sent", zap.String("channel", c.Name), zap.String("kind", kind))
	}
	return errors.Join(errs...)
}

// ChannelResult is the outcome of a probe on one channel
type ChannelResult struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
	Error   string `json:"error,omitempty"`
}

// Probe sends message on every channel and reports each result. Disabled
// channels are listed but not contacted.
func (f *Fanout) Probe(ctx context.Context, message string) []ChannelResult {
	results := make([]ChannelResult, 0, len(f.channels))
	for _, c := range f.channels {
		res := ChannelResult{Name: c.Name, Enabled: true}
		if t, ok := c.Notifier.(toggler); ok && !t.IsEnabled() {
			res.Enabled = false
			results = append(results, res)
			continue
		}

		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if f.timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, f.timeout)
		}
		err := c.Notifier.SendText(callCtx, message)
		cancel()

		f.metrics.Notification(c.Name, err)
		if err != nil {
			res.Error = err.Error()
		}
		results = append(results, res)
	}
	return results
}
