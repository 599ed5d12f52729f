package capture

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"hazardwatch/internal/pipeline"
)

// Source kinds accepted by New
const (
	KindFFmpeg    = "ffmpeg"
	KindDirectory = "directory"
	KindHTTP      = "http"
)

// Config selects and configures a frame source
type Config struct {
	Kind      string        `yaml:"kind"`       // ffmpeg, directory or http
	URL       string        `yaml:"url"`        // Stream URL, device, file, directory or snapshot URL
	FPS       float64       `yaml:"fps"`        // 0 uses source metadata
	Width     int           `yaml:"width"`      // V4L2 capture width
	Height    int           `yaml:"height"`     // V4L2 capture height
	MaxFrames uint64        `yaml:"max_frames"` // http only, 0 is unbounded
	Timeout   time.Duration `yaml:"timeout"`    // http only
}

// New builds the configured source
func New(ctx context.Context, cfg Config, logger *zap.Logger) (pipeline.Source, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("source url is required")
	}

	kind := strings.ToLower(cfg.Kind)
	if kind == "" {
		kind = KindFFmpeg
	}

	switch kind {
	case KindFFmpeg:
		return NewFFmpegSource(ctx, FFmpegConfig{
			URL:    cfg.URL,
			FPS:    cfg.FPS,
			Width:  cfg.Width,
			Height: cfg.Height,
		}, logger), nil
	case KindDirectory:
		return NewDirectorySource(cfg.URL, cfg.FPS)
	case KindHTTP:
		return NewHTTPSnapshotSource(cfg.URL, cfg.FPS, cfg.MaxFrames, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown source kind %q", cfg.Kind)
	}
}
