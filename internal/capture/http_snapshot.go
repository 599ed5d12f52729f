package capture

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/go-resty/resty/v2"

	"hazardwatch/internal/pipeline"
)

// HTTPSnapshotSource polls a still-image URL (a camera snapshot endpoint)
type HTTPSnapshotSource struct {
	client    *resty.Client
	url       string
	fps       float64
	maxFrames uint64
	seq       uint64
}

var _ pipeline.Source = (*HTTPSnapshotSource)(nil)

// NewHTTPSnapshotSource creates a poller. maxFrames of 0 polls forever.
func NewHTTPSnapshotSource(url string, fps float64, maxFrames uint64, timeout time.Duration) *HTTPSnapshotSource {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Accept", "image/jpeg, image/png")
	return &HTTPSnapshotSource{client: client, url: url, fps: fps, maxFrames: maxFrames}
}

// Read fetches one snapshot
func (h *HTTPSnapshotSource) Read(ctx context.Context) (*pipeline.Frame, error) {
	if h.maxFrames > 0 && h.seq >= h.maxFrames {
		return nil, io.EOF
	}

	resp, err := h.client.R().SetContext(ctx).Get(h.url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch snapshot: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("snapshot endpoint returned %s", resp.Status())
	}

	h.seq++
	return decodeFrame(h.seq, resp.Body(), time.Now())
}

func (h *HTTPSnapshotSource) FPS() float64 { return h.fps }
func (h *HTTPSnapshotSource) Close() error { return nil }
