package stream

import (
	"bufio"
	"context"
	"image"
	"image/color"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"hazardwatch/internal/pipeline"
)

func solidFrame(seq uint64, w, h int) *pipeline.Frame {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0xFF
	}
	return &pipeline.Frame{Seq: seq, Image: img}
}

func TestOverlay_DrawsOnCopy(t *testing.T) {
	tuning := pipeline.NewTuningStore(pipeline.DefaultTuning())
	o := NewOverlay(tuning, 0.25)
	frame := solidFrame(3, 64, 48)
	result := &pipeline.DetectionResult{Detections: []pipeline.Detection{
		{ClassID: 0, Class: "fire", Confidence: 0.9, BBox: pipeline.BBox{X1: 10, Y1: 20, X2: 40, Y2: 44}},
		{ClassID: 1, Class: "smoke", Confidence: 0.1, BBox: pipeline.BBox{X1: 0, Y1: 0, X2: 5, Y2: 5}},
	}}

	out := o.Annotate(frame, result, pipeline.Flags{Primary: true})

	require.NotSame(t, frame, out)
	assert.Equal(t, uint64(3), out.Seq)
	assert.Equal(t, color.RGBA{255, 255, 255, 255}, frame.Image.At(10, 44), "input untouched")
	assert.Equal(t, colorCandidate, out.Image.At(10, 44), "box bottom-left corner")
	assert.Equal(t, color.RGBA{255, 255, 255, 255}, out.Image.(*image.RGBA).RGBAAt(63, 47))
}

func TestOverlay_PassesThroughWithoutImage(t *testing.T) {
	o := NewOverlay(nil, 0)
	frame := &pipeline.Frame{Seq: 1}

	assert.Same(t, frame, o.Annotate(frame, nil, pipeline.Flags{}))
	assert.Nil(t, o.Annotate(nil, nil, pipeline.Flags{}))
}

func TestServer_RefreshOnlyOnNewSequence(t *testing.T) {
	state := pipeline.NewSharedFrameState()
	s := NewServer(state, Config{}, zap.NewNop(), nil)
	var mu sync.Mutex
	var seen []uint64
	s.AddFrameListener(func(snap pipeline.Snapshot) {
		mu.Lock()
		seen = append(seen, snap.Frame.Seq)
		mu.Unlock()
	})

	assert.False(t, s.Refresh(), "nothing published yet")

	state.Publish(solidFrame(1, 8, 8), false, false)
	assert.True(t, s.Refresh())
	assert.False(t, s.Refresh())

	state.Publish(solidFrame(2, 8, 8), true, false)
	assert.True(t, s.Refresh())

	frame, seq, ok := s.CurrentFrame()
	assert.True(t, ok)
	assert.Equal(t, uint64(2), seq)
	assert.Equal(t, []byte{0xFF, 0xD8}, frame[:2])
	assert.Equal(t, []uint64{1, 2}, seen)
}

func TestServer_Snapshot(t *testing.T) {
	state := pipeline.NewSharedFrameState()
	s := NewServer(state, Config{}, zap.NewNop(), nil)

	rec := httptest.NewRecorder()
	s.SnapshotHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/snapshot.jpg", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	state.Publish(solidFrame(7, 8, 8), false, false)
	s.Refresh()

	rec = httptest.NewRecorder()
	s.SnapshotHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/snapshot.jpg", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, "7", rec.Header().Get("X-Frame-Seq"))
}

func TestServer_Stream(t *testing.T) {
	state := pipeline.NewSharedFrameState()
	s := NewServer(state, Config{FPS: 100}, zap.NewNop(), nil)
	srv := httptest.NewServer(s)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "multipart/x-mixed-replace; boundary=frame", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return s.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	state.Publish(solidFrame(1, 8, 8), false, false)

	r := bufio.NewReader(resp.Body)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "--frame\r\n", line)
	line, err = r.ReadString('\n')
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(line, "Content-Type: image/jpeg"))

	cancel()
	_, _ = io.Copy(io.Discard, resp.Body)
	assert.Eventually(t, func() bool { return s.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
}
