package pipeline

import (
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"sync"
)

func testFrame(seq uint64) *Frame {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for i := range img.Pix {
		img.Pix[i] = 0x80
	}
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	return &Frame{Seq: seq, Image: img}
}

// scriptedSource returns the queued frames or errors in order, then io.EOF.
type scriptedSource struct {
	mu    sync.Mutex
	items []sourceItem
	fps   float64
	reads int
}

type sourceItem struct {
	frame *Frame
	err   error
}

func newFrameSource(n int, fps float64) *scriptedSource {
	s := &scriptedSource{fps: fps}
	for i := 1; i <= n; i++ {
		s.items = append(s.items, sourceItem{frame: testFrame(uint64(i))})
	}
	return s
}

func (s *scriptedSource) Read(ctx context.Context) (*Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if len(s.items) == 0 {
		return nil, io.EOF
	}
	it := s.items[0]
	s.items = s.items[1:]
	return it.frame, it.err
}

func (s *scriptedSource) FPS() float64 { return s.fps }
func (s *scriptedSource) Close() error { return nil }

func (s *scriptedSource) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

// fixedDetector returns the same detections for every frame.
type fixedDetector struct {
	mu         sync.Mutex
	detections []Detection
	err        error
	calls      int
}

func (d *fixedDetector) Detect(ctx context.Context, frame *Frame) (*DetectionResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	return &DetectionResult{FrameSeq: frame.Seq, Detections: d.detections}, nil
}

func (d *fixedDetector) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

type stubHeuristic struct {
	result bool
	err    error
}

func (h *stubHeuristic) Evaluate(*Frame) (bool, error) { return h.result, h.err }

type panicDetector struct{}

func (panicDetector) Detect(context.Context, *Frame) (*DetectionResult, error) {
	panic("boom")
}

// recordingVerifier answers every call with the configured text.
type recordingVerifier struct {
	mu       sync.Mutex
	response string
	err      error
	calls    int
	prompts  []string
	block    chan struct{}
}

func (v *recordingVerifier) Verify(ctx context.Context, img []byte, prompt string) (string, error) {
	v.mu.Lock()
	v.calls++
	v.prompts = append(v.prompts, prompt)
	block := v.block
	v.mu.Unlock()
	if block != nil {
		<-block
	}
	if len(img) == 0 {
		return "", errors.New("empty image")
	}
	return v.response, v.err
}

func (v *recordingVerifier) Calls() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls
}

type sentImage struct {
	path    string
	caption string
}

// recordingNotifier captures every notification.
type recordingNotifier struct {
	mu       sync.Mutex
	texts    []string
	images   []sentImage
	textErr  error
	imageErr error
}

func (n *recordingNotifier) SendText(ctx context.Context, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.texts = append(n.texts, message)
	return n.textErr
}

func (n *recordingNotifier) SendImage(ctx context.Context, path, caption string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.images = append(n.images, sentImage{path: path, caption: caption})
	return n.imageErr
}
