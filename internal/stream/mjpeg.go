package stream

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"hazardwatch/internal/metrics"
	"hazardwatch/internal/pipeline"
)

// DefaultDisplayFPS is the rate at which the display pump samples state
const DefaultDisplayFPS = 10.0

// FrameListener is called with the snapshot behind every newly encoded frame
type FrameListener func(snap pipeline.Snapshot)

// Config configures the display server
type Config struct {
	FPS     float64 `yaml:"fps"`
	Quality int     `yaml:"quality"`
}

// Server serves the latest annotated frame as an MJPEG stream and as
// single snapshots. It only reads the shared state.
type Server struct {
	state   pipeline.StateReader
	cfg     Config
	logger  *zap.Logger
	metrics *metrics.Metrics

	frameMu      sync.RWMutex
	currentFrame []byte
	frameSeq     uint64
	hasFrame     bool

	clientsMu sync.RWMutex
	clients   map[chan []byte]struct{}

	listenersMu sync.RWMutex
	listeners   []FrameListener
}

// NewServer creates a display server reading from state
func NewServer(state pipeline.StateReader, cfg Config, logger *zap.Logger, m *metrics.Metrics) *Server {
	if cfg.FPS <= 0 {
		cfg.FPS = DefaultDisplayFPS
	}
	if cfg.Quality <= 0 {
		cfg.Quality = pipeline.DefaultJPEGQuality
	}
	return &Server{
		state:   state,
		cfg:     cfg,
		logger:  logger.Named("display"),
		metrics: m,
		clients: make(map[chan []byte]struct{}),
	}
}

// AddFrameListener registers a callback for new frames
func (s *Server) AddFrameListener(l FrameListener) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Run samples the shared state at the display rate until ctx is done
func (s *Server) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Duration(float64(time.Second) / s.cfg.FPS))
	defer ticker.Stop()

	s.logger.Info("Display pump started", zap.Float64("fps", s.cfg.FPS))
	for {
		select {
		case <-ctx.Done():
			s.closeClients()
			return ctx.Err()
		case <-ticker.C:
			s.Refresh()
		}
	}
}

// Refresh encodes and broadcasts the latest frame when its sequence has
// changed. It reports whether a new frame was broadcast.
func (s *Server) Refresh() bool {
	snap := s.state.Snapshot()
	if !snap.Published || snap.Frame == nil {
		return false
	}

	s.frameMu.RLock()
	same := s.hasFrame && s.frameSeq == snap.Frame.Seq
	s.frameMu.RUnlock()
	if same {
		return false
	}

	data, err := pipeline.EncodeJPEG(snap.Frame, s.cfg.Quality)
	if err != nil {
		s.logger.Warn("Failed to encode display frame", zap.Uint64("seq", snap.Frame.Seq), zap.Error(err))
		return false
	}

	s.frameMu.Lock()
	s.currentFrame = data
	s.frameSeq = snap.Frame.Seq
	s.hasFrame = true
	s.frameMu.Unlock()

	s.clientsMu.RLock()
	for ch := range s.clients {
		select {
		case ch <- data:
		default:
			// slow client, drop
		}
	}
	s.clientsMu.RUnlock()

	s.listenersMu.RLock()
	for _, l := range s.listeners {
		l(snap)
	}
	s.listenersMu.RUnlock()
	return true
}

// CurrentFrame returns the latest encoded frame and its sequence
func (s *Server) CurrentFrame() ([]byte, uint64, bool) {
	s.frameMu.RLock()
	defer s.frameMu.RUnlock()
	return s.currentFrame, s.frameSeq, s.hasFrame
}

// ClientCount returns the number of connected stream clients
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

func (s *Server) addClient() chan []byte {
	ch := make(chan []byte, 5)
	s.clientsMu.Lock()
	s.clients[ch] = struct{}{}
	s.clientsMu.Unlock()
	s.metrics.StreamClient(1)
	return ch
}

func (s *Server) removeClient(ch chan []byte) {
	s.clientsMu.Lock()
	_, ok := s.clients[ch]
	delete(s.clients, ch)
	s.clientsMu.Unlock()
	if ok {
		s.metrics.StreamClient(-1)
	}
}

func (s *Server) closeClients() {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	for ch := range s.clients {
		close(ch)
		delete(s.clients, ch)
		s.metrics.StreamClient(-1)
	}
}

// ServeHTTP streams frames as multipart/x-mixed-replace
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	clientCh := s.addClient()
	defer s.removeClient(clientCh)

	s.logger.Debug("Stream client connected", zap.String("remote", r.RemoteAddr))

	if frame, _, ok := s.CurrentFrame(); ok {
		if err := writePart(w, frame); err != nil {
			return
		}
		flusher.Flush()
	}

	for {
		select {
		case <-r.Context().Done():
			s.logger.Debug("Stream client disconnected", zap.String("remote", r.RemoteAddr))
			return
		case frame, ok := <-clientCh:
			if !ok {
				return
			}
			if err := writePart(w, frame); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writePart(w http.ResponseWriter, frame []byte) error {
	if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(frame)); err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return err
	}
	_, err := fmt.Fprint(w, "\r\n")
	return err
}

// SnapshotHandler serves the latest frame as a single JPEG
func (s *Server) SnapshotHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		frame, seq, ok := s.CurrentFrame()
		if !ok {
			http.Error(w, "No frame available", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Content-Length", fmt.Sprintf("%d", len(frame)))
		w.Header().Set("X-Frame-Seq", fmt.Sprintf("%d", seq))
		w.Write(frame)
	})
}
