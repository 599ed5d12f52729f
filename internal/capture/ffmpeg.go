package capture

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"hazardwatch/internal/pipeline"
)

// FFmpegConfig describes a stream decoded by an ffmpeg subprocess
type FFmpegConfig struct {
	URL         string  // rtsp://, http(s)://, a V4L2 device path or a video file
	FPS         float64 // Output rate; 0 keeps the input rate and probes it
	Width       int     // V4L2 capture width
	Height      int     // V4L2 capture height
	Quality     int     // ffmpeg -q:v for the MJPEG encoder (2-31)
	FFmpegPath  string
	FFprobePath string
}

// FFmpegSource reads frames from an ffmpeg image2pipe MJPEG subprocess.
// The process is started on the first Read.
type FFmpegSource struct {
	config FFmpegConfig
	logger *zap.Logger

	mu     sync.Mutex // serializes Read
	reader *MJPEGReader
	seq    uint64
	fps    float64
	done   bool

	procMu   sync.Mutex
	cmd      *exec.Cmd
	waitOnce sync.Once
}

var _ pipeline.Source = (*FFmpegSource)(nil)

// NewFFmpegSource creates an ffmpeg backed source. When no output rate is
// configured the input rate is probed with ffprobe.
func NewFFmpegSource(ctx context.Context, config FFmpegConfig, logger *zap.Logger) *FFmpegSource {
	if config.FFmpegPath == "" {
		config.FFmpegPath = "ffmpeg"
	}
	if config.FFprobePath == "" {
		config.FFprobePath = "ffprobe"
	}
	if config.Quality <= 0 {
		config.Quality = 5
	}

	s := &FFmpegSource{config: config, logger: logger.Named("ffmpeg"), fps: config.FPS}
	if s.fps <= 0 && !isDevice(config.URL) {
		fps, err := ProbeFPS(ctx, config.FFprobePath, config.URL)
		if err != nil {
			s.logger.Warn("failed to probe frame rate, using default", zap.String("url", config.URL), zap.Error(err))
		} else {
			s.fps = fps
		}
	}
	return s
}

// Args returns the ffmpeg command line for the configured input
func (s *FFmpegSource) Args() []string {
	return ffmpegArgs(s.config)
}

func ffmpegArgs(c FFmpegConfig) []string {
	var args []string
	switch {
	case strings.HasPrefix(c.URL, "rtsp://"):
		args = []string{"-rtsp_transport", "tcp", "-i", c.URL}
	case isDevice(c.URL):
		args = []string{"-f", "v4l2"}
		if c.Width > 0 && c.Height > 0 {
			args = append(args, "-video_size", fmt.Sprintf("%dx%d", c.Width, c.Height))
		}
		if c.FPS > 0 {
			args = append(args, "-framerate", formatRate(c.FPS))
		}
		args = append(args, "-i", c.URL)
	default:
		args = []string{"-i", c.URL}
	}

	args = append(args, "-an", "-f", "image2pipe", "-vcodec", "mjpeg")
	if c.FPS > 0 && !isDevice(c.URL) {
		args = append(args, "-r", formatRate(c.FPS))
	}
	return append(args, "-q:v", strconv.Itoa(c.Quality), "-")
}

func (s *FFmpegSource) start() error {
	cmd := exec.Command(s.config.FFmpegPath, append([]string{"-hide_banner", "-loglevel", "error"}, s.Args()...)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			s.logger.Debug("ffmpeg", zap.String("line", scanner.Text()))
		}
	}()

	s.procMu.Lock()
	s.cmd = cmd
	s.procMu.Unlock()
	s.reader = NewMJPEGReader(stdout)
	s.logger.Info("ffmpeg started", zap.String("url", s.config.URL), zap.Int("pid", cmd.Process.Pid))
	return nil
}

// Read returns the next decoded frame, or io.EOF when ffmpeg exits.
// Cancelling ctx while Read blocks kills the process.
func (s *FFmpegSource) Read(ctx context.Context) (*pipeline.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done {
		return nil, io.EOF
	}
	if s.reader == nil {
		if err := s.start(); err != nil {
			s.done = true
			return nil, err
		}
	}

	stop := context.AfterFunc(ctx, s.kill)
	data, err := s.reader.Next()
	stop()
	if err != nil {
		if ctx.Err() != nil {
			s.done = true
			s.wait()
			return nil, ctx.Err()
		}
		if errors.Is(err, io.EOF) {
			s.done = true
			s.wait()
			return nil, io.EOF
		}
		return nil, err
	}

	s.seq++
	return decodeFrame(s.seq, data, time.Now())
}

// FPS returns the configured or probed frame rate
func (s *FFmpegSource) FPS() float64 {
	return s.fps
}

// Close stops the ffmpeg process
func (s *FFmpegSource) Close() error {
	s.kill()
	if s.mu.TryLock() {
		defer s.mu.Unlock()
		s.done = true
		s.wait()
	}
	return nil
}

func (s *FFmpegSource) kill() {
	s.procMu.Lock()
	defer s.procMu.Unlock()
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
}

func (s *FFmpegSource) wait() {
	s.procMu.Lock()
	cmd := s.cmd
	s.procMu.Unlock()
	if cmd == nil {
		return
	}
	s.waitOnce.Do(func() {
		if err := cmd.Wait(); err != nil {
			s.logger.Debug("ffmpeg exited", zap.Error(err))
		}
	})
}

// ProbeFPS asks ffprobe for the average frame rate of the first video
// stream in url.
func ProbeFPS(ctx context.Context, ffprobe, url string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, ffprobe,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=avg_frame_rate",
		"-of", "default=noprint_wrappers=1:nokey=1",
		url,
	).Output()
	if err != nil {
		return 0, fmt.Errorf("failed to run ffprobe: %w", err)
	}
	return ParseRate(strings.TrimSpace(string(out)))
}

// ParseRate parses an ffmpeg rational such as "30000/1001" or "25"
func ParseRate(s string) (float64, error) {
	num, den, found := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid frame rate %q: %w", s, err)
	}
	if !found {
		return n, nil
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid frame rate %q: %w", s, err)
	}
	if d == 0 {
		return 0, fmt.Errorf("invalid frame rate %q: zero denominator", s)
	}
	return n / d, nil
}

func isDevice(url string) bool {
	return strings.HasPrefix(url, "/dev/video")
}

func formatRate(fps float64) string {
	return strconv.FormatFloat(fps, 'f', -1, 64)
}
