package detection

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"hazardwatch/internal/pipeline"
)

// ErrServiceUnavailable is returned while a model service fails its health check
var ErrServiceUnavailable = errors.New("detection service unavailable")

// healthTTL is how long a health check result is trusted
const healthTTL = 30 * time.Second

// YOLODetection is a single region in the service response
type YOLODetection struct {
	Class      string    `json:"class"`
	ClassID    int       `json:"class_id"`
	Confidence float32   `json:"confidence"`
	BBox       []float32 `json:"bbox"` // [x1, y1, x2, y2]
}

// YOLOResult is the /detect response body
type YOLOResult struct {
	Detections      []YOLODetection `json:"detections"`
	Count           int             `json:"count"`
	InferenceTimeMs float32         `json:"inference_time_ms"`
	Device          string          `json:"device"`
}

// YOLOHealthResponse is the /health response body
type YOLOHealthResponse struct {
	Status       string `json:"status"`
	Device       string `json:"device"`
	GPUAvailable bool   `json:"gpu_available"`
	ModelLoaded  bool   `json:"model_loaded"`
}

// YOLOConfig configures the primary detector client
type YOLOConfig struct {
	Endpoint         string        `yaml:"endpoint"`          // Base URL of the inference service
	Timeout          time.Duration `yaml:"timeout"`           // Per request timeout
	RequestThreshold float32       `yaml:"request_threshold"` // conf_threshold sent to the service
	ClassesFilter    string        `yaml:"classes_filter"`    // Optional comma separated class filter
	SkipHealthCheck  bool          `yaml:"skip_health_check"`
}

// YOLODetector calls an HTTP YOLO inference service. The service is
// expected to accept a multipart "file" upload on /detect and report model
// readiness on /health.
type YOLODetector struct {
	config YOLOConfig
	client *resty.Client

	mu          sync.Mutex
	healthy     bool
	healthCheck time.Time
	now         func() time.Time
}

var _ pipeline.Detector = (*YOLODetector)(nil)

// NewYOLODetector creates a detector client
func NewYOLODetector(config YOLOConfig) *YOLODetector {
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	if config.RequestThreshold <= 0 {
		config.RequestThreshold = 0.25
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(config.Endpoint, "/")).
		SetTimeout(config.Timeout).
		SetHeader("Accept", "application/json")
	return &YOLODetector{config: config, client: client, now: time.Now}
}

// IsHealthy reports whether the service has its model loaded. Both healthy
// and unhealthy answers are cached for healthTTL.
func (yd *YOLODetector) IsHealthy(ctx context.Context) bool {
	if yd.config.SkipHealthCheck {
		return true
	}

	yd.mu.Lock()
	if !yd.healthCheck.IsZero() && yd.now().Sub(yd.healthCheck) < healthTTL {
		healthy := yd.healthy
		yd.mu.Unlock()
		return healthy
	}
	yd.mu.Unlock()

	health, err := yd.HealthInfo(ctx)
	healthy := err == nil && health.ModelLoaded

	yd.mu.Lock()
	yd.healthy = healthy
	yd.healthCheck = yd.now()
	yd.mu.Unlock()
	return healthy
}

// HealthInfo fetches the service health report
func (yd *YOLODetector) HealthInfo(ctx context.Context) (*YOLOHealthResponse, error) {
	var health YOLOHealthResponse
	resp, err := yd.client.R().SetContext(ctx).ForceContentType("application/json").SetResult(&health).Get("/health")
	if err != nil {
		return nil, fmt.Errorf("failed to check YOLO health: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("YOLO health check returned status %d", resp.StatusCode())
	}
	return &health, nil
}

// DetectObjects posts one encoded image to the service
func (yd *YOLODetector) DetectObjects(ctx context.Context, image []byte) (*YOLOResult, error) {
	if !yd.IsHealthy(ctx) {
		return nil, ErrServiceUnavailable
	}

	form := map[string]string{
		"conf_threshold": fmt.Sprintf("%.3f", yd.config.RequestThreshold),
	}
	if yd.config.ClassesFilter != "" {
		form["classes_filter"] = yd.config.ClassesFilter
	}

	var result YOLOResult
	resp, err := yd.client.R().
		SetContext(ctx).
		SetFileReader("file", "frame.jpg", bytes.NewReader(image)).
		SetFormData(form).
		ForceContentType("application/json").
		SetResult(&result).
		Post("/detect")
	if err != nil {
		yd.markUnhealthy()
		return nil, fmt.Errorf("failed to call YOLO service: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("YOLO detection failed: %s: %s", resp.Status(), strings.TrimSpace(resp.String()))
	}
	return &result, nil
}

// Detect implements pipeline.Detector
func (yd *YOLODetector) Detect(ctx context.Context, frame *pipeline.Frame) (*pipeline.DetectionResult, error) {
	img, err := pipeline.EncodeJPEG(frame, pipeline.DefaultJPEGQuality)
	if err != nil {
		return nil, err
	}
	raw, err := yd.DetectObjects(ctx, img)
	if err != nil {
		return nil, err
	}
	return convertYOLOResult(frame.Seq, raw), nil
}

func (yd *YOLODetector) markUnhealthy() {
	yd.mu.Lock()
	defer yd.mu.Unlock()
	yd.healthy = false
	yd.healthCheck = yd.now()
}

func convertYOLOResult(seq uint64, raw *YOLOResult) *pipeline.DetectionResult {
	out := &pipeline.DetectionResult{
		FrameSeq:    seq,
		InferenceMs: raw.InferenceTimeMs,
		Detections:  make([]pipeline.Detection, 0, len(raw.Detections)),
	}
	for _, d := range raw.Detections {
		det := pipeline.Detection{
			ClassID:    d.ClassID,
			Class:      d.Class,
			Confidence: d.Confidence,
		}
		if len(d.BBox) == 4 {
			det.BBox = pipeline.BBox{X1: d.BBox[0], Y1: d.BBox[1], X2: d.BBox[2], Y2: d.BBox[3]}
		}
		out.Detections = append(out.Detections, det)
	}
	return out
}
