package detection

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"hazardwatch/internal/pipeline"
)

// DefaultVerifierModel is the vision language model used for verification
const DefaultVerifierModel = "llava-phi3:latest"

// OllamaConfig configures the verifier client
type OllamaConfig struct {
	Endpoint    string        `yaml:"endpoint"`    // Ollama base URL
	Model       string        `yaml:"model"`       // Model tag
	Timeout     time.Duration `yaml:"timeout"`     // Per request timeout
	Temperature float64       `yaml:"temperature"` // Sampling temperature
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Model   string        `json:"model"`
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
	Error   string        `json:"error,omitempty"`
}

// OllamaVerifier asks a local vision model about a frame via /api/chat
type OllamaVerifier struct {
	config OllamaConfig
	client *resty.Client
}

var _ pipeline.Verifier = (*OllamaVerifier)(nil)

// NewOllamaVerifier creates a verifier client
func NewOllamaVerifier(config OllamaConfig) *OllamaVerifier {
	if config.Endpoint == "" {
		config.Endpoint = "http://localhost:11434"
	}
	if config.Model == "" {
		config.Model = DefaultVerifierModel
	}
	if config.Timeout <= 0 {
		config.Timeout = 2 * time.Minute
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(config.Endpoint, "/")).
		SetTimeout(config.Timeout).
		SetHeader("Content-Type", "application/json")
	return &OllamaVerifier{config: config, client: client}
}

// Verify sends the prompt and image and returns the model's answer
func (o *OllamaVerifier) Verify(ctx context.Context, jpeg []byte, prompt string) (string, error) {
	req := ollamaChatRequest{
		Model: o.config.Model,
		Messages: []ollamaMessage{{
			Role:    "user",
			Content: prompt,
			Images:  []string{base64.StdEncoding.EncodeToString(jpeg)},
		}},
		Stream: false,
	}
	if o.config.Temperature > 0 {
		req.Options = map[string]any{"temperature": o.config.Temperature}
	}

	var result ollamaChatResponse
	resp, err := o.client.R().
		SetContext(ctx).
		SetBody(req).
		ForceContentType("application/json").
		SetResult(&result).
		SetError(&result).
		Post("/api/chat")
	if err != nil {
		return "", fmt.Errorf("failed to call verifier: %w", err)
	}
	if resp.IsError() {
		if result.Error != "" {
			return "", fmt.Errorf("verifier returned %s: %s", resp.Status(), result.Error)
		}
		return "", fmt.Errorf("verifier returned %s", resp.Status())
	}
	return strings.TrimSpace(result.Message.Content), nil
}

// Model returns the configured model tag
func (o *OllamaVerifier) Model() string {
	return o.config.Model
}
