package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"hazardwatch/internal/auth"
	"hazardwatch/internal/capture"
	"hazardwatch/internal/detection"
	"hazardwatch/internal/emitter"
	"hazardwatch/internal/motion"
	"hazardwatch/internal/notify"
	"hazardwatch/internal/pipeline"
	"hazardwatch/internal/stream"
	"hazardwatch/internal/telegram"
)

// Config is the complete service configuration
type Config struct {
	Service  ServiceConfig          `yaml:"service"`
	HTTP     HTTPConfig             `yaml:"http"`
	GRPC     GRPCConfig             `yaml:"grpc"`
	Source   capture.Config         `yaml:"source"`
	Detector detection.YOLOConfig   `yaml:"detector"`
	Verifier detection.OllamaConfig `yaml:"verifier"`
	Pipeline PipelineConfig         `yaml:"pipeline"`
	Fall     FallConfig             `yaml:"fall"`
	Alerts   AlertsConfig           `yaml:"alerts"`
	Display  DisplayConfig          `yaml:"display"`
	Telegram TelegramConfig         `yaml:"telegram"`
	MQTT     emitter.Config         `yaml:"mqtt"`
	Alarm    AlarmConfig            `yaml:"alarm"`
	Database DatabaseConfig         `yaml:"database"`
	Auth     auth.Config            `yaml:"auth"`
}

// ServiceConfig contains process level settings
type ServiceConfig struct {
	Name            string        `yaml:"name"`
	LogLevel        string        `yaml:"log_level"`  // debug, info, warn, error
	LogFormat       string        `yaml:"log_format"` // json or console
	ExitOnEOS       bool          `yaml:"exit_on_eos"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// HTTPConfig configures the operator API
type HTTPConfig struct {
	Host  string `yaml:"host"`
	Port  int    `yaml:"port"`
	Debug bool   `yaml:"debug"` // dump request and response bodies
}

// GRPCConfig configures the health server
type GRPCConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// PipelineConfig holds the detection and verification parameters
type PipelineConfig struct {
	MonitoredClassID      int                 `yaml:"monitored_class_id"`
	ConfidenceThreshold   float32             `yaml:"confidence_threshold"`
	Cooldown              time.Duration       `yaml:"cooldown"`
	PollInterval          time.Duration       `yaml:"poll_interval"`
	Prompt                string              `yaml:"prompt"`
	Synonyms              map[string][]string `yaml:"synonyms"`
	MinRetryInterval      time.Duration       `yaml:"min_retry_interval"`
	MaxAttemptsPerEpisode int                 `yaml:"max_attempts_per_episode"`
	VerifyTimeout         time.Duration       `yaml:"verify_timeout"`
}

// FallConfig enables and tunes the fall heuristic
type FallConfig struct {
	motion.Config `yaml:",inline"`

	Enabled bool `yaml:"enabled"`
}

// AlertsConfig controls alert dispatch
type AlertsConfig struct {
	ImagePath     string        `yaml:"image_path"`
	Caption       string        `yaml:"caption"`
	JPEGQuality   int           `yaml:"jpeg_quality"`
	NotifyTimeout time.Duration `yaml:"notify_timeout"`
	Retention     time.Duration `yaml:"retention"` // alert history kept in the database, 0 keeps everything
}

// DisplayConfig configures the annotated stream
type DisplayConfig struct {
	stream.Config `yaml:",inline"`

	Enabled       bool    `yaml:"enabled"`
	MinConfidence float32 `yaml:"min_confidence"` // boxes below are not drawn
}

// TelegramConfig adds command polling to the bot settings
type TelegramConfig struct {
	telegram.Config `yaml:",inline"`

	Commands bool `yaml:"commands"` // answer /status and /snapshot
}

// AlarmConfig configures the local alarm command
type AlarmConfig struct {
	notify.CommandConfig `yaml:",inline"`

	Enabled bool `yaml:"enabled"`
}

// DatabaseConfig configures the settings store
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:            "hazardwatch",
			LogLevel:        "info",
			LogFormat:       "json",
			ShutdownTimeout: 10 * time.Second,
		},
		HTTP: HTTPConfig{Host: "0.0.0.0", Port: 8080},
		GRPC: GRPCConfig{Enabled: true, Port: 9090},
		Source: capture.Config{
			Kind:    capture.KindFFmpeg,
			URL:     "/dev/video0",
			Timeout: 10 * time.Second,
		},
		Detector: detection.YOLOConfig{
			Endpoint:         "http://localhost:8081",
			Timeout:          15 * time.Second,
			RequestThreshold: 0.25,
		},
		Verifier: detection.OllamaConfig{
			Endpoint: "http://localhost:11434",
			Model:    detection.DefaultVerifierModel,
			Timeout:  2 * time.Minute,
		},
		Pipeline: PipelineConfig{
			MonitoredClassID:    0,
			ConfidenceThreshold: pipeline.DefaultConfidenceThreshold,
			Cooldown:            pipeline.DefaultCooldown,
			PollInterval:        pipeline.DefaultPollInterval,
			Prompt:              pipeline.DefaultPrompt,
		},
		Fall: FallConfig{Enabled: true, Config: motion.DefaultConfig()},
		Alerts: AlertsConfig{
			ImagePath:     pipeline.DefaultAlertImagePath,
			Caption:       pipeline.DefaultAlertCaption,
			JPEGQuality:   pipeline.DefaultJPEGQuality,
			NotifyTimeout: 30 * time.Second,
			Retention:     30 * 24 * time.Hour,
		},
		Display: DisplayConfig{
			Enabled:       true,
			MinConfidence: 0.25,
			Config:        stream.Config{FPS: stream.DefaultDisplayFPS, Quality: pipeline.DefaultJPEGQuality},
		},
		MQTT: emitter.Config{
			Broker: "localhost:1883",
			Topic:  "hazardwatch/alerts",
			QoS:    1,
		},
		Database: DatabaseConfig{Path: "./data/hazardwatch.db"},
		Auth:     auth.Config{Username: "admin", TokenExpiry: 24 * time.Hour},
	}
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ApplyEnv applies environment overrides using lookup
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []string
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = b
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = n
		}
	}

	str("HAZARDWATCH_LOG_LEVEL", &c.Service.LogLevel)
	str("HAZARDWATCH_LOG_FORMAT", &c.Service.LogFormat)
	boolean("HAZARDWATCH_EXIT_ON_EOS", &c.Service.ExitOnEOS)
	integer("HAZARDWATCH_HTTP_PORT", &c.HTTP.Port)
	integer("HAZARDWATCH_GRPC_PORT", &c.GRPC.Port)
	str("HAZARDWATCH_SOURCE_KIND", &c.Source.Kind)
	str("HAZARDWATCH_SOURCE_URL", &c.Source.URL)
	str("HAZARDWATCH_YOLO_ENDPOINT", &c.Detector.Endpoint)
	str("HAZARDWATCH_OLLAMA_ENDPOINT", &c.Verifier.Endpoint)
	str("HAZARDWATCH_OLLAMA_MODEL", &c.Verifier.Model)
	str("HAZARDWATCH_DB_PATH", &c.Database.Path)
	str("HAZARDWATCH_ALERT_IMAGE_PATH", &c.Alerts.ImagePath)
	str("HAZARDWATCH_MQTT_BROKER", &c.MQTT.Broker)
	boolean("HAZARDWATCH_MQTT_ENABLED", &c.MQTT.Enabled)

	token, hasToken := lookup("TELEGRAM_BOT_TOKEN")
	chatID, hasChat := lookup("TELEGRAM_CHAT_ID")
	if hasToken && token != "" {
		c.Telegram.BotToken = token
	}
	if hasChat && chatID != "" {
		c.Telegram.ChatID = chatID
	}
	if token != "" && chatID != "" {
		c.Telegram.Enabled = true
	}
	boolean("TELEGRAM_ENABLED", &c.Telegram.Enabled)

	boolean("AUTH_ENABLED", &c.Auth.Enabled)
	str("AUTH_USERNAME", &c.Auth.Username)
	str("AUTH_PASSWORD", &c.Auth.Password)
	str("JWT_SECRET", &c.Auth.JWTSecret)
	if v, ok := lookup("JWT_EXPIRY"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("JWT_EXPIRY: %v", err))
		} else {
			c.Auth.TokenExpiry = d
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Validate checks the configuration for values the service cannot run with
func (c *Config) Validate() error {
	switch c.Source.Kind {
	case capture.KindFFmpeg, capture.KindDirectory, capture.KindHTTP:
	default:
		return fmt.Errorf("source.kind must be one of ffmpeg, directory, http; got %q", c.Source.Kind)
	}
	if c.Source.URL == "" {
		return fmt.Errorf("source.url is required")
	}
	if c.Source.FPS < 0 {
		return fmt.Errorf("source.fps must be >= 0")
	}
	if c.Detector.Endpoint == "" {
		return fmt.Errorf("detector.endpoint is required")
	}
	if c.Verifier.Endpoint == "" {
		return fmt.Errorf("verifier.endpoint is required")
	}

	p := c.Pipeline
	if p.ConfidenceThreshold < 0 || p.ConfidenceThreshold >= 1 {
		return fmt.Errorf("pipeline.confidence_threshold must be in [0, 1)")
	}
	if p.Cooldown <= 0 {
		return fmt.Errorf("pipeline.cooldown must be > 0")
	}
	if p.PollInterval <= 0 {
		return fmt.Errorf("pipeline.poll_interval must be > 0")
	}
	if strings.TrimSpace(p.Prompt) == "" {
		return fmt.Errorf("pipeline.prompt is required")
	}
	if p.MinRetryInterval < 0 || p.MaxAttemptsPerEpisode < 0 {
		return fmt.Errorf("pipeline retry limits must be >= 0")
	}
	for cond, terms := range p.Synonyms {
		if len(terms) == 0 {
			return fmt.Errorf("pipeline.synonyms.%s must not be empty", cond)
		}
	}

	if c.Fall.Enabled {
		f := c.Fall.Config
		if f.GridWidth <= 0 || f.GridHeight <= 0 || f.FallFrames <= 0 {
			return fmt.Errorf("fall grid and fall_frames must be > 0")
		}
		if f.LearningRate <= 0 || f.LearningRate > 1 {
			return fmt.Errorf("fall.learning_rate must be in (0, 1]")
		}
	}

	if c.Alerts.ImagePath == "" {
		return fmt.Errorf("alerts.image_path is required")
	}
	if q := c.Alerts.JPEGQuality; q < 1 || q > 100 {
		return fmt.Errorf("alerts.jpeg_quality must be in [1, 100]")
	}
	if c.Alerts.Retention < 0 {
		return fmt.Errorf("alerts.retention must be >= 0")
	}

	if err := telegram.ValidateConfig(c.Telegram.Config); err != nil {
		return err
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	if c.Alarm.Enabled && len(c.Alarm.Command) == 0 {
		return fmt.Errorf("alarm.command is required when the alarm is enabled")
	}
	if c.Auth.Enabled && c.Auth.Password == "" {
		return fmt.Errorf("auth.password is required when auth is enabled")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be a valid port")
	}
	if c.GRPC.Enabled && (c.GRPC.Port <= 0 || c.GRPC.Port > 65535) {
		return fmt.Errorf("grpc.port must be a valid port")
	}
	return nil
}

// Tuning returns the runtime-changeable parameters
func (c *Config) Tuning() pipeline.Tuning {
	t := pipeline.DefaultTuning()
	p := c.Pipeline
	t.MonitoredClassID = p.MonitoredClassID
	t.ConfidenceThreshold = p.ConfidenceThreshold
	t.Cooldown = p.Cooldown
	t.Prompt = p.Prompt
	t.MinRetryInterval = p.MinRetryInterval
	t.MaxAttemptsPerEpisode = p.MaxAttemptsPerEpisode
	if len(p.Synonyms) > 0 {
		t.Synonyms = make(map[pipeline.Condition][]string, len(p.Synonyms))
		for cond, terms := range p.Synonyms {
			t.Synonyms[pipeline.Condition(cond)] = append([]string(nil), terms...)
		}
	}
	return t
}

// VerificationConfig returns the verification loop settings
func (c *Config) VerificationConfig() pipeline.VerificationConfig {
	return pipeline.VerificationConfig{
		PollInterval:   c.Pipeline.PollInterval,
		AlertImagePath: c.Alerts.ImagePath,
		AlertCaption:   c.Alerts.Caption,
		JPEGQuality:    c.Alerts.JPEGQuality,
		VerifyTimeout:  c.Pipeline.VerifyTimeout,
		NotifyTimeout:  c.Alerts.NotifyTimeout,
	}
}
