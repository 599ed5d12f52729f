package notify

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"hazardwatch/internal/pipeline"
)

// Environment variables passed to the alarm command
const (
	EnvAlertMessage = "HAZARDWATCH_ALERT_MESSAGE"
	EnvAlertImage   = "HAZARDWATCH_ALERT_IMAGE"
)

// CommandConfig configures the local alarm command
type CommandConfig struct {
	Command []string      `yaml:"command"` // argv, e.g. ["paplay", "/usr/share/sounds/alarm.oga"]
	Timeout time.Duration `yaml:"timeout"`
	OnImage bool          `yaml:"on_image"` // also run when the alert image is ready
}

// CommandHook runs a local command for every alert, such as playing an
// alarm sound on the host.
type CommandHook struct {
	cfg    CommandConfig
	logger *zap.Logger
}

var _ pipeline.Notifier = (*CommandHook)(nil)

// NewCommandHook creates a command notifier
func NewCommandHook(cfg CommandConfig, logger *zap.Logger) *CommandHook {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &CommandHook{cfg: cfg, logger: logger.Named("alarm")}
}

// SendText runs the command with the alert message in its environment
func (h *CommandHook) SendText(ctx context.Context, message string) error {
	return h.run(ctx, EnvAlertMessage+"="+message)
}

// SendImage runs the command with the image path when OnImage is set
func (h *CommandHook) SendImage(ctx context.Context, path string, caption string) error {
	if !h.cfg.OnImage {
		return nil
	}
	return h.run(ctx, EnvAlertImage+"="+path, EnvAlertMessage+"="+caption)
}

func (h *CommandHook) run(ctx context.Context, env ...string) error {
	if len(h.cfg.Command) == 0 {
		return fmt.Errorf("alarm command not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, h.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, h.cfg.Command[0], h.cfg.Command[1:]...)
	cmd.Env = append(os.Environ(), env...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("alarm command failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	h.logger.Debug("Alarm command finished", zap.Strings("command", h.cfg.Command))
	return nil
}
