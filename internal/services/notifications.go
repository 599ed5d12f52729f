package services

import (
	"context"
	"fmt"
	"time"

	"hazardwatch/internal/notify"
)

// Prober sends a message on each channel and reports per-channel results
type Prober interface {
	Probe(ctx context.Context, message string) []notify.ChannelResult
}

// NotificationTestResult reports a test notification
type NotificationTestResult struct {
	Success  bool                   `json:"success"`
	Message  string                 `json:"message"`
	Channels []notify.ChannelResult `json:"channels"`
}

// NotificationService exercises the alert channels
type NotificationService struct {
	prober Prober
	now    func() time.Time
}

// NewNotificationService creates the notification service
func NewNotificationService(prober Prober) *NotificationService {
	return &NotificationService{prober: prober, now: time.Now}
}

// Test sends a test message on every enabled channel
func (n *NotificationService) Test(ctx context.Context) (*NotificationTestResult, error) {
	msg := fmt.Sprintf("🧪 hazardwatch test notification\n⏰ %s", n.now().Format("2006-01-02 15:04:05"))
	results := n.prober.Probe(ctx, msg)

	sent, failed := 0, 0
	for _, r := range results {
		switch {
		case !r.Enabled:
		case r.Error != "":
			failed++
		default:
			sent++
		}
	}

	res := &NotificationTestResult{Channels: results}
	switch {
	case sent == 0 && failed == 0:
		res.Message = "No notification channel is enabled"
	case failed > 0:
		res.Message = fmt.Sprintf("Test notification failed on %d of %d channels", failed, sent+failed)
	default:
		res.Success = true
		res.Message = "Test notification sent successfully"
	}
	return res, nil
}
