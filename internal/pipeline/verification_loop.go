package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"hazardwatch/internal/metrics"
	"hazardwatch/internal/timeutil"
)

// DefaultPollInterval is how often the verification loop inspects the state
const DefaultPollInterval = time.Second

// DefaultAlertImagePath is where the latest alert image is written
const DefaultAlertImagePath = "./data/alert.jpg"

// DefaultAlertCaption accompanies the alert image
const DefaultAlertCaption = "🚨 📷 Image of the situation"

// TickOutcome describes what a single verification tick did
type TickOutcome string

const (
	TickNoFrame       TickOutcome = "no_frame"
	TickNoCandidate   TickOutcome = "no_candidate"
	TickSuppressed    TickOutcome = "suppressed"
	TickInFlight      TickOutcome = "in_flight"
	TickBackoff       TickOutcome = "backoff"
	TickExhausted     TickOutcome = "attempts_exhausted"
	TickEncodeError   TickOutcome = "encode_error"
	TickVerifierError TickOutcome = "verifier_error"
	TickRejected      TickOutcome = "rejected"
	TickAlerted       TickOutcome = "alerted"
)

// VerificationConfig holds the static settings of the verification loop
type VerificationConfig struct {
	PollInterval   time.Duration // Tick period
	AlertImagePath string        // Alert image destination, overwritten on each alert
	AlertCaption   string        // Caption sent with the alert image
	JPEGQuality    int           // Encoding quality for frames without source JPEG
	VerifyTimeout  time.Duration // Upper bound for one verifier call, 0 for none
	NotifyTimeout  time.Duration // Upper bound for each notification, 0 for none
}

// Alert describes a confirmed event
type Alert struct {
	Conditions []Condition
	Episode    uint64
	FrameSeq   uint64
	Response   string
	At         time.Time
	ImagePath  string
}

// VerificationLoop is the consumer side of the pipeline. On each tick it
// checks the gates, asks the verifier about the latest candidate frame and
// raises an alert when the answer confirms a condition.
type VerificationLoop struct {
	config   VerificationConfig
	state    *SharedFrameState
	verifier Verifier
	notifier Notifier
	tuning   *TuningStore
	cooldown *AlertCooldown
	clock    timeutil.Clock
	metrics  *metrics.Metrics
	logger   *zap.Logger
	onAlert  func(Alert)

	lastAttempt     time.Time
	attemptsEpisode uint64
	attempts        int
}

// VerificationOption customizes a VerificationLoop
type VerificationOption func(*VerificationLoop)

// WithVerificationClock replaces the wall clock
func WithVerificationClock(c timeutil.Clock) VerificationOption {
	return func(l *VerificationLoop) { l.clock = c }
}

// WithVerificationMetrics records outcomes into m
func WithVerificationMetrics(m *metrics.Metrics) VerificationOption {
	return func(l *VerificationLoop) { l.metrics = m }
}

// WithAlertHook registers fn to be called after every dispatched alert
func WithAlertHook(fn func(Alert)) VerificationOption {
	return func(l *VerificationLoop) { l.onAlert = fn }
}

// NewVerificationLoop creates the consumer loop
func NewVerificationLoop(config VerificationConfig, state *SharedFrameState, verifier Verifier, notifier Notifier, tuning *TuningStore, logger *zap.Logger, opts ...VerificationOption) *VerificationLoop {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.AlertImagePath == "" {
		config.AlertImagePath = DefaultAlertImagePath
	}
	if config.AlertCaption == "" {
		config.AlertCaption = DefaultAlertCaption
	}
	if config.JPEGQuality <= 0 {
		config.JPEGQuality = DefaultJPEGQuality
	}

	l := &VerificationLoop{
		config:   config,
		state:    state,
		verifier: verifier,
		notifier: notifier,
		tuning:   tuning,
		cooldown: NewAlertCooldown(tuning.Load().Cooldown),
		clock:    timeutil.RealClock{},
		logger:   logger.Named("verification"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run ticks every poll interval until ctx is cancelled
func (l *VerificationLoop) Run(ctx context.Context) error {
	ticker := l.clock.NewTicker(l.config.PollInterval)
	defer ticker.Stop()

	l.logger.Info("verification loop started", zap.Duration("poll_interval", l.config.PollInterval))
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("verification loop stopped")
			return ctx.Err()
		case <-ticker.C():
			l.Tick(ctx)
		}
	}
}

// Tick runs one polling step and reports what it did
func (l *VerificationLoop) Tick(ctx context.Context) TickOutcome {
	now := l.clock.Now()
	snap := l.state.Snapshot()
	tuning := l.tuning.Load()

	switch {
	case !snap.Published:
		return TickNoFrame
	case !snap.Candidate():
		return TickNoCandidate
	case l.cooldown.Suppressed(now):
		return TickSuppressed
	case snap.VerificationInFlight:
		return TickInFlight
	}

	if snap.Episode != l.attemptsEpisode {
		l.attemptsEpisode = snap.Episode
		l.attempts = 0
	}
	if tuning.MaxAttemptsPerEpisode > 0 && l.attempts >= tuning.MaxAttemptsPerEpisode {
		return TickExhausted
	}
	if !l.lastAttempt.IsZero() && now.Sub(l.lastAttempt) < tuning.MinRetryInterval {
		return TickBackoff
	}

	snap, ok := l.state.TryBeginVerification()
	if !ok {
		if !snap.Candidate() {
			return TickNoCandidate
		}
		return TickInFlight
	}
	defer l.state.EndVerification()

	l.attempts++
	l.lastAttempt = now
	return l.verify(ctx, snap, tuning)
}

func (l *VerificationLoop) verify(ctx context.Context, snap Snapshot, tuning Tuning) TickOutcome {
	log := l.logger.With(zap.Uint64("episode", snap.Episode), zap.Uint64("seq", snap.Frame.Seq))

	img, err := EncodeJPEG(snap.Frame, l.config.JPEGQuality)
	if err != nil {
		l.metrics.Verification(metrics.OutcomeEncodeError, 0)
		log.Warn("failed to encode candidate frame", zap.Error(err))
		return TickEncodeError
	}

	vctx, cancel := withOptionalTimeout(ctx, l.config.VerifyTimeout)
	started := l.clock.Now()
	response, err := l.verifier.Verify(vctx, img, tuning.Prompt)
	cancel()
	elapsed := l.clock.Since(started).Seconds()
	if err != nil {
		l.metrics.Verification(metrics.OutcomeError, elapsed)
		log.Warn("verifier call failed", zap.Error(err))
		return TickVerifierError
	}

	confirmed := NewKeywordClassifier(tuning.Synonyms).Classify(response)
	if len(confirmed) == 0 {
		l.metrics.Verification(metrics.OutcomeRejected, elapsed)
		log.Info("verifier did not confirm candidate",
			zap.Bool("primary", snap.PrimaryCandidate),
			zap.Bool("heuristic", snap.HeuristicCandidate),
			zap.String("response", truncate(response, 200)))
		return TickRejected
	}
	l.metrics.Verification(metrics.OutcomeConfirmed, elapsed)

	alert := Alert{
		Conditions: confirmed,
		Episode:    snap.Episode,
		FrameSeq:   snap.Frame.Seq,
		Response:   response,
		At:         l.clock.Now(),
		ImagePath:  l.config.AlertImagePath,
	}
	l.dispatch(ctx, alert, img, log)

	l.cooldown.SetDuration(tuning.Cooldown)
	deadline := l.cooldown.Trigger(l.clock.Now())
	l.state.SetCooldownUntil(deadline)
	// the episode gets a fresh budget once the cooldown expires
	l.attempts = 0
	l.lastAttempt = time.Time{}
	l.metrics.Alert()
	log.Info("alert raised", zap.Strings("conditions", conditionNames(confirmed)), zap.Time("cooldown_until", deadline))

	if l.onAlert != nil {
		l.onAlert(alert)
	}
	return TickAlerted
}

// dispatch writes the alert image and sends both notifications. Every
// step is attempted regardless of earlier failures.
func (l *VerificationLoop) dispatch(ctx context.Context, alert Alert, img []byte, log *zap.Logger) {
	imageErr := writeFileAtomic(alert.ImagePath, img)
	if imageErr != nil {
		log.Error("failed to write alert image", zap.String("path", alert.ImagePath), zap.Error(imageErr))
	}

	message := ComposeAlertMessage(alert.Conditions, alert.At)

	nctx, cancel := withOptionalTimeout(ctx, l.config.NotifyTimeout)
	if err := l.notifier.SendText(nctx, message); err != nil {
		log.Warn("failed to send alert message", zap.Error(err))
	} else {
		log.Info("alert message sent")
	}
	cancel()

	if imageErr != nil {
		return
	}
	nctx, cancel = withOptionalTimeout(ctx, l.config.NotifyTimeout)
	defer cancel()
	if err := l.notifier.SendImage(nctx, alert.ImagePath, l.config.AlertCaption); err != nil {
		log.Warn("failed to send alert image", zap.Error(err))
	} else {
		log.Info("alert image sent")
	}
}

// CooldownDeadline returns the current suppression deadline
func (l *VerificationLoop) CooldownDeadline() time.Time {
	return l.cooldown.Deadline()
}

// ComposeAlertMessage builds the human readable alert text naming every
// confirmed condition.
func ComposeAlertMessage(conditions []Condition, at time.Time) string {
	var b strings.Builder
	b.WriteString("🚨 Hazard detected! 🚨\n")
	for _, c := range conditions {
		switch c {
		case ConditionFire:
			b.WriteString("🔥 Fire confirmed\n")
		case ConditionFall:
			b.WriteString("🧍 Fall confirmed\n")
		default:
			fmt.Fprintf(&b, "⚠️ %s confirmed\n", c)
		}
	}
	fmt.Fprintf(&b, "🕐 %s", at.Format("2006-01-02 15:04:05"))
	return b.String()
}

func conditionNames(cs []Condition) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = string(c)
	}
	return out
}

func withOptionalTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create alert directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".alert-*.jpg")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write alert image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close alert image: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to move alert image into place: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
