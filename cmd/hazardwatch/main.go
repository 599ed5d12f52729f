package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"hazardwatch/internal/api"
	"hazardwatch/internal/auth"
	"hazardwatch/internal/capture"
	"hazardwatch/internal/config"
	"hazardwatch/internal/database"
	"hazardwatch/internal/detection"
	"hazardwatch/internal/emitter"
	"hazardwatch/internal/logger"
	"hazardwatch/internal/metrics"
	"hazardwatch/internal/motion"
	"hazardwatch/internal/notify"
	"hazardwatch/internal/pipeline"
	"hazardwatch/internal/services"
	"hazardwatch/internal/stream"
	"hazardwatch/internal/telegram"
	"hazardwatch/internal/ws"
)

// errEndOfStream stops the process when the source is exhausted and
// exit_on_eos is set
var errEndOfStream = errors.New("end of stream")

func main() {
	// Define command line flags, add any other flag required to configure the
	// service.
	var (
		configF   = flag.String("config", "", "Path to the YAML configuration file")
		hostF     = flag.String("host", "", "HTTP listen host (overrides http.host)")
		httpPortF = flag.String("http-port", "", "HTTP port (overrides http.port)")
		grpcPortF = flag.String("grpc-port", "", "gRPC health port (overrides grpc.port)")
		dbgF      = flag.Bool("debug", false, "Log request and response bodies")
	)
	flag.Parse()

	cfg, err := config.Load(*configF)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hazardwatch: %v\n", err)
		os.Exit(1)
	}
	if err := applyFlags(cfg, *hostF, *httpPortF, *grpcPortF, *dbgF); err != nil {
		fmt.Fprintf(os.Stderr, "hazardwatch: %v\n", err)
		os.Exit(2)
	}

	log, err := logger.New(cfg.Service.LogLevel, cfg.Service.LogFormat, cfg.Service.Name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hazardwatch: failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("exited with error", zap.Error(err))
		log.Sync()
		os.Exit(1)
	}
	log.Info("exited")
}

func applyFlags(cfg *config.Config, host, httpPort, grpcPort string, debug bool) error {
	if host != "" {
		cfg.HTTP.Host = host
	}
	if httpPort != "" {
		p, err := strconv.Atoi(httpPort)
		if err != nil {
			return fmt.Errorf("invalid -http-port %q", httpPort)
		}
		cfg.HTTP.Port = p
	}
	if grpcPort != "" {
		p, err := strconv.Atoi(grpcPort)
		if err != nil {
			return fmt.Errorf("invalid -grpc-port %q", grpcPort)
		}
		cfg.GRPC.Port = p
	}
	if debug {
		cfg.HTTP.Debug = true
	}
	return cfg.Validate()
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	m := metrics.New()

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	db, err := database.New(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return err
	}

	authn, err := auth.NewAuthenticator(cfg.Auth)
	if err != nil {
		return fmt.Errorf("failed to initialize authentication: %w", err)
	}
	if authn.IsEnabled() {
		log.Info("Authentication enabled", zap.String("username", cfg.Auth.Username))
	} else {
		log.Warn("Authentication disabled, settings can be changed without a token")
	}

	// Shared state and runtime tuning
	state := pipeline.NewSharedFrameState()
	m.RegisterState(services.StateSample(state, time.Now))

	base := cfg.Tuning()
	tuning := pipeline.NewTuningStore(base)
	settingsSvc := services.NewSettingsService(db, tuning, base, log)
	if err := settingsSvc.Load(ctx); err != nil {
		return err
	}

	// Detection stack
	source, err := capture.New(ctx, cfg.Source, log)
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer source.Close()

	detector := detection.NewYOLODetector(cfg.Detector)
	if !cfg.Detector.SkipHealthCheck && !detector.IsHealthy(ctx) {
		log.Warn("Primary detector is not healthy yet, frames will be published without candidates until it is",
			zap.String("endpoint", cfg.Detector.Endpoint))
	}

	var heuristic pipeline.Heuristic
	if cfg.Fall.Enabled {
		heuristic = motion.NewFallHeuristic(cfg.Fall.Config)
	}
	verifier := detection.NewOllamaVerifier(cfg.Verifier)

	// Alert channels
	bot := telegram.NewTelegramBot(cfg.Telegram.Config)
	channels := []notify.Channel{{Name: "telegram", Notifier: bot}}
	if cfg.MQTT.Enabled {
		mq := emitter.NewMQTTEmitter(cfg.MQTT, log)
		if err := mq.Connect(ctx); err != nil {
			log.Warn("MQTT broker unreachable, will keep retrying", zap.Error(err))
		}
		defer mq.Disconnect()
		channels = append(channels, notify.Channel{Name: "mqtt", Notifier: mq})
	}
	if cfg.Alarm.Enabled {
		channels = append(channels, notify.Channel{Name: "alarm", Notifier: notify.NewCommandHook(cfg.Alarm.CommandConfig, log)})
	}
	fanout := notify.NewFanout(log, m, cfg.Alerts.NotifyTimeout, channels...)
	log.Info("Alert channels configured", zap.Strings("channels", fanout.Channels()), zap.Bool("telegram", bot.IsEnabled()))

	// Display
	hub := ws.NewHub(log)
	display := stream.NewServer(state, cfg.Display.Config, log, m)
	display.AddFrameListener(hub.BroadcastState)

	alertSvc := services.NewAlertService(db, log)
	onAlert := func(a pipeline.Alert) {
		hub.BroadcastAlert(a)
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		alertSvc.Record(rctx, a)
	}

	captureLoop := pipeline.NewCaptureLoop(source, detector, heuristic, state, tuning, log,
		pipeline.WithCaptureMetrics(m),
		pipeline.WithAnnotator(stream.NewOverlay(tuning, cfg.Display.MinConfidence)))
	verificationLoop := pipeline.NewVerificationLoop(cfg.VerificationConfig(), state, verifier, fanout, tuning, log,
		pipeline.WithVerificationMetrics(m),
		pipeline.WithAlertHook(onAlert))

	healthSvc := services.NewHealthService(state, db, log)

	// Operator API
	apiServer := api.New(api.Services{
		Health:        healthSvc,
		Status:        services.NewStatusService(state, m),
		Settings:      settingsSvc,
		Notifications: services.NewNotificationService(fanout),
		Auth:          services.NewAuthService(authn),
		Alerts:        alertSvc,
	}, authn, logger.StdLogger(log, "http"), cfg.HTTP.Debug)
	if cfg.Display.Enabled {
		apiServer.MountRaw("/stream.mjpg", display)
		apiServer.MountRaw("/snapshot.jpg", display.SnapshotHandler())
		apiServer.MountRaw("/ws/state", ws.NewHandler(hub))
	}
	apiServer.MountRaw("/metrics", m.Handler())

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := captureLoop.Run(gctx)
		if err != nil {
			return ignoreCanceled(err)
		}
		healthSvc.MarkCaptureEnded()
		if cfg.Service.ExitOnEOS {
			return errEndOfStream
		}
		log.Info("Source exhausted, API stays up until shutdown")
		return nil
	})
	g.Go(func() error {
		return ignoreCanceled(verificationLoop.Run(gctx))
	})
	if cfg.Display.Enabled {
		g.Go(func() error {
			return ignoreCanceled(display.Run(gctx))
		})
	}
	g.Go(func() error {
		return healthSvc.Watch(gctx, time.Second)
	})
	if cfg.Alerts.Retention > 0 {
		g.Go(func() error {
			return alertSvc.RunRetention(gctx, cfg.Alerts.Retention, time.Hour)
		})
	}
	if cfg.Telegram.Commands && bot.IsEnabled() {
		commands := telegram.NewCommandHandler(bot, state, log)
		g.Go(func() error {
			if err := commands.StartPolling(gctx); err != nil {
				log.Warn("Telegram command polling stopped", zap.Error(err))
			}
			return nil
		})
	}

	httpAddr := net.JoinHostPort(cfg.HTTP.Host, strconv.Itoa(cfg.HTTP.Port))
	g.Go(func() error {
		return serveHTTP(gctx, httpAddr, apiServer, cfg.Service.ShutdownTimeout, log)
	})
	if cfg.GRPC.Enabled {
		grpcAddr := net.JoinHostPort(cfg.HTTP.Host, strconv.Itoa(cfg.GRPC.Port))
		g.Go(func() error {
			return serveGRPC(gctx, grpcAddr, healthSvc, log)
		})
	}

	log.Info("hazardwatch started",
		zap.String("source", cfg.Source.URL),
		zap.String("http", httpAddr),
		zap.Bool("fall_heuristic", cfg.Fall.Enabled))

	err = g.Wait()
	if errors.Is(err, errEndOfStream) {
		log.Info("Source exhausted, shutting down")
		return nil
	}
	return err
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
