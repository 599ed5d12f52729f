package emitter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"hazardwatch/internal/pipeline"
)

// ErrNotConnected is returned while the broker connection is down
var ErrNotConnected = errors.New("mqtt not connected")

// Config holds the MQTT notifier settings
type Config struct {
	Enabled        bool          `yaml:"enabled"`
	Broker         string        `yaml:"broker"` // host:port
	ClientID       string        `yaml:"client_id"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	Topic          string        `yaml:"topic"`
	QoS            byte          `yaml:"qos"`
	Retained       bool          `yaml:"retained"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
}

// publisher is the part of mqtt.Client the emitter needs
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTEmitter publishes alerts to an MQTT broker. Text alerts go to Topic
// as a JSON envelope; alert images go to Topic/image as raw JPEG bytes.
type MQTTEmitter struct {
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	mu        sync.RWMutex
	client    mqtt.Client
	pub       publisher
	connected bool
	published map[string]uint64
	errors    uint64
}

var _ pipeline.Notifier = (*MQTTEmitter)(nil)

// NewMQTTEmitter creates an emitter; call Connect before publishing
func NewMQTTEmitter(cfg Config, logger *zap.Logger) *MQTTEmitter {
	if cfg.ClientID == "" {
		cfg.ClientID = "hazardwatch-" + uuid.NewString()[:8]
	}
	if cfg.Topic == "" {
		cfg.Topic = "hazardwatch/alerts"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 2 * time.Second
	}
	return &MQTTEmitter{
		cfg:       cfg,
		logger:    logger.Named("mqtt"),
		now:       time.Now,
		published: make(map[string]uint64),
	}
}

// Connect establishes the broker connection with automatic reconnects
func (e *MQTTEmitter) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", e.cfg.Broker))
	opts.SetClientID(e.cfg.ClientID)
	if e.cfg.Username != "" {
		opts.SetUsername(e.cfg.Username)
		opts.SetPassword(e.cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		e.setConnected(true)
		e.logger.Info("MQTT connection established",
			zap.String("broker", e.cfg.Broker),
			zap.String("client_id", e.cfg.ClientID))
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.setConnected(false)
		e.logger.Warn("MQTT connection lost, will auto-reconnect",
			zap.String("broker", e.cfg.Broker),
			zap.Error(err))
	}

	client := mqtt.NewClient(opts)
	e.mu.Lock()
	e.client = client
	e.pub = client
	e.mu.Unlock()

	e.logger.Info("Connecting to MQTT broker", zap.String("broker", e.cfg.Broker))
	token := client.Connect()
	select {
	case <-token.Done():
	case <-time.After(e.cfg.ConnectTimeout):
		return fmt.Errorf("mqtt connection timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}
	e.setConnected(true)
	return nil
}

// SendText publishes an alert envelope
func (e *MQTTEmitter) SendText(ctx context.Context, message string) error {
	payload, err := e.envelope("alert", map[string]any{"message": message})
	if err != nil {
		return err
	}
	return e.publish(ctx, e.cfg.Topic, payload)
}

// SendImage publishes the image bytes, then an envelope describing them
func (e *MQTTEmitter) SendImage(ctx context.Context, path string, caption string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read alert image: %w", err)
	}
	imageTopic := e.cfg.Topic + "/image"
	if err := e.publish(ctx, imageTopic, data); err != nil {
		return err
	}

	payload, err := e.envelope("image", map[string]any{
		"caption": caption,
		"topic":   imageTopic,
		"bytes":   len(data),
	})
	if err != nil {
		return err
	}
	return e.publish(ctx, e.cfg.Topic, payload)
}

func (e *MQTTEmitter) envelope(kind string, fields map[string]any) ([]byte, error) {
	body := map[string]any{
		"id":        uuid.NewString(),
		"type":      kind,
		"timestamp": e.now().UTC().Format(time.RFC3339Nano),
	}
	for k, v := range fields {
		body[k] = v
	}
	msg, err := structpb.NewStruct(body)
	if err != nil {
		return nil, fmt.Errorf("failed to build alert envelope: %w", err)
	}
	payload, err := protojson.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal alert envelope: %w", err)
	}
	return payload, nil
}

func (e *MQTTEmitter) publish(ctx context.Context, topic string, payload []byte) error {
	e.mu.RLock()
	pub, connected := e.pub, e.connected
	e.mu.RUnlock()
	if pub == nil || !connected {
		e.countError()
		return ErrNotConnected
	}

	token := pub.Publish(topic, e.cfg.QoS, e.cfg.Retained, payload)
	select {
	case <-token.Done():
	case <-time.After(e.cfg.PublishTimeout):
		e.countError()
		return fmt.Errorf("publish timeout")
	case <-ctx.Done():
		e.countError()
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		e.countError()
		return fmt.Errorf("publish failed: %w", err)
	}

	e.mu.Lock()
	e.published[topic]++
	e.mu.Unlock()

	e.logger.Debug("Alert published", zap.String("topic", topic), zap.Int("size", len(payload)))
	return nil
}

// Disconnect closes the broker connection
func (e *MQTTEmitter) Disconnect() {
	e.mu.Lock()
	client := e.client
	e.connected = false
	e.mu.Unlock()

	if client != nil && client.IsConnected() {
		client.Disconnect(250)
		e.logger.Info("MQTT disconnected")
	}
}

// Stats contains emitter statistics
type Stats struct {
	Connected bool
	Published map[string]uint64
	Errors    uint64
}

// Stats returns emitter statistics
func (e *MQTTEmitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	published := make(map[string]uint64, len(e.published))
	for k, v := range e.published {
		published[k] = v
	}
	return Stats{Connected: e.connected, Published: published, Errors: e.errors}
}

func (e *MQTTEmitter) setConnected(v bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.connected = v
}

func (e *MQTTEmitter) countError() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errors++
}
