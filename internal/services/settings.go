package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"hazardwatch/internal/config"
	"hazardwatch/internal/database"
	"hazardwatch/internal/pipeline"
)

// SettingsStore persists runtime overrides
type SettingsStore interface {
	SaveSetting(ctx context.Context, key, value string) error
	ListSettings(ctx context.Context) (map[string]string, error)
	DeleteSetting(ctx context.Context, key string) error
}

// SettingsResult is the effective tuning plus the keys that override the
// configured values
type SettingsResult struct {
	Tuning     pipeline.Tuning   `json:"tuning"`
	Settings   map[string]string `json:"settings"`
	Overridden []string          `json:"overridden"`
}

// SettingsService changes pipeline tuning at runtime. Changes are applied
// to the tuning store the loops read on every frame and tick, and are
// persisted so they survive restarts.
type SettingsService struct {
	mu        sync.Mutex
	store     SettingsStore
	tuning    *pipeline.TuningStore
	base      pipeline.Tuning
	overrides map[string]string
	logger    *zap.Logger
}

// NewSettingsService creates a settings service. base is the configured
// tuning that overrides are layered on.
func NewSettingsService(store SettingsStore, tuning *pipeline.TuningStore, base pipeline.Tuning, logger *zap.Logger) *SettingsService {
	return &SettingsService{
		store:     store,
		tuning:    tuning,
		base:      base,
		overrides: make(map[string]string),
		logger:    logger.Named("settings"),
	}
}

// Load applies the persisted overrides. Entries that no longer validate
// are skipped and logged.
func (s *SettingsService) Load(ctx context.Context) error {
	stored, err := s.store.ListSettings(ctx)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(stored))
	for k := range stored {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	t := s.base
	for _, key := range keys {
		next, err := config.ApplyOverrides(t, map[string]string{key: stored[key]})
		if err != nil {
			s.logger.Warn("Ignoring stored setting", zap.String("key", key), zap.Error(err))
			continue
		}
		t = next
		s.overrides[key] = stored[key]
	}
	s.tuning.Store(t)

	if len(s.overrides) > 0 {
		s.logger.Info("Loaded settings from database", zap.Int("count", len(s.overrides)))
	}
	return nil
}

// Get returns the effective settings
func (s *SettingsService) Get(ctx context.Context) (*SettingsResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result(), nil
}

// Update validates and applies kv, then persists it. Either every key is
// applied or none is.
func (s *SettingsService) Update(ctx context.Context, kv map[string]string) (*SettingsResult, error) {
	if len(kv) == 0 {
		return nil, &BadRequestError{Message: "no settings given"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := config.ApplyOverrides(s.tuning.Load(), kv)
	if err != nil {
		return nil, &BadRequestError{Message: err.Error()}
	}

	for key, value := range kv {
		if err := s.store.SaveSetting(ctx, key, value); err != nil {
			return nil, fmt.Errorf("failed to persist %s: %w", key, err)
		}
	}
	for key, value := range kv {
		s.overrides[key] = value
	}
	s.tuning.Store(next)

	s.logger.Info("Settings updated", zap.Any("settings", kv))
	return s.result(), nil
}

// Reset removes the override for key and restores the configured value
func (s *SettingsService) Reset(ctx context.Context, key string) (*SettingsResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.overrides[key]; !ok {
		return nil, &NotFoundError{Message: fmt.Sprintf("setting %q is not overridden", key)}
	}
	if err := s.store.DeleteSetting(ctx, key); err != nil && !errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("failed to delete %s: %w", key, err)
	}
	delete(s.overrides, key)

	t, err := config.ApplyOverrides(s.base, s.overrides)
	if err != nil {
		return nil, err
	}
	s.tuning.Store(t)

	s.logger.Info("Setting reset", zap.String("key", key))
	return s.result(), nil
}

func (s *SettingsService) result() *SettingsResult {
	t := s.tuning.Load()
	overridden := make([]string, 0, len(s.overrides))
	for k := range s.overrides {
		overridden = append(overridden, k)
	}
	sort.Strings(overridden)
	return &SettingsResult{
		Tuning:     t,
		Settings:   config.TuningSettings(t),
		Overridden: overridden,
	}
}
