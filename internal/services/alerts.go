package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"hazardwatch/internal/database"
	"hazardwatch/internal/pipeline"
)

// DefaultAlertLimit caps alert listings without an explicit limit
const DefaultAlertLimit = 50

// AlertStore persists dispatched alerts
type AlertStore interface {
	SaveAlert(ctx context.Context, alert *database.AlertRecord) error
	ListAlerts(ctx context.Context, since *time.Time, limit int) ([]*database.AlertRecord, error)
	DeleteOldAlerts(ctx context.Context, before time.Time) (int64, error)
}

// AlertService records and lists alert history
type AlertService struct {
	store  AlertStore
	logger *zap.Logger
	now    func() time.Time
}

// NewAlertService creates an alert history service
func NewAlertService(store AlertStore, logger *zap.Logger) *AlertService {
	return &AlertService{store: store, logger: logger.Named("alerts"), now: time.Now}
}

// Record stores a dispatched alert
func (s *AlertService) Record(ctx context.Context, a pipeline.Alert) (*database.AlertRecord, error) {
	conds := make([]string, len(a.Conditions))
	for i, c := range a.Conditions {
		conds[i] = string(c)
	}
	rec := &database.AlertRecord{
		ID:         uuid.NewString(),
		Timestamp:  a.At,
		Conditions: conds,
		Episode:    a.Episode,
		FrameSeq:   a.FrameSeq,
		Response:   a.Response,
		ImagePath:  a.ImagePath,
	}
	if err := s.store.SaveAlert(ctx, rec); err != nil {
		s.logger.Error("Failed to record alert", zap.Uint64("episode", a.Episode), zap.Error(err))
		return nil, err
	}
	return rec, nil
}

// List returns alerts newest first. limit <= 0 uses DefaultAlertLimit.
func (s *AlertService) List(ctx context.Context, since *time.Time, limit int) ([]*database.AlertRecord, error) {
	if limit <= 0 {
		limit = DefaultAlertLimit
	}
	if limit > 1000 {
		return nil, &BadRequestError{Message: "limit must not exceed 1000"}
	}
	return s.store.ListAlerts(ctx, since, limit)
}

// Prune deletes alerts older than retention
func (s *AlertService) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	n, err := s.store.DeleteOldAlerts(ctx, s.now().Add(-retention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("Pruned alert history", zap.Int64("deleted", n), zap.Duration("retention", retention))
	}
	return n, nil
}

// RunRetention prunes the history every interval until ctx is done
func (s *AlertService) RunRetention(ctx context.Context, retention, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := s.Prune(ctx, retention); err != nil && ctx.Err() == nil {
			s.logger.Warn("Failed to prune alert history", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
