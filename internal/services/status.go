package services

import (
	"context"
	"time"

	"hazardwatch/internal/metrics"
	"hazardwatch/internal/pipeline"
)

// Counters mirrors the pipeline counters
type Counters struct {
	FramesRead      uint64 `json:"frames_read"`
	FramesProcessed uint64 `json:"frames_processed"`
	ReadErrors      uint64 `json:"read_errors"`
	FramesSkipped   uint64 `json:"frames_skipped"`
	DetectorErrors  uint64 `json:"detector_errors"`
	HeuristicErrors uint64 `json:"heuristic_errors"`
	Alerts          uint64 `json:"alerts"`
	StreamClients   int64  `json:"stream_clients"`
}

// StatusResult is the operator view of the pipeline
type StatusResult struct {
	Published            bool       `json:"published"`
	FrameSeq             uint64     `json:"frame_seq"`
	FrameTime            *time.Time `json:"frame_time,omitempty"`
	PrimaryCandidate     bool       `json:"primary_candidate"`
	HeuristicCandidate   bool       `json:"heuristic_candidate"`
	VerificationInFlight bool       `json:"verification_in_flight"`
	Episode              uint64     `json:"episode"`
	CooldownActive       bool       `json:"cooldown_active"`
	CooldownUntil        *time.Time `json:"cooldown_until,omitempty"`
	UptimeSeconds        int        `json:"uptime_seconds"`
	Counters             Counters   `json:"counters"`
}

// StatusService reports pipeline state
type StatusService struct {
	state     pipeline.StateReader
	metrics   *metrics.Metrics
	startTime time.Time
	now       func() time.Time
}

// NewStatusService creates a status service reading from state
func NewStatusService(state pipeline.StateReader, m *metrics.Metrics) *StatusService {
	return &StatusService{
		state:     state,
		metrics:   m,
		startTime: time.Now(),
		now:       time.Now,
	}
}

// Status returns the current pipeline status
func (s *StatusService) Status(ctx context.Context) (*StatusResult, error) {
	snap := s.state.Snapshot()
	now := s.now()

	res := &StatusResult{
		Published:            snap.Published,
		PrimaryCandidate:     snap.PrimaryCandidate,
		HeuristicCandidate:   snap.HeuristicCandidate,
		VerificationInFlight: snap.VerificationInFlight,
		Episode:              snap.Episode,
		UptimeSeconds:        int(now.Sub(s.startTime).Seconds()),
	}
	if snap.Frame != nil {
		res.FrameSeq = snap.Frame.Seq
		ts := snap.Frame.Timestamp
		res.FrameTime = &ts
	}
	if !snap.CooldownUntil.IsZero() {
		until := snap.CooldownUntil
		res.CooldownUntil = &until
		res.CooldownActive = now.Before(until)
	}
	if m := s.metrics; m != nil {
		res.Counters = Counters{
			FramesRead:      m.FramesRead.Load(),
			FramesProcessed: m.FramesProcessed.Load(),
			ReadErrors:      m.ReadErrors.Load(),
			FramesSkipped:   m.FramesSkipped.Load(),
			DetectorErrors:  m.DetectorErrors.Load(),
			HeuristicErrors: m.HeuristicErrors.Load(),
			Alerts:          m.Alerts.Load(),
			StreamClients:   m.StreamClients.Load(),
		}
	}
	return res, nil
}

// StateSample adapts the shared state for the metrics gauges
func StateSample(state pipeline.StateReader, now func() time.Time) func() metrics.StateSample {
	return func() metrics.StateSample {
		snap := state.Snapshot()
		return metrics.StateSample{
			PrimaryCandidate:     snap.PrimaryCandidate,
			HeuristicCandidate:   snap.HeuristicCandidate,
			VerificationInFlight: snap.VerificationInFlight,
			CooldownActive:       now().Before(snap.CooldownUntil),
			Episode:              snap.Episode,
		}
	}
}
