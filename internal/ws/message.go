package ws

import (
	"time"

	"hazardwatch/internal/pipeline"
)

// StateMessage is broadcast whenever a new frame is displayed
type StateMessage struct {
	Type          string     `json:"type"` // "state"
	Seq           uint64     `json:"seq"`
	Primary       bool       `json:"primary"`
	Heuristic     bool       `json:"heuristic"`
	InFlight      bool       `json:"in_flight"`
	Episode       uint64     `json:"episode"`
	CooldownUntil *time.Time `json:"cooldown_until,omitempty"`
	Timestamp     time.Time  `json:"timestamp"`
}

// AlertMessage is broadcast after an alert has been dispatched
type AlertMessage struct {
	Type       string    `json:"type"` // "alert"
	Conditions []string  `json:"conditions"`
	Episode    uint64    `json:"episode"`
	FrameSeq   uint64    `json:"frame_seq"`
	Response   string    `json:"response"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewStateMessage builds a state message from a snapshot
func NewStateMessage(snap pipeline.Snapshot) *StateMessage {
	msg := &StateMessage{
		Type:      "state",
		Primary:   snap.PrimaryCandidate,
		Heuristic: snap.HeuristicCandidate,
		InFlight:  snap.VerificationInFlight,
		Episode:   snap.Episode,
		Timestamp: time.Now(),
	}
	if snap.Frame != nil {
		msg.Seq = snap.Frame.Seq
		if !snap.Frame.Timestamp.IsZero() {
			msg.Timestamp = snap.Frame.Timestamp
		}
	}
	if !snap.CooldownUntil.IsZero() {
		until := snap.CooldownUntil
		msg.CooldownUntil = &until
	}
	return msg
}

// NewAlertMessage builds an alert message
func NewAlertMessage(alert pipeline.Alert) *AlertMessage {
	conds := make([]string, 0, len(alert.Conditions))
	for _, c := range alert.Conditions {
		conds = append(conds, string(c))
	}
	return &AlertMessage{
		Type:       "alert",
		Conditions: conds,
		Episode:    alert.Episode,
		FrameSeq:   alert.FrameSeq,
		Response:   alert.Response,
		Timestamp:  alert.At,
	}
}
