package pipeline

import (
	"sync/atomic"
	"time"
)

// DefaultConfidenceThreshold is the primary detector cut-off; a region must
// score strictly above it.
const DefaultConfidenceThreshold = 0.60

// DefaultPrompt is sent to the verifier with every candidate frame
const DefaultPrompt = "Do you see any fire, flames or smoke in the image? Is there a person who has fallen or is lying on the floor? " +
	"Answer briefly. Mention FIRE only if there is fire and FALLEN only if someone has fallen; otherwise answer NONE."

// Tuning holds the parameters that may change while the pipeline runs.
// A Tuning value is treated as immutable once stored; replace it whole.
type Tuning struct {
	MonitoredClassID      int                    `json:"monitored_class_id"`
	ConfidenceThreshold   float32                `json:"confidence_threshold"`
	Cooldown              time.Duration          `json:"cooldown"`
	Prompt                string                 `json:"prompt"`
	Synonyms              map[Condition][]string `json:"synonyms"`
	MinRetryInterval      time.Duration          `json:"min_retry_interval"`       // 0 retries on every poll tick
	MaxAttemptsPerEpisode int                    `json:"max_attempts_per_episode"` // 0 is unlimited
}

// DefaultTuning returns the built-in parameters
func DefaultTuning() Tuning {
	return Tuning{
		MonitoredClassID:    0,
		ConfidenceThreshold: DefaultConfidenceThreshold,
		Cooldown:            DefaultCooldown,
		Prompt:              DefaultPrompt,
		Synonyms:            DefaultSynonyms(),
	}
}

// TuningStore publishes Tuning values to the pipeline loops without
// blocking them.
type TuningStore struct {
	p atomic.Pointer[Tuning]
}

// NewTuningStore creates a store holding t
func NewTuningStore(t Tuning) *TuningStore {
	s := &TuningStore{}
	s.Store(t)
	return s
}

// Load returns the current tuning
func (s *TuningStore) Load() Tuning {
	return *s.p.Load()
}

// Store replaces the current tuning
func (s *TuningStore) Store(t Tuning) {
	s.p.Store(&t)
}
