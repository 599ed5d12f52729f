package pipeline

import (
	"sync"
	"time"
)

// Snapshot is a consistent copy of the shared state taken under one lock
type Snapshot struct {
	Frame                *Frame    // Latest annotated frame, nil before the first publish
	PrimaryCandidate     bool      // Primary detector flag for Frame
	HeuristicCandidate   bool      // Fall heuristic flag for Frame
	VerificationInFlight bool      // A verifier call is outstanding
	Episode              uint64    // Incremented on every no-candidate to candidate transition
	CooldownUntil        time.Time // Alert suppression deadline, zero when never triggered
	Published            bool      // At least one frame has been published
}

// Candidate reports whether either candidate flag is raised
func (s Snapshot) Candidate() bool {
	return s.PrimaryCandidate || s.HeuristicCandidate
}

// Flags returns the candidate flags as a pair
func (s Snapshot) Flags() Flags {
	return Flags{Primary: s.PrimaryCandidate, Heuristic: s.HeuristicCandidate}
}

// SharedFrameState is the only channel between the capture loop and the
// verification loop. It holds the latest value only; a publish that lands
// before the consumer reads replaces the previous one.
type SharedFrameState struct {
	mu  sync.Mutex
	cur Snapshot
}

// NewSharedFrameState creates an empty state
func NewSharedFrameState() *SharedFrameState {
	return &SharedFrameState{}
}

// Publish replaces the frame and both candidate flags in one step
func (s *SharedFrameState) Publish(frame *Frame, primary, heuristic bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	was := s.cur.Candidate()
	s.cur.Frame = frame
	s.cur.PrimaryCandidate = primary
	s.cur.HeuristicCandidate = heuristic
	s.cur.Published = true
	if !was && (primary || heuristic) {
		s.cur.Episode++
	}
}

// Snapshot returns a copy of the current state
func (s *SharedFrameState) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

// TryBeginVerification marks a verification as in flight when a candidate
// is present and no other verification is running. The returned snapshot is
// the state the verification should act on.
func (s *SharedFrameState) TryBeginVerification() (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.cur.Published || !s.cur.Candidate() || s.cur.VerificationInFlight {
		return s.cur, false
	}
	s.cur.VerificationInFlight = true
	return s.cur, true
}

// EndVerification clears the in-flight marker
func (s *SharedFrameState) EndVerification() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur.VerificationInFlight = false
}

// SetCooldownUntil records the alert suppression deadline for readers
func (s *SharedFrameState) SetCooldownUntil(deadline time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur.CooldownUntil = deadline
}
