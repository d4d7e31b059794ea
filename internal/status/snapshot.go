package status

import (
	"sync"
	"time"
)

// Snapshot is the single shared CombinedStatus. Every method holds the lock
// only for assignment or copy.
type Snapshot struct {
	mu      sync.RWMutex
	current CombinedStatus
}

// NewSnapshot returns a snapshot seeded with the default baby status.
func NewSnapshot() *Snapshot {
	return &Snapshot{current: CombinedStatus{Baby: DefaultBabyStatus()}}
}

// Get returns a deep copy of the current combined status.
func (s *Snapshot) Get() CombinedStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone()
}

// BeginVision marks a classification as in flight.
func (s *Snapshot) BeginVision(now time.Time) {
	s.mu.Lock()
	s.current.VisionInferStarted = now
	s.current.VisionInProgress = true
	s.mu.Unlock()
}

// EndVision clears the in-flight marker without publishing a result.
func (s *Snapshot) EndVision() {
	s.mu.Lock()
	s.current.VisionInProgress = false
	s.mu.Unlock()
}

// UpdateVision publishes a classification together with the audio status
// read in the same cycle.
func (s *Snapshot) UpdateVision(baby BabyStatus, audio AudioStatus, now time.Time) {
	baby = baby.Clone()
	s.mu.Lock()
	s.current.Baby = baby
	s.current.Audio = audio
	s.current.Timestamp = now
	s.current.LastVisionUpdate = now
	s.current.LastAudioUpdate = now
	s.current.VisionInProgress = false
	s.mu.Unlock()
}

// UpdateMotion publishes a motion estimate.
func (s *Snapshot) UpdateMotion(m MotionStatus, now time.Time) {
	s.mu.Lock()
	s.current.Motion = m
	s.current.LastMotionUpdate = now
	s.mu.Unlock()
}

// Motion returns the last published motion estimate.
func (s *Snapshot) Motion() MotionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Motion
}

// Baby returns a copy of the last published classification.
func (s *Snapshot) Baby() BabyStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Baby.Clone()
}
