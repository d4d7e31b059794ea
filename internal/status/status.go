// Package status holds the value types shared by the monitoring pipeline and
// the lock-guarded snapshot that readers copy out of.
package status

import "time"

// RiskLevel is the safety classification of a single vision observation.
type RiskLevel string

const (
	RiskSafe    RiskLevel = "safe"
	RiskWarning RiskLevel = "warning"
	RiskDanger  RiskLevel = "danger"
)

// Valid reports whether r is one of the known risk levels.
func (r RiskLevel) Valid() bool {
	switch r {
	case RiskSafe, RiskWarning, RiskDanger:
		return true
	}
	return false
}

// Position is the body position reported by the vision classifier.
type Position string

const (
	PositionSupine  Position = "supine"
	PositionProne   Position = "prone"
	PositionSide    Position = "side"
	PositionSitting Position = "sitting"
	PositionUnknown Position = "unknown"
)

// Valid reports whether p is one of the known positions.
func (p Position) Valid() bool {
	switch p {
	case PositionSupine, PositionProne, PositionSide, PositionSitting, PositionUnknown:
		return true
	}
	return false
}

// AlertChannel selects the notification route for an observation.
type AlertChannel string

const (
	ChannelAlert  AlertChannel = "alert"
	ChannelStatus AlertChannel = "status"
)

// MotionStatus is the output of one motion estimation.
type MotionStatus struct {
	HasMotion   bool    `json:"has_motion"`
	Magnitude   float64 `json:"motion_magnitude"`
	Description string  `json:"description"`
}

// AudioStatus is the output of one audio window analysis.
type AudioStatus struct {
	IsCrying          bool      `json:"is_crying"`
	CryType           string    `json:"cry_type"`
	CryConfidence     float64   `json:"cry_confidence"`
	BreathingDetected bool      `json:"breathing_detected"`
	BreathingRate     float64   `json:"breathing_rate"`
	RMSLevel          float64   `json:"rms_level"`
	PeakLevel         float64   `json:"peak_level"`
	SpectralCentroid  float64   `json:"spectral_centroid"`
	Description       string    `json:"description"`
	Timestamp         time.Time `json:"timestamp"`
}

// BabyStatus is the output of one vision classification.
type BabyStatus struct {
	RiskLevel       RiskLevel    `json:"risk_level"`
	FaceCovered     bool         `json:"face_covered"`
	Position        Position     `json:"position"`
	InCrib          bool         `json:"in_crib"`
	LooseObjects    bool         `json:"loose_objects"`
	BlanketNearFace bool         `json:"blanket_near_face"`
	BabyVisible     bool         `json:"baby_visible"`
	EyesOpen        *bool        `json:"eyes_open"`
	Description     string       `json:"description"`
	AlertChannel    AlertChannel `json:"alert_channel"`
	ShouldAlert     bool         `json:"should_alert"`
	Timestamp       time.Time    `json:"timestamp"`
}

// DefaultBabyStatus is the assumed state before the first classification.
func DefaultBabyStatus() BabyStatus {
	return BabyStatus{
		RiskLevel:    RiskSafe,
		Position:     PositionUnknown,
		InCrib:       true,
		BabyVisible:  true,
		AlertChannel: ChannelStatus,
	}
}

// Clone returns a copy that shares no memory with b.
func (b BabyStatus) Clone() BabyStatus {
	if b.EyesOpen != nil {
		v := *b.EyesOpen
		b.EyesOpen = &v
	}
	return b
}

// CombinedStatus is the fused view published to readers.
type CombinedStatus struct {
	Baby               BabyStatus   `json:"baby"`
	Motion             MotionStatus `json:"motion"`
	Audio              AudioStatus  `json:"audio"`
	Timestamp          time.Time    `json:"timestamp"`
	LastVisionUpdate   time.Time    `json:"last_vision_update"`
	LastMotionUpdate   time.Time    `json:"last_motion_update"`
	LastAudioUpdate    time.Time    `json:"last_audio_update"`
	VisionInferStarted time.Time    `json:"vlm_infer_started"`
	VisionInProgress   bool         `json:"vlm_in_progress"`
}

// Clone returns a deep copy of c.
func (c CombinedStatus) Clone() CombinedStatus {
	c.Baby = c.Baby.Clone()
	return c
}

// Observation is one vision cycle as seen by the alert scheduler.
type Observation struct {
	Baby      BabyStatus
	Motion    MotionStatus
	Timestamp time.Time
}
