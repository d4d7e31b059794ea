package datastore

import "time"

// Event is a discrete pipeline occurrence such as an alert or vision error.
type Event struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Timestamp time.Time `gorm:"index;not null" json:"timestamp"`
	EventType string    `gorm:"index;size:64;not null" json:"event_type"`
	Severity  string    `gorm:"size:16;default:info" json:"severity"`
	Data      string    `gorm:"type:text" json:"data,omitempty"` // JSON object
}

// NotificationRecord is one provider delivery attempt.
type NotificationRecord struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Timestamp   time.Time `gorm:"index;not null" json:"timestamp"`
	MessageID   string    `gorm:"index;size:36" json:"message_id"`
	Channel     string    `gorm:"index;size:32;not null" json:"channel"`
	Provider    string    `gorm:"size:32" json:"provider"`
	Title       string    `gorm:"size:255" json:"title"`
	Description string    `gorm:"type:text" json:"description"`
	RiskLevel   string    `gorm:"size:16" json:"risk_level"`
	HasImage    bool      `json:"has_image"`
	Success     bool      `gorm:"index" json:"success"`
	Error       string    `gorm:"type:text" json:"error,omitempty"`
}

// VisionLog is one vision classification.
type VisionLog struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	Timestamp       time.Time `gorm:"index;not null" json:"timestamp"`
	FaceCovered     bool      `json:"face_covered"`
	Position        string    `gorm:"size:16" json:"position"`
	InCrib          bool      `json:"in_crib"`
	LooseObjects    bool      `json:"loose_objects"`
	BlanketNearFace bool      `json:"blanket_near_face"`
	RiskLevel       string    `gorm:"index;size:16" json:"risk_level"`
	Description     string    `gorm:"type:text" json:"description"`
}

// MotionLog is one motion estimate.
type MotionLog struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Timestamp   time.Time `gorm:"index;not null" json:"timestamp"`
	HasMotion   bool      `json:"has_motion"`
	Magnitude   float64   `json:"magnitude"`
	Description string    `gorm:"size:255" json:"description"`
}

// AudioLog is one audio window classification.
type AudioLog struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	Timestamp         time.Time `gorm:"index;not null" json:"timestamp"`
	IsCrying          bool      `gorm:"index" json:"is_crying"`
	CryType           string    `gorm:"size:16" json:"cry_type"`
	CryConfidence     float64   `json:"cry_confidence"`
	BreathingDetected bool      `json:"breathing_detected"`
	BreathingRate     float64   `json:"breathing_rate"`
	RMSLevel          float64   `json:"rms_level"`
	Description       string    `gorm:"size:255" json:"description"`
}

// ConfigEntry is a runtime-editable key/value setting.
type ConfigEntry struct {
	Key       string    `gorm:"column:config_key;primaryKey;size:128" json:"key"`
	Value     string    `gorm:"type:text;not null" json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Stats summarizes the stored history.
type Stats struct {
	Events            int64      `json:"events"`
	Notifications     int64      `json:"notifications"`
	VisionLogs        int64      `json:"vision_logs"`
	MotionLogs        int64      `json:"motion_logs"`
	AudioLogs         int64      `json:"audio_logs"`
	AlertsCount       int64      `json:"alerts_count"`
	CryCount          int64      `json:"cry_count"`
	VisionErrors      int64      `json:"vision_errors"`
	LastVisionError   string     `json:"last_vision_error,omitempty"`
	LastVisionErrorAt *time.Time `json:"last_vision_error_at,omitempty"`
}

func allModels() []any {
	return []any{
		&Event{},
		&NotificationRecord{},
		&VisionLog{},
		&MotionLog{},
		&AudioLog{},
		&ConfigEntry{},
	}
}
