// Package notification delivers alerts and status reports to push providers
// with per-provider circuit breaking, a shared rate limit and a delivery log.
package notification

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/cribwatch/cribwatch/internal/status"
)

// Channel routes a message to a provider endpoint.
type Channel string

const (
	// ChannelWarning carries danger, warning and cry alerts.
	ChannelWarning Channel = "warning"
	// ChannelStatus carries periodic status reports.
	ChannelStatus Channel = "status"
)

// Message is one outbound notification.
type Message struct {
	ID          uuid.UUID
	Channel     Channel
	Title       string
	Description string
	// Level is empty for status reports.
	Level     status.RiskLevel
	Image     []byte
	Timestamp time.Time
}

// NewMessage returns a message stamped with a fresh ID and the current time.
func NewMessage(channel Channel, title, description string, level status.RiskLevel, image []byte) *Message {
	return &Message{
		ID:          uuid.New(),
		Channel:     channel,
		Title:       title,
		Description: description,
		Level:       level,
		Image:       image,
		Timestamp:   time.Now(),
	}
}

// Provider is a push notification backend.
type Provider interface {
	Name() string
	// Supports reports whether the provider has an endpoint for channel.
	Supports(channel Channel) bool
	Send(ctx context.Context, msg *Message) error
}

// Record is the delivery log entry written for every provider attempt.
type Record struct {
	MessageID   string
	Channel     string
	Provider    string
	Title       string
	Description string
	RiskLevel   string
	HasImage    bool
	Success     bool
	Error       string
	Timestamp   time.Time
}

// MessageLog persists delivery records.
type MessageLog interface {
	SaveNotification(ctx context.Context, rec *Record) error
}

// ProviderStatus describes a provider for status endpoints.
type ProviderStatus struct {
	Name         string   `json:"name"`
	Channels     []string `json:"channels"`
	CircuitState string   `json:"circuit_state"`
	Failures     int      `json:"consecutive_failures"`
}
