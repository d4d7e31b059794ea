// Package vision classifies camera frames for infant safety risks through a
// vision-language model.
package vision

import (
	"context"

	"github.com/cribwatch/cribwatch/internal/camera"
	"github.com/cribwatch/cribwatch/internal/status"
)

// PromptConfigKey is the datastore key holding a user-edited prompt.
const PromptConfigKey = "vlm_prompt"

// DefaultPrompt asks the model for the structured safety assessment.
const DefaultPrompt = `You are a baby safety monitor AI. Analyze this baby camera image and respond ONLY with a JSON object (no markdown, no explanation, no extra text).

Check for:
1. Is the baby's face covered by cloth/blanket? (suffocation risk)
2. What position is the baby in? (supine=on back, prone=on stomach, side=on side, sitting)
3. Is the baby inside the crib/bed?
4. Are there loose objects (pillows, toys, cords) in the sleep area?
5. Is a blanket near the baby's face?
6. Overall risk level: "safe", "warning", or "danger"

Respond with EXACTLY this JSON format:
{"face_covered": false, "position": "supine", "in_crib": true, "loose_objects": false, "blanket_near_face": false, "baby_visible": true, "risk_level": "safe", "description": "Baby is sleeping safely on their back"}

IMPORTANT: Output ONLY the JSON object. No other text.`

// Classifier turns a frame into a risk classification.
type Classifier interface {
	Classify(ctx context.Context, frame camera.Frame) (status.BabyStatus, error)
}

// PromptSource supplies runtime overrides of the classification prompt.
type PromptSource interface {
	// GetConfig returns the value for key and whether it was set.
	GetConfig(ctx context.Context, key string) (string, bool, error)
}

// Derive fills the routing fields from the risk level. Any non-safe level
// alerts on the alert channel.
func Derive(b status.BabyStatus) status.BabyStatus {
	if !b.RiskLevel.Valid() {
		b.RiskLevel = status.RiskSafe
	}
	if !b.Position.Valid() {
		b.Position = status.PositionUnknown
	}
	b.ShouldAlert = b.RiskLevel != status.RiskSafe
	if b.ShouldAlert {
		b.AlertChannel = status.ChannelAlert
	} else {
		b.AlertChannel = status.ChannelStatus
	}
	return b
}
