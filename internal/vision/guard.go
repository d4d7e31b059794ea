package vision

import (
	"context"
	"sync"
	"time"

	"github.com/cribwatch/cribwatch/internal/camera"
	"github.com/cribwatch/cribwatch/internal/status"
)

// GuardStats summarizes classification outcomes.
type GuardStats struct {
	Successes   uint64    `json:"successes"`
	Errors      uint64    `json:"errors"`
	LastError   string    `json:"last_error,omitempty"`
	LastErrorAt time.Time `json:"last_error_at,omitempty"`
}

// Guard wraps a Classifier and keeps the last good classification. On
// failure it returns that value together with the error, so callers never
// see an undefined status.
type Guard struct {
	classifier Classifier

	mu    sync.Mutex
	last  status.BabyStatus
	stats GuardStats
}

// NewGuard returns a guard seeded with the default baby status.
func NewGuard(c Classifier) *Guard {
	return &Guard{classifier: c, last: status.DefaultBabyStatus()}
}

// Classify runs the wrapped classifier. The returned status is always
// usable: the new result on success, the previous good one on error.
func (g *Guard) Classify(ctx context.Context, frame camera.Frame) (status.BabyStatus, error) {
	baby, err := g.classifier.Classify(ctx, frame)

	g.mu.Lock()
	defer g.mu.Unlock()
	if err != nil {
		g.stats.Errors++
		g.stats.LastError = err.Error()
		g.stats.LastErrorAt = time.Now()
		return g.last.Clone(), err
	}
	g.stats.Successes++
	g.last = baby.Clone()
	return baby, nil
}

// Last returns the last good classification.
func (g *Guard) Last() status.BabyStatus {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last.Clone()
}

// Stats returns a copy of the outcome counters.
func (g *Guard) Stats() GuardStats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stats
}
