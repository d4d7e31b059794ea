// Package alert decides when observations turn into notifications and
// composes the periodic status report.
package alert

import (
	"sync"
	"time"
)

// ShouldFire reports whether a channel that last fired at last may fire
// again at now. A zero last time always fires.
func ShouldFire(now, last time.Time, cooldown time.Duration) bool {
	return last.IsZero() || now.Sub(last) > cooldown
}

// ChannelState is the cooldown state of a Channel.
type ChannelState int

const (
	StateIdle ChannelState = iota
	StateCoolingDown
)

func (s ChannelState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCoolingDown:
		return "cooling-down"
	default:
		return "unknown"
	}
}

// Channel is one notification route with a minimum spacing between sends.
type Channel struct {
	name     string
	cooldown time.Duration

	mu         sync.Mutex
	lastFire   time.Time
	fired      uint64
	suppressed uint64
}

// NewChannel returns an idle channel.
func NewChannel(name string, cooldown time.Duration) *Channel {
	return &Channel{name: name, cooldown: cooldown}
}

// Name returns the channel name.
func (c *Channel) Name() string { return c.name }

// Cooldown returns the minimum spacing between fires.
func (c *Channel) Cooldown() time.Duration { return c.cooldown }

// State returns the channel state at now.
func (c *Channel) State(now time.Time) ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ShouldFire(now, c.lastFire, c.cooldown) {
		return StateIdle
	}
	return StateCoolingDown
}

// TryFire moves an idle channel into cooling-down and returns true. A channel
// still cooling down stays unchanged, counts the suppression and returns
// false.
func (c *Channel) TryFire(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !ShouldFire(now, c.lastFire, c.cooldown) {
		c.suppressed++
		return false
	}
	c.lastFire = now
	c.fired++
	return true
}

// LastFire returns the time of the most recent fire, zero if never.
func (c *Channel) LastFire() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastFire
}

// Counts returns how often the channel fired and was suppressed.
func (c *Channel) Counts() (fired, suppressed uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fired, c.suppressed
}

// Reset returns the channel to idle.
func (c *Channel) Reset() {
	c.mu.Lock()
	c.lastFire = time.Time{}
	c.mu.Unlock()
}
