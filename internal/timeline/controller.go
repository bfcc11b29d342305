// Package timeline owns the session playback position across a sequence of
// clip bundles: one global time axis over N concatenated clips whose real
// durations are only learned as each clip's metadata loads.
package timeline

import (
	"log/slog"
	"sync"

	"github.com/dashgrid/dashgrid-agent/internal/bundle"
)

// DefaultClipSeconds is the assumed duration for a clip whose metadata has
// not loaded yet. Corrected exactly once real metadata arrives.
const DefaultClipSeconds = 60.0

// backSeekLandingWindow: a discrete step that resolves into an earlier clip
// with less than this much local time lands near that clip's end instead,
// so the user sees its last frames rather than a flash of the first one.
const backSeekLandingWindow = 5.0

// Snapshot is a consistent read of the session state. All three time
// fields are updated as one atomic unit.
type Snapshot struct {
	BundleCount   int
	CurrentIndex  int
	LocalTime     float64
	GlobalTime    float64
	Durations     []float64
	TotalDuration float64
	Playing       bool
	Rate          float64
}

// Controller is the single writer of timeline state. UI-facing operations
// (seek, select, step) and synchronizer reports all funnel through it.
type Controller struct {
	mu sync.Mutex

	bundles   []*bundle.Bundle
	index     int
	localTime float64
	global    float64
	durations []float64
	total     float64
	playing   bool
	rate      float64

	logger *slog.Logger
}

// NewController creates a controller over an ordered bundle sequence.
// Every clip starts with the placeholder duration.
func NewController(bundles []*bundle.Bundle, logger *slog.Logger) *Controller {
	durations := make([]float64, len(bundles))
	for i := range durations {
		durations[i] = DefaultClipSeconds
	}
	return &Controller{
		bundles:   bundles,
		durations: durations,
		total:     float64(len(bundles)) * DefaultClipSeconds,
		rate:      1.0,
		logger:    logger,
	}
}

// Snapshot returns a consistent copy of the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	durations := make([]float64, len(c.durations))
	copy(durations, c.durations)
	return Snapshot{
		BundleCount:   len(c.bundles),
		CurrentIndex:  c.index,
		LocalTime:     c.localTime,
		GlobalTime:    c.global,
		Durations:     durations,
		TotalDuration: c.total,
		Playing:       c.playing,
		Rate:          c.rate,
	}
}

// Current returns the bundle at the playhead, or nil for an empty session.
func (c *Controller) Current() *bundle.Bundle {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.index < 0 || c.index >= len(c.bundles) {
		return nil
	}
	return c.bundles[c.index]
}

// Bundles returns the session's bundle sequence.
func (c *Controller) Bundles() []*bundle.Bundle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bundles
}

// ComputeLocation resolves a global time into (clip index, local time).
// Durations still at their placeholder participate with the assumed 60s;
// playback must be seekable before real durations are known and
// re-resolves once they are.
func (c *Controller) ComputeLocation(globalTime float64) (int, float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.locate(globalTime)
}

func (c *Controller) locate(globalTime float64) (int, float64) {
	if len(c.durations) == 0 {
		idx := int(globalTime / DefaultClipSeconds)
		return idx, globalTime - float64(idx)*DefaultClipSeconds
	}
	remaining := globalTime
	for i, d := range c.durations {
		if remaining < d {
			return i, remaining
		}
		remaining -= d
	}
	// Past the end: clamp into the last clip.
	last := len(c.durations) - 1
	return last, c.durations[last]
}

func (c *Controller) cumulative(index int) float64 {
	sum := 0.0
	for i := 0; i < index && i < len(c.durations); i++ {
		sum += c.durations[i]
	}
	return sum
}

// Seek moves the playhead to a global time. fromDiscreteStep marks
// keyboard-driven jumps: stepping left past a clip boundary lands near the
// end of the previous clip instead of its start.
func (c *Controller) Seek(globalTime float64, fromDiscreteStep bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if globalTime < 0 {
		globalTime = 0
	}
	if globalTime > c.total {
		globalTime = c.total
	}

	index, local := c.locate(globalTime)

	if fromDiscreteStep && index < c.index && local < backSeekLandingWindow && c.durations[index] > 0 {
		local = c.durations[index] - 0.5
		if local < 0 {
			local = 0
		}
	}

	if index < len(c.bundles) {
		c.index = index
	}
	c.localTime = local
	c.global = globalTime
}

// SelectClip jumps to the start of a clip.
func (c *Controller) SelectClip(index int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if index < 0 || index >= len(c.bundles) {
		return
	}
	c.index = index
	c.localTime = 0
	c.global = c.cumulative(index)
}

// StepDiscrete moves the playhead by a signed number of seconds, clamped
// to the session bounds. Used for the 5-second arrow-key jump.
func (c *Controller) StepDiscrete(deltaSeconds float64) {
	c.mu.Lock()
	target := c.global + deltaSeconds
	c.mu.Unlock()
	c.Seek(target, true)
}

// OnDurationLearned replaces the placeholder (or a stale value) for one
// clip once real metadata arrives and recomputes the total. Idempotent.
func (c *Controller) OnDurationLearned(index int, seconds float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if index < 0 || index >= len(c.durations) || seconds <= 0 {
		return
	}
	if c.durations[index] == seconds {
		return
	}
	c.durations[index] = seconds

	total := 0.0
	for _, d := range c.durations {
		total += d
	}
	c.total = total

	if c.logger != nil {
		c.logger.Debug("clip duration learned", "index", index, "seconds", seconds, "total", total)
	}
}

// ReportTime applies the master handle's observed local time. Global time
// is kept consistent with the cumulative-duration invariant.
func (c *Controller) ReportTime(localTime float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.localTime = localTime
	c.global = c.cumulative(c.index) + localTime
}

// OnClipEnded advances past a finished clip, preserving play intent.
// At the last clip, playback stops.
func (c *Controller) OnClipEnded() {
	c.mu.Lock()
	if c.index >= len(c.bundles)-1 {
		c.playing = false
		c.mu.Unlock()
		return
	}
	next := c.index + 1
	c.mu.Unlock()
	c.SelectClip(next)
}

// SetPlaying records play intent.
func (c *Controller) SetPlaying(playing bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.playing = playing
}

// TogglePlaying flips play intent and returns the new value.
func (c *Controller) TogglePlaying() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.playing = !c.playing
	return c.playing
}

// SetRate records the playback rate multiplier.
func (c *Controller) SetRate(rate float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rate > 0 {
		c.rate = rate
	}
}
