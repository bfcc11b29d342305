package media

import (
	"sync"
	"time"
)

// ClockHandle tracks a playback position against the wall clock. The
// agent is authoritative for session time; browser video elements follow
// it, so the server-side handle only needs to model where the playhead
// is, not decode anything.
type ClockHandle struct {
	mu       sync.Mutex
	now      func() time.Time
	duration float64
	rate     float64
	position float64
	anchor   time.Time
	playing  bool
	ready    bool
}

func NewClockHandle(duration float64) *ClockHandle {
	return &ClockHandle{
		now:      time.Now,
		duration: duration,
		rate:     1.0,
		ready:    true,
	}
}

// WithNow overrides the clock source for tests.
func (h *ClockHandle) WithNow(now func() time.Time) *ClockHandle {
	h.now = now
	return h
}

func (h *ClockHandle) CurrentTime() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.currentLocked()
}

func (h *ClockHandle) currentLocked() float64 {
	if !h.playing {
		return h.position
	}
	elapsed := h.now().Sub(h.anchor).Seconds() * h.rate
	pos := h.position + elapsed
	if pos > h.duration {
		pos = h.duration
	}
	return pos
}

func (h *ClockHandle) SetCurrentTime(t float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if t < 0 {
		t = 0
	}
	if t > h.duration {
		t = h.duration
	}
	h.position = t
	h.anchor = h.now()
}

func (h *ClockHandle) Play() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.playing {
		return nil
	}
	h.anchor = h.now()
	h.playing = true
	return nil
}

func (h *ClockHandle) Pause() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.playing {
		return
	}
	h.position = h.currentLocked()
	h.playing = false
}

func (h *ClockHandle) Paused() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.playing
}

func (h *ClockHandle) Ready() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ready
}

func (h *ClockHandle) SetReady(ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ready = ready
}

func (h *ClockHandle) Duration() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.duration
}

// SetDuration replaces the placeholder duration once probing completes.
func (h *ClockHandle) SetDuration(d float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.duration = d
	if h.position > d {
		h.position = d
	}
}

func (h *ClockHandle) SetRate(rate float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.playing {
		h.position = h.currentLocked()
		h.anchor = h.now()
	}
	h.rate = rate
}

// Ended reports whether the playhead has reached the clip's end.
func (h *ClockHandle) Ended() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.duration > 0 && h.currentLocked() >= h.duration
}
