// Package playsync reconciles N media handles against an authoritative
// target time. One handle is the master; its observed time drives the
// timeline, and follower handles are hard-corrected when they drift past a
// state-dependent threshold.
package playsync

import (
	"log/slog"
	"sync"
	"time"
)

// Handle is one live decode/playback element the synchronizer controls.
// Implementations are expected to be non-blocking; a Play that cannot
// start yet should fail softly and be retried on a later pass.
type Handle interface {
	CurrentTime() float64
	SetCurrentTime(seconds float64)
	Play() error
	Pause()
	Paused() bool
	Ready() bool
	Duration() float64
	SetRate(rate float64)
}

// Drift thresholds. Seeking while paused must converge tightly; during
// playback small decoder skew is tolerated. Both widen briefly after a
// play/pause transition while decoders settle.
const (
	ThresholdPlaying        = 0.5
	ThresholdPaused         = 0.1
	ThresholdPlayingSettle  = 1.5
	ThresholdPausedSettle   = 0.3
	settleWindow            = 200 * time.Millisecond
	thrashTransitionLimit   = 3
	thrashCountWindow       = 1500 * time.Millisecond
	thrashSuppressionWindow = 1000 * time.Millisecond
)

// Synchronizer keeps a handle set within a bounded delta of the target
// time and reports the master's progress upward.
type Synchronizer struct {
	mu      sync.Mutex
	handles []Handle

	playing          bool
	lastTransition   time.Time
	transitionCount  int
	countWindowStart time.Time
	suppressedUntil  time.Time

	lastReported float64
	pauseTime    float64

	onTime  func(seconds float64)
	now     func() time.Time
	logger  *slog.Logger
	stopped bool
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithClock injects a time source for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Synchronizer) { s.now = now }
}

// New creates a synchronizer. onTime receives the master handle's observed
// local time whenever a report passes the debounce and monotonicity rules.
func New(onTime func(seconds float64), logger *slog.Logger, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		onTime: onTime,
		now:    time.Now,
		logger: logger,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Attach replaces the handle set, e.g. when the session moves to the next
// clip. The first handle is the master. Reporting state resets so the new
// clip starts from a clean monotonic baseline.
func (s *Synchronizer) Attach(handles []Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handles = handles
	s.lastReported = 0
	s.pauseTime = 0
}

func (s *Synchronizer) master() Handle {
	if len(s.handles) == 0 {
		return nil
	}
	return s.handles[0]
}

// SetPlaying applies a play/pause transition to every handle and records
// it for the settle window and thrash guard.
func (s *Synchronizer) SetPlaying(playing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.playing == playing {
		return
	}
	s.playing = playing

	if playing {
		for _, h := range s.handles {
			if h.Paused() && h.Ready() {
				if err := h.Play(); err != nil && s.logger != nil {
					// Autoplay-style rejections are expected and non-fatal.
					s.logger.Debug("play attempt failed", "error", err)
				}
			}
		}
	} else {
		for _, h := range s.handles {
			if !h.Paused() {
				h.Pause()
			}
		}
		if m := s.master(); m != nil {
			// Anchor reporting at the pause point so the timeline does
			// not regress when playback resumes.
			t := m.CurrentTime()
			s.pauseTime = t
			s.lastReported = t
			if s.onTime != nil {
				s.onTime(t)
			}
		}
	}

	now := s.now()
	if now.Sub(s.countWindowStart) > thrashCountWindow {
		s.countWindowStart = now
		s.transitionCount = 0
	}
	s.transitionCount++
	s.lastTransition = now

	if s.transitionCount > thrashTransitionLimit {
		// Stop fighting a rapidly toggling user; let the next settled
		// state win once the suppression window elapses.
		s.suppressedUntil = now.Add(thrashSuppressionWindow)
		s.transitionCount = 0
		s.countWindowStart = now
		if s.logger != nil {
			s.logger.Debug("sync suppressed after rapid play/pause toggling")
		}
	}
}

// Playing reports the current play intent applied to the handles.
func (s *Synchronizer) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

// ReportMasterTime forwards a master time-advance notification upward,
// subject to the debounce and monotonicity rules.
func (s *Synchronizer) ReportMasterTime() {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.master()
	if m == nil || m.Paused() {
		return
	}
	if s.suppressed() {
		return
	}
	if s.now().Sub(s.lastTransition) < settleWindow {
		return
	}

	t := m.CurrentTime()
	if t < s.lastReported {
		// Backward jumps during internal repositioning are not reported.
		return
	}
	s.lastReported = t
	if s.onTime != nil {
		s.onTime(t)
	}
}

func (s *Synchronizer) suppressed() bool {
	return s.now().Before(s.suppressedUntil)
}

// SyncTo reconciles every handle against the target time. Handles within
// the active drift threshold are left alone; anything beyond it is
// hard-set. The exact threshold value does not trigger a correction.
func (s *Synchronizer) SyncTo(target float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.handles) == 0 || s.suppressed() {
		return
	}

	settling := s.now().Sub(s.lastTransition) < settleWindow

	threshold := ThresholdPlaying
	if !s.playing {
		threshold = ThresholdPaused
	}
	if settling {
		if s.playing {
			threshold = ThresholdPlayingSettle
		} else {
			threshold = ThresholdPausedSettle
		}
	}

	for i, h := range s.handles {
		if !h.Ready() {
			continue
		}
		drift := h.CurrentTime() - target
		if drift < 0 {
			drift = -drift
		}
		if drift > threshold {
			h.SetCurrentTime(target)
			if i == 0 {
				s.lastReported = target
			}
		}
	}
}

// SetRate applies a playback rate multiplier uniformly to every handle.
func (s *Synchronizer) SetRate(rate float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range s.handles {
		h.SetRate(rate)
	}
}

// StepFrame advances or retreats the master time by one frame interval,
// bounded to the clip, applies it to all handles, and reports immediately.
// A frame step is a deliberate discrete action; it bypasses the debounce.
func (s *Synchronizer) StepFrame(direction int, frameRate float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.master()
	if m == nil || frameRate <= 0 {
		return 0
	}

	step := 1.0 / frameRate
	t := m.CurrentTime()
	if direction > 0 {
		t += step
		if d := m.Duration(); d > 0 && t > d {
			t = d
		}
	} else {
		t -= step
		if t < 0 {
			t = 0
		}
	}

	for _, h := range s.handles {
		if h.Ready() {
			h.SetCurrentTime(t)
		}
	}

	s.lastReported = t
	if s.onTime != nil {
		s.onTime(t)
	}
	return t
}
