package playsync

import (
	"errors"
	"math"
	"testing"
	"time"
)

type fakeHandle struct {
	time     float64
	paused   bool
	ready    bool
	duration float64
	rate     float64
	sets     int
	playErr  error
}

func newFakeHandle(t float64) *fakeHandle {
	return &fakeHandle{time: t, paused: true, ready: true, duration: 60}
}

func (h *fakeHandle) CurrentTime() float64 { return h.time }
func (h *fakeHandle) SetCurrentTime(t float64) {
	h.time = t
	h.sets++
}
func (h *fakeHandle) Play() error {
	if h.playErr != nil {
		return h.playErr
	}
	h.paused = false
	return nil
}
func (h *fakeHandle) Pause()             { h.paused = true }
func (h *fakeHandle) Paused() bool       { return h.paused }
func (h *fakeHandle) Ready() bool        { return h.ready }
func (h *fakeHandle) Duration() float64  { return h.duration }
func (h *fakeHandle) SetRate(r float64)  { h.rate = r }

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time            { return c.t }
func (c *fakeClock) advance(d time.Duration)   { c.t = c.t.Add(d) }

func newTestSync(onTime func(float64)) (*Synchronizer, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	s := New(onTime, nil, WithClock(clock.now))
	return s, clock
}

func TestSyncTo_DriftBoundary(t *testing.T) {
	tests := []struct {
		name        string
		playing     bool
		handleTime  float64
		target      float64
		wantCorrect bool
	}{
		{"playing within threshold", true, 10.4, 10.0, false},
		{"playing exactly at threshold", true, 10.5, 10.0, false},
		{"playing beyond threshold", true, 10.51, 10.0, true},
		{"paused within threshold", false, 10.05, 10.0, false},
		{"paused exactly at threshold", false, 10.1, 10.0, false},
		{"paused beyond threshold", false, 10.11, 10.0, true},
		{"negative drift beyond threshold", true, 9.4, 10.0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newFakeHandle(tt.handleTime)
			s, clock := newTestSync(nil)
			s.Attach([]Handle{h})
			if tt.playing {
				h.paused = false
				s.SetPlaying(true)
			}
			// Move past the settle window so base thresholds apply.
			clock.advance(settleWindow + 10*time.Millisecond)

			s.SyncTo(tt.target)

			corrected := h.sets > 0
			if corrected != tt.wantCorrect {
				t.Errorf("corrected = %v, want %v (handle at %v, target %v)",
					corrected, tt.wantCorrect, tt.handleTime, tt.target)
			}
			if tt.wantCorrect && h.time != tt.target {
				t.Errorf("handle time = %v, want %v", h.time, tt.target)
			}
		})
	}
}

func TestSyncTo_SettleWindowWidensThreshold(t *testing.T) {
	h := newFakeHandle(11.0) // 1.0s drift from target
	h.paused = false
	s, clock := newTestSync(nil)
	s.Attach([]Handle{h})
	s.SetPlaying(true)

	// Within 200ms of the transition: threshold is 1.5, no correction.
	clock.advance(50 * time.Millisecond)
	s.SyncTo(10.0)
	if h.sets != 0 {
		t.Fatal("handle corrected inside settle window with 1.0s drift")
	}

	// After the settle window the playing threshold (0.5) applies.
	clock.advance(settleWindow)
	s.SyncTo(10.0)
	if h.sets != 1 {
		t.Fatal("handle not corrected after settle window elapsed")
	}
}

func TestSyncTo_NotReadyHandleSkipped(t *testing.T) {
	h := newFakeHandle(50)
	h.ready = false
	s, clock := newTestSync(nil)
	s.Attach([]Handle{h})
	clock.advance(settleWindow + time.Millisecond)

	s.SyncTo(0)
	if h.sets != 0 {
		t.Error("not-ready handle should not be hard-set")
	}
}

func TestThrashGuard_SuppressesSync(t *testing.T) {
	h := newFakeHandle(20)
	s, clock := newTestSync(nil)
	s.Attach([]Handle{h})

	// 4 transitions inside the 1.5s counting window trips the guard.
	for i := 0; i < 4; i++ {
		s.SetPlaying(i%2 == 0)
		clock.advance(100 * time.Millisecond)
	}

	clock.advance(settleWindow) // past settle, but still suppressed
	s.SyncTo(0)
	if h.sets != 0 {
		t.Fatal("sync should be suppressed by thrash guard")
	}

	// Guard window elapses: sync resumes.
	clock.advance(thrashSuppressionWindow)
	s.SyncTo(0)
	if h.sets != 1 {
		t.Fatal("sync should resume after the guard window")
	}
}

func TestThrashGuard_SlowTogglingDoesNotTrip(t *testing.T) {
	h := newFakeHandle(20)
	s, clock := newTestSync(nil)
	s.Attach([]Handle{h})

	// Same number of transitions spread beyond the counting window.
	for i := 0; i < 4; i++ {
		s.SetPlaying(i%2 == 0)
		clock.advance(thrashCountWindow + 100*time.Millisecond)
	}

	clock.advance(settleWindow)
	s.SyncTo(0)
	if h.sets != 1 {
		t.Fatal("slow toggling should not suppress sync")
	}
}

func TestReportMasterTime_DebounceAndMonotonicity(t *testing.T) {
	var reported []float64
	h := newFakeHandle(5)
	h.paused = false
	s, clock := newTestSync(func(t float64) { reported = append(reported, t) })
	s.Attach([]Handle{h})
	s.SetPlaying(true)

	// Inside the settle window: report dropped.
	h.time = 5.1
	s.ReportMasterTime()
	if len(reported) != 0 {
		t.Fatal("report inside settle window should be dropped")
	}

	clock.advance(settleWindow + time.Millisecond)
	h.time = 5.2
	s.ReportMasterTime()
	if len(reported) != 1 || reported[0] != 5.2 {
		t.Fatalf("reported = %v, want [5.2]", reported)
	}

	// Backward jump: not reported.
	h.time = 4.0
	s.ReportMasterTime()
	if len(reported) != 1 {
		t.Fatalf("backward jump reported: %v", reported)
	}

	h.time = 5.3
	s.ReportMasterTime()
	if len(reported) != 2 || reported[1] != 5.3 {
		t.Fatalf("reported = %v, want [5.2 5.3]", reported)
	}
}

func TestReportMasterTime_PausedMasterSilent(t *testing.T) {
	var reported []float64
	h := newFakeHandle(5)
	s, clock := newTestSync(func(t float64) { reported = append(reported, t) })
	s.Attach([]Handle{h})
	clock.advance(settleWindow + time.Millisecond)

	s.ReportMasterTime()
	if len(reported) != 0 {
		t.Error("paused master should not report")
	}
}

func TestSetPlaying_PauseAnchorsReportBaseline(t *testing.T) {
	var reported []float64
	h := newFakeHandle(0)
	h.paused = false
	s, clock := newTestSync(func(t float64) { reported = append(reported, t) })
	s.Attach([]Handle{h})
	s.SetPlaying(true)
	clock.advance(settleWindow + time.Millisecond)

	h.time = 12.0
	s.SetPlaying(false)

	if !h.paused {
		t.Fatal("handle should be paused")
	}
	if len(reported) == 0 || reported[len(reported)-1] != 12.0 {
		t.Fatalf("pause should report the anchor time, got %v", reported)
	}
}

func TestSetPlaying_PlayFailureNonFatal(t *testing.T) {
	h := newFakeHandle(0)
	h.playErr = errors.New("not allowed")
	s, _ := newTestSync(nil)
	s.Attach([]Handle{h})

	s.SetPlaying(true) // must not panic or propagate
	if !s.Playing() {
		t.Error("play intent should be recorded despite handle failure")
	}
}

func TestStepFrame(t *testing.T) {
	var reported []float64
	master := newFakeHandle(10)
	follower := newFakeHandle(10)
	s, _ := newTestSync(func(t float64) { reported = append(reported, t) })
	s.Attach([]Handle{master, follower})

	got := s.StepFrame(1, 30)
	want := 10 + 1.0/30
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("StepFrame(+1) = %v, want %v", got, want)
	}
	if math.Abs(follower.time-want) > 1e-9 {
		t.Errorf("follower not stepped: %v", follower.time)
	}
	// Frame steps bypass the debounce: reported immediately even though no
	// settle time has elapsed.
	if len(reported) != 1 {
		t.Fatalf("reported = %v, want one immediate report", reported)
	}
}

func TestStepFrame_Bounds(t *testing.T) {
	h := newFakeHandle(0)
	s, _ := newTestSync(nil)
	s.Attach([]Handle{h})

	if got := s.StepFrame(-1, 30); got != 0 {
		t.Errorf("StepFrame below zero = %v, want 0", got)
	}

	h.time = h.duration
	if got := s.StepFrame(1, 30); got != h.duration {
		t.Errorf("StepFrame past end = %v, want %v", got, h.duration)
	}
}

func TestSetRate_Uniform(t *testing.T) {
	a, b := newFakeHandle(0), newFakeHandle(0)
	s, _ := newTestSync(nil)
	s.Attach([]Handle{a, b})

	s.SetRate(0.25)
	if a.rate != 0.25 || b.rate != 0.25 {
		t.Errorf("rates = %v, %v, want uniform 0.25", a.rate, b.rate)
	}
}
