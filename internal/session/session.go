// Package session owns the live viewing session: which bundle is open,
// the authoritative playhead, per-session filter state and view modes,
// and the intent channel the UI drives it through.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dashgrid/dashgrid-agent/internal/bundle"
	"github.com/dashgrid/dashgrid-agent/internal/filter"
	"github.com/dashgrid/dashgrid-agent/internal/layout"
	"github.com/dashgrid/dashgrid-agent/internal/media"
	"github.com/dashgrid/dashgrid-agent/internal/playsync"
	"github.com/dashgrid/dashgrid-agent/internal/store"
	"github.com/dashgrid/dashgrid-agent/internal/timeline"
)

var ErrNoSession = errors.New("no session open")

// SeekMode selects what a discrete step means.
type SeekMode string

const (
	SeekModeSeconds SeekMode = "seconds" // ±5 s
	SeekModeFrames  SeekMode = "frames"  // ±1 frame
)

// FitMode controls how the browser letterboxes grid cells.
type FitMode string

const (
	FitContain FitMode = "contain"
	FitCover   FitMode = "cover"
)

const stepSeconds = 5.0

// Intent is an abstract command the UI layer translates key events into.
type Intent string

const (
	IntentPlayPause   Intent = "play_pause"
	IntentStepBack    Intent = "step_back"
	IntentStepForward Intent = "step_forward"
	IntentPrevClip    Intent = "prev_clip"
	IntentNextClip    Intent = "next_clip"
	IntentTogglePlate Intent = "toggle_plate_filter"
	IntentToggleFit   Intent = "toggle_fit"
	IntentToggleSeek  Intent = "toggle_seek_mode"
	IntentFullscreen1 Intent = "fullscreen_1"
	IntentFullscreen2 Intent = "fullscreen_2"
	IntentFullscreen3 Intent = "fullscreen_3"
	IntentFullscreen4 Intent = "fullscreen_4"
	IntentFullscreen5 Intent = "fullscreen_5"
	IntentFullscreen6 Intent = "fullscreen_6"
	IntentGoHome      Intent = "go_home"
)

// TimelineState is the wire shape of the timeline snapshot.
type TimelineState struct {
	BundleCount   int       `json:"bundle_count"`
	CurrentIndex  int       `json:"current_index"`
	LocalTime     float64   `json:"local_time"`
	GlobalTime    float64   `json:"global_time"`
	Durations     []float64 `json:"durations"`
	TotalDuration float64   `json:"total_duration"`
	Playing       bool      `json:"playing"`
	Rate          float64   `json:"rate"`
}

// Snapshot is the state pushed to WebSocket subscribers after every
// mutation.
type Snapshot struct {
	Open           bool          `json:"open"`
	BundleID       string        `json:"bundle_id,omitempty"`
	ChannelMode    int           `json:"channel_mode,omitempty"`
	Cameras        []string      `json:"cameras,omitempty"`
	Timeline       TimelineState `json:"timeline"`
	Filters        filter.State  `json:"filters"`
	FilterCSS      string        `json:"filter_css"`
	SeekMode       SeekMode      `json:"seek_mode"`
	FitMode        FitMode       `json:"fit_mode"`
	Fullscreen     string        `json:"fullscreen,omitempty"`
	TimestampLabel string        `json:"timestamp_label,omitempty"`
}

type Service struct {
	repo   store.Repository
	prober media.Prober
	logger *slog.Logger

	mu         sync.Mutex
	controller *timeline.Controller
	sync       *playsync.Synchronizer
	order      []bundle.CameraSlot
	handles    map[bundle.CameraSlot]*media.ClockHandle
	master     *media.ClockHandle
	filters    filter.State
	seekMode   SeekMode
	fitMode    FitMode
	fullscreen bundle.CameraSlot
	frameRate  float64
	generation int

	subMu sync.Mutex
	subs  map[chan Snapshot]struct{}
}

func NewService(repo store.Repository, prober media.Prober, logger *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		prober:   prober,
		logger:   logger,
		filters:  filter.Default(),
		seekMode: SeekModeSeconds,
		fitMode:  FitContain,
		subs:     make(map[chan Snapshot]struct{}),
	}
}

// Open starts a session at the given bundle. That bundle and every later
// one form the playlist; durations start as placeholders and are
// corrected in the background as probes complete.
func (s *Service) Open(ctx context.Context, bundles []*bundle.Bundle, id string) error {
	start := -1
	for i, b := range bundles {
		if b.ID.String() == id {
			start = i
			break
		}
	}
	if start < 0 {
		return fmt.Errorf("bundle %s not found", id)
	}

	playlist := bundles[start:]

	s.mu.Lock()
	s.controller = timeline.NewController(playlist, s.logger)
	controller := s.controller
	s.sync = playsync.New(controller.ReportTime, s.logger)
	s.filters = filter.Default()
	s.seekMode = SeekModeSeconds
	s.fitMode = FitContain
	s.fullscreen = ""
	s.frameRate = 0
	s.generation++
	gen := s.generation
	s.attachClipLocked(ctx, 0)
	s.mu.Unlock()

	// Probing outlives the request that opened the session.
	go s.probeDurations(context.WithoutCancel(ctx), controller, playlist, gen)

	s.publish()
	return nil
}

// attachClipLocked rebuilds the playback handles for the clip at index.
// The front camera is the master when present.
func (s *Service) attachClipLocked(ctx context.Context, index int) {
	bundles := s.controller.Bundles()
	if index < 0 || index >= len(bundles) {
		return
	}
	b := bundles[index]

	var custom *layout.Config
	if s.repo != nil {
		mode := layout.ModeFor(b.Mode())
		if raw, err := s.repo.GetLayout(ctx, string(mode)); err == nil && raw != "" {
			cfg := layout.Decode(raw, mode)
			custom = &cfg
		}
	}
	s.order = layout.OrderFor(b, custom)

	duration := timeline.DefaultClipSeconds
	if snap := s.controller.Snapshot(); index < len(snap.Durations) && snap.Durations[index] > 0 {
		duration = snap.Durations[index]
	}

	s.handles = make(map[bundle.CameraSlot]*media.ClockHandle, len(s.order))
	var ordered []playsync.Handle
	masterSlot := bundle.SlotFront
	if !b.Has(masterSlot) && len(s.order) > 0 {
		masterSlot = s.order[0]
	}
	for _, slot := range append([]bundle.CameraSlot{masterSlot}, s.order...) {
		if _, done := s.handles[slot]; done {
			continue
		}
		h := media.NewClockHandle(duration)
		s.handles[slot] = h
		ordered = append(ordered, h)
	}
	s.master = s.handles[masterSlot]
	s.sync.Attach(ordered)
}

func (s *Service) probeDurations(ctx context.Context, controller *timeline.Controller, playlist []*bundle.Bundle, gen int) {
	if s.prober == nil {
		return
	}
	for i, b := range playlist {
		track, ok := b.Track(bundle.SlotFront)
		if !ok {
			slots := b.Slots()
			if len(slots) == 0 {
				continue
			}
			track, _ = b.Track(slots[0])
		}

		info, err := s.prober.Probe(ctx, track.Path)
		if err != nil {
			if s.logger != nil {
				s.logger.Warn("duration probe failed", "bundle", b.ID, "error", err)
			}
			continue
		}

		controller.OnDurationLearned(i, info.Duration)

		s.mu.Lock()
		if s.generation == gen && s.controller == controller {
			if s.controller.Snapshot().CurrentIndex == i {
				for _, h := range s.handles {
					h.SetDuration(info.Duration)
				}
			}
			if info.FrameRate > 0 && s.frameRate == 0 {
				s.frameRate = info.FrameRate
			}
		}
		s.mu.Unlock()

		if s.repo != nil {
			for _, slot := range b.Slots() {
				s.repo.UpdateClipProbe(ctx, b.ID.String(), string(slot), info.Duration, info.Width, info.Height, info.Codec)
			}
		}
	}
	s.publish()
}

// Seek moves the session playhead to a global timeline position.
func (s *Service) Seek(ctx context.Context, globalTime float64, discrete bool) error {
	s.mu.Lock()
	if s.controller == nil {
		s.mu.Unlock()
		return ErrNoSession
	}

	before := s.controller.Snapshot().CurrentIndex
	s.controller.Seek(globalTime, discrete)
	after := s.controller.Snapshot()

	if after.CurrentIndex != before {
		s.attachClipLocked(ctx, after.CurrentIndex)
	}
	s.sync.SyncTo(after.LocalTime)
	s.sync.SetPlaying(after.Playing)
	s.mu.Unlock()

	s.publish()
	return nil
}

// SelectClip jumps the playhead to the start of the clip at index.
func (s *Service) SelectClip(ctx context.Context, index int) error {
	s.mu.Lock()
	if s.controller == nil {
		s.mu.Unlock()
		return ErrNoSession
	}
	s.controller.SelectClip(index)
	after := s.controller.Snapshot()
	s.attachClipLocked(ctx, after.CurrentIndex)
	s.sync.SyncTo(after.LocalTime)
	s.sync.SetPlaying(after.Playing)
	s.mu.Unlock()

	s.publish()
	return nil
}

// Step applies a discrete seek: ±5 s in seconds mode, ±1 frame in frame
// mode. Frame stepping pauses playback first.
func (s *Service) Step(ctx context.Context, direction int) error {
	s.mu.Lock()
	if s.controller == nil {
		s.mu.Unlock()
		return ErrNoSession
	}

	if s.seekMode == SeekModeFrames {
		s.controller.SetPlaying(false)
		s.sync.SetPlaying(false)
		rate := s.frameRate
		if rate <= 0 {
			rate = 30
		}
		s.sync.StepFrame(direction, rate)
		s.mu.Unlock()
		s.publish()
		return nil
	}

	target := s.controller.Snapshot().GlobalTime + float64(direction)*stepSeconds
	s.mu.Unlock()
	return s.Seek(ctx, target, true)
}

// SetPlaying starts or stops playback across all handles.
func (s *Service) SetPlaying(playing bool) error {
	s.mu.Lock()
	if s.controller == nil {
		s.mu.Unlock()
		return ErrNoSession
	}
	s.controller.SetPlaying(playing)
	s.sync.SetPlaying(playing)
	s.mu.Unlock()

	s.publish()
	return nil
}

// Tick advances the session: reports the master handle's time to the
// controller and rolls to the next clip when the current one ends. The
// server calls this on a short interval while a session is open.
func (s *Service) Tick(ctx context.Context) {
	s.mu.Lock()
	if s.controller == nil || s.master == nil {
		s.mu.Unlock()
		return
	}

	s.sync.ReportMasterTime()
	s.sync.SyncTo(s.master.CurrentTime())

	if !s.master.Ended() || !s.controller.Snapshot().Playing {
		s.mu.Unlock()
		s.publish()
		return
	}

	before := s.controller.Snapshot().CurrentIndex
	s.controller.OnClipEnded()
	after := s.controller.Snapshot()
	if after.CurrentIndex != before {
		s.attachClipLocked(ctx, after.CurrentIndex)
		s.sync.SyncTo(0)
	}
	s.sync.SetPlaying(after.Playing)
	s.mu.Unlock()

	s.publish()
}

// Dispatch translates an abstract intent into a session operation.
func (s *Service) Dispatch(ctx context.Context, intent Intent) error {
	switch intent {
	case IntentPlayPause:
		s.mu.Lock()
		if s.controller == nil {
			s.mu.Unlock()
			return ErrNoSession
		}
		playing := s.controller.TogglePlaying()
		s.sync.SetPlaying(playing)
		s.mu.Unlock()
		s.publish()
		return nil

	case IntentStepBack:
		return s.Step(ctx, -1)
	case IntentStepForward:
		return s.Step(ctx, +1)

	case IntentPrevClip, IntentNextClip:
		s.mu.Lock()
		if s.controller == nil {
			s.mu.Unlock()
			return ErrNoSession
		}
		index := s.controller.Snapshot().CurrentIndex
		s.mu.Unlock()
		if intent == IntentPrevClip {
			index--
		} else {
			index++
		}
		return s.SelectClip(ctx, index)

	case IntentTogglePlate:
		s.mu.Lock()
		s.filters = s.filters.TogglePlate()
		s.mu.Unlock()
		s.publish()
		return nil

	case IntentToggleFit:
		s.mu.Lock()
		if s.fitMode == FitContain {
			s.fitMode = FitCover
		} else {
			s.fitMode = FitContain
		}
		s.mu.Unlock()
		s.publish()
		return nil

	case IntentToggleSeek:
		s.mu.Lock()
		if s.seekMode == SeekModeSeconds {
			s.seekMode = SeekModeFrames
		} else {
			s.seekMode = SeekModeSeconds
		}
		s.mu.Unlock()
		s.publish()
		return nil

	case IntentFullscreen1, IntentFullscreen2, IntentFullscreen3,
		IntentFullscreen4, IntentFullscreen5, IntentFullscreen6:
		return s.toggleFullscreen(int(intent[len(intent)-1] - '0'))

	case IntentGoHome:
		return s.Reset()
	}
	return fmt.Errorf("unknown intent %q", intent)
}

// toggleFullscreen maps digit N to the Nth camera of the channel mode's
// default order, so the same key means the same physical camera
// regardless of any custom grid layout.
func (s *Service) toggleFullscreen(n int) error {
	s.mu.Lock()

	if s.controller == nil {
		s.mu.Unlock()
		return ErrNoSession
	}
	current := s.controller.Current()
	if current == nil {
		s.mu.Unlock()
		return ErrNoSession
	}

	order := bundle.DefaultOrder(current.Mode())
	if n >= 1 && n <= len(order) {
		slot := order[n-1]
		if current.Has(slot) {
			if s.fullscreen == slot {
				s.fullscreen = ""
			} else {
				s.fullscreen = slot
			}
		}
	}
	s.mu.Unlock()

	s.publish()
	return nil
}

// Reset closes the session and returns to the bundle browser.
func (s *Service) Reset() error {
	s.mu.Lock()
	s.controller = nil
	s.sync = nil
	s.handles = nil
	s.master = nil
	s.order = nil
	s.filters = filter.Default()
	s.seekMode = SeekModeSeconds
	s.fitMode = FitContain
	s.fullscreen = ""
	s.frameRate = 0
	s.generation++
	s.mu.Unlock()

	s.publish()
	return nil
}

// Filters returns the current filter state.
func (s *Service) Filters() filter.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filters
}

// SetFilters replaces the filter state wholesale.
func (s *Service) SetFilters(f filter.State) {
	s.mu.Lock()
	s.filters = f
	s.mu.Unlock()
	s.publish()
}

// SetRate changes playback rate uniformly.
func (s *Service) SetRate(rate float64) error {
	s.mu.Lock()
	if s.controller == nil {
		s.mu.Unlock()
		return ErrNoSession
	}
	s.controller.SetRate(rate)
	s.sync.SetRate(rate)
	s.mu.Unlock()

	s.publish()
	return nil
}

// Snapshot captures the full session state.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Filters:   s.filters,
		FilterCSS: s.filters.CSSString(),
		SeekMode:  s.seekMode,
		FitMode:   s.fitMode,
	}
	if s.controller == nil {
		return snap
	}

	t := s.controller.Snapshot()
	snap.Open = true
	snap.Timeline = TimelineState{
		BundleCount:   t.BundleCount,
		CurrentIndex:  t.CurrentIndex,
		LocalTime:     t.LocalTime,
		GlobalTime:    t.GlobalTime,
		Durations:     t.Durations,
		TotalDuration: t.TotalDuration,
		Playing:       t.Playing,
		Rate:          t.Rate,
	}

	if current := s.controller.Current(); current != nil {
		snap.BundleID = current.ID.String()
		snap.ChannelMode = int(current.Mode())
		for _, slot := range s.order {
			snap.Cameras = append(snap.Cameras, string(slot))
		}
		snap.Fullscreen = string(s.fullscreen)
		snap.TimestampLabel = current.ID.Label(t.LocalTime)
	}
	return snap
}

// Subscribe registers a state-stream subscriber. Slow subscribers drop
// snapshots rather than block the session.
func (s *Service) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 8)

	s.subMu.Lock()
	s.subs[ch] = struct{}{}
	s.subMu.Unlock()

	cancel := func() {
		s.subMu.Lock()
		delete(s.subs, ch)
		s.subMu.Unlock()
	}
	return ch, cancel
}

func (s *Service) publish() {
	snap := s.Snapshot()

	s.subMu.Lock()
	defer s.subMu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}
