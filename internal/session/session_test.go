package session

import (
	"context"
	"testing"

	"github.com/dashgrid/dashgrid-agent/internal/bundle"
	"github.com/dashgrid/dashgrid-agent/internal/filter"
	"github.com/dashgrid/dashgrid-agent/internal/media"
)

type fakeProber struct {
	duration  float64
	frameRate float64
}

func (p *fakeProber) Probe(ctx context.Context, filePath string) (*media.ProbeResult, error) {
	return &media.ProbeResult{
		Duration:  p.duration,
		Width:     1448,
		Height:    938,
		Codec:     "hevc",
		FrameRate: p.frameRate,
	}, nil
}

func testBundles(t *testing.T, ids []string, slots []bundle.CameraSlot) []*bundle.Bundle {
	t.Helper()

	var bundles []*bundle.Bundle
	for _, id := range ids {
		var tracks []bundle.Track
		for _, slot := range slots {
			tracks = append(tracks, bundle.Track{Slot: slot, Path: "/clips/" + id + "-" + string(slot) + ".mp4"})
		}
		b, err := bundle.New(id, tracks)
		if err != nil {
			t.Fatalf("bundle.New(%s): %v", id, err)
		}
		bundles = append(bundles, b)
	}
	return bundles
}

func fourCam() []bundle.CameraSlot {
	return []bundle.CameraSlot{bundle.SlotFront, bundle.SlotBack, bundle.SlotLeftRepeater, bundle.SlotRightRepeater}
}

func TestOpen_PlaylistStartsAtChosenBundle(t *testing.T) {
	svc := NewService(nil, nil, nil)
	bundles := testBundles(t, []string{"2024-01-15_14-30-25", "2024-01-15_14-31-25", "2024-01-15_14-32-25"}, fourCam())

	if err := svc.Open(context.Background(), bundles, "2024-01-15_14-31-25"); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	snap := svc.Snapshot()
	if !snap.Open {
		t.Fatal("snapshot not open")
	}
	if snap.Timeline.BundleCount != 2 {
		t.Errorf("bundle count = %d, want 2", snap.Timeline.BundleCount)
	}
	if snap.BundleID != "2024-01-15_14-31-25" {
		t.Errorf("bundle = %s", snap.BundleID)
	}
	if len(snap.Cameras) != 4 {
		t.Errorf("cameras = %v", snap.Cameras)
	}
}

func TestOpen_UnknownBundle(t *testing.T) {
	svc := NewService(nil, nil, nil)
	bundles := testBundles(t, []string{"2024-01-15_14-30-25"}, fourCam())

	if err := svc.Open(context.Background(), bundles, "2024-01-15_14-99-25"); err == nil {
		t.Fatal("Open() error = nil, want error")
	}
}

func TestDispatch_PlayPauseToggles(t *testing.T) {
	svc := NewService(nil, nil, nil)
	bundles := testBundles(t, []string{"2024-01-15_14-30-25"}, fourCam())
	svc.Open(context.Background(), bundles, "2024-01-15_14-30-25")

	svc.Dispatch(context.Background(), IntentPlayPause)
	if !svc.Snapshot().Timeline.Playing {
		t.Error("not playing after toggle")
	}

	svc.Dispatch(context.Background(), IntentPlayPause)
	if svc.Snapshot().Timeline.Playing {
		t.Error("still playing after second toggle")
	}
}

func TestDispatch_NextPrevClip(t *testing.T) {
	svc := NewService(nil, nil, nil)
	bundles := testBundles(t, []string{"2024-01-15_14-30-25", "2024-01-15_14-31-25"}, fourCam())
	svc.Open(context.Background(), bundles, "2024-01-15_14-30-25")

	svc.Dispatch(context.Background(), IntentNextClip)
	if got := svc.Snapshot().Timeline.CurrentIndex; got != 1 {
		t.Errorf("index = %d, want 1", got)
	}

	svc.Dispatch(context.Background(), IntentPrevClip)
	if got := svc.Snapshot().Timeline.CurrentIndex; got != 0 {
		t.Errorf("index = %d, want 0", got)
	}

	// Out-of-range select is a no-op.
	svc.Dispatch(context.Background(), IntentPrevClip)
	if got := svc.Snapshot().Timeline.CurrentIndex; got != 0 {
		t.Errorf("index = %d, want 0", got)
	}
}

func TestDispatch_TogglePlateFilter(t *testing.T) {
	svc := NewService(nil, nil, nil)
	bundles := testBundles(t, []string{"2024-01-15_14-30-25"}, fourCam())
	svc.Open(context.Background(), bundles, "2024-01-15_14-30-25")

	svc.Dispatch(context.Background(), IntentTogglePlate)
	if got := svc.Filters(); !got.IsLicensePlate() {
		t.Errorf("filters = %+v, want license plate preset", got)
	}

	svc.Dispatch(context.Background(), IntentTogglePlate)
	if got := svc.Filters(); got != filter.Default() {
		t.Errorf("filters = %+v, want default", got)
	}
}

func TestDispatch_ToggleModes(t *testing.T) {
	svc := NewService(nil, nil, nil)

	svc.Dispatch(context.Background(), IntentToggleSeek)
	if got := svc.Snapshot().SeekMode; got != SeekModeFrames {
		t.Errorf("seek mode = %s, want frames", got)
	}

	svc.Dispatch(context.Background(), IntentToggleFit)
	if got := svc.Snapshot().FitMode; got != FitCover {
		t.Errorf("fit mode = %s, want cover", got)
	}
}

func TestDispatch_FullscreenDigitByChannelMode(t *testing.T) {
	svc := NewService(nil, nil, nil)
	bundles := testBundles(t, []string{"2024-01-15_14-30-25"}, fourCam())
	svc.Open(context.Background(), bundles, "2024-01-15_14-30-25")

	// 4-channel order: front, back, right_repeater, left_repeater.
	svc.Dispatch(context.Background(), IntentFullscreen3)
	if got := svc.Snapshot().Fullscreen; got != "right_repeater" {
		t.Errorf("fullscreen = %s, want right_repeater", got)
	}

	// Same digit again exits fullscreen.
	svc.Dispatch(context.Background(), IntentFullscreen3)
	if got := svc.Snapshot().Fullscreen; got != "" {
		t.Errorf("fullscreen = %s, want empty", got)
	}

	// Digit 5 is out of range in 4-channel mode.
	svc.Dispatch(context.Background(), IntentFullscreen5)
	if got := svc.Snapshot().Fullscreen; got != "" {
		t.Errorf("fullscreen = %s, want empty", got)
	}
}

func TestDispatch_FullscreenSixChannel(t *testing.T) {
	svc := NewService(nil, nil, nil)
	six := append(fourCam(), bundle.SlotLeftPillar, bundle.SlotRightPillar)
	bundles := testBundles(t, []string{"2024-01-15_14-30-25"}, six)
	svc.Open(context.Background(), bundles, "2024-01-15_14-30-25")

	// 6-channel order: front, right_pillar, left_pillar, back, ...
	svc.Dispatch(context.Background(), IntentFullscreen2)
	if got := svc.Snapshot().Fullscreen; got != "right_pillar" {
		t.Errorf("fullscreen = %s, want right_pillar", got)
	}
}

func TestStep_SecondsMode(t *testing.T) {
	svc := NewService(nil, nil, nil)
	bundles := testBundles(t, []string{"2024-01-15_14-30-25"}, fourCam())
	svc.Open(context.Background(), bundles, "2024-01-15_14-30-25")

	svc.Seek(context.Background(), 20, false)
	svc.Step(context.Background(), +1)
	if got := svc.Snapshot().Timeline.GlobalTime; got != 25 {
		t.Errorf("global time = %v, want 25", got)
	}

	svc.Step(context.Background(), -1)
	if got := svc.Snapshot().Timeline.GlobalTime; got != 20 {
		t.Errorf("global time = %v, want 20", got)
	}
}

func TestStep_FramesModePausesAndMovesOneFrame(t *testing.T) {
	svc := NewService(nil, nil, nil)
	bundles := testBundles(t, []string{"2024-01-15_14-30-25"}, fourCam())
	svc.Open(context.Background(), bundles, "2024-01-15_14-30-25")

	svc.SetPlaying(true)
	svc.Dispatch(context.Background(), IntentToggleSeek)
	svc.Step(context.Background(), +1)

	snap := svc.Snapshot()
	if snap.Timeline.Playing {
		t.Error("still playing after frame step")
	}
	// A sliver of wall time elapses between play and pause, so compare
	// against one frame with a tolerance well under a frame interval.
	want := 1.0 / 30
	if diff := snap.Timeline.LocalTime - want; diff < -0.01 || diff > 0.01 {
		t.Errorf("local time = %v, want ~%v", snap.Timeline.LocalTime, want)
	}
}

func TestReset_ClosesSession(t *testing.T) {
	svc := NewService(nil, nil, nil)
	bundles := testBundles(t, []string{"2024-01-15_14-30-25"}, fourCam())
	svc.Open(context.Background(), bundles, "2024-01-15_14-30-25")

	svc.Dispatch(context.Background(), IntentGoHome)

	snap := svc.Snapshot()
	if snap.Open {
		t.Error("session still open after go home")
	}
	if err := svc.Step(context.Background(), 1); err != ErrNoSession {
		t.Errorf("Step() error = %v, want ErrNoSession", err)
	}
}

func TestSnapshot_TimestampLabelTracksLocalTime(t *testing.T) {
	svc := NewService(nil, nil, nil)
	bundles := testBundles(t, []string{"2024-01-15_14-30-25"}, fourCam())
	svc.Open(context.Background(), bundles, "2024-01-15_14-30-25")

	svc.Seek(context.Background(), 15, false)
	if got := svc.Snapshot().TimestampLabel; got != "2024-01-15 14:30:40" {
		t.Errorf("label = %s, want 2024-01-15 14:30:40", got)
	}
}

func TestSubscribe_ReceivesSnapshots(t *testing.T) {
	svc := NewService(nil, nil, nil)
	bundles := testBundles(t, []string{"2024-01-15_14-30-25"}, fourCam())

	ch, cancel := svc.Subscribe()
	defer cancel()

	svc.Open(context.Background(), bundles, "2024-01-15_14-30-25")

	select {
	case snap := <-ch:
		if !snap.Open {
			t.Error("published snapshot not open")
		}
	default:
		t.Fatal("no snapshot published")
	}
}
