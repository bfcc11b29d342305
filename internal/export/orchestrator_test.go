package export

import (
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dashgrid/dashgrid-agent/internal/bundle"
	"github.com/dashgrid/dashgrid-agent/internal/filter"
	"github.com/dashgrid/dashgrid-agent/internal/media"
)

type fakeProber struct {
	duration  float64
	frameRate float64
	width     int
	height    int
	err       error
}

func (p *fakeProber) Probe(ctx context.Context, filePath string) (*media.ProbeResult, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &media.ProbeResult{
		Duration:  p.duration,
		Width:     p.width,
		Height:    p.height,
		Codec:     "hevc",
		FrameRate: p.frameRate,
	}, nil
}

type fakeReader struct {
	mu     sync.Mutex
	frames int
	read   int
	closed bool
	w, h   int
}

func (r *fakeReader) ReadFrame() (*image.RGBA, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frames >= 0 && r.read >= r.frames {
		return nil, io.EOF
	}
	r.read++
	return image.NewRGBA(image.Rect(0, 0, r.w, r.h)), nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeReader) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

type fakeOpener struct {
	mu      sync.Mutex
	frames  int // -1 means unbounded
	readers []*fakeReader
}

func (o *fakeOpener) Open(ctx context.Context, filePath string, opts media.StreamOptions) (media.FrameReader, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	r := &fakeReader{frames: o.frames, w: opts.Width, h: opts.Height}
	o.readers = append(o.readers, r)
	return r, nil
}

type fakeSink struct {
	mu      sync.Mutex
	frames  int
	path    string
	ended   bool
	aborted bool
	delay   time.Duration
}

func (s *fakeSink) Begin(width, height int, frameRate float64, opts SinkOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.path = opts.OutputPath
	return os.WriteFile(opts.OutputPath, []byte("partial"), 0644)
}

func (s *fakeSink) EncodeFrame(frame *image.RGBA) error {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames++
	return nil
}

func (s *fakeSink) End() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = true
	return nil
}

func (s *fakeSink) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aborted = true
}

func testBundle(t *testing.T) *bundle.Bundle {
	t.Helper()

	slots := []bundle.CameraSlot{bundle.SlotFront, bundle.SlotBack, bundle.SlotRightRepeater, bundle.SlotLeftRepeater}
	var tracks []bundle.Track
	for _, slot := range slots {
		tracks = append(tracks, bundle.Track{
			Slot: slot,
			Path: "/clips/2024-01-15_14-30-25-" + string(slot) + ".mp4",
			Size: 7_500_000,
		})
	}
	b, err := bundle.New("2024-01-15_14-30-25", tracks)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func newTestOrchestrator(t *testing.T, prober media.Prober, opener Opener, sink *fakeSink) *Orchestrator {
	t.Helper()

	opts := DefaultOptions(t.TempDir())
	opts.GraceDelay = time.Millisecond

	return NewOrchestrator(
		prober,
		opener,
		func(ctx context.Context) Sink { return sink },
		func(ctx context.Context) (Codec, error) { return CodecPreference[0], nil },
		nil,
		nil,
		opts,
	)
}

func waitIdle(t *testing.T, o *Orchestrator) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for o.Busy() {
		if time.Now().After(deadline) {
			t.Fatal("export did not finish")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestExport_CompletesAtFullProgress(t *testing.T) {
	prober := &fakeProber{duration: 1.0, frameRate: 29.2, width: 640, height: 480}
	opener := &fakeOpener{frames: 30}
	sink := &fakeSink{}
	o := newTestOrchestrator(t, prober, opener, sink)

	events, cancel := o.Subscribe()
	defer cancel()

	b := testBundle(t)
	jobID, err := o.Start(context.Background(), b, b.Slots(), "", filter.Default())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitIdle(t, o)

	final, err := o.Status(context.Background(), jobID)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if final.State != StateCompleted {
		t.Fatalf("state = %s (error %q), want completed", final.State, final.Error)
	}
	if final.Progress != 100 {
		t.Errorf("progress = %v, want 100", final.Progress)
	}
	if final.OutputPath == "" {
		t.Fatal("no output path")
	}
	if filepath.Base(final.OutputPath) != "2024-01-15_14-30-25.mp4" {
		t.Errorf("output name = %s", filepath.Base(final.OutputPath))
	}
	if _, err := os.Stat(final.OutputPath); err != nil {
		t.Errorf("output missing: %v", err)
	}
	if !sink.ended {
		t.Error("sink never finalized")
	}
	if sink.frames != 30 {
		t.Errorf("encoded frames = %d, want 30", sink.frames)
	}

	// Progress events pass through Recording before Completed.
	sawRecording := false
	for {
		select {
		case p := <-events:
			if p.State == StateRecording {
				sawRecording = true
			}
		default:
			if !sawRecording {
				t.Error("no recording progress published")
			}
			return
		}
	}
}

func TestExport_ReleasesHandles(t *testing.T) {
	prober := &fakeProber{duration: 0.5, frameRate: 30, width: 320, height: 240}
	opener := &fakeOpener{frames: 15}
	sink := &fakeSink{}
	o := newTestOrchestrator(t, prober, opener, sink)

	b := testBundle(t)
	if _, err := o.Start(context.Background(), b, b.Slots(), "", filter.Default()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitIdle(t, o)

	if len(opener.readers) != 4 {
		t.Fatalf("readers = %d, want 4", len(opener.readers))
	}
	for i, r := range opener.readers {
		if !r.isClosed() {
			t.Errorf("reader %d not closed", i)
		}
	}
}

func TestExport_BusyWhileRunning(t *testing.T) {
	prober := &fakeProber{duration: 10, frameRate: 30, width: 320, height: 240}
	opener := &fakeOpener{frames: -1}
	sink := &fakeSink{delay: 2 * time.Millisecond}
	o := newTestOrchestrator(t, prober, opener, sink)

	b := testBundle(t)
	jobID, err := o.Start(context.Background(), b, b.Slots(), "", filter.Default())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if _, err := o.Start(context.Background(), b, b.Slots(), "", filter.Default()); err != ErrBusy {
		t.Errorf("second Start() error = %v, want ErrBusy", err)
	}

	o.Cancel(jobID)
	waitIdle(t, o)
}

func TestExport_CancelLeavesNoOutput(t *testing.T) {
	prober := &fakeProber{duration: 60, frameRate: 30, width: 320, height: 240}
	opener := &fakeOpener{frames: -1}
	sink := &fakeSink{delay: time.Millisecond}
	o := newTestOrchestrator(t, prober, opener, sink)

	events, unsub := o.Subscribe()
	defer unsub()

	b := testBundle(t)
	jobID, err := o.Start(context.Background(), b, b.Slots(), "", filter.Default())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// Wait until recording is underway, then cancel.
	deadline := time.After(5 * time.Second)
	for recording := false; !recording; {
		select {
		case p := <-events:
			recording = p.State == StateRecording && p.Progress > 0
		case <-deadline:
			t.Fatal("never started recording")
		}
	}
	if err := o.Cancel(jobID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	waitIdle(t, o)

	final, err := o.Status(context.Background(), jobID)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if final.State != StateCancelled {
		t.Fatalf("state = %s, want cancelled", final.State)
	}
	if final.Progress != 0 {
		t.Errorf("progress = %v, want 0 after cancel", final.Progress)
	}

	entries, err := os.ReadDir(o.opts.ExportDir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		t.Errorf("unexpected output file %s", e.Name())
	}

	for i, r := range opener.readers {
		if !r.isClosed() {
			t.Errorf("reader %d not closed after cancel", i)
		}
	}
}

func TestExport_SetupFailureRetriesThenFails(t *testing.T) {
	prober := &fakeProber{err: fmt.Errorf("probe exploded")}
	opener := &fakeOpener{frames: 10}
	sink := &fakeSink{}
	o := newTestOrchestrator(t, prober, opener, sink)

	b := testBundle(t)
	jobID, err := o.Start(context.Background(), b, b.Slots(), "", filter.Default())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitIdle(t, o)

	final, _ := o.Status(context.Background(), jobID)
	if final.State != StateFailed {
		t.Fatalf("state = %s, want failed", final.State)
	}
	if final.Error == "" {
		t.Error("failure surfaced no error")
	}

	// The orchestrator is reusable after a failure.
	prober.err = nil
	prober.duration, prober.frameRate, prober.width, prober.height = 0.5, 30, 320, 240
	if _, err := o.Start(context.Background(), b, b.Slots(), "", filter.Default()); err != nil {
		t.Fatalf("Start() after failure error = %v", err)
	}
	waitIdle(t, o)
}

func TestExport_MissingTrackFails(t *testing.T) {
	prober := &fakeProber{duration: 1, frameRate: 30, width: 320, height: 240}
	opener := &fakeOpener{frames: 10}
	sink := &fakeSink{}
	o := newTestOrchestrator(t, prober, opener, sink)

	b := testBundle(t)
	jobID, err := o.Start(context.Background(), b, []bundle.CameraSlot{bundle.SlotLeftPillar}, "", filter.Default())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitIdle(t, o)

	final, _ := o.Status(context.Background(), jobID)
	if final.State != StateFailed {
		t.Errorf("state = %s, want failed", final.State)
	}
}
