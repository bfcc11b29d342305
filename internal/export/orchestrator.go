package export

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dashgrid/dashgrid-agent/internal/bundle"
	"github.com/dashgrid/dashgrid-agent/internal/filter"
	"github.com/dashgrid/dashgrid-agent/internal/media"
	"github.com/dashgrid/dashgrid-agent/internal/store"
)

// ErrBusy rejects a second concurrent export; jobs are serialized by a
// single busy flag.
var ErrBusy = errors.New("an export is already running")

type State string

const (
	StateIdle       State = "idle"
	StatePreparing  State = "preparing"
	StateRecording  State = "recording"
	StateFinalizing State = "finalizing"
	StateCompleted  State = "completed"
	StateCancelled  State = "cancelled"
	StateFailed     State = "failed"
)

// Progress is the published view of the active (or last) job.
type Progress struct {
	JobID      string  `json:"job_id"`
	BundleID   string  `json:"bundle_id"`
	State      State   `json:"state"`
	Progress   float64 `json:"progress"`
	ETASeconds float64 `json:"eta_seconds,omitempty"`
	OutputPath string  `json:"output_path,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// Options carries the tunable heuristics. The defaults are fitted to one
// dashcam hardware family and are not assumed to generalize.
type Options struct {
	ExportDir             string
	FrameRateCandidates   []float64
	FrameRateByResolution map[string]float64
	CaptureRate           float64
	RealtimePacing        bool
	GraceDelay            time.Duration
	ProbeTimeout          time.Duration
	MaxCanvasWidth        int
	MaxCanvasHeight       int
}

func DefaultOptions(exportDir string) Options {
	return Options{
		ExportDir:             exportDir,
		FrameRateCandidates:   DefaultFrameRateCandidates,
		FrameRateByResolution: DefaultFrameRateByResolution,
		CaptureRate:           0.5,
		GraceDelay:            500 * time.Millisecond,
		ProbeTimeout:          3 * time.Second,
		MaxCanvasWidth:        MaxCanvasWidth,
		MaxCanvasHeight:       MaxCanvasHeight,
	}
}

// Opener provides isolated decode streams, separate from anything a live
// session holds open.
type Opener interface {
	Open(ctx context.Context, filePath string, opts media.StreamOptions) (media.FrameReader, error)
}

// SinkFactory builds a fresh encode sink per job.
type SinkFactory func(ctx context.Context) Sink

// CodecSelector probes for the best available output codec.
type CodecSelector func(ctx context.Context) (Codec, error)

type Orchestrator struct {
	prober      media.Prober
	opener      Opener
	newSink     SinkFactory
	selectCodec CodecSelector
	repo        store.Repository
	logger      *slog.Logger
	opts        Options

	mu        sync.Mutex
	busy      bool
	cancelled bool
	cancelJob context.CancelFunc
	current   Progress

	subMu sync.Mutex
	subs  map[chan Progress]struct{}
}

func NewOrchestrator(prober media.Prober, opener Opener, newSink SinkFactory, selectCodec CodecSelector, repo store.Repository, logger *slog.Logger, opts Options) *Orchestrator {
	return &Orchestrator{
		prober:      prober,
		opener:      opener,
		newSink:     newSink,
		selectCodec: selectCodec,
		repo:        repo,
		logger:      logger,
		opts:        opts,
		current:     Progress{State: StateIdle},
		subs:        make(map[chan Progress]struct{}),
	}
}

// Start begins an export of the bundle's cameras in the given cell
// order, with the session's visual filters baked into the output. An
// empty outputDir delivers into the configured export directory.
// Returns ErrBusy while another job is active.
func (o *Orchestrator) Start(ctx context.Context, b *bundle.Bundle, order []bundle.CameraSlot, outputDir string, filters filter.State) (string, error) {
	if len(order) == 0 {
		return "", fmt.Errorf("no cameras to export")
	}
	if outputDir == "" {
		outputDir = o.opts.ExportDir
	} else if err := ValidateOutputDir(outputDir); err != nil {
		return "", err
	}

	o.mu.Lock()
	if o.busy {
		o.mu.Unlock()
		return "", ErrBusy
	}
	o.busy = true
	o.cancelled = false

	jobID := uuid.NewString()
	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	o.cancelJob = cancel
	o.current = Progress{JobID: jobID, BundleID: b.ID.String(), State: StatePreparing}
	o.mu.Unlock()

	if o.repo != nil {
		now := time.Now().UTC()
		o.repo.CreateExportJob(ctx, &store.ExportJob{
			ID:        jobID,
			BundleID:  b.ID.String(),
			Status:    store.ExportStatusPreparing,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}

	go o.run(jobCtx, jobID, b, order, outputDir, filters.FFmpegChain())
	return jobID, nil
}

// Cancel flags the active job for cancellation. The flag is checked by
// the finalize step so a late-arriving stop cannot still deliver output.
func (o *Orchestrator) Cancel(jobID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.busy || o.current.JobID != jobID {
		return fmt.Errorf("job %s is not running", jobID)
	}
	o.cancelled = true
	o.cancelJob()
	return nil
}

// Status returns the live progress of the active job, or looks up a
// finished one.
func (o *Orchestrator) Status(ctx context.Context, jobID string) (Progress, error) {
	o.mu.Lock()
	if o.current.JobID == jobID {
		p := o.current
		o.mu.Unlock()
		return p, nil
	}
	o.mu.Unlock()

	if o.repo == nil {
		return Progress{}, fmt.Errorf("job %s not found", jobID)
	}
	job, err := o.repo.GetExportJob(ctx, jobID)
	if err != nil {
		return Progress{}, err
	}
	if job == nil {
		return Progress{}, fmt.Errorf("job %s not found", jobID)
	}
	return Progress{
		JobID:      job.ID,
		BundleID:   job.BundleID,
		State:      State(job.Status),
		Progress:   job.Progress,
		OutputPath: job.OutputPath,
		Error:      job.Error,
	}, nil
}

// Busy reports whether a job is active.
func (o *Orchestrator) Busy() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.busy
}

// Current returns the most recent progress snapshot, which is the idle
// state before any job has run.
func (o *Orchestrator) Current() Progress {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current
}

// Subscribe registers a progress-stream subscriber.
func (o *Orchestrator) Subscribe() (<-chan Progress, func()) {
	ch := make(chan Progress, 16)

	o.subMu.Lock()
	o.subs[ch] = struct{}{}
	o.subMu.Unlock()

	cancel := func() {
		o.subMu.Lock()
		delete(o.subs, ch)
		o.subMu.Unlock()
	}
	return ch, cancel
}

func (o *Orchestrator) publish(p Progress) {
	o.mu.Lock()
	o.current = p
	o.mu.Unlock()

	o.subMu.Lock()
	for ch := range o.subs {
		select {
		case ch <- p:
		default:
		}
	}
	o.subMu.Unlock()
}

// preparation is everything Recording needs, resolved during Preparing.
type preparation struct {
	readers   []media.FrameReader
	geo       Geometry
	frameRate float64
	bitrate   int64
	codec     Codec
	duration  float64
}

func (p *preparation) close() {
	for _, r := range p.readers {
		if r != nil {
			r.Close()
		}
	}
	p.readers = nil
}

func (o *Orchestrator) run(ctx context.Context, jobID string, b *bundle.Bundle, order []bundle.CameraSlot, outputDir, filterChain string) {
	defer func() {
		o.mu.Lock()
		o.busy = false
		o.cancelJob = nil
		o.mu.Unlock()
	}()

	prep, err := o.prepare(ctx, b, order, false)
	if err != nil && !o.isCancelled() {
		if o.logger != nil {
			o.logger.Warn("export setup failed, retrying with conservative defaults", "job_id", jobID, "error", err)
		}
		prep, err = o.prepare(ctx, b, order, true)
	}
	if err != nil {
		o.fail(ctx, jobID, b, err)
		return
	}
	defer prep.close()

	o.setStatus(ctx, jobID, b, StateRecording, 0)

	outputPath, err := o.record(ctx, jobID, b, order, prep, filterChain)
	if o.isCancelled() {
		o.finishCancelled(ctx, jobID, b, outputPath)
		return
	}
	if err != nil {
		if outputPath != "" {
			os.Remove(outputPath)
		}
		o.fail(ctx, jobID, b, err)
		return
	}

	finalPath := filepath.Join(outputDir, fmt.Sprintf("%s.%s", SanitizeName(b.ID.String(), 64), prep.codec.Ext))
	if err := os.Rename(outputPath, finalPath); err != nil {
		o.fail(ctx, jobID, b, fmt.Errorf("failed to deliver output: %w", err))
		return
	}

	if o.repo != nil {
		o.repo.SetExportOutput(ctx, jobID, finalPath)
		o.repo.UpdateExportStatus(ctx, jobID, store.ExportStatusCompleted, "")
		o.repo.UpdateExportProgress(ctx, jobID, 100)
	}
	o.publish(Progress{JobID: jobID, BundleID: b.ID.String(), State: StateCompleted, Progress: 100, OutputPath: finalPath})

	if o.logger != nil {
		o.logger.Info("export completed", "job_id", jobID, "output", finalPath)
	}
}

// prepare opens isolated decode handles and resolves the encode
// parameters. conservative skips the fitted heuristics in favor of
// defaults that always work.
func (o *Orchestrator) prepare(ctx context.Context, b *bundle.Bundle, order []bundle.CameraSlot, conservative bool) (*preparation, error) {
	probes := make([]*media.ProbeResult, len(order))
	sizes := make([]int64, len(order))
	widths := make([]int, len(order))
	heights := make([]int, len(order))

	for i, slot := range order {
		track, ok := b.Track(slot)
		if !ok {
			return nil, fmt.Errorf("bundle %s has no %s track", b.ID, slot)
		}

		probeCtx, cancel := context.WithTimeout(ctx, o.opts.ProbeTimeout)
		info, err := o.prober.Probe(probeCtx, track.Path)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("probe %s: %w", slot, err)
		}
		probes[i] = info
		sizes[i] = track.Size
		widths[i] = info.Width
		heights[i] = info.Height
	}

	// Master prefers front, else the first camera in cell order.
	master := 0
	for i, slot := range order {
		if slot == bundle.SlotFront {
			master = i
			break
		}
	}

	var frameRate float64
	if conservative {
		frameRate = DefaultFallbackFrameRate
	} else {
		frameRate = SnapFrameRate(probes[master].FrameRate, o.opts.FrameRateCandidates)
		if frameRate <= 0 {
			frameRate = FrameRateForResolution(probes[master].Width, probes[master].Height, o.opts.FrameRateByResolution)
		}
	}

	geo, err := ComputeGeometry(len(order), widths, heights, o.opts.MaxCanvasWidth, o.opts.MaxCanvasHeight)
	if err != nil {
		return nil, err
	}

	var bitrate int64
	if conservative {
		bitrate = FallbackBitrate
	} else {
		bitrate = ComputeBitrate(sizes[master], probes[master].Duration, len(order), geo.Scale)
	}

	codec, err := o.selectCodec(ctx)
	if err != nil {
		if conservative {
			return nil, err
		}
		return nil, fmt.Errorf("codec selection: %w", err)
	}

	prep := &preparation{
		readers:   make([]media.FrameReader, len(order)),
		geo:       geo,
		frameRate: frameRate,
		bitrate:   bitrate,
		codec:     codec,
		duration:  probes[master].Duration,
	}

	for i, slot := range order {
		track, _ := b.Track(slot)
		reader, err := o.opener.Open(ctx, track.Path, media.StreamOptions{
			Width:     geo.CellWidth,
			Height:    geo.CellHeight,
			FrameRate: frameRate,
		})
		if err != nil {
			prep.close()
			return nil, fmt.Errorf("open %s stream: %w", slot, err)
		}
		prep.readers[i] = reader
	}
	return prep, nil
}

// record drives the lockstep composite/encode loop and returns the
// partial output path.
func (o *Orchestrator) record(ctx context.Context, jobID string, b *bundle.Bundle, order []bundle.CameraSlot, prep *preparation, filterChain string) (string, error) {
	if err := os.MkdirAll(o.opts.ExportDir, 0755); err != nil {
		return "", err
	}
	partial := filepath.Join(o.opts.ExportDir, jobID+".partial."+prep.codec.Ext)

	sink := o.newSink(ctx)
	if err := sink.Begin(prep.geo.CanvasWidth(), prep.geo.CanvasHeight(), prep.frameRate, SinkOptions{
		Bitrate:     prep.bitrate,
		Codec:       prep.codec,
		OutputPath:  partial,
		FilterChain: filterChain,
	}); err != nil {
		return "", fmt.Errorf("encode sink: %w", err)
	}

	canvas := image.NewRGBA(image.Rect(0, 0, prep.geo.CanvasWidth(), prep.geo.CanvasHeight()))
	cells := make([]Cell, len(order))
	exhausted := make([]bool, len(order))

	master := 0
	for i, slot := range order {
		if slot == bundle.SlotFront {
			master = i
			break
		}
	}

	expectedFrames := int(prep.duration * prep.frameRate)
	if expectedFrames <= 0 {
		expectedFrames = 1
	}
	frameInterval := 1.0 / prep.frameRate

	started := time.Now()
	lastPersisted := -1.0
	frames := 0

	for {
		select {
		case <-ctx.Done():
			sink.Abort()
			return partial, ctx.Err()
		default:
		}

		t := float64(frames) * frameInterval
		label := b.ID.Label(t)

		for i, r := range prep.readers {
			if exhausted[i] {
				cells[i].HasData = false
				continue
			}
			frame, err := r.ReadFrame()
			if err != nil {
				if err != io.EOF && o.logger != nil {
					o.logger.Debug("decode error treated as end of stream", "slot", order[i], "error", err)
				}
				exhausted[i] = true
				cells[i].HasData = false
				continue
			}
			cells[i] = Cell{Frame: frame, HasData: true, Label: label}
		}

		if exhausted[master] {
			break
		}

		Composite(canvas, prep.geo, cells)
		if err := sink.EncodeFrame(canvas); err != nil {
			sink.Abort()
			return partial, fmt.Errorf("encode frame: %w", err)
		}
		frames++

		timeFraction := (t + frameInterval) / prep.duration
		frameFraction := float64(frames) / float64(expectedFrames)
		blended := BlendProgress(timeFraction, frameFraction)

		var eta float64
		if blended >= 1 {
			elapsed := time.Since(started).Seconds()
			eta = elapsed/(blended/100) - elapsed
		}
		o.publish(Progress{JobID: jobID, BundleID: b.ID.String(), State: StateRecording, Progress: blended, ETASeconds: eta})

		if o.repo != nil && blended-lastPersisted >= 1 {
			o.repo.UpdateExportProgress(ctx, jobID, blended)
			lastPersisted = blended
		}

		// Completion needs both signals: time within 0.5% of the
		// duration and frames within 1% of expected.
		timeDone := t+frameInterval >= prep.duration*0.995
		framesDone := float64(frames) >= float64(expectedFrames)*0.99
		if timeDone && framesDone {
			if blended >= 95 {
				o.publish(Progress{JobID: jobID, BundleID: b.ID.String(), State: StateRecording, Progress: 100})
			}
			break
		}

		if o.opts.RealtimePacing && o.opts.CaptureRate > 0 {
			time.Sleep(time.Duration(frameInterval / o.opts.CaptureRate * float64(time.Second)))
		}
	}

	o.setStatus(ctx, jobID, b, StateFinalizing, o.progressNow())

	// Grace delay lets in-flight frames drain before the container is
	// finalized.
	select {
	case <-ctx.Done():
		sink.Abort()
		return partial, ctx.Err()
	case <-time.After(o.opts.GraceDelay):
	}

	if o.isCancelled() {
		sink.Abort()
		return partial, nil
	}

	if err := sink.End(); err != nil {
		return partial, fmt.Errorf("finalize encode: %w", err)
	}
	return partial, nil
}

func (o *Orchestrator) progressNow() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current.Progress
}

func (o *Orchestrator) isCancelled() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cancelled
}

func (o *Orchestrator) setStatus(ctx context.Context, jobID string, b *bundle.Bundle, state State, progress float64) {
	if o.repo != nil {
		o.repo.UpdateExportStatus(ctx, jobID, string(state), "")
	}
	o.publish(Progress{JobID: jobID, BundleID: b.ID.String(), State: state, Progress: progress})
}

func (o *Orchestrator) fail(ctx context.Context, jobID string, b *bundle.Bundle, err error) {
	if o.logger != nil {
		o.logger.Error("export failed", "job_id", jobID, "error", err)
	}
	if o.repo != nil {
		o.repo.UpdateExportStatus(ctx, jobID, store.ExportStatusFailed, err.Error())
	}
	o.publish(Progress{JobID: jobID, BundleID: b.ID.String(), State: StateFailed, Error: err.Error()})
}

func (o *Orchestrator) finishCancelled(ctx context.Context, jobID string, b *bundle.Bundle, partial string) {
	if partial != "" {
		os.Remove(partial)
	}
	if o.repo != nil {
		o.repo.UpdateExportStatus(ctx, jobID, store.ExportStatusCancelled, "")
		o.repo.UpdateExportProgress(ctx, jobID, 0)
	}
	o.publish(Progress{JobID: jobID, BundleID: b.ID.String(), State: StateCancelled, Progress: 0, ETASeconds: 0})

	if o.logger != nil {
		o.logger.Info("export cancelled", "job_id", jobID)
	}
}
