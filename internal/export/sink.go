package export

import (
	"bufio"
	"context"
	"fmt"
	"image"
	"os/exec"
	"strconv"
	"strings"
)

// Sink consumes composited RGBA frames and muxes them into a video file.
type Sink interface {
	Begin(width, height int, frameRate float64, opts SinkOptions) error
	EncodeFrame(frame *image.RGBA) error
	End() error
	Abort()
}

type SinkOptions struct {
	Bitrate    int64
	Codec      Codec
	OutputPath string
	// FilterChain is an optional ffmpeg -vf chain applied to the
	// composited frames, derived from the session's filter state.
	FilterChain string
}

// Codec is an output codec choice with its ffmpeg encoder name and
// container extension.
type Codec struct {
	Name    string
	Encoder string
	Ext     string
}

// CodecPreference is the descending preference order: HEVC for size,
// H.264 as the widely-playable fallback. Both mux into mp4.
var CodecPreference = []Codec{
	{Name: "hevc", Encoder: "libx265", Ext: "mp4"},
	{Name: "h264", Encoder: "libx264", Ext: "mp4"},
}

// SelectCodec probes the ffmpeg build for the first available encoder in
// the preference list.
func SelectCodec(ctx context.Context, ffmpegPath string) (Codec, error) {
	cmd := exec.CommandContext(ctx, ffmpegPath, "-hide_banner", "-encoders")
	output, err := cmd.Output()
	if err != nil {
		return Codec{}, fmt.Errorf("encoder probe failed: %w", err)
	}

	encoders := string(output)
	for _, c := range CodecPreference {
		if strings.Contains(encoders, c.Encoder) {
			return c, nil
		}
	}
	return Codec{}, fmt.Errorf("no supported encoder found")
}

// FFmpegSink pipes rawvideo frames into an ffmpeg encode process.
type FFmpegSink struct {
	ffmpegPath string
	ctx        context.Context

	cmd     *exec.Cmd
	stdin   *bufio.Writer
	closeFn func() error
}

func NewFFmpegSink(ctx context.Context, ffmpegPath string) *FFmpegSink {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &FFmpegSink{ffmpegPath: ffmpegPath, ctx: ctx}
}

func (s *FFmpegSink) Begin(width, height int, frameRate float64, opts SinkOptions) error {
	if s.cmd != nil {
		return fmt.Errorf("sink already started")
	}
	if opts.OutputPath == "" {
		return fmt.Errorf("output path is required")
	}

	args := []string{
		"-v", "error",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", width, height),
		"-r", strconv.FormatFloat(frameRate, 'f', 3, 64),
		"-i", "pipe:0",
	}
	if opts.FilterChain != "" {
		args = append(args, "-vf", opts.FilterChain)
	}
	args = append(args,
		"-c:v", opts.Codec.Encoder,
		"-b:v", strconv.FormatInt(opts.Bitrate, 10),
		"-pix_fmt", "yuv420p",
		"-an",
		"-y", opts.OutputPath,
	)

	cmd := exec.CommandContext(s.ctx, s.ffmpegPath, args...)
	pipe, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start encoder: %w", err)
	}

	s.cmd = cmd
	s.stdin = bufio.NewWriterSize(pipe, 1<<20)
	s.closeFn = pipe.Close
	return nil
}

func (s *FFmpegSink) EncodeFrame(frame *image.RGBA) error {
	if s.stdin == nil {
		return fmt.Errorf("sink not started")
	}
	_, err := s.stdin.Write(frame.Pix)
	return err
}

// End drains buffered frames and waits for the encoder to finish the
// container.
func (s *FFmpegSink) End() error {
	if s.cmd == nil {
		return fmt.Errorf("sink not started")
	}
	if err := s.stdin.Flush(); err != nil {
		return err
	}
	if err := s.closeFn(); err != nil {
		return err
	}
	return s.cmd.Wait()
}

// Abort kills the encoder without finalizing the container.
func (s *FFmpegSink) Abort() {
	if s.cmd == nil {
		return
	}
	s.closeFn()
	if s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
	s.cmd.Wait()
}
