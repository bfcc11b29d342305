package media

import (
	"context"
	"fmt"
	"image"
	"io"
	"os/exec"
	"strconv"
)

// FrameReader yields decoded RGBA frames at a fixed rate and size.
type FrameReader interface {
	ReadFrame() (*image.RGBA, error)
	Close() error
}

// Decoder opens rawvideo frame streams for export compositing. Each
// stream is an independent ffmpeg process so a running export never
// touches the handles a live session is using.
type Decoder struct {
	ffmpegPath string
}

func NewDecoder(ffmpegPath string) *Decoder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Decoder{ffmpegPath: ffmpegPath}
}

type StreamOptions struct {
	Start     float64
	Width     int
	Height    int
	FrameRate float64
}

func (d *Decoder) Open(ctx context.Context, filePath string, opts StreamOptions) (FrameReader, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", opts.Width, opts.Height)
	}
	if opts.FrameRate <= 0 {
		return nil, fmt.Errorf("invalid frame rate %v", opts.FrameRate)
	}

	args := []string{"-v", "error"}
	if opts.Start > 0 {
		args = append(args, "-ss", strconv.FormatFloat(opts.Start, 'f', 3, 64))
	}
	args = append(args,
		"-i", filePath,
		"-vf", fmt.Sprintf("scale=%d:%d", opts.Width, opts.Height),
		"-r", strconv.FormatFloat(opts.FrameRate, 'f', 3, 64),
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"pipe:1",
	)

	cmd := exec.CommandContext(ctx, d.ffmpegPath, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	return &ffmpegFrameReader{
		cmd:    cmd,
		out:    stdout,
		width:  opts.Width,
		height: opts.Height,
	}, nil
}

type ffmpegFrameReader struct {
	cmd    *exec.Cmd
	out    io.ReadCloser
	width  int
	height int
}

// ReadFrame returns io.EOF once the stream is exhausted.
func (r *ffmpegFrameReader) ReadFrame() (*image.RGBA, error) {
	frame := image.NewRGBA(image.Rect(0, 0, r.width, r.height))
	if _, err := io.ReadFull(r.out, frame.Pix); err != nil {
		if err == io.ErrUnexpectedEOF {
			err = io.EOF
		}
		return nil, err
	}
	return frame, nil
}

func (r *ffmpegFrameReader) Close() error {
	r.out.Close()
	if r.cmd.Process != nil {
		r.cmd.Process.Kill()
	}
	return r.cmd.Wait()
}
