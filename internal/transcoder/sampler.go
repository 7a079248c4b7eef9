package transcoder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"

	"github.com/therealutkarshpriyadarshi/trickplay/pkg/models"
)

// FrameFunc receives frames in timestamp order. Returning an error stops
// extraction and kills the ffmpeg process.
type FrameFunc func(models.Frame) error

// BuildArgs returns the ffmpeg arguments for a sampling run
func BuildArgs(req models.SampleRequest) []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-nostdin",
	}

	if req.KeyframeOnly {
		args = append(args, "-skip_frame", "nokey")
	}

	args = append(args,
		"-i", req.SourcePath,
		"-an", "-sn", "-dn",
		"-map", "0:v:0",
	)

	filter := fmt.Sprintf("fps=1000/%d", req.Interval.Milliseconds())
	if req.Width > 0 {
		filter += fmt.Sprintf(",scale=%d:-2", req.Width)
	}
	args = append(args, "-vf", filter)

	if limit := req.MaxFrames(); limit > 0 {
		args = append(args, "-frames:v", strconv.Itoa(limit))
	}

	quality := req.Quality
	if quality <= 0 {
		quality = 4
	}

	args = append(args,
		"-c:v", "mjpeg",
		"-q:v", strconv.Itoa(quality),
		"-f", "image2pipe",
		"pipe:1",
	)

	return args
}

// Stream runs one ffmpeg process for req and hands each extracted frame to
// fn as it is produced. Frame i is stamped i*interval and at most
// req.MaxFrames() frames are delivered. The process is always reaped.
func (f *FFmpeg) Stream(ctx context.Context, req models.SampleRequest, fn FrameFunc) error {
	if req.Interval.Milliseconds() <= 0 {
		return &ExtractionError{Path: req.SourcePath, Err: fmt.Errorf("invalid interval %v", req.Interval)}
	}
	maxFrames := req.MaxFrames()
	if maxFrames == 0 {
		return &ExtractionError{Path: req.SourcePath, Err: ErrTooShort}
	}
	if _, err := os.Stat(req.SourcePath); err != nil {
		return &ExtractionError{Path: req.SourcePath, Err: fmt.Errorf("source unreadable: %w", err)}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd := exec.CommandContext(runCtx, f.ffmpegPath, BuildArgs(req)...)
	cmd.WaitDelay = f.waitDelay

	stderr := &tailBuffer{limit: f.stderrLimit}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &ExtractionError{Path: req.SourcePath, Err: fmt.Errorf("failed to create stdout pipe: %w", err)}
	}

	if err := cmd.Start(); err != nil {
		return &ExtractionError{Path: req.SourcePath, Err: fmt.Errorf("failed to start ffmpeg: %w", err)}
	}

	reader := NewFrameReader(stdout)
	intervalMs := req.Interval.Milliseconds()

	var (
		count   int
		readErr error
		fnErr   error
	)
	for count < maxFrames {
		data, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			readErr = err
			break
		}

		if err := fn(models.Frame{TimestampMs: int64(count) * intervalMs, Data: data}); err != nil {
			fnErr = err
			break
		}
		count++
	}

	if readErr != nil || fnErr != nil {
		cancel()
	} else if count == maxFrames {
		// Trailing output past the cap is discarded.
		_, _ = io.Copy(io.Discard, stdout)
	}

	waitErr := cmd.Wait()

	if err := ctx.Err(); err != nil {
		return &ExtractionError{Path: req.SourcePath, Stderr: stderr.String(), Err: err}
	}
	if fnErr != nil {
		return fnErr
	}
	if readErr != nil {
		if waitErr != nil && !errors.Is(waitErr, context.Canceled) {
			readErr = fmt.Errorf("%w (ffmpeg: %v)", readErr, waitErr)
		}
		return &ExtractionError{Path: req.SourcePath, Stderr: stderr.String(), Err: readErr}
	}
	if waitErr != nil {
		return &ExtractionError{Path: req.SourcePath, Stderr: stderr.String(), Err: fmt.Errorf("ffmpeg failed: %w", waitErr)}
	}
	if count == 0 {
		return &ExtractionError{Path: req.SourcePath, Stderr: stderr.String(), Err: ErrNoFrames}
	}

	return nil
}

// Sample extracts all frames for req into memory
func (f *FFmpeg) Sample(ctx context.Context, req models.SampleRequest) ([]models.Frame, error) {
	frames := make([]models.Frame, 0, req.MaxFrames())
	err := f.Stream(ctx, req, func(frame models.Frame) error {
		frames = append(frames, frame)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return frames, nil
}
