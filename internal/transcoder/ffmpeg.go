package transcoder

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const (
	defaultWaitDelay   = 5 * time.Second
	defaultStderrLimit = 16 << 10
)

// FFmpeg wraps the ffmpeg binary used for frame extraction
type FFmpeg struct {
	ffmpegPath  string
	waitDelay   time.Duration
	stderrLimit int
}

// NewFFmpeg creates a new FFmpeg instance
func NewFFmpeg(ffmpegPath string) *FFmpeg {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &FFmpeg{
		ffmpegPath:  ffmpegPath,
		waitDelay:   defaultWaitDelay,
		stderrLimit: defaultStderrLimit,
	}
}

// SetWaitDelay bounds how long Wait blocks on pipes after the process exits
// or is killed.
func (f *FFmpeg) SetWaitDelay(d time.Duration) {
	f.waitDelay = d
}

// Path returns the configured binary
func (f *FFmpeg) Path() string {
	return f.ffmpegPath
}

// Version runs `ffmpeg -version` and returns the first output line
func (f *FFmpeg) Version(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, f.ffmpegPath, "-hide_banner", "-version")
	cmd.WaitDelay = f.waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("ffmpeg -version failed: %w, stderr: %s", err, stderr.String())
	}

	line, _, _ := strings.Cut(stdout.String(), "\n")
	return strings.TrimSpace(line), nil
}

// tailBuffer keeps the last limit bytes written to it
type tailBuffer struct {
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; t.limit > 0 && over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	return strings.TrimSpace(string(t.buf))
}
