package transcoder

import (
	"errors"
	"fmt"
)

var (
	// ErrNoFrames is returned when ffmpeg exits cleanly without emitting a frame
	ErrNoFrames = errors.New("no frames produced")

	// ErrTooShort is returned when the duration does not cover one interval
	ErrTooShort = errors.New("duration shorter than sampling interval")
)

// ExtractionError reports a failed frame-extraction run
type ExtractionError struct {
	Path   string
	Stderr string
	Err    error
}

func (e *ExtractionError) Error() string {
	msg := fmt.Sprintf("frame extraction failed for %s: %v", e.Path, e.Err)
	if e.Stderr != "" {
		msg += ", stderr: " + e.Stderr
	}
	return msg
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}
