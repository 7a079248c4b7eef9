package transcoder

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

// JPEG markers
const (
	markerPrefix = 0xFF
	markerSOI    = 0xD8
	markerEOI    = 0xD9
	markerSOS    = 0xDA
	markerTEM    = 0x01
	markerRST0   = 0xD0
	markerRST7   = 0xD7
)

const defaultMaxFrameSize = 8 << 20

var (
	// ErrTruncatedFrame is returned when the stream ends inside a JPEG
	ErrTruncatedFrame = fmt.Errorf("truncated jpeg frame: %w", io.ErrUnexpectedEOF)

	// ErrInvalidFrame is returned when the stream is not a JPEG sequence
	ErrInvalidFrame = errors.New("invalid jpeg stream")
)

// FrameReader splits a concatenated MJPEG byte stream (ffmpeg image2pipe)
// into individual JPEG images by walking segment markers.
type FrameReader struct {
	r            *bufio.Reader
	buf          []byte
	maxFrameSize int
}

// NewFrameReader creates a FrameReader over r
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{
		r:            bufio.NewReaderSize(r, 64<<10),
		maxFrameSize: defaultMaxFrameSize,
	}
}

// Next returns the next complete JPEG image. It returns io.EOF when the
// stream ends cleanly between images.
func (fr *FrameReader) Next() ([]byte, error) {
	first, err := fr.r.ReadByte()
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, err
	}
	second, err := fr.readByte()
	if err != nil {
		return nil, err
	}
	if first != markerPrefix || second != markerSOI {
		return nil, fmt.Errorf("%w: expected SOI, got %02x%02x", ErrInvalidFrame, first, second)
	}
	fr.buf = append(fr.buf[:0], first, second)

	marker, err := fr.nextMarker()
	for err == nil {
		if len(fr.buf) > fr.maxFrameSize {
			return nil, fmt.Errorf("%w: frame exceeds %d bytes", ErrInvalidFrame, fr.maxFrameSize)
		}

		switch {
		case marker == markerEOI:
			frame := make([]byte, len(fr.buf))
			copy(frame, fr.buf)
			return frame, nil
		case marker == markerTEM || isRST(marker):
			marker, err = fr.nextMarker()
		case marker == markerSOS:
			if err = fr.segment(); err == nil {
				marker, err = fr.scanEntropy()
			}
		default:
			if err = fr.segment(); err == nil {
				marker, err = fr.nextMarker()
			}
		}
	}
	return nil, err
}

func (fr *FrameReader) readByte() (byte, error) {
	b, err := fr.r.ReadByte()
	if err == io.EOF {
		return 0, ErrTruncatedFrame
	}
	if err != nil {
		return 0, err
	}
	fr.buf = append(fr.buf, b)
	return b, nil
}

// nextMarker reads a marker prefix, any fill bytes and the marker code
func (fr *FrameReader) nextMarker() (byte, error) {
	b, err := fr.readByte()
	if err != nil {
		return 0, err
	}
	if b != markerPrefix {
		return 0, fmt.Errorf("%w: expected marker, got %02x", ErrInvalidFrame, b)
	}
	for b == markerPrefix {
		if b, err = fr.readByte(); err != nil {
			return 0, err
		}
	}
	return b, nil
}

// segment copies a length-prefixed marker segment
func (fr *FrameReader) segment() error {
	hi, err := fr.readByte()
	if err != nil {
		return err
	}
	lo, err := fr.readByte()
	if err != nil {
		return err
	}
	length := int(hi)<<8 | int(lo)
	if length < 2 {
		return fmt.Errorf("%w: segment length %d", ErrInvalidFrame, length)
	}

	start := len(fr.buf)
	fr.buf = append(fr.buf, make([]byte, length-2)...)
	if _, err := io.ReadFull(fr.r, fr.buf[start:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return ErrTruncatedFrame
		}
		return err
	}
	return nil
}

// scanEntropy copies entropy-coded data up to the next real marker and
// returns that marker's code. Stuffed zero bytes and restart markers belong
// to the scan.
func (fr *FrameReader) scanEntropy() (byte, error) {
	for {
		b, err := fr.readByte()
		if err != nil {
			return 0, err
		}
		if b != markerPrefix {
			continue
		}

		code, err := fr.readByte()
		if err != nil {
			return 0, err
		}
		for code == markerPrefix {
			if code, err = fr.readByte(); err != nil {
				return 0, err
			}
		}
		if code == 0x00 || isRST(code) {
			continue
		}
		return code, nil
	}
}

func isRST(code byte) bool {
	return code >= markerRST0 && code <= markerRST7
}
