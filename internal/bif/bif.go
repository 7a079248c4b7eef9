// Package bif encodes and decodes the binary preview index: a fixed header,
// one 16-byte entry per frame and the concatenated JPEG payloads.
package bif

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/therealutkarshpriyadarshi/trickplay/pkg/models"
)

const (
	// Version is the only format revision this package reads or writes
	Version uint32 = 1

	// HeaderSize is the fixed header length including reserved bytes
	HeaderSize = 64

	// EntrySize is the length of one index entry
	EntrySize = 16

	// ContentType is served alongside artifacts
	ContentType = "application/octet-stream"
)

// Magic identifies a preview index file
var Magic = [8]byte{0x89, 'B', 'I', 'F', 0x0d, 0x0a, 0x1a, 0x0a}

// Entry is one index record
type Entry struct {
	TimestampMs uint64
	Offset      uint32
	Length      uint32
}

// Header is the decoded fixed header
type Header struct {
	Version    uint32
	Count      uint32
	IntervalMs uint32
}

// Index is a validated header plus its entries
type Index struct {
	Header
	Entries []Entry
}

// PayloadSize returns the number of payload bytes declared by the index
func (ix *Index) PayloadSize() int64 {
	var total int64
	for _, e := range ix.Entries {
		total += int64(e.Length)
	}
	return total
}

// Size returns the total artifact length implied by the index
func (ix *Index) Size() int64 {
	return int64(HeaderSize) + int64(len(ix.Entries))*EntrySize + ix.PayloadSize()
}

// EncodedSize returns the artifact length Encode would produce for frames
func EncodedSize(frames []models.Frame) int64 {
	size := int64(HeaderSize) + int64(len(frames))*EntrySize
	for _, f := range frames {
		size += int64(len(f.Data))
	}
	return size
}

// Encode packs frames into a preview index with no interval hint
func Encode(frames []models.Frame) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(int(min(EncodedSize(frames), math.MaxInt32)))
	if _, err := WriteTo(&buf, frames, 0); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteTo streams the preview index for frames into w and returns the number
// of bytes written. intervalMs is stored as a hint for readers.
func WriteTo(w io.Writer, frames []models.Frame, intervalMs int) (int64, error) {
	if err := validateFrames(frames); err != nil {
		return 0, err
	}
	if intervalMs < 0 || int64(intervalMs) > math.MaxUint32 {
		return 0, fmt.Errorf("interval hint out of range: %d", intervalMs)
	}

	total := EncodedSize(frames)
	if total > math.MaxUint32 {
		return 0, fmt.Errorf("artifact too large: %d bytes", total)
	}

	bw := bufio.NewWriter(w)
	cw := &countingWriter{w: bw}

	header := make([]byte, HeaderSize)
	copy(header[0:8], Magic[:])
	binary.LittleEndian.PutUint32(header[8:12], Version)
	binary.LittleEndian.PutUint32(header[12:16], uint32(len(frames)))
	binary.LittleEndian.PutUint32(header[16:20], uint32(intervalMs))
	if _, err := cw.Write(header); err != nil {
		return cw.n, fmt.Errorf("failed to write header: %w", err)
	}

	offset := uint32(HeaderSize + len(frames)*EntrySize)
	entry := make([]byte, EntrySize)
	for _, f := range frames {
		binary.LittleEndian.PutUint64(entry[0:8], uint64(f.TimestampMs))
		binary.LittleEndian.PutUint32(entry[8:12], offset)
		binary.LittleEndian.PutUint32(entry[12:16], uint32(len(f.Data)))
		if _, err := cw.Write(entry); err != nil {
			return cw.n, fmt.Errorf("failed to write index: %w", err)
		}
		offset += uint32(len(f.Data))
	}

	for _, f := range frames {
		if _, err := cw.Write(f.Data); err != nil {
			return cw.n, fmt.Errorf("failed to write payload: %w", err)
		}
	}

	if err := bw.Flush(); err != nil {
		return cw.n, fmt.Errorf("failed to flush artifact: %w", err)
	}
	return cw.n, nil
}

func validateFrames(frames []models.Frame) error {
	prev := int64(-1)
	for i, f := range frames {
		if len(f.Data) == 0 {
			return fmt.Errorf("frame %d has an empty payload", i)
		}
		if f.TimestampMs < 0 {
			return fmt.Errorf("frame %d has a negative timestamp", i)
		}
		if f.TimestampMs <= prev {
			return fmt.Errorf("frame %d timestamp %d does not increase", i, f.TimestampMs)
		}
		prev = f.TimestampMs
	}
	return nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
