package bif

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/therealutkarshpriyadarshi/trickplay/pkg/models"
)

// CorruptArtifactError reports a preview index that fails validation
type CorruptArtifactError struct {
	Reason string
}

func (e *CorruptArtifactError) Error() string {
	return "corrupt preview artifact: " + e.Reason
}

func corrupt(format string, args ...interface{}) error {
	return &CorruptArtifactError{Reason: fmt.Sprintf(format, args...)}
}

// ReadIndex validates the header and every index entry of an artifact of the
// given size without reading the payloads.
func ReadIndex(r io.ReaderAt, size int64) (*Index, error) {
	if size < HeaderSize {
		return nil, corrupt("size %d shorter than header", size)
	}

	header := make([]byte, HeaderSize)
	if _, err := r.ReadAt(header, 0); err != nil {
		return nil, corrupt("failed to read header: %v", err)
	}

	if !bytes.Equal(header[0:8], Magic[:]) {
		return nil, corrupt("bad magic")
	}

	ix := &Index{Header: Header{
		Version:    binary.LittleEndian.Uint32(header[8:12]),
		Count:      binary.LittleEndian.Uint32(header[12:16]),
		IntervalMs: binary.LittleEndian.Uint32(header[16:20]),
	}}
	if ix.Version != Version {
		return nil, corrupt("unsupported version %d", ix.Version)
	}

	indexEnd := int64(HeaderSize) + int64(ix.Count)*EntrySize
	if indexEnd > size {
		return nil, corrupt("count %d needs %d index bytes, have %d", ix.Count, indexEnd-HeaderSize, size-HeaderSize)
	}

	raw := make([]byte, indexEnd-HeaderSize)
	if len(raw) > 0 {
		if _, err := r.ReadAt(raw, HeaderSize); err != nil {
			return nil, corrupt("failed to read index: %v", err)
		}
	}

	ix.Entries = make([]Entry, ix.Count)
	var prev uint64
	for i := range ix.Entries {
		b := raw[i*EntrySize : (i+1)*EntrySize]
		e := Entry{
			TimestampMs: binary.LittleEndian.Uint64(b[0:8]),
			Offset:      binary.LittleEndian.Uint32(b[8:12]),
			Length:      binary.LittleEndian.Uint32(b[12:16]),
		}
		if i > 0 && e.TimestampMs <= prev {
			return nil, corrupt("entry %d timestamp %d does not increase", i, e.TimestampMs)
		}
		if int64(e.Offset) < indexEnd {
			return nil, corrupt("entry %d offset %d overlaps index", i, e.Offset)
		}
		if int64(e.Offset)+int64(e.Length) > size {
			return nil, corrupt("entry %d reads past end (%d+%d > %d)", i, e.Offset, e.Length, size)
		}
		prev = e.TimestampMs
		ix.Entries[i] = e
	}

	return ix, nil
}

// Decode is the inverse of Encode
func Decode(data []byte) ([]models.Frame, error) {
	ix, err := ReadIndex(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}

	frames := make([]models.Frame, len(ix.Entries))
	for i, e := range ix.Entries {
		payload := make([]byte, e.Length)
		copy(payload, data[e.Offset:int64(e.Offset)+int64(e.Length)])
		frames[i] = models.Frame{
			TimestampMs: int64(e.TimestampMs),
			Data:        payload,
		}
	}
	return frames, nil
}

// ReadFrame returns the payload of entry i
func ReadFrame(r io.ReaderAt, ix *Index, i int) ([]byte, error) {
	if i < 0 || i >= len(ix.Entries) {
		return nil, fmt.Errorf("frame %d out of range [0,%d)", i, len(ix.Entries))
	}
	e := ix.Entries[i]
	buf := make([]byte, e.Length)
	if _, err := r.ReadAt(buf, int64(e.Offset)); err != nil {
		return nil, corrupt("failed to read frame %d: %v", i, err)
	}
	return buf, nil
}
