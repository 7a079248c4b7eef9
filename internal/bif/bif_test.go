package bif

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/trickplay/pkg/models"
)

func sampleFrames() []models.Frame {
	return []models.Frame{
		{TimestampMs: 0, Data: []byte{0xFF, 0xD8, 0x01, 0xFF, 0xD9}},
		{TimestampMs: 10000, Data: []byte{0xFF, 0xD8, 0x02, 0x03, 0xFF, 0xD9}},
		{TimestampMs: 20000, Data: []byte{0xFF, 0xD8, 0xFF, 0xD9}},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	frames := sampleFrames()

	data, err := Encode(frames)
	require.NoError(t, err)
	assert.Equal(t, EncodedSize(frames), int64(len(data)))
	assert.Equal(t, Magic[:], data[:8])

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, frames, decoded)

	again, err := Encode(decoded)
	require.NoError(t, err)
	assert.Equal(t, data, again)
}

func TestEncodeEmpty(t *testing.T) {
	data, err := Encode(nil)
	require.NoError(t, err)
	assert.Len(t, data, HeaderSize)

	frames, err := Decode(data)
	require.NoError(t, err)
	assert.Empty(t, frames)
}

func TestWriteToStoresIntervalHint(t *testing.T) {
	var buf bytes.Buffer
	n, err := WriteTo(&buf, sampleFrames(), 10000)
	require.NoError(t, err)
	assert.Equal(t, int64(buf.Len()), n)

	ix, err := ReadIndex(bytes.NewReader(buf.Bytes()), n)
	require.NoError(t, err)
	assert.Equal(t, uint32(10000), ix.IntervalMs)
	assert.Equal(t, uint32(3), ix.Count)
	assert.Equal(t, n, ix.Size())
}

func TestEncodeRejectsInvalidFrames(t *testing.T) {
	tests := []struct {
		name   string
		frames []models.Frame
	}{
		{"empty payload", []models.Frame{{TimestampMs: 0, Data: nil}}},
		{"negative timestamp", []models.Frame{{TimestampMs: -1, Data: []byte{1}}}},
		{"duplicate timestamp", []models.Frame{{TimestampMs: 5, Data: []byte{1}}, {TimestampMs: 5, Data: []byte{2}}}},
		{"decreasing timestamp", []models.Frame{{TimestampMs: 10, Data: []byte{1}}, {TimestampMs: 5, Data: []byte{2}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Encode(tt.frames)
			assert.Error(t, err)
		})
	}
}

func TestDecodeCorrupt(t *testing.T) {
	valid, err := Encode(sampleFrames())
	require.NoError(t, err)

	mutate := func(fn func([]byte) []byte) []byte {
		c := make([]byte, len(valid))
		copy(c, valid)
		return fn(c)
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"too short", valid[:10]},
		{"bad magic", mutate(func(b []byte) []byte { b[1] = 'X'; return b })},
		{"bad version", mutate(func(b []byte) []byte { binary.LittleEndian.PutUint32(b[8:12], 7); return b })},
		{"count exceeds index", mutate(func(b []byte) []byte { binary.LittleEndian.PutUint32(b[12:16], 1000); return b })},
		{"truncated payload", valid[:len(valid)-2]},
		{"length past end", mutate(func(b []byte) []byte {
			binary.LittleEndian.PutUint32(b[HeaderSize+12:HeaderSize+16], 1<<20)
			return b
		})},
		{"non increasing timestamps", mutate(func(b []byte) []byte {
			binary.LittleEndian.PutUint64(b[HeaderSize+EntrySize:HeaderSize+EntrySize+8], 0)
			return b
		})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data)
			require.Error(t, err)
			var corruptErr *CorruptArtifactError
			assert.True(t, errors.As(err, &corruptErr))
		})
	}
}

func TestReadFrame(t *testing.T) {
	frames := sampleFrames()
	data, err := Encode(frames)
	require.NoError(t, err)

	r := bytes.NewReader(data)
	ix, err := ReadIndex(r, int64(len(data)))
	require.NoError(t, err)

	payload, err := ReadFrame(r, ix, 1)
	require.NoError(t, err)
	assert.Equal(t, frames[1].Data, payload)

	_, err = ReadFrame(r, ix, 3)
	assert.Error(t, err)
}
