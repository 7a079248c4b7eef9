package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestMetadataValue(t *testing.T) {
	meta := Metadata{
		"tmdb": "603",
		"year": 1999,
	}

	value, err := meta.Value()
	if err != nil {
		t.Fatalf("Failed to get value: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(value.([]byte), &result); err != nil {
		t.Fatalf("Failed to unmarshal: %v", err)
	}

	if result["tmdb"] != "603" {
		t.Errorf("Expected tmdb=603, got %v", result["tmdb"])
	}
}

func TestMetadataScanNil(t *testing.T) {
	var meta Metadata
	if err := meta.Scan(nil); err != nil {
		t.Fatalf("Failed to scan nil: %v", err)
	}

	if len(meta) != 0 {
		t.Error("Expected empty metadata after scanning nil")
	}
}

func TestExpectedFrameCount(t *testing.T) {
	cfg := GenerationConfig{WidthResolution: 320, IntervalMs: 10000, Quality: 4}

	tests := []struct {
		duration time.Duration
		want     int
	}{
		{0, 0},
		{9999 * time.Millisecond, 0},
		{10 * time.Second, 1},
		{95 * time.Second, 9},
		{time.Hour, 360},
	}

	for _, tt := range tests {
		if got := cfg.ExpectedFrameCount(tt.duration); got != tt.want {
			t.Errorf("ExpectedFrameCount(%v) = %d, want %d", tt.duration, got, tt.want)
		}
	}

	if got := (GenerationConfig{}).ExpectedFrameCount(time.Hour); got != 0 {
		t.Errorf("Expected 0 frames for zero interval, got %d", got)
	}
}

func TestPreviewManifestMatches(t *testing.T) {
	cfg := GenerationConfig{WidthResolution: 320, IntervalMs: 10000, Quality: 4}
	m := NewPreviewManifest(cfg, 12, time.Now())

	if !m.Matches(cfg) {
		t.Error("Expected manifest to match the config it was built from")
	}

	changed := []GenerationConfig{
		{WidthResolution: 480, IntervalMs: 10000, Quality: 4},
		{WidthResolution: 320, IntervalMs: 5000, Quality: 4},
		{WidthResolution: 320, IntervalMs: 10000, Quality: 8},
	}
	for _, c := range changed {
		if m.Matches(c) {
			t.Errorf("Expected manifest not to match %s", c)
		}
	}

	var nilManifest *PreviewManifest
	if nilManifest.Matches(cfg) {
		t.Error("Expected nil manifest never to match")
	}
}

func TestPreviewManifestJSONKeys(t *testing.T) {
	cfg := GenerationConfig{WidthResolution: 320, IntervalMs: 10000, Quality: 4}
	data, err := json.Marshal(NewPreviewManifest(cfg, 3, time.Unix(0, 0)))
	if err != nil {
		t.Fatalf("Failed to marshal: %v", err)
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Failed to unmarshal: %v", err)
	}

	for _, key := range []string{"imageWidthResolution", "imageInterval", "imageQuality", "imageFormat", "frameCount", "generatedAt"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("Expected key %q in manifest JSON", key)
		}
	}
	if raw["imageFormat"] != ImageFormatJPEG {
		t.Errorf("Expected imageFormat=%s, got %v", ImageFormatJPEG, raw["imageFormat"])
	}
}

func TestItemTypeIsVideo(t *testing.T) {
	if !ItemTypeMovie.IsVideo() || !ItemTypeEpisode.IsVideo() || !ItemTypeVideo.IsVideo() {
		t.Error("Expected video-bearing types to report IsVideo")
	}
	if ItemTypeAudio.IsVideo() || ItemTypeFolder.IsVideo() {
		t.Error("Expected audio and folder not to report IsVideo")
	}
}

func TestGenerationRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     GenerationRequest
		wantErr bool
	}{
		{"item", GenerationRequest{Kind: RequestKindItem, ItemID: "abc"}, false},
		{"item without id", GenerationRequest{Kind: RequestKindItem}, true},
		{"batch", GenerationRequest{Kind: RequestKindBatch}, false},
		{"unknown", GenerationRequest{Kind: "other"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestVideoItemJSONDurationMillis(t *testing.T) {
	item := VideoItem{
		ID:       "ep1",
		Type:     ItemTypeEpisode,
		Duration: 90 * time.Second,
		MediaSources: []MediaSource{
			{ID: "ep1", Path: "/media/ep1.mkv", Duration: 1500 * time.Millisecond},
		},
	}

	data, err := json.Marshal(item)
	if err != nil {
		t.Fatalf("Failed to marshal: %v", err)
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Failed to unmarshal: %v", err)
	}
	if raw["duration_ms"] != float64(90000) {
		t.Errorf("Expected duration_ms=90000, got %v", raw["duration_ms"])
	}
	if _, ok := raw["Duration"]; ok {
		t.Error("Duration should not be encoded in nanoseconds")
	}

	var decoded VideoItem
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Failed to decode item: %v", err)
	}
	if decoded.Duration != 90*time.Second {
		t.Errorf("Expected 90s, got %v", decoded.Duration)
	}
	if len(decoded.MediaSources) != 1 || decoded.MediaSources[0].Duration != 1500*time.Millisecond {
		t.Errorf("Expected source duration 1.5s, got %+v", decoded.MediaSources)
	}
	if decoded.ID != "ep1" || decoded.MediaSources[0].Path != "/media/ep1.mkv" {
		t.Errorf("Unexpected decoded item %+v", decoded)
	}
}
