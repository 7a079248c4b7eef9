package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// ItemType is the catalog kind of a library item
type ItemType string

// ItemType constants
const (
	ItemTypeVideo   ItemType = "video"
	ItemTypeMovie   ItemType = "movie"
	ItemTypeEpisode ItemType = "episode"
	ItemTypeAudio   ItemType = "audio"
	ItemTypeFolder  ItemType = "folder"
	ItemTypePhoto   ItemType = "photo"
)

// IsVideo reports whether the item type carries a video stream
func (t ItemType) IsVideo() bool {
	switch t {
	case ItemTypeVideo, ItemTypeMovie, ItemTypeEpisode:
		return true
	}
	return false
}

// VideoType describes how the video is packaged on disk
type VideoType string

// VideoType constants
const (
	VideoTypeFile   VideoType = "file"
	VideoTypeISO    VideoType = "iso"
	VideoTypeBluRay VideoType = "bluray"
	VideoTypeDVD    VideoType = "dvd"
)

// IsDisc reports whether the video is an optical-disc image or folder structure
func (v VideoType) IsDisc() bool {
	return v == VideoTypeISO || v == VideoTypeBluRay || v == VideoTypeDVD
}

// Protocol is the storage protocol a media path is reached through
type Protocol string

// Protocol constants
const (
	ProtocolFile Protocol = "file"
	ProtocolHTTP Protocol = "http"
	ProtocolRTSP Protocol = "rtsp"
	ProtocolRTMP Protocol = "rtmp"
	ProtocolUDP  Protocol = "udp"
	ProtocolFTP  Protocol = "ftp"
)

// VideoItem is a library item as exposed by the host catalog.
// The trickplay pipeline treats it as read-only.
type VideoItem struct {
	ID            string        `json:"id" db:"id"`
	Name          string        `json:"name" db:"name"`
	Path          string        `json:"path" db:"path"`
	Type          ItemType      `json:"type" db:"type"`
	VideoType     VideoType     `json:"video_type" db:"video_type"`
	Protocol      Protocol      `json:"protocol" db:"protocol"`
	Container     string        `json:"container" db:"container"`
	VideoCodec    string        `json:"video_codec" db:"video_codec"`
	Duration      time.Duration `json:"-" db:"duration_ms"`
	IsShortcut    bool          `json:"is_shortcut" db:"is_shortcut"`
	IsPlaceholder bool          `json:"is_placeholder" db:"is_placeholder"`
	IsVirtual     bool          `json:"is_virtual" db:"is_virtual"`
	MediaSources  []MediaSource `json:"media_sources"`
	Metadata      Metadata      `json:"metadata" db:"metadata"`
	UpdatedAt     time.Time     `json:"updated_at" db:"updated_at"`
}

// MediaSource is one physical representation of a VideoItem
type MediaSource struct {
	ID         string        `json:"id" db:"id"`
	ItemID     string        `json:"item_id" db:"item_id"`
	Path       string        `json:"path" db:"path"`
	Protocol   Protocol      `json:"protocol" db:"protocol"`
	Container  string        `json:"container" db:"container"`
	VideoCodec string        `json:"video_codec" db:"video_codec"`
	Duration   time.Duration `json:"-" db:"duration_ms"`
	Width      int           `json:"width" db:"width"`
	Height     int           `json:"height" db:"height"`
}

// Durations travel as whole milliseconds, the unit the catalog database
// stores them in.

type videoItemJSON VideoItem

// MarshalJSON encodes Duration as duration_ms
func (i VideoItem) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		videoItemJSON
		DurationMs int64 `json:"duration_ms"`
	}{videoItemJSON(i), i.Duration.Milliseconds()})
}

// UnmarshalJSON decodes duration_ms into Duration
func (i *VideoItem) UnmarshalJSON(data []byte) error {
	aux := struct {
		*videoItemJSON
		DurationMs int64 `json:"duration_ms"`
	}{videoItemJSON: (*videoItemJSON)(i)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	i.Duration = time.Duration(aux.DurationMs) * time.Millisecond
	return nil
}

type mediaSourceJSON MediaSource

// MarshalJSON encodes Duration as duration_ms
func (m MediaSource) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		mediaSourceJSON
		DurationMs int64 `json:"duration_ms"`
	}{mediaSourceJSON(m), m.Duration.Milliseconds()})
}

// UnmarshalJSON decodes duration_ms into Duration
func (m *MediaSource) UnmarshalJSON(data []byte) error {
	aux := struct {
		*mediaSourceJSON
		DurationMs int64 `json:"duration_ms"`
	}{mediaSourceJSON: (*mediaSourceJSON)(m)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	m.Duration = time.Duration(aux.DurationMs) * time.Millisecond
	return nil
}

// SourceDuration returns the source duration, falling back to the item's
func (i *VideoItem) SourceDuration(src MediaSource) time.Duration {
	if src.Duration > 0 {
		return src.Duration
	}
	return i.Duration
}

// Sources returns the item's media sources. An item without explicit
// sources is its own single source.
func (i *VideoItem) Sources() []MediaSource {
	if len(i.MediaSources) > 0 {
		return i.MediaSources
	}
	return []MediaSource{{
		ID:         i.ID,
		ItemID:     i.ID,
		Path:       i.Path,
		Protocol:   i.Protocol,
		Container:  i.Container,
		VideoCodec: i.VideoCodec,
		Duration:   i.Duration,
	}}
}

// Metadata holds provider ids and other free-form catalog attributes
type Metadata map[string]interface{}

// Value implements driver.Valuer for database storage
func (m Metadata) Value() (driver.Value, error) {
	return json.Marshal(m)
}

// Scan implements sql.Scanner for database retrieval
func (m *Metadata) Scan(value interface{}) error {
	if value == nil {
		*m = make(Metadata)
		return nil
	}

	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	}
	return nil
}
