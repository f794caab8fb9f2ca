package models

import (
	"fmt"
	"strings"
	"time"
)

// MediaType classifies an uploaded asset. It selects the output shape of a
// completed transcode: video produces HLS ladder + preview + thumbnail,
// audio produces HLS ladder + waveform artifacts.
type MediaType string

const (
	MediaTypeVideo MediaType = "video"
	MediaTypeAudio MediaType = "audio"
)

// ParseMediaType normalises and validates a media type string.
func ParseMediaType(raw string) (MediaType, error) {
	switch MediaType(strings.ToLower(strings.TrimSpace(raw))) {
	case MediaTypeVideo:
		return MediaTypeVideo, nil
	case MediaTypeAudio:
		return MediaTypeAudio, nil
	default:
		return "", fmt.Errorf("unsupported media type %q", raw)
	}
}

// MediaStatus tracks the transcoding lifecycle of a media item.
//
// Transitions: uploaded → transcoding → ready | failed, and failed →
// transcoding via a bounded manual retry. ready is terminal; failed becomes
// terminal once the retry cap is exhausted.
type MediaStatus string

const (
	MediaStatusUploaded    MediaStatus = "uploaded"
	MediaStatusTranscoding MediaStatus = "transcoding"
	MediaStatusReady       MediaStatus = "ready"
	MediaStatusFailed      MediaStatus = "failed"
)

// MezzanineStatus tracks the archival-tier master copy of a media item.
type MezzanineStatus string

const (
	MezzanineStatusPending MezzanineStatus = "pending"
	MezzanineStatusReady   MezzanineStatus = "ready"
	MezzanineStatusDeleted MezzanineStatus = "deleted"
)

// MediaItem is the durable record for one uploaded asset and the single
// shared mutable resource of the transcoding subsystem. All transitions are
// applied through state-guarded atomic updates in the storage layer.
type MediaItem struct {
	ID        string    `json:"id"`
	CreatorID string    `json:"creatorId"`
	Type      MediaType `json:"type"`

	Status    MediaStatus `json:"status"`
	SourceKey string      `json:"sourceKey"`

	HLSMasterKey     *string `json:"hlsMasterKey,omitempty"`
	HLSPreviewKey    *string `json:"hlsPreviewKey,omitempty"`
	ThumbnailKey     *string `json:"thumbnailKey,omitempty"`
	WaveformKey      *string `json:"waveformKey,omitempty"`
	WaveformImageKey *string `json:"waveformImageKey,omitempty"`

	DurationSeconds *int `json:"durationSeconds,omitempty"`
	Width           *int `json:"width,omitempty"`
	Height          *int `json:"height,omitempty"`

	// ReadyVariants records which renditions actually exist, independent of
	// the current ladder policy. It only grows within an upload's lifetime.
	ReadyVariants []string `json:"readyVariants"`

	MezzanineKey    *string         `json:"mezzanineKey,omitempty"`
	MezzanineStatus MezzanineStatus `json:"mezzanineStatus"`

	LoudnessIntegrated *Centi `json:"loudnessIntegrated,omitempty"`
	LoudnessPeak       *Centi `json:"loudnessPeak,omitempty"`
	LoudnessRange      *Centi `json:"loudnessRange,omitempty"`

	TranscodingError    *string `json:"transcodingError,omitempty"`
	TranscodingAttempts int     `json:"transcodingAttempts"`
	ExternalJobID       *string `json:"externalJobId,omitempty"`

	// CallbackNonce is the random value issued at trigger time from which the
	// per-job webhook secret is derived. It is rotated on every trigger so a
	// late callback from a superseded job cannot authenticate. API handlers
	// must never expose it in responses.
	CallbackNonce string `json:"callbackNonce,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Clone returns a deep copy so callers can hand records across goroutines
// without sharing pointer fields.
func (m MediaItem) Clone() MediaItem {
	cloned := m
	cloned.HLSMasterKey = cloneStringPtr(m.HLSMasterKey)
	cloned.HLSPreviewKey = cloneStringPtr(m.HLSPreviewKey)
	cloned.ThumbnailKey = cloneStringPtr(m.ThumbnailKey)
	cloned.WaveformKey = cloneStringPtr(m.WaveformKey)
	cloned.WaveformImageKey = cloneStringPtr(m.WaveformImageKey)
	cloned.DurationSeconds = cloneIntPtr(m.DurationSeconds)
	cloned.Width = cloneIntPtr(m.Width)
	cloned.Height = cloneIntPtr(m.Height)
	cloned.MezzanineKey = cloneStringPtr(m.MezzanineKey)
	cloned.LoudnessIntegrated = cloneCentiPtr(m.LoudnessIntegrated)
	cloned.LoudnessPeak = cloneCentiPtr(m.LoudnessPeak)
	cloned.LoudnessRange = cloneCentiPtr(m.LoudnessRange)
	cloned.TranscodingError = cloneStringPtr(m.TranscodingError)
	cloned.ExternalJobID = cloneStringPtr(m.ExternalJobID)
	if m.ReadyVariants != nil {
		cloned.ReadyVariants = append([]string(nil), m.ReadyVariants...)
	}
	return cloned
}

// HasReadyOutputs reports whether the record satisfies the output-field
// requirements of the ready state for its media type.
func (m MediaItem) HasReadyOutputs() bool {
	if m.HLSMasterKey == nil {
		return false
	}
	switch m.Type {
	case MediaTypeVideo:
		return m.ThumbnailKey != nil
	case MediaTypeAudio:
		return m.WaveformKey != nil && m.WaveformImageKey != nil
	default:
		return false
	}
}

func cloneStringPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneIntPtr(i *int) *int {
	if i == nil {
		return nil
	}
	v := *i
	return &v
}

func cloneCentiPtr(c *Centi) *Centi {
	if c == nil {
		return nil
	}
	v := *c
	return &v
}
