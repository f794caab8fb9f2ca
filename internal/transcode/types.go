package transcode

import (
	"context"

	"mediaforge/internal/ladder"
)

// Provider submits transcoding jobs to the external GPU worker fleet.
type Provider interface {
	Submit(ctx context.Context, job JobRequest) (JobAccepted, error)
}

// JobRequest is the declarative job description posted to the provider. It
// carries the complete encoding policy so the worker needs no callback to
// resolve renditions or output locations.
type JobRequest struct {
	MediaID      string `json:"mediaId"`
	CreatorID    string `json:"creatorId"`
	MediaType    string `json:"mediaType"`
	InputKey     string `json:"inputKey"`
	OutputPrefix string `json:"outputPrefix"`

	MasterPlaylistKey string             `json:"masterPlaylistKey"`
	Renditions        []ladder.Rendition `json:"renditions"`
	SegmentSeconds    int                `json:"segmentSeconds"`

	Preview   *PreviewPolicy   `json:"preview,omitempty"`
	Thumbnail *ThumbnailPolicy `json:"thumbnail,omitempty"`
	Waveform  *WaveformPolicy  `json:"waveform,omitempty"`
	Loudness  LoudnessPolicy   `json:"loudness"`

	// MezzanineKey is only set when the record has no archival copy yet.
	MezzanineKey string `json:"mezzanineKey,omitempty"`

	WebhookURL    string `json:"webhookUrl"`
	WebhookSecret string `json:"webhookSecret"`
}

// JobAccepted is the provider's acknowledgement of a submitted job.
type JobAccepted struct {
	JobID string `json:"jobId"`
}

// PreviewPolicy describes the short clip rendered for hover previews.
type PreviewPolicy struct {
	StartSeconds    int               `json:"startSeconds"`
	DurationSeconds int               `json:"durationSeconds"`
	Rendition       *ladder.Rendition `json:"rendition,omitempty"`
	PlaylistKey     string            `json:"playlistKey"`
}

// ThumbnailPolicy describes the auto-generated poster frame.
type ThumbnailPolicy struct {
	PositionPercent int    `json:"positionPercent"`
	Width           int    `json:"width"`
	Height          int    `json:"height"`
	Key             string `json:"key"`
}

// WaveformPolicy describes the waveform artifacts rendered for audio media.
type WaveformPolicy struct {
	SamplePoints int    `json:"samplePoints"`
	JSONKey      string `json:"jsonKey"`
	ImageKey     string `json:"imageKey"`
}

// LoudnessPolicy carries the normalization targets the worker applies in its
// two-pass loudnorm run.
type LoudnessPolicy struct {
	IntegratedTarget float64 `json:"integratedTarget"`
	TruePeakTarget   float64 `json:"truePeakTarget"`
	RangeTarget      float64 `json:"rangeTarget"`
}

const (
	payloadStatusCompleted = "completed"
	payloadStatusFailed    = "failed"
)

// completionPayload is the webhook body posted by the provider when a job
// finishes. completed jobs carry output, failed jobs carry error.
type completionPayload struct {
	MediaID string            `json:"mediaId"`
	JobID   string            `json:"jobId"`
	Status  string            `json:"status"`
	Error   string            `json:"error,omitempty"`
	Output  *completionOutput `json:"output,omitempty"`
}

type completionOutput struct {
	HLSMasterKey     string `json:"hlsMasterKey"`
	HLSPreviewKey    string `json:"hlsPreviewKey,omitempty"`
	ThumbnailKey     string `json:"thumbnailKey,omitempty"`
	WaveformKey      string `json:"waveformKey,omitempty"`
	WaveformImageKey string `json:"waveformImageKey,omitempty"`
	MezzanineKey     string `json:"mezzanineKey,omitempty"`

	DurationSeconds *int `json:"durationSeconds,omitempty"`
	Width           *int `json:"width,omitempty"`
	Height          *int `json:"height,omitempty"`

	ReadyVariants []string `json:"readyVariants"`

	Loudness *loudnessMeasurement `json:"loudness,omitempty"`
}

// loudnessMeasurement carries the measured (not target) values from the
// worker's second loudnorm pass.
type loudnessMeasurement struct {
	Integrated float64 `json:"integrated"`
	TruePeak   float64 `json:"truePeak"`
	Range      float64 `json:"range"`
}
