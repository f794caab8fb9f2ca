// Package ladder decides which quality renditions to produce for a media
// item, plus the preview, thumbnail, waveform, and loudness policy knobs
// that accompany them. Everything here is a pure function of the source
// properties; the authoritative record of what was actually produced lives
// on the media record, not here.
package ladder

// Rendition describes one output profile of the encoding ladder.
type Rendition struct {
	Name             string `json:"name"`
	Width            int    `json:"width"`
	Height           int    `json:"height"`
	VideoBitrateKbps int    `json:"videoBitrateKbps,omitempty"`
	AudioBitrateKbps int    `json:"audioBitrateKbps"`
}

// Fixed encoding policy shared with the transcoding provider.
const (
	// HLSSegmentSeconds is the segment duration for every generated playlist.
	HLSSegmentSeconds = 6

	// PreviewDurationSeconds bounds the fixed preview clip. The clip always
	// starts at time 0.
	PreviewDurationSeconds = 30
	previewMaxHeight       = 720

	// ThumbnailPositionPercent places the extracted frame at 10% of the
	// total duration.
	ThumbnailPositionPercent = 10
	ThumbnailWidth           = 1280
	ThumbnailHeight          = 720

	// WaveformSamplePoints is fixed regardless of duration: one JSON
	// amplitude array plus a rendered preview image.
	WaveformSamplePoints = 1000

	// Two-pass loudness normalization targets. Pass 1 measures, pass 2
	// applies gain; the measured (not target) values are recorded on the
	// media record.
	LoudnessTargetIntegrated = -16.0 // LUFS
	LoudnessTargetPeak       = -1.5  // dBTP ceiling
	LoudnessTargetRange      = 11.0  // LU
)

var videoBuckets = []Rendition{
	{Name: "1080p", Width: 1920, Height: 1080, VideoBitrateKbps: 5000, AudioBitrateKbps: 192},
	{Name: "720p", Width: 1280, Height: 720, VideoBitrateKbps: 3000, AudioBitrateKbps: 128},
	{Name: "480p", Width: 854, Height: 480, VideoBitrateKbps: 1500, AudioBitrateKbps: 96},
	{Name: "360p", Width: 640, Height: 360, VideoBitrateKbps: 800, AudioBitrateKbps: 64},
}

var audioBuckets = []Rendition{
	{Name: "128k", AudioBitrateKbps: 128},
	{Name: "64k", AudioBitrateKbps: 64},
}

// VideoLadder returns the renditions to produce for a video of the given
// source height, highest first. Renditions are never upscaled: only buckets
// at or below the source resolution are included, so sources below 360p get
// an empty main ladder (pass-through only; preview and thumbnail are still
// produced).
func VideoLadder(sourceHeight int) []Rendition {
	out := make([]Rendition, 0, len(videoBuckets))
	for _, bucket := range videoBuckets {
		if bucket.Height > sourceHeight {
			continue
		}
		out = append(out, bucket)
	}
	return out
}

// AudioLadder is fixed and independent of the source.
func AudioLadder() []Rendition {
	return append([]Rendition(nil), audioBuckets...)
}

// PreviewRendition selects the profile for the fixed preview clip: 720p, or
// the highest bucket at or below the source height when the source is
// smaller. For sources below the smallest bucket the preview is produced at
// source resolution (ok=false, no scaling target).
func PreviewRendition(sourceHeight int) (Rendition, bool) {
	for _, bucket := range videoBuckets {
		if bucket.Height > previewMaxHeight || bucket.Height > sourceHeight {
			continue
		}
		return bucket, true
	}
	return Rendition{}, false
}
