// Package mediakey computes and parses the storage keys used for media
// artifacts across the delivery and archival tiers. It is pure: no state,
// no I/O. Because key components are partly derived from caller-controlled
// identifiers, component validation here is a security boundary, not a
// naming convenience.
package mediakey

import (
	"fmt"
	"strings"
)

// Purpose names the artifact class a key addresses. No two purposes share a
// key shape, so a well-formed key identifies its purpose unambiguously.
type Purpose string

const (
	PurposeOriginal      Purpose = "original"
	PurposeHLS           Purpose = "hls"
	PurposeThumbnail     Purpose = "thumbnail"
	PurposeWaveform      Purpose = "waveform"
	PurposeWaveformImage Purpose = "waveform-image"
	// PurposeMezzanine keys live in the archival tier; everything else lives
	// in the delivery tier.
	PurposeMezzanine Purpose = "mezzanine"
)

const (
	segmentOriginal   = "original"
	segmentHLS        = "hls"
	segmentThumbnails = "thumbnails"
	segmentWaveforms  = "waveforms"
	segmentMezzanine  = "mezzanine"

	masterPlaylistName = "master.m3u8"
	variantPlaylist    = "index.m3u8"
	previewDir         = "preview"
	previewPlaylist    = "preview.m3u8"
	thumbnailName      = "auto-generated.jpg"
	waveformName       = "waveform.json"
	waveformImageName  = "waveform.png"
	mezzanineName      = "mezzanine.mp4"
)

// OriginalKey locates the uploaded source file in the delivery tier.
func OriginalKey(creatorID, mediaID, filename string) (string, error) {
	if err := validateComponents(creatorID, mediaID, filename); err != nil {
		return "", err
	}
	return join(creatorID, segmentOriginal, mediaID, filename), nil
}

// OutputPrefix is the delivery-tier prefix under which the provider writes
// every HLS artifact for a media item. It always ends with a slash.
func OutputPrefix(creatorID, mediaID string) (string, error) {
	if err := validateComponents(creatorID, mediaID); err != nil {
		return "", err
	}
	return join(creatorID, segmentHLS, mediaID) + "/", nil
}

// MasterPlaylistKey locates the HLS master playlist.
func MasterPlaylistKey(creatorID, mediaID string) (string, error) {
	if err := validateComponents(creatorID, mediaID); err != nil {
		return "", err
	}
	return join(creatorID, segmentHLS, mediaID, masterPlaylistName), nil
}

// VariantPlaylistKey locates the per-rendition playlist for a ladder variant.
func VariantPlaylistKey(creatorID, mediaID, variant string) (string, error) {
	if err := validateComponents(creatorID, mediaID, variant); err != nil {
		return "", err
	}
	return join(creatorID, segmentHLS, mediaID, variant, variantPlaylist), nil
}

// PreviewKey locates the fixed preview clip playlist.
func PreviewKey(creatorID, mediaID string) (string, error) {
	if err := validateComponents(creatorID, mediaID); err != nil {
		return "", err
	}
	return join(creatorID, segmentHLS, mediaID, previewDir, previewPlaylist), nil
}

// ThumbnailKey locates the auto-generated video thumbnail.
func ThumbnailKey(creatorID, mediaID string) (string, error) {
	if err := validateComponents(creatorID, mediaID); err != nil {
		return "", err
	}
	return join(creatorID, segmentThumbnails, mediaID, thumbnailName), nil
}

// WaveformKey locates the audio waveform JSON artifact.
func WaveformKey(creatorID, mediaID string) (string, error) {
	if err := validateComponents(creatorID, mediaID); err != nil {
		return "", err
	}
	return join(creatorID, segmentWaveforms, mediaID, waveformName), nil
}

// WaveformImageKey locates the rendered waveform preview image.
func WaveformImageKey(creatorID, mediaID string) (string, error) {
	if err := validateComponents(creatorID, mediaID); err != nil {
		return "", err
	}
	return join(creatorID, segmentWaveforms, mediaID, waveformImageName), nil
}

// MezzanineKey locates the re-encodable master copy in the archival tier.
func MezzanineKey(creatorID, mediaID string) (string, error) {
	if err := validateComponents(creatorID, mediaID); err != nil {
		return "", err
	}
	return join(creatorID, segmentMezzanine, mediaID, mezzanineName), nil
}

// Parsed is the result of decomposing a well-formed storage key.
type Parsed struct {
	CreatorID string
	Purpose   Purpose
	MediaID   string
	Filename  string
}

// Parse extracts (creatorID, purpose, mediaID, filename) from a storage key.
// Malformed or hostile input yields ok=false rather than an error, since this
// path validates externally supplied keys.
func Parse(key string) (Parsed, bool) {
	parts := strings.Split(key, "/")
	if len(parts) < 4 {
		return Parsed{}, false
	}
	for _, part := range parts {
		if !validComponent(part) {
			return Parsed{}, false
		}
	}
	creatorID, segment, mediaID := parts[0], parts[1], parts[2]
	rest := parts[3:]
	filename := rest[len(rest)-1]

	var purpose Purpose
	switch segment {
	case segmentOriginal:
		if len(rest) != 1 {
			return Parsed{}, false
		}
		purpose = PurposeOriginal
	case segmentHLS:
		purpose = PurposeHLS
	case segmentThumbnails:
		if len(rest) != 1 || filename != thumbnailName {
			return Parsed{}, false
		}
		purpose = PurposeThumbnail
	case segmentWaveforms:
		if len(rest) != 1 {
			return Parsed{}, false
		}
		switch filename {
		case waveformName:
			purpose = PurposeWaveform
		case waveformImageName:
			purpose = PurposeWaveformImage
		default:
			return Parsed{}, false
		}
	case segmentMezzanine:
		if len(rest) != 1 || filename != mezzanineName {
			return Parsed{}, false
		}
		purpose = PurposeMezzanine
	default:
		return Parsed{}, false
	}

	return Parsed{
		CreatorID: creatorID,
		Purpose:   purpose,
		MediaID:   mediaID,
		Filename:  filename,
	}, true
}

func join(parts ...string) string {
	return strings.Join(parts, "/")
}

func validateComponents(parts ...string) error {
	for _, part := range parts {
		if !validComponent(part) {
			return fmt.Errorf("invalid key component %q", part)
		}
	}
	return nil
}

// validComponent rejects anything that could escape the key namespace:
// separators, traversal sequences (plain or percent-encoded), NUL, and
// control bytes.
func validComponent(part string) bool {
	if part == "" || part == "." || part == ".." {
		return false
	}
	lower := strings.ToLower(part)
	if strings.Contains(lower, "..") {
		return false
	}
	for _, encoded := range []string{"%2e", "%2f", "%5c", "%00"} {
		if strings.Contains(lower, encoded) {
			return false
		}
	}
	for _, r := range part {
		switch {
		case r == '/' || r == '\\':
			return false
		case r < 0x20 || r == 0x7f:
			return false
		}
	}
	return true
}
