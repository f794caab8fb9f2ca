package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"mediaforge/internal/models"
)

const (
	// MaxErrorMessageLength caps the stored transcoding error message so a
	// runaway provider log dump cannot bloat the record.
	MaxErrorMessageLength = 2000

	defaultObjectStorageRequestTimeout = 30 * time.Second
)

var (
	// ErrMediaNotFound indicates the requested media record does not exist.
	ErrMediaNotFound = errors.New("media not found")

	// ErrInvalidState indicates a lifecycle transition was attempted from a
	// status outside the allowed set. The record is left untouched.
	ErrInvalidState = errors.New("media is not in an eligible state")

	// ErrMissingOutputs indicates a completion update lacked the output keys
	// required for the record's media type to become ready.
	ErrMissingOutputs = errors.New("completion update is missing required outputs")
)

type dataset struct {
	Media map[string]models.MediaItem `json:"media"`
}

// Storage is the JSON-file-backed in-memory datastore. Every mutation clones
// the affected record, persists the dataset, and rolls back on persist
// failure so readers never observe a half-applied transition.
type Storage struct {
	mu       sync.RWMutex
	filePath string
	data     dataset
	// persistOverride allows tests to intercept persist operations.
	persistOverride func(dataset) error
	objectStorage   ObjectStorageConfig
	objectClient    objectStorageClient
	now             func() time.Time
}

// ObjectStorageConfig describes the delivery-tier bucket that holds source
// uploads and transcoded outputs. The store only issues deletes against it,
// when purging failed records.
type ObjectStorageConfig struct {
	Endpoint       string
	Region         string
	AccessKey      string
	SecretKey      string
	Bucket         string
	UseSSL         bool
	Prefix         string
	RequestTimeout time.Duration
}

type objectStorageClient interface {
	Enabled() bool
	Delete(ctx context.Context, key string) error
}

// CreateMediaParams captures the attributes required to register an upload.
type CreateMediaParams struct {
	CreatorID string
	Type      models.MediaType
	SourceKey string
}

// CompletionUpdate carries the outputs reported by a successful transcode.
// Nil pointer fields are left unchanged on the record; ReadyVariants are
// merged into the existing set rather than replacing it.
type CompletionUpdate struct {
	HLSMasterKey     *string
	HLSPreviewKey    *string
	ThumbnailKey     *string
	WaveformKey      *string
	WaveformImageKey *string

	DurationSeconds *int
	Width           *int
	Height          *int

	ReadyVariants []string

	MezzanineKey *string

	LoudnessIntegrated *models.Centi
	LoudnessPeak       *models.Centi
	LoudnessRange      *models.Centi
}

func truncateError(message string) string {
	if len(message) <= MaxErrorMessageLength {
		return message
	}
	return message[:MaxErrorMessageLength]
}

// mergeVariants appends each incoming rendition name that is not already
// present, preserving the order in which renditions first became ready.
func mergeVariants(existing, incoming []string) []string {
	if len(incoming) == 0 {
		return existing
	}
	seen := make(map[string]struct{}, len(existing))
	merged := append([]string(nil), existing...)
	for _, name := range existing {
		seen[name] = struct{}{}
	}
	for _, name := range incoming {
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		merged = append(merged, name)
	}
	return merged
}
