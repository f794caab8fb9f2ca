package storage

import (
	"context"
	"time"

	"mediaforge/internal/models"
)

// Repository exposes the datastore operations required by API handlers, the
// transcode orchestrator, and the cleanup worker. Transition methods apply
// their status guard and the update as a single atomic step; callers never
// hold a lock across a read-then-write.
type Repository interface {
	Ping(ctx context.Context) error
	Close(ctx context.Context) error

	CreateMedia(ctx context.Context, params CreateMediaParams) (models.MediaItem, error)
	GetMedia(ctx context.Context, id string) (models.MediaItem, bool, error)
	ListMedia(ctx context.Context, creatorID string) ([]models.MediaItem, error)

	// MarkTranscoding moves a record into the transcoding state, recording
	// the external job ID and rotating the callback nonce. The record must
	// currently hold one of the expected statuses or ErrInvalidState is
	// returned.
	MarkTranscoding(ctx context.Context, id string, expected []models.MediaStatus, jobID, nonce string) (models.MediaItem, error)

	// CompleteMedia moves a transcoding record to ready, applying the output
	// fields. Records outside the transcoding state are rejected with
	// ErrInvalidState, which makes duplicate completions no-ops.
	CompleteMedia(ctx context.Context, id string, update CompletionUpdate) (models.MediaItem, error)

	// FailMedia moves a transcoding record to failed, storing the truncated
	// error message and incrementing the attempt counter.
	FailMedia(ctx context.Context, id string, message string) (models.MediaItem, error)

	// PurgeFailed removes failed records whose last update is older than the
	// cutoff and returns the removed records so callers can log and count
	// them. Delivery-tier source objects of purged records are deleted.
	PurgeFailed(ctx context.Context, olderThan time.Time) ([]models.MediaItem, error)

	// CountStaleTranscoding reports how many records have sat in the
	// transcoding state since before the cutoff. Monitoring only; no
	// automatic requeue happens.
	CountStaleTranscoding(ctx context.Context, olderThan time.Time) (int, error)
}

var _ Repository = (*Storage)(nil)
