package transcode

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"mediaforge/internal/ladder"
	"mediaforge/internal/mediakey"
	"mediaforge/internal/models"
	"mediaforge/internal/observability/logging"
	"mediaforge/internal/observability/metrics"
	"mediaforge/internal/storage"
)

// defaultSourceHeight is assumed when the source height has not been probed
// yet. The provider enforces the no-upscale rule against the real source, so
// overstating the ladder here only costs the worker a skipped rendition.
const defaultSourceHeight = 1080

// Orchestrator coordinates job submission and webhook intake around the
// media lifecycle store. It holds no per-media state of its own; the store's
// guarded transitions are the only synchronization.
type Orchestrator struct {
	store    storage.Repository
	provider Provider
	cfg      Config
	logger   *slog.Logger
	metrics  *metrics.Recorder
	now      func() time.Time
}

// NewOrchestrator wires the orchestrator. A nil recorder falls back to the
// shared default; a nil logger falls back to slog.Default.
func NewOrchestrator(store storage.Repository, provider Provider, cfg Config, logger *slog.Logger, recorder *metrics.Recorder) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = metrics.Default()
	}
	return &Orchestrator{
		store:    store,
		provider: provider,
		cfg:      cfg,
		logger:   logging.WithComponent(logger, "transcode"),
		metrics:  recorder,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Trigger starts a transcode for an uploaded media record.
func (o *Orchestrator) Trigger(ctx context.Context, mediaID, creatorID string) (models.MediaItem, error) {
	item, err := o.resolveOwned(ctx, mediaID, creatorID)
	if err != nil {
		return models.MediaItem{}, err
	}
	if item.Status != models.MediaStatusUploaded {
		return models.MediaItem{}, fmt.Errorf("%w: media %s is %s", ErrInvalidState, mediaID, item.Status)
	}
	return o.dispatch(ctx, item, []models.MediaStatus{models.MediaStatusUploaded})
}

// Retry re-submits a failed media record within the retry budget. The
// attempt counter is advanced by failure callbacks, never by the retry call
// itself.
func (o *Orchestrator) Retry(ctx context.Context, mediaID, creatorID string) (models.MediaItem, error) {
	item, err := o.resolveOwned(ctx, mediaID, creatorID)
	if err != nil {
		return models.MediaItem{}, err
	}
	if item.Status != models.MediaStatusFailed {
		return models.MediaItem{}, fmt.Errorf("%w: media %s is %s", ErrInvalidState, mediaID, item.Status)
	}
	if item.TranscodingAttempts > o.cfg.MaxRetries {
		return models.MediaItem{}, fmt.Errorf("%w: media %s used %d attempts", ErrMaxRetriesExceeded, mediaID, item.TranscodingAttempts)
	}
	updated, err := o.dispatch(ctx, item, []models.MediaStatus{models.MediaStatusFailed})
	if err != nil {
		return models.MediaItem{}, err
	}
	o.metrics.ObserveTranscodeJob(string(item.Type), "retry")
	return updated, nil
}

func (o *Orchestrator) resolveOwned(ctx context.Context, mediaID, creatorID string) (models.MediaItem, error) {
	item, ok, err := o.store.GetMedia(ctx, mediaID)
	if err != nil {
		return models.MediaItem{}, fmt.Errorf("load media %s: %w", mediaID, err)
	}
	if !ok {
		return models.MediaItem{}, ErrNotFound
	}
	if item.CreatorID != strings.TrimSpace(creatorID) {
		return models.MediaItem{}, ErrForbidden
	}
	return item, nil
}

// dispatch builds the job description, submits it, and records the
// transition. A losing provider call leaves the record untouched; a losing
// state guard means a concurrent trigger won and the stray job's callbacks
// will fail signature verification because its nonce was never stored.
func (o *Orchestrator) dispatch(ctx context.Context, item models.MediaItem, expected []models.MediaStatus) (models.MediaItem, error) {
	nonce, err := NewCallbackNonce()
	if err != nil {
		return models.MediaItem{}, err
	}
	secret, err := DeriveWebhookSecret(o.cfg.WebhookSecret, nonce, item.ID)
	if err != nil {
		return models.MediaItem{}, err
	}
	job, err := o.buildJobRequest(item, secret)
	if err != nil {
		return models.MediaItem{}, err
	}

	accepted, err := o.provider.Submit(ctx, job)
	if err != nil {
		o.metrics.ObserveTranscodeJob(string(item.Type), "submit_error")
		return models.MediaItem{}, err
	}

	updated, err := o.store.MarkTranscoding(ctx, item.ID, expected, accepted.JobID, nonce)
	if err != nil {
		if errors.Is(err, storage.ErrMediaNotFound) {
			return models.MediaItem{}, ErrNotFound
		}
		if errors.Is(err, storage.ErrInvalidState) {
			return models.MediaItem{}, fmt.Errorf("%w: %v", ErrInvalidState, err)
		}
		return models.MediaItem{}, fmt.Errorf("mark media %s transcoding: %w", item.ID, err)
	}

	o.metrics.ObserveTranscodeJob(string(item.Type), "submitted")
	o.logger.InfoContext(ctx, "transcode job submitted",
		"mediaId", item.ID,
		"creatorId", item.CreatorID,
		"mediaType", string(item.Type),
		"jobId", accepted.JobID,
	)
	return updated, nil
}

func (o *Orchestrator) buildJobRequest(item models.MediaItem, secret []byte) (JobRequest, error) {
	outputPrefix, err := mediakey.OutputPrefix(item.CreatorID, item.ID)
	if err != nil {
		return JobRequest{}, fmt.Errorf("build output prefix: %w", err)
	}
	masterKey, err := mediakey.MasterPlaylistKey(item.CreatorID, item.ID)
	if err != nil {
		return JobRequest{}, fmt.Errorf("build master playlist key: %w", err)
	}

	job := JobRequest{
		MediaID:           item.ID,
		CreatorID:         item.CreatorID,
		MediaType:         string(item.Type),
		InputKey:          item.SourceKey,
		OutputPrefix:      outputPrefix,
		MasterPlaylistKey: masterKey,
		SegmentSeconds:    ladder.HLSSegmentSeconds,
		Loudness: LoudnessPolicy{
			IntegratedTarget: ladder.LoudnessTargetIntegrated,
			TruePeakTarget:   ladder.LoudnessTargetPeak,
			RangeTarget:      ladder.LoudnessTargetRange,
		},
		WebhookURL:    strings.TrimRight(o.cfg.CallbackBaseURL, "/") + "/api/webhooks/transcode",
		WebhookSecret: hex.EncodeToString(secret),
	}

	sourceHeight := defaultSourceHeight
	if item.Height != nil && *item.Height > 0 {
		sourceHeight = *item.Height
	}

	switch item.Type {
	case models.MediaTypeVideo:
		job.Renditions = ladder.VideoLadder(sourceHeight)

		previewKey, err := mediakey.PreviewKey(item.CreatorID, item.ID)
		if err != nil {
			return JobRequest{}, fmt.Errorf("build preview key: %w", err)
		}
		preview := &PreviewPolicy{
			StartSeconds:    0,
			DurationSeconds: ladder.PreviewDurationSeconds,
			PlaylistKey:     previewKey,
		}
		if rendition, ok := ladder.PreviewRendition(sourceHeight); ok {
			preview.Rendition = &rendition
		}
		job.Preview = preview

		thumbnailKey, err := mediakey.ThumbnailKey(item.CreatorID, item.ID)
		if err != nil {
			return JobRequest{}, fmt.Errorf("build thumbnail key: %w", err)
		}
		job.Thumbnail = &ThumbnailPolicy{
			PositionPercent: ladder.ThumbnailPositionPercent,
			Width:           ladder.ThumbnailWidth,
			Height:          ladder.ThumbnailHeight,
			Key:             thumbnailKey,
		}

		if item.MezzanineStatus != models.MezzanineStatusReady {
			mezzanineKey, err := mediakey.MezzanineKey(item.CreatorID, item.ID)
			if err != nil {
				return JobRequest{}, fmt.Errorf("build mezzanine key: %w", err)
			}
			job.MezzanineKey = mezzanineKey
		}
	case models.MediaTypeAudio:
		job.Renditions = ladder.AudioLadder()

		waveformKey, err := mediakey.WaveformKey(item.CreatorID, item.ID)
		if err != nil {
			return JobRequest{}, fmt.Errorf("build waveform key: %w", err)
		}
		waveformImageKey, err := mediakey.WaveformImageKey(item.CreatorID, item.ID)
		if err != nil {
			return JobRequest{}, fmt.Errorf("build waveform image key: %w", err)
		}
		job.Waveform = &WaveformPolicy{
			SamplePoints: ladder.WaveformSamplePoints,
			JSONKey:      waveformKey,
			ImageKey:     waveformImageKey,
		}
	default:
		return JobRequest{}, fmt.Errorf("unsupported media type %q", item.Type)
	}

	return job, nil
}
