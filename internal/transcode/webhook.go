package transcode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"mediaforge/internal/mediakey"
	"mediaforge/internal/models"
	"mediaforge/internal/storage"
)

// CompletionResult reports the outcome of a webhook delivery. Duplicate is
// set when the record had already left the transcoding state; the provider
// should treat that as a successful ack.
type CompletionResult struct {
	Media     models.MediaItem
	Duplicate bool
}

// HandleCompletion authenticates and applies one provider callback. The
// signature covers the raw body and is verified with the per-job secret
// derived from the record's stored nonce, so the record is resolved before
// verification; resolution mutates nothing and an unknown media ID is
// reported as ErrBadSignature to keep the response indistinguishable from a
// digest mismatch.
func (o *Orchestrator) HandleCompletion(ctx context.Context, body []byte, signature string) (CompletionResult, error) {
	var payload completionPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return CompletionResult{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	mediaID := strings.TrimSpace(payload.MediaID)
	if mediaID == "" {
		return CompletionResult{}, fmt.Errorf("%w: mediaId is required", ErrMalformedPayload)
	}

	item, ok, err := o.store.GetMedia(ctx, mediaID)
	if err != nil {
		return CompletionResult{}, fmt.Errorf("load media %s: %w", mediaID, err)
	}
	if !ok || item.CallbackNonce == "" {
		o.metrics.ObserveWebhook("rejected")
		return CompletionResult{}, ErrBadSignature
	}
	secret, err := DeriveWebhookSecret(o.cfg.WebhookSecret, item.CallbackNonce, item.ID)
	if err != nil {
		return CompletionResult{}, err
	}
	if !verifySignature(secret, body, strings.TrimSpace(signature)) {
		o.metrics.ObserveWebhook("rejected")
		return CompletionResult{}, ErrBadSignature
	}

	if err := validateCompletion(payload, item); err != nil {
		o.metrics.ObserveWebhook("malformed")
		return CompletionResult{}, err
	}

	switch payload.Status {
	case payloadStatusCompleted:
		return o.applyCompleted(ctx, item, payload)
	default:
		return o.applyFailed(ctx, item, payload)
	}
}

func (o *Orchestrator) applyCompleted(ctx context.Context, item models.MediaItem, payload completionPayload) (CompletionResult, error) {
	updated, err := o.store.CompleteMedia(ctx, item.ID, toCompletionUpdate(payload.Output))
	if err != nil {
		if errors.Is(err, storage.ErrInvalidState) {
			return o.duplicate(ctx, item.ID)
		}
		if errors.Is(err, storage.ErrMissingOutputs) {
			o.metrics.ObserveWebhook("malformed")
			return CompletionResult{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		return CompletionResult{}, fmt.Errorf("complete media %s: %w", item.ID, err)
	}
	o.metrics.ObserveWebhook("completed")
	o.metrics.ObserveTranscodeJob(string(item.Type), "completed")
	o.logger.InfoContext(ctx, "transcode completed",
		"mediaId", item.ID,
		"jobId", payload.JobID,
		"variants", updated.ReadyVariants,
	)
	return CompletionResult{Media: updated}, nil
}

func (o *Orchestrator) applyFailed(ctx context.Context, item models.MediaItem, payload completionPayload) (CompletionResult, error) {
	updated, err := o.store.FailMedia(ctx, item.ID, payload.Error)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidState) {
			return o.duplicate(ctx, item.ID)
		}
		return CompletionResult{}, fmt.Errorf("fail media %s: %w", item.ID, err)
	}
	o.metrics.ObserveWebhook("failed")
	o.metrics.ObserveTranscodeJob(string(item.Type), "failed")
	o.logger.WarnContext(ctx, "transcode failed",
		"mediaId", item.ID,
		"jobId", payload.JobID,
		"attempts", updated.TranscodingAttempts,
	)
	return CompletionResult{Media: updated}, nil
}

func (o *Orchestrator) duplicate(ctx context.Context, mediaID string) (CompletionResult, error) {
	item, ok, err := o.store.GetMedia(ctx, mediaID)
	if err != nil || !ok {
		return CompletionResult{Duplicate: true}, nil
	}
	o.metrics.ObserveWebhook("duplicate")
	o.logger.InfoContext(ctx, "duplicate transcode callback ignored",
		"mediaId", mediaID,
		"status", string(item.Status),
	)
	return CompletionResult{Media: item, Duplicate: true}, nil
}

// validateCompletion checks the tagged payload shape and that every reported
// key parses and belongs to the record. Runs after signature verification.
func validateCompletion(payload completionPayload, item models.MediaItem) error {
	switch payload.Status {
	case payloadStatusCompleted:
		if payload.Output == nil {
			return fmt.Errorf("%w: completed payload requires output", ErrMalformedPayload)
		}
		return validateOutput(*payload.Output, item)
	case payloadStatusFailed:
		if strings.TrimSpace(payload.Error) == "" {
			return fmt.Errorf("%w: failed payload requires error", ErrMalformedPayload)
		}
		return nil
	default:
		return fmt.Errorf("%w: unsupported status %q", ErrMalformedPayload, payload.Status)
	}
}

func validateOutput(output completionOutput, item models.MediaItem) error {
	checks := []struct {
		key      string
		purpose  mediakey.Purpose
		required bool
	}{
		{output.HLSMasterKey, mediakey.PurposeHLS, true},
		{output.HLSPreviewKey, mediakey.PurposeHLS, false},
		{output.ThumbnailKey, mediakey.PurposeThumbnail, item.Type == models.MediaTypeVideo},
		{output.WaveformKey, mediakey.PurposeWaveform, item.Type == models.MediaTypeAudio},
		{output.WaveformImageKey, mediakey.PurposeWaveformImage, item.Type == models.MediaTypeAudio},
		{output.MezzanineKey, mediakey.PurposeMezzanine, false},
	}
	for _, check := range checks {
		trimmed := strings.TrimSpace(check.key)
		if trimmed == "" {
			if check.required {
				return fmt.Errorf("%w: missing required output key for %s", ErrMalformedPayload, check.purpose)
			}
			continue
		}
		parsed, ok := mediakey.Parse(trimmed)
		if !ok || parsed.Purpose != check.purpose {
			return fmt.Errorf("%w: invalid %s key", ErrMalformedPayload, check.purpose)
		}
		if parsed.CreatorID != item.CreatorID || parsed.MediaID != item.ID {
			return fmt.Errorf("%w: %s key does not belong to media", ErrMalformedPayload, check.purpose)
		}
	}
	if output.DurationSeconds != nil && *output.DurationSeconds < 0 {
		return fmt.Errorf("%w: duration must not be negative", ErrMalformedPayload)
	}
	return nil
}

func toCompletionUpdate(output *completionOutput) storage.CompletionUpdate {
	update := storage.CompletionUpdate{
		DurationSeconds: output.DurationSeconds,
		Width:           output.Width,
		Height:          output.Height,
		ReadyVariants:   output.ReadyVariants,
	}
	update.HLSMasterKey = optionalKey(output.HLSMasterKey)
	update.HLSPreviewKey = optionalKey(output.HLSPreviewKey)
	update.ThumbnailKey = optionalKey(output.ThumbnailKey)
	update.WaveformKey = optionalKey(output.WaveformKey)
	update.WaveformImageKey = optionalKey(output.WaveformImageKey)
	update.MezzanineKey = optionalKey(output.MezzanineKey)
	if output.Loudness != nil {
		integrated := models.CentiFromFloat(output.Loudness.Integrated)
		peak := models.CentiFromFloat(output.Loudness.TruePeak)
		loudnessRange := models.CentiFromFloat(output.Loudness.Range)
		update.LoudnessIntegrated = &integrated
		update.LoudnessPeak = &peak
		update.LoudnessRange = &loudnessRange
	}
	return update
}

func optionalKey(key string) *string {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
