package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"mediaforge/internal/models"
)

func newTestStore(t *testing.T, opts ...Option) *Storage {
	t.Helper()
	path := filepath.Join(t.TempDir(), "store.json")
	store, err := NewStorage(path, opts...)
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	return store
}

func createTestMedia(t *testing.T, store *Storage, mediaType models.MediaType) models.MediaItem {
	t.Helper()
	item, err := store.CreateMedia(context.Background(), CreateMediaParams{
		CreatorID: "creator-1",
		Type:      mediaType,
		SourceKey: "creator-1/original/media-1/input.mp4",
	})
	if err != nil {
		t.Fatalf("CreateMedia: %v", err)
	}
	return item
}

func strPtr(s string) *string { return &s }

func intPtr(i int) *int { return &i }

func centiPtr(v float64) *models.Centi {
	c := models.CentiFromFloat(v)
	return &c
}

func videoCompletion() CompletionUpdate {
	return CompletionUpdate{
		HLSMasterKey:    strPtr("creator-1/hls/media-1/master.m3u8"),
		HLSPreviewKey:   strPtr("creator-1/hls/media-1/preview/preview.m3u8"),
		ThumbnailKey:    strPtr("creator-1/thumbnails/media-1/auto-generated.jpg"),
		DurationSeconds: intPtr(93),
		Width:           intPtr(1920),
		Height:          intPtr(1080),
		ReadyVariants:   []string{"1080p", "720p", "480p", "360p"},
		MezzanineKey:    strPtr("creator-1/mezzanine/media-1/mezzanine.mp4"),
	}
}

func TestCreateMediaInitialState(t *testing.T) {
	store := newTestStore(t)
	item := createTestMedia(t, store, models.MediaTypeVideo)

	if item.Status != models.MediaStatusUploaded {
		t.Fatalf("expected uploaded status, got %s", item.Status)
	}
	if item.MezzanineStatus != models.MezzanineStatusPending {
		t.Fatalf("expected pending mezzanine, got %s", item.MezzanineStatus)
	}
	if item.TranscodingAttempts != 0 {
		t.Fatalf("expected zero attempts, got %d", item.TranscodingAttempts)
	}
	if len(item.ReadyVariants) != 0 {
		t.Fatalf("expected no ready variants, got %v", item.ReadyVariants)
	}
	got, ok, err := store.GetMedia(context.Background(), item.ID)
	if err != nil || !ok {
		t.Fatalf("GetMedia: ok=%v err=%v", ok, err)
	}
	if got.ID != item.ID || got.CreatorID != "creator-1" {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestMarkTranscodingGuardsStatus(t *testing.T) {
	store := newTestStore(t)
	item := createTestMedia(t, store, models.MediaTypeVideo)
	ctx := context.Background()

	updated, err := store.MarkTranscoding(ctx, item.ID, []models.MediaStatus{models.MediaStatusUploaded, models.MediaStatusFailed}, "job-1", "nonce-1")
	if err != nil {
		t.Fatalf("MarkTranscoding: %v", err)
	}
	if updated.Status != models.MediaStatusTranscoding {
		t.Fatalf("expected transcoding status, got %s", updated.Status)
	}
	if updated.ExternalJobID == nil || *updated.ExternalJobID != "job-1" {
		t.Fatalf("expected job id recorded, got %v", updated.ExternalJobID)
	}
	if updated.CallbackNonce != "nonce-1" {
		t.Fatalf("expected nonce recorded, got %q", updated.CallbackNonce)
	}

	// Second trigger must lose the guard.
	_, err = store.MarkTranscoding(ctx, item.ID, []models.MediaStatus{models.MediaStatusUploaded, models.MediaStatusFailed}, "job-2", "nonce-2")
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	got, _, _ := store.GetMedia(ctx, item.ID)
	if got.CallbackNonce != "nonce-1" {
		t.Fatalf("losing trigger must not rotate nonce, got %q", got.CallbackNonce)
	}
}

func TestMarkTranscodingUnknownMedia(t *testing.T) {
	store := newTestStore(t)
	_, err := store.MarkTranscoding(context.Background(), "missing", []models.MediaStatus{models.MediaStatusUploaded}, "job", "nonce")
	if !errors.Is(err, ErrMediaNotFound) {
		t.Fatalf("expected ErrMediaNotFound, got %v", err)
	}
}

func TestCompleteMediaAppliesOutputs(t *testing.T) {
	store := newTestStore(t)
	item := createTestMedia(t, store, models.MediaTypeVideo)
	ctx := context.Background()

	if _, err := store.MarkTranscoding(ctx, item.ID, []models.MediaStatus{models.MediaStatusUploaded}, "job-1", "nonce-1"); err != nil {
		t.Fatalf("MarkTranscoding: %v", err)
	}
	update := videoCompletion()
	update.LoudnessIntegrated = centiPtr(-15.97)
	update.LoudnessPeak = centiPtr(-1.5)
	update.LoudnessRange = centiPtr(11.0)

	ready, err := store.CompleteMedia(ctx, item.ID, update)
	if err != nil {
		t.Fatalf("CompleteMedia: %v", err)
	}
	if ready.Status != models.MediaStatusReady {
		t.Fatalf("expected ready status, got %s", ready.Status)
	}
	if ready.HLSMasterKey == nil || *ready.HLSMasterKey != *update.HLSMasterKey {
		t.Fatalf("expected master playlist key, got %v", ready.HLSMasterKey)
	}
	if ready.MezzanineStatus != models.MezzanineStatusReady {
		t.Fatalf("expected ready mezzanine, got %s", ready.MezzanineStatus)
	}
	if len(ready.ReadyVariants) != 4 {
		t.Fatalf("expected 4 ready variants, got %v", ready.ReadyVariants)
	}
	if ready.LoudnessIntegrated == nil || *ready.LoudnessIntegrated != models.CentiFromFloat(-15.97) {
		t.Fatalf("expected loudness recorded, got %v", ready.LoudnessIntegrated)
	}
	if ready.TranscodingError != nil {
		t.Fatalf("expected error cleared, got %v", *ready.TranscodingError)
	}
}

func TestCompleteMediaIdempotentOnDuplicate(t *testing.T) {
	store := newTestStore(t)
	item := createTestMedia(t, store, models.MediaTypeVideo)
	ctx := context.Background()

	if _, err := store.MarkTranscoding(ctx, item.ID, []models.MediaStatus{models.MediaStatusUploaded}, "job-1", "nonce-1"); err != nil {
		t.Fatalf("MarkTranscoding: %v", err)
	}
	first, err := store.CompleteMedia(ctx, item.ID, videoCompletion())
	if err != nil {
		t.Fatalf("CompleteMedia: %v", err)
	}
	_, err = store.CompleteMedia(ctx, item.ID, videoCompletion())
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("duplicate completion should hit the guard, got %v", err)
	}
	got, _, _ := store.GetMedia(ctx, item.ID)
	if !got.UpdatedAt.Equal(first.UpdatedAt) {
		t.Fatalf("duplicate completion must not mutate the record")
	}
}

func TestCompleteMediaRequiresOutputs(t *testing.T) {
	store := newTestStore(t)
	item := createTestMedia(t, store, models.MediaTypeVideo)
	ctx := context.Background()

	if _, err := store.MarkTranscoding(ctx, item.ID, []models.MediaStatus{models.MediaStatusUploaded}, "job-1", "nonce-1"); err != nil {
		t.Fatalf("MarkTranscoding: %v", err)
	}
	update := videoCompletion()
	update.ThumbnailKey = nil
	_, err := store.CompleteMedia(ctx, item.ID, update)
	if !errors.Is(err, ErrMissingOutputs) {
		t.Fatalf("expected ErrMissingOutputs, got %v", err)
	}
	got, _, _ := store.GetMedia(ctx, item.ID)
	if got.Status != models.MediaStatusTranscoding {
		t.Fatalf("record must stay transcoding after rejected completion, got %s", got.Status)
	}
}

func TestCompleteMediaAudioOutputs(t *testing.T) {
	store := newTestStore(t)
	item := createTestMedia(t, store, models.MediaTypeAudio)
	ctx := context.Background()

	if _, err := store.MarkTranscoding(ctx, item.ID, []models.MediaStatus{models.MediaStatusUploaded}, "job-1", "nonce-1"); err != nil {
		t.Fatalf("MarkTranscoding: %v", err)
	}
	update := CompletionUpdate{
		HLSMasterKey:  strPtr("creator-1/hls/media-1/master.m3u8"),
		WaveformKey:   strPtr("creator-1/waveforms/media-1/waveform.json"),
		ReadyVariants: []string{"128k", "64k"},
	}
	if _, err := store.CompleteMedia(ctx, item.ID, update); !errors.Is(err, ErrMissingOutputs) {
		t.Fatalf("audio completion without waveform image should be rejected, got %v", err)
	}
	update.WaveformImageKey = strPtr("creator-1/waveforms/media-1/waveform.png")
	ready, err := store.CompleteMedia(ctx, item.ID, update)
	if err != nil {
		t.Fatalf("CompleteMedia: %v", err)
	}
	if ready.Status != models.MediaStatusReady {
		t.Fatalf("expected ready status, got %s", ready.Status)
	}
}

func TestMezzanineImmutableAcrossRetry(t *testing.T) {
	store := newTestStore(t)
	item := createTestMedia(t, store, models.MediaTypeVideo)
	ctx := context.Background()

	expected := []models.MediaStatus{models.MediaStatusUploaded, models.MediaStatusFailed}
	if _, err := store.MarkTranscoding(ctx, item.ID, expected, "job-1", "nonce-1"); err != nil {
		t.Fatalf("MarkTranscoding: %v", err)
	}
	if _, err := store.CompleteMedia(ctx, item.ID, videoCompletion()); err != nil {
		t.Fatalf("CompleteMedia: %v", err)
	}

	// Force the record back through a failure and a second completion that
	// reports a different mezzanine key.
	store.mu.Lock()
	record := store.data.Media[item.ID]
	record.Status = models.MediaStatusTranscoding
	store.data.Media[item.ID] = record
	store.mu.Unlock()

	update := videoCompletion()
	update.MezzanineKey = strPtr("creator-1/mezzanine/media-1/replacement.mp4")
	ready, err := store.CompleteMedia(ctx, item.ID, update)
	if err != nil {
		t.Fatalf("CompleteMedia: %v", err)
	}
	if ready.MezzanineKey == nil || *ready.MezzanineKey != "creator-1/mezzanine/media-1/mezzanine.mp4" {
		t.Fatalf("mezzanine key must not be replaced once ready, got %v", ready.MezzanineKey)
	}
}

func TestReadyVariantsOnlyGrow(t *testing.T) {
	existing := []string{"1080p", "720p"}
	merged := mergeVariants(existing, []string{"720p", "480p", ""})
	if len(merged) != 3 {
		t.Fatalf("expected 3 variants, got %v", merged)
	}
	if merged[0] != "1080p" || merged[1] != "720p" || merged[2] != "480p" {
		t.Fatalf("expected order preserved, got %v", merged)
	}
}

func TestFailMediaIncrementsAttemptsAndTruncates(t *testing.T) {
	store := newTestStore(t)
	item := createTestMedia(t, store, models.MediaTypeVideo)
	ctx := context.Background()

	if _, err := store.MarkTranscoding(ctx, item.ID, []models.MediaStatus{models.MediaStatusUploaded}, "job-1", "nonce-1"); err != nil {
		t.Fatalf("MarkTranscoding: %v", err)
	}
	long := make([]byte, MaxErrorMessageLength+500)
	for i := range long {
		long[i] = 'x'
	}
	failed, err := store.FailMedia(ctx, item.ID, string(long))
	if err != nil {
		t.Fatalf("FailMedia: %v", err)
	}
	if failed.Status != models.MediaStatusFailed {
		t.Fatalf("expected failed status, got %s", failed.Status)
	}
	if failed.TranscodingAttempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", failed.TranscodingAttempts)
	}
	if failed.TranscodingError == nil || len(*failed.TranscodingError) != MaxErrorMessageLength {
		t.Fatalf("expected truncated error message")
	}

	// A duplicate failure callback must not double-count.
	if _, err := store.FailMedia(ctx, item.ID, "again"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for duplicate failure, got %v", err)
	}
	got, _, _ := store.GetMedia(ctx, item.ID)
	if got.TranscodingAttempts != 1 {
		t.Fatalf("duplicate failure must not increment attempts, got %d", got.TranscodingAttempts)
	}
}

func TestConcurrentMarkTranscodingSingleWinner(t *testing.T) {
	store := newTestStore(t)
	item := createTestMedia(t, store, models.MediaTypeVideo)
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, err := store.MarkTranscoding(ctx, item.ID, []models.MediaStatus{models.MediaStatusUploaded}, "job", "nonce")
			errs[idx] = err
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else if !errors.Is(err, ErrInvalidState) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winning trigger, got %d", winners)
	}
}

func TestPurgeFailedRemovesExpiredRecords(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := now
	store := newTestStore(t, WithClock(func() time.Time { return clock }))
	ctx := context.Background()

	item := createTestMedia(t, store, models.MediaTypeVideo)
	if _, err := store.MarkTranscoding(ctx, item.ID, []models.MediaStatus{models.MediaStatusUploaded}, "job-1", "nonce-1"); err != nil {
		t.Fatalf("MarkTranscoding: %v", err)
	}
	if _, err := store.FailMedia(ctx, item.ID, "transcode crashed"); err != nil {
		t.Fatalf("FailMedia: %v", err)
	}

	fresh := createTestMedia(t, store, models.MediaTypeVideo)

	clock = now.Add(25 * time.Hour)
	purged, err := store.PurgeFailed(ctx, clock.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PurgeFailed: %v", err)
	}
	if len(purged) != 1 || purged[0].ID != item.ID {
		t.Fatalf("expected the failed record purged, got %v", purged)
	}
	if _, ok, _ := store.GetMedia(ctx, item.ID); ok {
		t.Fatalf("purged record should be gone")
	}
	if _, ok, _ := store.GetMedia(ctx, fresh.ID); !ok {
		t.Fatalf("uploaded record must survive the purge")
	}
}

type fakeObjectStorage struct {
	mu      sync.Mutex
	deleted []string
	err     error
}

func (f *fakeObjectStorage) Enabled() bool { return true }

func (f *fakeObjectStorage) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, key)
	return nil
}

func TestPurgeFailedDeletesSourceObjects(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := now
	store := newTestStore(t, WithClock(func() time.Time { return clock }))
	fake := &fakeObjectStorage{}
	store.objectClient = fake
	ctx := context.Background()

	item := createTestMedia(t, store, models.MediaTypeVideo)
	if _, err := store.MarkTranscoding(ctx, item.ID, []models.MediaStatus{models.MediaStatusUploaded}, "job-1", "nonce-1"); err != nil {
		t.Fatalf("MarkTranscoding: %v", err)
	}
	if _, err := store.FailMedia(ctx, item.ID, "boom"); err != nil {
		t.Fatalf("FailMedia: %v", err)
	}

	clock = now.Add(48 * time.Hour)
	if _, err := store.PurgeFailed(ctx, clock.Add(-24*time.Hour)); err != nil {
		t.Fatalf("PurgeFailed: %v", err)
	}
	if len(fake.deleted) != 1 || fake.deleted[0] != item.SourceKey {
		t.Fatalf("expected source object deleted, got %v", fake.deleted)
	}
}

func TestPurgeFailedRollsBackOnObjectError(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := now
	store := newTestStore(t, WithClock(func() time.Time { return clock }))
	fake := &fakeObjectStorage{err: errors.New("bucket offline")}
	store.objectClient = fake
	ctx := context.Background()

	item := createTestMedia(t, store, models.MediaTypeVideo)
	if _, err := store.MarkTranscoding(ctx, item.ID, []models.MediaStatus{models.MediaStatusUploaded}, "job-1", "nonce-1"); err != nil {
		t.Fatalf("MarkTranscoding: %v", err)
	}
	if _, err := store.FailMedia(ctx, item.ID, "boom"); err != nil {
		t.Fatalf("FailMedia: %v", err)
	}

	clock = now.Add(48 * time.Hour)
	if _, err := store.PurgeFailed(ctx, clock.Add(-24*time.Hour)); err == nil {
		t.Fatalf("expected purge error when the object delete fails")
	}
	if _, ok, _ := store.GetMedia(ctx, item.ID); !ok {
		t.Fatalf("record must survive when the object delete fails")
	}
}

func TestCountStaleTranscoding(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := now
	store := newTestStore(t, WithClock(func() time.Time { return clock }))
	ctx := context.Background()

	stale := createTestMedia(t, store, models.MediaTypeVideo)
	if _, err := store.MarkTranscoding(ctx, stale.ID, []models.MediaStatus{models.MediaStatusUploaded}, "job-1", "nonce-1"); err != nil {
		t.Fatalf("MarkTranscoding: %v", err)
	}

	clock = now.Add(3 * time.Hour)
	recent := createTestMedia(t, store, models.MediaTypeVideo)
	if _, err := store.MarkTranscoding(ctx, recent.ID, []models.MediaStatus{models.MediaStatusUploaded}, "job-2", "nonce-2"); err != nil {
		t.Fatalf("MarkTranscoding: %v", err)
	}

	count, err := store.CountStaleTranscoding(ctx, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("CountStaleTranscoding: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 stale record, got %d", count)
	}
}

func TestPersistFailureRollsBackTransition(t *testing.T) {
	store := newTestStore(t)
	item := createTestMedia(t, store, models.MediaTypeVideo)
	ctx := context.Background()

	store.persistOverride = func(dataset) error { return errors.New("disk full") }
	if _, err := store.MarkTranscoding(ctx, item.ID, []models.MediaStatus{models.MediaStatusUploaded}, "job-1", "nonce-1"); err == nil {
		t.Fatalf("expected persist error")
	}
	store.persistOverride = nil

	got, _, _ := store.GetMedia(ctx, item.ID)
	if got.Status != models.MediaStatusUploaded {
		t.Fatalf("expected rollback to uploaded, got %s", got.Status)
	}
}

func TestStorageReloadsFromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	store, err := NewStorage(path)
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	item := createTestMedia(t, store, models.MediaTypeAudio)
	if _, err := store.MarkTranscoding(context.Background(), item.ID, []models.MediaStatus{models.MediaStatusUploaded}, "job-1", "nonce-1"); err != nil {
		t.Fatalf("MarkTranscoding: %v", err)
	}

	reloaded, err := NewStorage(path)
	if err != nil {
		t.Fatalf("reload NewStorage: %v", err)
	}
	got, ok, err := reloaded.GetMedia(context.Background(), item.ID)
	if err != nil || !ok {
		t.Fatalf("GetMedia after reload: ok=%v err=%v", ok, err)
	}
	if got.Status != models.MediaStatusTranscoding {
		t.Fatalf("expected transcoding status after reload, got %s", got.Status)
	}
	if got.CallbackNonce != "nonce-1" {
		t.Fatalf("callback nonce must survive reload, got %q", got.CallbackNonce)
	}
}

func TestListMediaFiltersByCreator(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.CreateMedia(ctx, CreateMediaParams{CreatorID: "alice", Type: models.MediaTypeVideo, SourceKey: "alice/original/m1/a.mp4"}); err != nil {
		t.Fatalf("CreateMedia: %v", err)
	}
	if _, err := store.CreateMedia(ctx, CreateMediaParams{CreatorID: "bob", Type: models.MediaTypeVideo, SourceKey: "bob/original/m2/b.mp4"}); err != nil {
		t.Fatalf("CreateMedia: %v", err)
	}

	all, err := store.ListMedia(ctx, "")
	if err != nil {
		t.Fatalf("ListMedia: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 records, got %d", len(all))
	}
	alice, err := store.ListMedia(ctx, "alice")
	if err != nil {
		t.Fatalf("ListMedia(alice): %v", err)
	}
	if len(alice) != 1 || alice[0].CreatorID != "alice" {
		t.Fatalf("expected alice's record, got %v", alice)
	}
}
