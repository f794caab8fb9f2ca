package storage

import (
	"context"
	"path/filepath"
	"testing"

	"mediaforge/internal/models"
)

func TestLoadSnapshotFromJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "media.json")
	store, err := NewStorage(path)
	if err != nil {
		t.Fatalf("NewStorage returned error: %v", err)
	}

	ctx := context.Background()
	first, err := store.CreateMedia(ctx, CreateMediaParams{
		CreatorID: "creator-1",
		Type:      models.MediaTypeVideo,
		SourceKey: "creator-1/original/upload-1/source.mp4",
	})
	if err != nil {
		t.Fatalf("CreateMedia returned error: %v", err)
	}
	second, err := store.CreateMedia(ctx, CreateMediaParams{
		CreatorID: "creator-2",
		Type:      models.MediaTypeAudio,
		SourceKey: "creator-2/original/upload-2/track.wav",
	})
	if err != nil {
		t.Fatalf("CreateMedia returned error: %v", err)
	}
	if _, err := store.MarkTranscoding(ctx, second.ID, []models.MediaStatus{models.MediaStatusUploaded}, "job-1", "nonce"); err != nil {
		t.Fatalf("MarkTranscoding returned error: %v", err)
	}
	if _, err := store.FailMedia(ctx, second.ID, "encoder crashed"); err != nil {
		t.Fatalf("FailMedia returned error: %v", err)
	}

	snapshot, err := LoadSnapshotFromJSON(path)
	if err != nil {
		t.Fatalf("LoadSnapshotFromJSON returned error: %v", err)
	}
	if len(snapshot.Media) != 2 {
		t.Fatalf("expected two records, got %d", len(snapshot.Media))
	}

	ids := map[string]models.MediaItem{}
	for _, item := range snapshot.Media {
		ids[item.ID] = item
	}
	if _, ok := ids[first.ID]; !ok {
		t.Fatalf("snapshot is missing %s", first.ID)
	}
	failed, ok := ids[second.ID]
	if !ok {
		t.Fatalf("snapshot is missing %s", second.ID)
	}
	if failed.Status != models.MediaStatusFailed || failed.TranscodingAttempts != 1 {
		t.Fatalf("snapshot did not preserve lifecycle state: %+v", failed)
	}

	counts := snapshot.Counts()
	if counts.Media != 2 || counts.Failed != 1 || counts.Ready != 0 {
		t.Fatalf("unexpected counts: %+v", counts)
	}
}

func TestLoadSnapshotFromJSONMissingFile(t *testing.T) {
	if _, err := LoadSnapshotFromJSON(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatal("expected an error for a missing datastore file")
	}
}
