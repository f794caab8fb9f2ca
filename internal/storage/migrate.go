package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"mediaforge/internal/models"
)

// Snapshot is a point-in-time export of the JSON datastore, used by the
// offline migration tool to move records into Postgres.
type Snapshot struct {
	Media []models.MediaItem
}

// SnapshotCounts summarises a snapshot for logging and post-import checks.
type SnapshotCounts struct {
	Media       int
	Ready       int
	Transcoding int
	Failed      int
}

// LoadSnapshotFromJSON reads the JSON datastore at path without going
// through the live store. A missing file is an error here: migrating nothing
// is almost always a mistyped path.
func LoadSnapshotFromJSON(path string) (Snapshot, error) {
	file, err := os.Open(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("open store file: %w", err)
	}
	defer file.Close()

	var data dataset
	if err := json.NewDecoder(file).Decode(&data); err != nil {
		return Snapshot{}, fmt.Errorf("decode store file: %w", err)
	}

	items := make([]models.MediaItem, 0, len(data.Media))
	for _, item := range data.Media {
		items = append(items, item.Clone())
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return Snapshot{Media: items}, nil
}

func (s Snapshot) Counts() SnapshotCounts {
	counts := SnapshotCounts{Media: len(s.Media)}
	for _, item := range s.Media {
		switch item.Status {
		case models.MediaStatusReady:
			counts.Ready++
		case models.MediaStatusTranscoding:
			counts.Transcoding++
		case models.MediaStatusFailed:
			counts.Failed++
		}
	}
	return counts
}

// ImportSnapshotToPostgres inserts every snapshot record verbatim, keeping
// IDs, timestamps, attempts, and callback nonces intact. Records that already
// exist in the target are skipped rather than overwritten.
func ImportSnapshotToPostgres(ctx context.Context, repo Repository, snapshot Snapshot) error {
	pg, ok := repo.(*postgresRepository)
	if !ok {
		return fmt.Errorf("import target is not a postgres repository")
	}
	return pg.importMedia(ctx, snapshot.Media)
}

func (r *postgresRepository) importMedia(ctx context.Context, items []models.MediaItem) error {
	for _, item := range items {
		variants := item.ReadyVariants
		if variants == nil {
			variants = []string{}
		}
		_, err := r.pool.Exec(ctx,
			`INSERT INTO media (`+mediaColumns+`)
	         VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25)
	         ON CONFLICT (id) DO NOTHING`,
			item.ID, item.CreatorID, string(item.Type), string(item.Status), item.SourceKey,
			item.HLSMasterKey, item.HLSPreviewKey, item.ThumbnailKey, item.WaveformKey, item.WaveformImageKey,
			item.DurationSeconds, item.Width, item.Height, variants, item.MezzanineKey, string(item.MezzanineStatus),
			centiToInt(item.LoudnessIntegrated), centiToInt(item.LoudnessPeak), centiToInt(item.LoudnessRange),
			item.TranscodingError, item.TranscodingAttempts, item.ExternalJobID, item.CallbackNonce,
			item.CreatedAt, item.UpdatedAt)
		if err != nil {
			return fmt.Errorf("import media %s: %w", item.ID, err)
		}
	}
	return nil
}
