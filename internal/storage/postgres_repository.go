package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mediaforge/internal/models"
)

const mediaColumns = `id, creator_id, media_type, status, source_key,
hls_master_key, hls_preview_key, thumbnail_key, waveform_key, waveform_image_key,
duration_seconds, width, height, ready_variants, mezzanine_key, mezzanine_status,
loudness_integrated, loudness_peak, loudness_range,
transcoding_error, transcoding_attempts, external_job_id, callback_nonce,
created_at, updated_at`

const mediaSchema = `
CREATE TABLE IF NOT EXISTS media (
    id TEXT PRIMARY KEY,
    creator_id TEXT NOT NULL,
    media_type TEXT NOT NULL,
    status TEXT NOT NULL,
    source_key TEXT NOT NULL,
    hls_master_key TEXT,
    hls_preview_key TEXT,
    thumbnail_key TEXT,
    waveform_key TEXT,
    waveform_image_key TEXT,
    duration_seconds INTEGER,
    width INTEGER,
    height INTEGER,
    ready_variants TEXT[] NOT NULL DEFAULT '{}',
    mezzanine_key TEXT,
    mezzanine_status TEXT NOT NULL DEFAULT 'pending',
    loudness_integrated INTEGER,
    loudness_peak INTEGER,
    loudness_range INTEGER,
    transcoding_error TEXT,
    transcoding_attempts INTEGER NOT NULL DEFAULT 0,
    external_job_id TEXT,
    callback_nonce TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS media_creator_idx ON media (creator_id, created_at DESC);
CREATE INDEX IF NOT EXISTS media_status_updated_idx ON media (status, updated_at);
`

type postgresRepository struct {
	pool          *pgxpool.Pool
	cfg           PostgresConfig
	objectStorage ObjectStorageConfig
	objectClient  objectStorageClient
	now           func() time.Time
}

// NewPostgresRepository opens a Postgres-backed repository and ensures the
// media schema exists.
func NewPostgresRepository(dsn string, opts ...Option) (Repository, error) {
	cfg := newPostgresConfig(dsn, opts...)
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections >= 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckInterval > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckInterval
	}
	if cfg.AcquireTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.AcquireTimeout
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	ctx := context.Background()
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}

	repo := &postgresRepository{
		pool:          pool,
		cfg:           cfg,
		objectStorage: cfg.ObjectStorage,
		now:           cfg.Clock,
	}
	repo.objectClient = newObjectStorageClient(repo.objectStorage)

	if _, err := pool.Exec(ctx, mediaSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure media schema: %w", err)
	}
	return repo, nil
}

func (r *postgresRepository) Ping(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return fmt.Errorf("postgres pool not initialised")
	}
	return r.pool.Ping(ctx)
}

func (r *postgresRepository) Close(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		r.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (r *postgresRepository) CreateMedia(ctx context.Context, params CreateMediaParams) (models.MediaItem, error) {
	creatorID := strings.TrimSpace(params.CreatorID)
	if creatorID == "" {
		return models.MediaItem{}, fmt.Errorf("creator id is required")
	}
	sourceKey := strings.TrimSpace(params.SourceKey)
	if sourceKey == "" {
		return models.MediaItem{}, fmt.Errorf("source key is required")
	}
	id, err := generateID()
	if err != nil {
		return models.MediaItem{}, err
	}
	now := r.now()
	row := r.pool.QueryRow(ctx,
		`INSERT INTO media (id, creator_id, media_type, status, source_key, ready_variants, mezzanine_status, created_at, updated_at)
         VALUES ($1, $2, $3, $4, $5, '{}', $6, $7, $7)
         RETURNING `+mediaColumns,
		id, creatorID, string(params.Type), string(models.MediaStatusUploaded), sourceKey,
		string(models.MezzanineStatusPending), now)
	item, err := scanMediaItem(row)
	if err != nil {
		return models.MediaItem{}, fmt.Errorf("insert media: %w", err)
	}
	return item, nil
}

func (r *postgresRepository) GetMedia(ctx context.Context, id string) (models.MediaItem, bool, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+mediaColumns+` FROM media WHERE id = $1`, id)
	item, err := scanMediaItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.MediaItem{}, false, nil
	}
	if err != nil {
		return models.MediaItem{}, false, fmt.Errorf("select media %s: %w", id, err)
	}
	return item, true, nil
}

func (r *postgresRepository) ListMedia(ctx context.Context, creatorID string) ([]models.MediaItem, error) {
	query := `SELECT ` + mediaColumns + ` FROM media ORDER BY created_at DESC, id`
	args := []any{}
	if creatorID != "" {
		query = `SELECT ` + mediaColumns + ` FROM media WHERE creator_id = $1 ORDER BY created_at DESC, id`
		args = append(args, creatorID)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list media: %w", err)
	}
	defer rows.Close()

	items := make([]models.MediaItem, 0)
	for rows.Next() {
		item, err := scanMediaItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan media row: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list media: %w", err)
	}
	return items, nil
}

// MarkTranscoding performs the status guard and the update in one statement
// so concurrent triggers cannot both win.
func (r *postgresRepository) MarkTranscoding(ctx context.Context, id string, expected []models.MediaStatus, jobID, nonce string) (models.MediaItem, error) {
	allowed := make([]string, 0, len(expected))
	for _, status := range expected {
		allowed = append(allowed, string(status))
	}
	row := r.pool.QueryRow(ctx,
		`UPDATE media
         SET status = $2, external_job_id = $3, callback_nonce = $4, transcoding_error = NULL, updated_at = $5
         WHERE id = $1 AND status = ANY($6)
         RETURNING `+mediaColumns,
		id, string(models.MediaStatusTranscoding), jobID, nonce, r.now(), allowed)
	item, err := scanMediaItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.MediaItem{}, r.transitionConflict(ctx, id)
	}
	if err != nil {
		return models.MediaItem{}, fmt.Errorf("mark media %s transcoding: %w", id, err)
	}
	return item, nil
}

func (r *postgresRepository) CompleteMedia(ctx context.Context, id string, update CompletionUpdate) (models.MediaItem, error) {
	variants := append([]string(nil), update.ReadyVariants...)
	if variants == nil {
		variants = []string{}
	}
	row := r.pool.QueryRow(ctx,
		`UPDATE media SET
            status = $2,
            hls_master_key = COALESCE($3, hls_master_key),
            hls_preview_key = COALESCE($4, hls_preview_key),
            thumbnail_key = COALESCE($5, thumbnail_key),
            waveform_key = COALESCE($6, waveform_key),
            waveform_image_key = COALESCE($7, waveform_image_key),
            duration_seconds = COALESCE($8, duration_seconds),
            width = COALESCE($9, width),
            height = COALESCE($10, height),
            ready_variants = ready_variants || COALESCE(
                (SELECT array_agg(v) FROM unnest($11::text[]) AS v
                 WHERE v <> '' AND NOT v = ANY(ready_variants)), '{}'),
            mezzanine_key = CASE WHEN mezzanine_status = 'ready' THEN mezzanine_key
                                 ELSE COALESCE($12, mezzanine_key) END,
            mezzanine_status = CASE WHEN mezzanine_status <> 'ready' AND $12 IS NOT NULL THEN 'ready'
                                    ELSE mezzanine_status END,
            loudness_integrated = COALESCE($13, loudness_integrated),
            loudness_peak = COALESCE($14, loudness_peak),
            loudness_range = COALESCE($15, loudness_range),
            transcoding_error = NULL,
            updated_at = $16
         WHERE id = $1 AND status = $17
           AND COALESCE($3, hls_master_key) IS NOT NULL
           AND (media_type <> 'video' OR COALESCE($5, thumbnail_key) IS NOT NULL)
           AND (media_type <> 'audio' OR (COALESCE($6, waveform_key) IS NOT NULL
                AND COALESCE($7, waveform_image_key) IS NOT NULL))
         RETURNING `+mediaColumns,
		id, string(models.MediaStatusReady),
		update.HLSMasterKey, update.HLSPreviewKey, update.ThumbnailKey,
		update.WaveformKey, update.WaveformImageKey,
		update.DurationSeconds, update.Width, update.Height,
		variants, update.MezzanineKey,
		centiToInt(update.LoudnessIntegrated), centiToInt(update.LoudnessPeak), centiToInt(update.LoudnessRange),
		r.now(), string(models.MediaStatusTranscoding))
	item, err := scanMediaItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.MediaItem{}, r.completionConflict(ctx, id)
	}
	if err != nil {
		return models.MediaItem{}, fmt.Errorf("complete media %s: %w", id, err)
	}
	return item, nil
}

func (r *postgresRepository) FailMedia(ctx context.Context, id string, message string) (models.MediaItem, error) {
	truncated := truncateError(strings.TrimSpace(message))
	row := r.pool.QueryRow(ctx,
		`UPDATE media
         SET status = $2, transcoding_error = $3, transcoding_attempts = transcoding_attempts + 1, updated_at = $4
         WHERE id = $1 AND status = $5
         RETURNING `+mediaColumns,
		id, string(models.MediaStatusFailed), truncated, r.now(), string(models.MediaStatusTranscoding))
	item, err := scanMediaItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.MediaItem{}, r.transitionConflict(ctx, id)
	}
	if err != nil {
		return models.MediaItem{}, fmt.Errorf("fail media %s: %w", id, err)
	}
	return item, nil
}

func (r *postgresRepository) PurgeFailed(ctx context.Context, olderThan time.Time) ([]models.MediaItem, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+mediaColumns+` FROM media WHERE status = $1 AND updated_at < $2 ORDER BY id`,
		string(models.MediaStatusFailed), olderThan)
	if err != nil {
		return nil, fmt.Errorf("select expired media: %w", err)
	}
	candidates := make([]models.MediaItem, 0)
	for rows.Next() {
		item, err := scanMediaItem(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan expired media: %w", err)
		}
		candidates = append(candidates, item)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("select expired media: %w", err)
	}

	purged := make([]models.MediaItem, 0, len(candidates))
	for _, item := range candidates {
		if err := r.deleteSourceObject(ctx, item); err != nil {
			return purged, err
		}
		// Re-check the guard at delete time; a retry may have revived the
		// record since the select.
		tag, err := r.pool.Exec(ctx,
			`DELETE FROM media WHERE id = $1 AND status = $2 AND updated_at < $3`,
			item.ID, string(models.MediaStatusFailed), olderThan)
		if err != nil {
			return purged, fmt.Errorf("delete expired media %s: %w", item.ID, err)
		}
		if tag.RowsAffected() > 0 {
			purged = append(purged, item)
		}
	}
	return purged, nil
}

func (r *postgresRepository) CountStaleTranscoding(ctx context.Context, olderThan time.Time) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM media WHERE status = $1 AND updated_at < $2`,
		string(models.MediaStatusTranscoding), olderThan).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count stale transcoding media: %w", err)
	}
	return count, nil
}

func (r *postgresRepository) deleteSourceObject(ctx context.Context, item models.MediaItem) error {
	client := r.objectClient
	if client == nil || !client.Enabled() {
		return nil
	}
	key := strings.TrimSpace(item.SourceKey)
	if key == "" {
		return nil
	}
	opCtx, cancel := context.WithTimeout(ctx, r.objectStorage.requestTimeout())
	err := client.Delete(opCtx, key)
	cancel()
	if err != nil {
		return fmt.Errorf("delete source object %s: %w", key, err)
	}
	return nil
}

// transitionConflict resolves a zero-row guarded update into the precise
// sentinel the caller should see.
func (r *postgresRepository) transitionConflict(ctx context.Context, id string) error {
	var status string
	err := r.pool.QueryRow(ctx, `SELECT status FROM media WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrMediaNotFound
	}
	if err != nil {
		return fmt.Errorf("inspect media %s: %w", id, err)
	}
	return fmt.Errorf("%w: media %s is %s", ErrInvalidState, id, status)
}

func (r *postgresRepository) completionConflict(ctx context.Context, id string) error {
	var status string
	err := r.pool.QueryRow(ctx, `SELECT status FROM media WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrMediaNotFound
	}
	if err != nil {
		return fmt.Errorf("inspect media %s: %w", id, err)
	}
	if status == string(models.MediaStatusTranscoding) {
		return ErrMissingOutputs
	}
	return fmt.Errorf("%w: media %s is %s", ErrInvalidState, id, status)
}

func centiToInt(c *models.Centi) *int {
	if c == nil {
		return nil
	}
	v := int(*c)
	return &v
}

func intToCenti(i *int) *models.Centi {
	if i == nil {
		return nil
	}
	v := models.Centi(*i)
	return &v
}

func scanMediaItem(row pgx.Row) (models.MediaItem, error) {
	var (
		item               models.MediaItem
		mediaType          string
		status             string
		mezzanineStatus    string
		readyVariants      []string
		loudnessIntegrated *int
		loudnessPeak       *int
		loudnessRange      *int
	)
	err := row.Scan(
		&item.ID, &item.CreatorID, &mediaType, &status, &item.SourceKey,
		&item.HLSMasterKey, &item.HLSPreviewKey, &item.ThumbnailKey, &item.WaveformKey, &item.WaveformImageKey,
		&item.DurationSeconds, &item.Width, &item.Height, &readyVariants, &item.MezzanineKey, &mezzanineStatus,
		&loudnessIntegrated, &loudnessPeak, &loudnessRange,
		&item.TranscodingError, &item.TranscodingAttempts, &item.ExternalJobID, &item.CallbackNonce,
		&item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return models.MediaItem{}, err
	}
	item.Type = models.MediaType(mediaType)
	item.Status = models.MediaStatus(status)
	item.MezzanineStatus = models.MezzanineStatus(mezzanineStatus)
	if readyVariants == nil {
		readyVariants = []string{}
	}
	item.ReadyVariants = readyVariants
	item.LoudnessIntegrated = intToCenti(loudnessIntegrated)
	item.LoudnessPeak = intToCenti(loudnessPeak)
	item.LoudnessRange = intToCenti(loudnessRange)
	item.CreatedAt = item.CreatedAt.UTC()
	item.UpdatedAt = item.UpdatedAt.UTC()
	return item, nil
}

var _ Repository = (*postgresRepository)(nil)
