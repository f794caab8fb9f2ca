package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"mediaforge/internal/models"
)

func newDataset() dataset {
	return dataset{
		Media: make(map[string]models.MediaItem),
	}
}

func (s *Storage) ensureDatasetInitializedLocked() {
	if s.data.Media == nil {
		s.data.Media = make(map[string]models.MediaItem)
	}
}

// NewStorage opens the JSON-backed datastore at path, creating an empty
// dataset when the file does not exist yet.
func NewStorage(path string, opts ...Option) (*Storage, error) {
	store := &Storage{
		filePath: path,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt.applyJSON(store)
		}
	}
	if store.now == nil {
		store.now = func() time.Time { return time.Now().UTC() }
	}
	store.objectStorage = applyObjectStorageDefaults(store.objectStorage)
	if store.objectClient == nil {
		store.objectClient = newObjectStorageClient(store.objectStorage)
	}
	if err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *Storage) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.filePath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	file, err := os.Open(s.filePath)
	if errors.Is(err, os.ErrNotExist) {
		s.data = newDataset()
		return nil
	} else if err != nil {
		return fmt.Errorf("open store file: %w", err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&s.data); err != nil {
		return fmt.Errorf("decode store file: %w", err)
	}
	s.ensureDatasetInitializedLocked()
	return nil
}

func (s *Storage) persist() error {
	return s.persistDataset(s.data)
}

func (s *Storage) persistDataset(data dataset) error {
	if s.persistOverride != nil {
		if err := s.persistOverride(data); err != nil {
			return err
		}
	}

	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "store-*.json")
	if err != nil {
		return fmt.Errorf("create temp store file: %w", err)
	}
	tmpPath := tmpFile.Name()
	success := false
	defer func() {
		if !success {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encode store file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("flush store file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp store file: %w", err)
	}

	if err := os.Rename(tmpPath, s.filePath); err != nil {
		return fmt.Errorf("replace store file: %w", err)
	}
	success = true
	return nil
}

func cloneDataset(src dataset) dataset {
	clone := dataset{}
	if src.Media != nil {
		clone.Media = make(map[string]models.MediaItem, len(src.Media))
		for id, item := range src.Media {
			clone.Media[id] = item.Clone()
		}
	}
	return clone
}

func (s *Storage) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *Storage) Close(ctx context.Context) error {
	return nil
}

func (s *Storage) CreateMedia(ctx context.Context, params CreateMediaParams) (models.MediaItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensureDatasetInitializedLocked()

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

	now := s.now()
	item := models.MediaItem{
		ID:              id,
		CreatorID:       creatorID,
		Type:            params.Type,
		Status:          models.MediaStatusUploaded,
		SourceKey:       sourceKey,
		ReadyVariants:   []string{},
		MezzanineStatus: models.MezzanineStatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	s.data.Media[id] = item
	if err := s.persist(); err != nil {
		delete(s.data.Media, id)
		return models.MediaItem{}, err
	}
	return item.Clone(), nil
}

func (s *Storage) GetMedia(ctx context.Context, id string) (models.MediaItem, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.data.Media[id]
	if !ok {
		return models.MediaItem{}, false, nil
	}
	return item.Clone(), true, nil
}

func (s *Storage) ListMedia(ctx context.Context, creatorID string) ([]models.MediaItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]models.MediaItem, 0)
	for _, item := range s.data.Media {
		if creatorID != "" && item.CreatorID != creatorID {
			continue
		}
		items = append(items, item.Clone())
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	return items, nil
}

func (s *Storage) MarkTranscoding(ctx context.Context, id string, expected []models.MediaStatus, jobID, nonce string) (models.MediaItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.data.Media[id]
	if !ok {
		return models.MediaItem{}, ErrMediaNotFound
	}
	if !statusIn(item.Status, expected) {
		return models.MediaItem{}, fmt.Errorf("%w: media %s is %s", ErrInvalidState, id, item.Status)
	}

	original := item
	updated := item.Clone()
	updated.Status = models.MediaStatusTranscoding
	updated.ExternalJobID = &jobID
	updated.CallbackNonce = nonce
	updated.TranscodingError = nil
	updated.UpdatedAt = s.now()

	s.data.Media[id] = updated
	if err := s.persist(); err != nil {
		s.data.Media[id] = original
		return models.MediaItem{}, err
	}
	return updated.Clone(), nil
}

func (s *Storage) CompleteMedia(ctx context.Context, id string, update CompletionUpdate) (models.MediaItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.data.Media[id]
	if !ok {
		return models.MediaItem{}, ErrMediaNotFound
	}
	if item.Status != models.MediaStatusTranscoding {
		return models.MediaItem{}, fmt.Errorf("%w: media %s is %s", ErrInvalidState, id, item.Status)
	}

	updated := applyCompletion(item.Clone(), update)
	if !updated.HasReadyOutputs() {
		return models.MediaItem{}, ErrMissingOutputs
	}
	updated.Status = models.MediaStatusReady
	updated.TranscodingError = nil
	updated.UpdatedAt = s.now()

	original := item
	s.data.Media[id] = updated
	if err := s.persist(); err != nil {
		s.data.Media[id] = original
		return models.MediaItem{}, err
	}
	return updated.Clone(), nil
}

func (s *Storage) FailMedia(ctx context.Context, id string, message string) (models.MediaItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.data.Media[id]
	if !ok {
		return models.MediaItem{}, ErrMediaNotFound
	}
	if item.Status != models.MediaStatusTranscoding {
		return models.MediaItem{}, fmt.Errorf("%w: media %s is %s", ErrInvalidState, id, item.Status)
	}

	truncated := truncateError(strings.TrimSpace(message))
	updated := item.Clone()
	updated.Status = models.MediaStatusFailed
	updated.TranscodingError = &truncated
	updated.TranscodingAttempts++
	updated.UpdatedAt = s.now()

	original := item
	s.data.Media[id] = updated
	if err := s.persist(); err != nil {
		s.data.Media[id] = original
		return models.MediaItem{}, err
	}
	return updated.Clone(), nil
}

func (s *Storage) PurgeFailed(ctx context.Context, olderThan time.Time) ([]models.MediaItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []string
	for id, item := range s.data.Media {
		if item.Status != models.MediaStatusFailed {
			continue
		}
		if item.UpdatedAt.Before(olderThan) {
			expired = append(expired, id)
		}
	}
	if len(expired) == 0 {
		return nil, nil
	}
	sort.Strings(expired)

	snapshot := cloneDataset(s.data)
	purged := make([]models.MediaItem, 0, len(expired))
	for _, id := range expired {
		item := s.data.Media[id]
		if err := s.deleteSourceObjectLocked(ctx, item); err != nil {
			s.data = snapshot
			return nil, err
		}
		delete(s.data.Media, id)
		purged = append(purged, item.Clone())
	}
	if err := s.persist(); err != nil {
		s.data = snapshot
		return nil, err
	}
	return purged, nil
}

func (s *Storage) CountStaleTranscoding(ctx context.Context, olderThan time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, item := range s.data.Media {
		if item.Status != models.MediaStatusTranscoding {
			continue
		}
		if item.UpdatedAt.Before(olderThan) {
			count++
		}
	}
	return count, nil
}

func (s *Storage) deleteSourceObjectLocked(ctx context.Context, item models.MediaItem) error {
	client := s.objectClient
	if client == nil || !client.Enabled() {
		return nil
	}
	key := strings.TrimSpace(item.SourceKey)
	if key == "" {
		return nil
	}
	opCtx, cancel := context.WithTimeout(ctx, s.objectStorage.requestTimeout())
	err := client.Delete(opCtx, key)
	cancel()
	if err != nil {
		return fmt.Errorf("delete source object %s: %w", key, err)
	}
	return nil
}

func applyCompletion(item models.MediaItem, update CompletionUpdate) models.MediaItem {
	if update.HLSMasterKey != nil {
		item.HLSMasterKey = update.HLSMasterKey
	}
	if update.HLSPreviewKey != nil {
		item.HLSPreviewKey = update.HLSPreviewKey
	}
	if update.ThumbnailKey != nil {
		item.ThumbnailKey = update.ThumbnailKey
	}
	if update.WaveformKey != nil {
		item.WaveformKey = update.WaveformKey
	}
	if update.WaveformImageKey != nil {
		item.WaveformImageKey = update.WaveformImageKey
	}
	if update.DurationSeconds != nil {
		item.DurationSeconds = update.DurationSeconds
	}
	if update.Width != nil {
		item.Width = update.Width
	}
	if update.Height != nil {
		item.Height = update.Height
	}
	item.ReadyVariants = mergeVariants(item.ReadyVariants, update.ReadyVariants)
	// The mezzanine copy is written once by the first successful transcode
	// and never replaced afterwards.
	if update.MezzanineKey != nil && item.MezzanineStatus != models.MezzanineStatusReady {
		item.MezzanineKey = update.MezzanineKey
		item.MezzanineStatus = models.MezzanineStatusReady
	}
	if update.LoudnessIntegrated != nil {
		item.LoudnessIntegrated = update.LoudnessIntegrated
	}
	if update.LoudnessPeak != nil {
		item.LoudnessPeak = update.LoudnessPeak
	}
	if update.LoudnessRange != nil {
		item.LoudnessRange = update.LoudnessRange
	}
	return item
}

func statusIn(status models.MediaStatus, allowed []models.MediaStatus) bool {
	for _, candidate := range allowed {
		if status == candidate {
			return true
		}
	}
	return false
}
