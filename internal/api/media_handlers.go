package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"mediaforge/internal/mediakey"
	"mediaforge/internal/models"
	"mediaforge/internal/storage"
)

type createMediaRequest struct {
	CreatorID string `json:"creatorId"`
	Type      string `json:"type"`
	SourceKey string `json:"sourceKey"`
}

type transcodeActionRequest struct {
	CreatorID string `json:"creatorId"`
}

type loudnessResponse struct {
	Integrated float64 `json:"integrated"`
	TruePeak   float64 `json:"truePeak"`
	Range      float64 `json:"range"`
}

type mediaResponse struct {
	ID        string `json:"id"`
	CreatorID string `json:"creatorId"`
	Type      string `json:"type"`
	Status    string `json:"status"`
	SourceKey string `json:"sourceKey,omitempty"`

	HLSMasterKey     *string `json:"hlsMasterKey,omitempty"`
	HLSPreviewKey    *string `json:"hlsPreviewKey,omitempty"`
	ThumbnailKey     *string `json:"thumbnailKey,omitempty"`
	WaveformKey      *string `json:"waveformKey,omitempty"`
	WaveformImageKey *string `json:"waveformImageKey,omitempty"`

	DurationSeconds *int `json:"durationSeconds,omitempty"`
	Width           *int `json:"width,omitempty"`
	Height          *int `json:"height,omitempty"`

	ReadyVariants []string `json:"readyVariants"`

	MezzanineStatus string            `json:"mezzanineStatus"`
	Loudness        *loudnessResponse `json:"loudness,omitempty"`

	TranscodingError    *string `json:"transcodingError,omitempty"`
	TranscodingAttempts int     `json:"transcodingAttempts"`
	RetryAvailable      bool    `json:"retryAvailable"`
	ExternalJobID       *string `json:"externalJobId,omitempty"`

	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

func (h *Handler) newMediaResponse(item models.MediaItem) mediaResponse {
	resp := mediaResponse{
		ID:                  item.ID,
		CreatorID:           item.CreatorID,
		Type:                string(item.Type),
		Status:              string(item.Status),
		SourceKey:           item.SourceKey,
		HLSMasterKey:        item.HLSMasterKey,
		HLSPreviewKey:       item.HLSPreviewKey,
		ThumbnailKey:        item.ThumbnailKey,
		WaveformKey:         item.WaveformKey,
		WaveformImageKey:    item.WaveformImageKey,
		DurationSeconds:     item.DurationSeconds,
		Width:               item.Width,
		Height:              item.Height,
		ReadyVariants:       item.ReadyVariants,
		MezzanineStatus:     string(item.MezzanineStatus),
		TranscodingError:    item.TranscodingError,
		TranscodingAttempts: item.TranscodingAttempts,
		RetryAvailable:      item.Status == models.MediaStatusFailed && item.TranscodingAttempts <= h.MaxRetries,
		ExternalJobID:       item.ExternalJobID,
		CreatedAt:           item.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:           item.UpdatedAt.Format(time.RFC3339Nano),
	}
	if resp.ReadyVariants == nil {
		resp.ReadyVariants = []string{}
	}
	if item.LoudnessIntegrated != nil && item.LoudnessPeak != nil && item.LoudnessRange != nil {
		resp.Loudness = &loudnessResponse{
			Integrated: item.LoudnessIntegrated.Float(),
			TruePeak:   item.LoudnessPeak.Float(),
			Range:      item.LoudnessRange.Float(),
		}
	}
	return resp
}

// Media serves the /api/media collection: POST registers an accepted upload,
// GET lists a creator's records.
func (h *Handler) Media(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.createMedia(w, r)
	case http.MethodGet:
		h.listMedia(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
}

func (h *Handler) createMedia(w http.ResponseWriter, r *http.Request) {
	var req createMediaRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	creatorID := strings.TrimSpace(req.CreatorID)
	if creatorID == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("creatorId is required"))
		return
	}
	mediaType, err := models.ParseMediaType(req.Type)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sourceKey := strings.TrimSpace(req.SourceKey)
	parsed, ok := mediakey.Parse(sourceKey)
	if !ok || parsed.Purpose != mediakey.PurposeOriginal {
		writeError(w, http.StatusBadRequest, fmt.Errorf("sourceKey must be an original-upload key"))
		return
	}
	if parsed.CreatorID != creatorID {
		writeError(w, http.StatusForbidden, fmt.Errorf("sourceKey belongs to a different creator"))
		return
	}

	item, err := h.Store.CreateMedia(r.Context(), storage.CreateMediaParams{
		CreatorID: creatorID,
		Type:      mediaType,
		SourceKey: sourceKey,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.newMediaResponse(item))
}

func (h *Handler) listMedia(w http.ResponseWriter, r *http.Request) {
	creatorID := strings.TrimSpace(r.URL.Query().Get("creatorId"))
	if creatorID == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("creatorId query parameter is required"))
		return
	}
	items, err := h.Store.ListMedia(r.Context(), creatorID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	responses := make([]mediaResponse, 0, len(items))
	for _, item := range items {
		responses = append(responses, h.newMediaResponse(item))
	}
	writeJSON(w, http.StatusOK, responses)
}

// MediaByID serves /api/media/{id} and the nested transcode and retry
// actions.
func (h *Handler) MediaByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/media/"), "/")
	if rest == "" {
		writeError(w, http.StatusNotFound, fmt.Errorf("media id is required"))
		return
	}
	parts := strings.SplitN(rest, "/", 2)
	mediaID := parts[0]
	if len(parts) == 1 {
		h.getMedia(w, r, mediaID)
		return
	}

	switch parts[1] {
	case "transcode":
		h.triggerTranscode(w, r, mediaID)
	case "retry":
		h.retryTranscode(w, r, mediaID)
	default:
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown media action %q", parts[1]))
	}
}

func (h *Handler) getMedia(w http.ResponseWriter, r *http.Request, mediaID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	item, ok, err := h.Store.GetMedia(r.Context(), mediaID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("media %s not found", mediaID))
		return
	}
	writeJSON(w, http.StatusOK, h.newMediaResponse(item))
}

func (h *Handler) triggerTranscode(w http.ResponseWriter, r *http.Request, mediaID string) {
	creatorID, ok := h.decodeAction(w, r)
	if !ok {
		return
	}
	item, err := h.Transcodes.Trigger(r.Context(), mediaID, creatorID)
	if err != nil {
		writeTranscodeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, h.newMediaResponse(item))
}

func (h *Handler) retryTranscode(w http.ResponseWriter, r *http.Request, mediaID string) {
	creatorID, ok := h.decodeAction(w, r)
	if !ok {
		return
	}
	item, err := h.Transcodes.Retry(r.Context(), mediaID, creatorID)
	if err != nil {
		writeTranscodeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, h.newMediaResponse(item))
}

// decodeAction validates a trigger or retry request and extracts the calling
// creator. The creator may arrive in the JSON body or, for convenience, the
// creatorId query parameter.
func (h *Handler) decodeAction(w http.ResponseWriter, r *http.Request) (string, bool) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return "", false
	}
	creatorID := strings.TrimSpace(r.URL.Query().Get("creatorId"))
	if r.Body != nil && r.ContentLength != 0 {
		var req transcodeActionRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return "", false
		}
		if trimmed := strings.TrimSpace(req.CreatorID); trimmed != "" {
			creatorID = trimmed
		}
	}
	if creatorID == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("creatorId is required"))
		return "", false
	}
	return creatorID, true
}
