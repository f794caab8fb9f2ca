package api

import (
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxWebhookBodyBytes caps provider callbacks; real payloads are a few
// hundred bytes of keys and measurements.
const maxWebhookBodyBytes = 1 << 20

// SignatureHeader carries the hex HMAC digest the provider computes over the
// raw request body.
const SignatureHeader = "X-Transcode-Signature"

// TranscodeWebhook ingests provider completion callbacks. The raw body is
// read before any decoding because the signature covers the exact bytes on
// the wire. Duplicate deliveries are acknowledged with 200 so the provider
// stops redelivering.
func (h *Handler) TranscodeWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	signature := strings.TrimSpace(r.Header.Get(SignatureHeader))
	if signature == "" {
		writeError(w, http.StatusUnauthorized, fmt.Errorf("missing %s header", SignatureHeader))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("read webhook body: %w", err))
		return
	}
	defer r.Body.Close()
	if len(body) > maxWebhookBodyBytes {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Errorf("webhook body exceeds %d bytes", maxWebhookBodyBytes))
		return
	}

	result, err := h.Transcodes.HandleCompletion(r.Context(), body, signature)
	if err != nil {
		writeTranscodeError(w, err)
		return
	}

	status := "ok"
	if result.Duplicate {
		status = "duplicate"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}
