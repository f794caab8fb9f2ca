package transcode

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const webhookSecretLength = 32

// NewCallbackNonce returns a fresh random nonce. A new nonce is issued on
// every trigger, which invalidates the webhook secret of any superseded job.
func NewCallbackNonce() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("generate callback nonce: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// DeriveWebhookSecret expands the master secret into the per-job webhook
// secret bound to one media record and one trigger. Only the nonce is stored;
// the secret itself never touches the datastore.
func DeriveWebhookSecret(master, nonce, mediaID string) ([]byte, error) {
	if master == "" {
		return nil, fmt.Errorf("webhook master secret is required")
	}
	if nonce == "" {
		return nil, fmt.Errorf("callback nonce is required")
	}
	reader := hkdf.New(sha256.New, []byte(master), []byte(nonce), []byte("transcode-webhook:"+mediaID))
	secret := make([]byte, webhookSecretLength)
	if _, err := io.ReadFull(reader, secret); err != nil {
		return nil, fmt.Errorf("derive webhook secret: %w", err)
	}
	return secret, nil
}

// SignPayload computes the hex HMAC-SHA256 digest the provider is expected to
// send in the signature header.
func SignPayload(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func verifySignature(secret, body []byte, signature string) bool {
	provided, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), provided)
}
