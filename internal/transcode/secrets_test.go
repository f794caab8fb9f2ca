package transcode

import (
	"bytes"
	"encoding/hex"
	"testing"
)

func TestDeriveWebhookSecret(t *testing.T) {
	first, err := DeriveWebhookSecret("master", "nonce-1", "media-1")
	if err != nil {
		t.Fatalf("DeriveWebhookSecret returned error: %v", err)
	}
	if len(first) != webhookSecretLength {
		t.Fatalf("expected %d byte secret, got %d", webhookSecretLength, len(first))
	}

	again, err := DeriveWebhookSecret("master", "nonce-1", "media-1")
	if err != nil {
		t.Fatalf("DeriveWebhookSecret returned error: %v", err)
	}
	if !bytes.Equal(first, again) {
		t.Fatal("derivation must be deterministic for identical inputs")
	}

	otherNonce, _ := DeriveWebhookSecret("master", "nonce-2", "media-1")
	if bytes.Equal(first, otherNonce) {
		t.Fatal("different nonces must yield different secrets")
	}
	otherMedia, _ := DeriveWebhookSecret("master", "nonce-1", "media-2")
	if bytes.Equal(first, otherMedia) {
		t.Fatal("different media IDs must yield different secrets")
	}

	if _, err := DeriveWebhookSecret("", "nonce", "media"); err == nil {
		t.Fatal("expected error for empty master secret")
	}
	if _, err := DeriveWebhookSecret("master", "", "media"); err == nil {
		t.Fatal("expected error for empty nonce")
	}
}

func TestSignPayloadVerifies(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")
	body := []byte(`{"mediaId":"media-1","status":"failed","error":"x"}`)

	signature := SignPayload(secret, body)
	if !verifySignature(secret, body, signature) {
		t.Fatal("signature over the signed body must verify")
	}
	if verifySignature(secret, append(body, ' '), signature) {
		t.Fatal("tampered body must not verify")
	}
	if verifySignature([]byte("other secret"), body, signature) {
		t.Fatal("wrong secret must not verify")
	}
	if verifySignature(secret, body, "zz"+signature[2:]) {
		t.Fatal("non-hex signature must not verify")
	}
}

func TestNewCallbackNonce(t *testing.T) {
	first, err := NewCallbackNonce()
	if err != nil {
		t.Fatalf("NewCallbackNonce returned error: %v", err)
	}
	if len(first) != 32 {
		t.Fatalf("expected 32 hex characters, got %d", len(first))
	}
	if _, err := hex.DecodeString(first); err != nil {
		t.Fatalf("nonce must be hex encoded: %v", err)
	}

	second, err := NewCallbackNonce()
	if err != nil {
		t.Fatalf("NewCallbackNonce returned error: %v", err)
	}
	if first == second {
		t.Fatal("nonces must be unique per call")
	}
}
