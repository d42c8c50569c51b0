package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Header is the HTTP header carrying the payload signature.
const Header = "X-Webhook-Signature"

// Canonicalize serializes v deterministically. Payloads are built from maps,
// and encoding/json writes map keys in sorted order, so the same payload
// always produces the same bytes on both the signing and verifying side.
func Canonicalize(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalize payload: %w", err)
	}
	return b, nil
}

// Sign computes the hex-encoded HMAC-SHA256 of body using secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignPayload canonicalizes payload and signs it, returning the body to send
// and its signature.
func SignPayload(secret string, payload any) (body []byte, sig string, err error) {
	body, err = Canonicalize(payload)
	if err != nil {
		return nil, "", err
	}
	return body, Sign(secret, body), nil
}

// Verify reports whether sig is a valid signature of body under secret,
// using a constant-time comparison.
func Verify(secret string, body []byte, sig string) bool {
	expected := Sign(secret, body)
	return hmac.Equal([]byte(expected), []byte(sig))
}
