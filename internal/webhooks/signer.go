package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sign computes the delivery signature: lowercase hex HMAC-SHA-256 of
// the exact body bytes, keyed by the subscriber secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches body under secret. Constant
// time in the signature comparison.
func Verify(secret string, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(signature))
}

// MaskSecret redacts a secret for API responses, keeping the first ten
// characters so operators can still tell keys apart.
func MaskSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) > 10 {
		secret = secret[:10]
	}
	return secret + "***"
}
