package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// ParseSignature extracts the raw digest from a signature header value.
// Format: sha256=<64 hex chars>, matching the convention webhook
// producers already follow.
func ParseSignature(header string) ([]byte, error) {
	rest, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return nil, ErrInvalidSignatureFormat
	}
	digest, err := hex.DecodeString(rest)
	if err != nil || len(digest) != sha256.Size {
		return nil, ErrInvalidSignatureFormat
	}
	return digest, nil
}

// ComputeHMAC computes the HMAC-SHA256 digest of a request body.
func ComputeHMAC(secret, body []byte) []byte {
	h := hmac.New(sha256.New, secret)
	h.Write(body)
	return h.Sum(nil)
}

// VerifyHMAC compares digests in constant time.
func VerifyHMAC(expected, computed []byte) bool {
	return hmac.Equal(expected, computed)
}

// FormatSignature renders a digest as a signature header value. Used by
// tests and by producers signing outbound requests.
func FormatSignature(digest []byte) string {
	return fmt.Sprintf("sha256=%s", hex.EncodeToString(digest))
}
