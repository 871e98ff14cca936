package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

const rotationSecretBytes = 32

// NewRotationSecret returns a fresh random per-user rotation secret.
func NewRotationSecret() (string, error) {
	buf := make([]byte, rotationSecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating rotation secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// combineKey derives the signing key for one user and purpose as
// HMAC-SHA256(purposeSecret, rotationSecret). Neither input can be recovered
// from the key, and changing either yields an unrelated key.
func combineKey(rotationSecret, purposeSecret string) []byte {
	mac := hmac.New(sha256.New, []byte(purposeSecret))
	mac.Write([]byte(rotationSecret))
	return mac.Sum(nil)
}

// bindKey folds extra material into an already derived key with a second
// HMAC, so a binding can never be confused with the tail of a purpose secret.
func bindKey(key []byte, binding string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(binding))
	return mac.Sum(nil)
}
