// Package auth holds API-key hashing, the request principal and the
// approver predicates used to authorize workflow steps.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// KeyPrefix marks docflow API keys so they are recognizable in logs and config files.
const KeyPrefix = "dfk_"

// HashKey returns a SHA-256 hash of the key. Only the hash is ever stored.
func HashKey(key string) string {
	key = strings.TrimSpace(key)

	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

// GenerateKey returns a new random API key and its hash.
func GenerateKey() (key, hash string, err error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("failed to generate api key: %w", err)
	}
	key = KeyPrefix + hex.EncodeToString(buf)
	return key, HashKey(key), nil
}
