package services

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/abadojack/whatlanggo"
)

// DetectLanguage returns the ISO 639-1 code for content, or "" when
// detection is too unreliable to act on.
func DetectLanguage(content string) string {
	info := whatlanggo.Detect(content)
	if !info.IsReliable() {
		return ""
	}
	return info.Lang.Iso6391()
}

// ContentHash is the cache and change-detection key: hex SHA-256 of the raw
// content bytes.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
