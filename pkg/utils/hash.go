package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// dedupeKeySeparator joins key parts; ASCII unit separator never occurs in scraped text.
const dedupeKeySeparator = "\x1f"

// CalculateStringSHA256 computes the SHA-256 hash of a string.
func CalculateStringSHA256(content string) string {
	hash := sha256.New()
	hash.Write([]byte(content))
	return hex.EncodeToString(hash.Sum(nil))
}

// DedupeKeyHash hashes an ordered tuple of field values into a stable dedupe key.
func DedupeKeyHash(parts []string) string {
	return CalculateStringSHA256(strings.Join(parts, dedupeKeySeparator))
}
