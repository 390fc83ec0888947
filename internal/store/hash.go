package store

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashContent is the canonical content fingerprint check_file_state compares
// against: a hex-encoded SHA-256 digest of the decoded file text. The worker
// recomputes it over the decoded, newline-normalized text before diffing, so
// the stored hash always matches the stored content.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
