package util

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashText returns a stable hex fingerprint of s, used to correlate analysis
// inputs in logs without logging the text itself.
func HashText(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
