package util

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// DeterministicId derives a stable identifier from its parts. The same parts
// always give the same id, so writes keyed by it are naturally idempotent.
func DeterministicId(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(sum[:16])
}
