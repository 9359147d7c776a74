// Package sha256 derives content digests and entity tags for export downloads.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Digest returns the hex-encoded SHA-256 of data.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ETag returns a strong entity tag for data.
func ETag(data []byte) string {
	return `"` + Digest(data) + `"`
}

// Matches reports whether an If-None-Match header value names etag.
// Weak comparison applies, so W/"x" matches "x".
func Matches(ifNoneMatch, etag string) bool {
	for _, candidate := range strings.Split(ifNoneMatch, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}
