/*
Logic:       Key canonicalisation for the two key families the cache
             serves: content-addressed keys (first 16 bytes of a SHA-256
             of the canonical input) and per-principal keys
             (namespace:principal_id[:sub_id]).
Root Cause:  Spec §4.1 — "Key canonicalisation" and §3's CacheEntry
             invariant that identical canonical inputs map to identical
             keys.
*/
package cache

import (
	"crypto/sha256"
	"strings"
)

// ContentKey derives a content-addressed key from the canonical UTF-8 form
// of input. Two calls with the same canonical input always yield the same
// key (§3: "Keys for content-addressable namespaces are a stable hash of
// the canonicalised input").
func ContentKey(canonicalInput string) []byte {
	sum := sha256.Sum256([]byte(canonicalInput))
	return sum[:16]
}

// PrincipalKey derives a per-principal key: principal_id[:sub_id...].
// The namespace prefix is added separately by Cache's namespacedKey.
func PrincipalKey(principalID string, subID ...string) []byte {
	parts := append([]string{principalID}, subID...)
	return []byte(strings.Join(parts, ":"))
}

// CanonicalizePrompt lowercases and trims a text input so that
// semantically-identical prompts/queries hash identically regardless of
// incidental whitespace or casing differences.
func CanonicalizePrompt(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
