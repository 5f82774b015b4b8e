// Package fingerprint computes the content fingerprints that key every
// cache entry and vector-store row, and derives stable point ids from them.
//
// A segment_hash never maps to two different vectors (content-addressed
// immutability); PointID is the only call site allowed to mint a Point id,
// so that guarantee can't be bypassed by a second, inconsistent derivation.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
)

// Namespace is the fixed UUID namespace used to derive point ids from
// segment hashes. It must never change: changing it would silently
// re-identify every Point already persisted in a workspace.
var Namespace = uuid.MustParse("6f6e7567-6568-4964-656e-746974794e53")

// Hash returns the SHA-256 hex digest of content, used for both file_hash
// (whole-file fingerprint) and segment_hash (chunk fingerprint).
func Hash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// HashString is a convenience wrapper over Hash for string content.
func HashString(content string) string {
	return Hash([]byte(content))
}

// PointID derives a stable UUIDv5 point id from a chunk's segment_hash.
// Identical content across files maps to identical ids: this is the
// single, deterministic derivation path.
func PointID(segmentHash string) uuid.UUID {
	return uuid.NewSHA1(Namespace, []byte(segmentHash))
}
