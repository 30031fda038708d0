// Package uidkey implements C2: deterministic managed-UID construction and
// the "is this destination entry ours" classification from spec §4.2.
package uidkey

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// allZerosDigest is the distinguishable placeholder digest spec §4.2 calls
// for when global_id is empty — 64 zero hex chars, not SHA-256 of the empty
// string, so two otherwise-distinct empty-global_id appointments still
// don't collide with a meaningful digest value.
var allZerosDigest = hex.EncodeToString(make([]byte, sha256.Size))

// digestCache memoizes SHA-256(global_id) since the same appointment's
// digest is recomputed once per occurrence per cycle.
var digestCache, _ = lru.New[string, string](1024)

// digest returns the lowercase-hex SHA-256 of globalID, falling back to the
// all-zeros identifier when globalID is empty (spec §4.2).
func digest(globalID string) string {
	if globalID == "" {
		return allZerosDigest
	}
	if cached, ok := digestCache.Get(globalID); ok {
		return cached
	}
	sum := sha256.Sum256([]byte(globalID))
	h := hex.EncodeToString(sum[:])
	digestCache.Add(globalID, h)
	return h
}

// Build constructs the managed UID from spec §4.2:
//
//	prefix + "-" + digest + "-" + suffix
//
// where prefix is "<source_id>-outlook" (or bare "outlook" if sourceID is
// empty), digest is SHA-256(globalID) hex-encoded, and suffix is startUTC
// formatted YYYYMMDDTHHMMSSZ.
func Build(sourceID, globalID string, startUTC time.Time) string {
	prefix := "outlook"
	if sourceID != "" {
		prefix = sourceID + "-outlook"
	}
	suffix := startUTC.UTC().Format("20060102T150405Z")
	return prefix + "-" + digest(globalID) + "-" + suffix
}

// ClassifyOptions controls the classification fallback rules from spec §9.
type ClassifyOptions struct {
	// LooseSourcePrefix enables the bare "source_id + \"-\"" fallback
	// match flagged as an open question in spec §9. Default false: see
	// SPEC_FULL.md §10 for the rationale.
	LooseSourcePrefix bool
}

// Classify reports whether uid is managed by this instance (spec §4.2).
// Comparison is case-insensitive; uid is trimmed first.
func Classify(uid, sourceID string, opts ClassifyOptions) bool {
	u := strings.ToLower(strings.TrimSpace(uid))
	sid := strings.ToLower(strings.TrimSpace(sourceID))

	prefixes := []string{"-outlook-", "outlook-"}
	if sid != "" {
		prefixes = append(prefixes, sid+"-outlook-")
	}
	for _, p := range prefixes {
		if strings.HasPrefix(u, p) {
			return true
		}
	}

	if opts.LooseSourcePrefix && sid != "" && strings.HasPrefix(u, sid+"-") {
		return true
	}

	return false
}
