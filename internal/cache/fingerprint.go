package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/ashureev/reflow/internal/domain"
	"github.com/gowebpki/jcs"
)

// Fingerprint is the content-addressed key of one cacheable call:
// function identity plus argument values, compared by value.
type Fingerprint string

// FuncSpec declares the cacheable function's identity and caching
// policy. Bumping Version coarsely invalidates all prior entries for
// the function by producing new fingerprints.
type FuncSpec struct {
	Name    string
	Version int
	Deps    []string
	TTL     int // seconds; 0 uses the cache default
}

// NewFingerprint derives the deterministic fingerprint for one call.
// Arguments are serialized to canonical JSON (RFC 8785) so that
// equal-by-value arguments always hash identically regardless of map
// ordering. Arguments that cannot be serialized (functions, channels,
// NaN) yield a NotCacheableError instead of silently bypassing the
// cache.
func NewFingerprint(name string, version int, args ...any) (Fingerprint, error) {
	payload := struct {
		Name    string `json:"name"`
		Version int    `json:"version"`
		Args    []any  `json:"args"`
	}{Name: name, Version: version, Args: args}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", &domain.NotCacheableError{Func: name, Err: err}
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", &domain.NotCacheableError{Func: name, Err: err}
	}

	sum := sha256.Sum256(canonical)
	return Fingerprint(hex.EncodeToString(sum[:])), nil
}
