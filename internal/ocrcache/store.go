// Package ocrcache — store.go
//
// Store is the OCR-facing wrapper around PersistentCache: it hashes
// screenshot bytes into a cache key and JSON-encodes the two OCR result
// shapes (domain.OCRAResult, domain.OCRBPayload) under separate key
// namespaces, so a screenshot re-uploaded across jobs (or retried within
// one) never re-pays OCR-A or OCR-B cost.
package ocrcache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/clickmediapropy/ggrevealer/internal/domain"
)

// Store layers OCR-specific encode/decode on top of a PersistentCache.
type Store struct {
	backing PersistentCache
}

// NewStore wraps backing as an OCR result store.
func NewStore(backing PersistentCache) *Store {
	return &Store{backing: backing}
}

// Close releases the underlying cache.
func (s *Store) Close() error { return s.backing.Close() }

// ContentHash returns the cache key for a screenshot's raw bytes.
func ContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func ocrAKey(hash string) string { return "a:" + hash }
func ocrBKey(hash string) string { return "b:" + hash }

// GetOCRA returns the cached OCR-A result for a screenshot content hash.
func (s *Store) GetOCRA(hash string) (domain.OCRAResult, bool) {
	raw, ok := s.backing.Get(ocrAKey(hash))
	if !ok {
		return domain.OCRAResult{}, false
	}
	var result domain.OCRAResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return domain.OCRAResult{}, false
	}
	return result, true
}

// SetOCRA stores an OCR-A result under the screenshot's content hash.
func (s *Store) SetOCRA(hash string, result domain.OCRAResult) {
	raw, err := json.Marshal(result)
	if err != nil {
		return
	}
	s.backing.Set(ocrAKey(hash), string(raw))
}

// GetOCRB returns the cached OCR-B payload for a screenshot content hash.
func (s *Store) GetOCRB(hash string) (domain.OCRBPayload, bool) {
	raw, ok := s.backing.Get(ocrBKey(hash))
	if !ok {
		return domain.OCRBPayload{}, false
	}
	var payload domain.OCRBPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return domain.OCRBPayload{}, false
	}
	return payload, true
}

// SetOCRB stores an OCR-B payload under the screenshot's content hash.
func (s *Store) SetOCRB(hash string, payload domain.OCRBPayload) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	s.backing.Set(ocrBKey(hash), string(raw))
}
