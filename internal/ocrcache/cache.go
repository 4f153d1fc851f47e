// Package ocrcache — cache.go
//
// PersistentCache is the interface for the cross-job OCR result cache. It
// stores a screenshot content hash -> raw OCR result payload mapping that
// survives process restarts, so re-uploading the same screenshot (a common
// client behavior when a job is retried) does not re-pay OCR cost (spec
// DOMAIN STACK, bbolt).
//
// Two implementations are provided:
//   - memoryCache — in-memory only, used in tests and when no path is configured.
//   - bboltCache  — embedded key-value store (bbolt), used in production. bbolt's
//     own mmap'd B+tree already keeps hot pages resident, so there is no
//     separate in-memory eviction layer here — a content-hash keyspace has no
//     access-pattern skew worth special-casing on top of that.
//
// The interface is intentionally minimal. The OCR drivers write one entry
// per screenshot from concurrent goroutines; reads are per-screenshot
// lookups before a call is dispatched. Batch operations and iteration are
// not needed.
package ocrcache

import (
	"fmt"
	"log"
	"sync"

	bolt "go.etcd.io/bbolt"
)

// PersistentCache is the cross-job OCR result cache interface.
// All implementations must be safe for concurrent use.
type PersistentCache interface {
	// Get returns the cached payload for the given content hash, if present.
	Get(key string) (value string, ok bool)

	// Set stores key -> value. Overwrites any existing entry silently.
	Set(key, value string)

	// Delete removes key, if present. A no-op if the key is absent.
	Delete(key string)

	// Close releases any resources held by the cache (e.g. file handles).
	// Must be called when the cache owner shuts down.
	Close() error
}

// --- memoryCache ---------------------------------------------------------

// memoryCache is a thread-safe in-memory PersistentCache.
// Used in tests and as a fallback when no bbolt path is configured.
type memoryCache struct {
	mu    sync.RWMutex
	store map[string]string
}

func newMemoryCache() PersistentCache {
	return &memoryCache{store: make(map[string]string)}
}

func (c *memoryCache) Get(key string) (string, bool) {
	c.mu.RLock()
	v, ok := c.store[key]
	c.mu.RUnlock()
	return v, ok
}

func (c *memoryCache) Set(key, value string) {
	c.mu.Lock()
	c.store[key] = value
	c.mu.Unlock()
}

func (c *memoryCache) Delete(key string) {
	c.mu.Lock()
	delete(c.store, key)
	c.mu.Unlock()
}

func (c *memoryCache) Close() error { return nil }

// --- bboltCache ----------------------------------------------------------

const bboltBucket = "ocr_cache"

// bboltCache is a PersistentCache backed by an embedded bbolt database.
// Entries survive process restarts. The database file is created at the
// given path if it does not exist.
type bboltCache struct {
	db *bolt.DB
}

// newBboltCache opens (or creates) the bbolt database at path and ensures
// the bucket exists. Returns an error if the file cannot be opened.
func newBboltCache(path string) (PersistentCache, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open bbolt cache %q: %w", path, err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bboltBucket))
		return err
	}); err != nil {
		db.Close() //nolint:errcheck // best-effort close on init failure
		return nil, fmt.Errorf("create bbolt bucket: %w", err)
	}

	log.Printf("[OCRCACHE] persistent cache opened at %s", path)
	return &bboltCache{db: db}, nil
}

func (c *bboltCache) Get(key string) (string, bool) {
	var value string
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bboltBucket))
		if b == nil {
			return nil
		}
		v := b.Get([]byte(key))
		if v != nil {
			value = string(v)
		}
		return nil
	})
	if err != nil {
		log.Printf("[OCRCACHE] bbolt Get error: %v", err)
		return "", false
	}
	return value, value != ""
}

func (c *bboltCache) Set(key, value string) {
	if err := c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bboltBucket))
		if b == nil {
			return fmt.Errorf("bucket %q not found", bboltBucket)
		}
		return b.Put([]byte(key), []byte(value))
	}); err != nil {
		log.Printf("[OCRCACHE] bbolt Set error: %v", err)
	}
}

func (c *bboltCache) Delete(key string) {
	if err := c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bboltBucket))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(key))
	}); err != nil {
		log.Printf("[OCRCACHE] bbolt Delete error: %v", err)
	}
}

func (c *bboltCache) Close() error {
	return c.db.Close()
}

// --- New -------------------------------------------------------------------

// New returns a memory-only cache when path is empty (tests, ephemeral jobs)
// or a bbolt-backed cache at path otherwise.
func New(path string) (PersistentCache, error) {
	if path == "" {
		return newMemoryCache(), nil
	}
	return newBboltCache(path)
}
