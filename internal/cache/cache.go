// Package cache provides the byte cache in front of source-document content
// reads. Evidence verification re-reads the same documents for every rule in
// a batch; the cache keeps that from hammering the store.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/normativhq/normativ/internal/model"
)

// Cache is a byte store with per-entry TTL
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
	Clear() error
}

// DocumentKey keys cached document content by id and content hash, so a
// re-ingested document never serves stale bytes.
func DocumentKey(documentID, contentHash string) string {
	hash := sha256.Sum256([]byte(documentID + "\x00" + contentHash))
	return "normativ:doc:v1:" + hex.EncodeToString(hash[:])
}

// New builds the cache the config asks for: layered memory+disk when a
// directory is set, memory only otherwise, and a no-op cache when disabled.
func New(cfg model.CacheConfig) Cache {
	if !cfg.Enabled {
		return NoopCache{}
	}
	if cfg.Dir != "" {
		return NewLayeredCache(cfg.MemoryTTL, cfg.Dir, cfg.DiskTTL)
	}
	return NewMemoryCache(cfg.MemoryTTL, 10*time.Minute)
}

// NoopCache satisfies Cache while storing nothing
type NoopCache struct{}

func (NoopCache) Get(string) ([]byte, bool) { return nil, false }

func (NoopCache) Set(string, []byte, time.Duration) error { return nil }

func (NoopCache) Delete(string) error { return nil }

func (NoopCache) Clear() error { return nil }
