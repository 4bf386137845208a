package cache

import (
	"testing"
	"time"

	"github.com/normativhq/normativ/internal/model"
)

func TestNew_DispatchesOnConfig(t *testing.T) {
	if _, ok := New(model.CacheConfig{Enabled: false}).(NoopCache); !ok {
		t.Error("Disabled config must yield the noop cache")
	}
	if _, ok := New(model.CacheConfig{Enabled: true, MemoryTTL: time.Minute}).(*MemoryCache); !ok {
		t.Error("Enabled config without dir must yield the memory cache")
	}
	cfg := model.CacheConfig{Enabled: true, Dir: t.TempDir(), MemoryTTL: time.Minute, DiskTTL: time.Hour}
	if _, ok := New(cfg).(*LayeredCache); !ok {
		t.Error("Enabled config with dir must yield the layered cache")
	}
}

func TestDocumentKey_Distinct(t *testing.T) {
	a := DocumentKey("doc-1", "hash-a")
	b := DocumentKey("doc-1", "hash-b")
	c := DocumentKey("doc-2", "hash-a")
	if a == b || a == c || b == c {
		t.Error("Different id/hash pairs must key differently")
	}
	if a != DocumentKey("doc-1", "hash-a") {
		t.Error("Key must be stable for the same inputs")
	}
}

func TestLayeredCache_PromotesDiskHits(t *testing.T) {
	c := NewLayeredCache(time.Minute, t.TempDir(), time.Hour)

	if err := c.Set("k", []byte("content"), time.Hour); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// Drop the memory layer; the disk copy must repopulate it.
	if err := c.memory.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	val, found := c.Get("k")
	if !found || string(val) != "content" {
		t.Fatalf("Expected disk hit, got found=%v val=%q", found, val)
	}
	if _, found := c.memory.Get("k"); !found {
		t.Error("Disk hit must be promoted to memory")
	}
}

func TestDiskCache_ExpiryRemovesEntry(t *testing.T) {
	c := NewDiskCache(t.TempDir(), time.Hour)
	if err := c.Set("k", []byte("v"), time.Nanosecond); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, found := c.Get("k"); found {
		t.Error("Expired entry must not be served")
	}
	if _, found := c.Get("k"); found {
		t.Error("Expired entry must stay gone")
	}
}
