// Package taxonomy resolves regulatory domains to canonical concept slugs.
//
// The taxonomy is versioned and injected: the composer records which
// snapshot version produced a slug so a later taxonomy change never
// silently re-labels existing rules.
package taxonomy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// LoadFunc fetches the current alias table and its version from wherever
// the taxonomy lives. The store provides one; tests use Static.
type LoadFunc func(ctx context.Context) (version string, aliases map[string]string, err error)

// Snapshot is one immutable taxonomy state
type Snapshot struct {
	version string
	aliases map[string]string // folded alias -> canonical slug
}

// Version identifies the snapshot, e.g. "2025-08-01.3"
func (s *Snapshot) Version() string { return s.version }

// Canonical resolves a domain to its concept slug
func (s *Snapshot) Canonical(domain string) (string, bool) {
	slug, ok := s.aliases[fold(domain)]
	return slug, ok
}

// Slugs lists the distinct canonical slugs, sorted, for prompt context
func (s *Snapshot) Slugs() []string {
	seen := make(map[string]bool)
	for _, slug := range s.aliases {
		seen[slug] = true
	}
	out := make([]string, 0, len(seen))
	for slug := range seen {
		out = append(out, slug)
	}
	sort.Strings(out)
	return out
}

const snapshotKey = "taxonomy-snapshot"

// Service caches snapshots in front of a loader
type Service struct {
	load  LoadFunc
	cache *gocache.Cache
	ttl   time.Duration
}

// NewService wraps load with a TTL cache. A zero ttl disables caching.
func NewService(load LoadFunc, ttl time.Duration) *Service {
	return &Service{
		load:  load,
		cache: gocache.New(ttl, 2*ttl+time.Minute),
		ttl:   ttl,
	}
}

// Snapshot returns the current taxonomy, served from cache within the TTL
func (s *Service) Snapshot(ctx context.Context) (*Snapshot, error) {
	if s.ttl > 0 {
		if val, found := s.cache.Get(snapshotKey); found {
			return val.(*Snapshot), nil
		}
	}
	version, aliases, err := s.load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading taxonomy: %w", err)
	}
	snap := build(version, aliases)
	if s.ttl > 0 {
		s.cache.Set(snapshotKey, snap, s.ttl)
	}
	return snap, nil
}

// Invalidate drops the cached snapshot so the next call reloads
func (s *Service) Invalidate() {
	s.cache.Delete(snapshotKey)
}

// Static returns a fixed-table loader for tests and the demo binary
func Static(version string, aliases map[string]string) LoadFunc {
	return func(context.Context) (string, map[string]string, error) {
		return version, aliases, nil
	}
}

func build(version string, aliases map[string]string) *Snapshot {
	folded := make(map[string]string, len(aliases))
	for alias, slug := range aliases {
		folded[fold(alias)] = slug
		// A canonical slug always resolves to itself.
		folded[fold(slug)] = slug
	}
	return &Snapshot{version: version, aliases: folded}
}

func fold(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
