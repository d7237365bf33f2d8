package audit

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache defaults
const (
	DefaultCacheSize = 1024
	DefaultCacheTTL  = time.Hour
)

// ArchiveReader is the part of DBStore CachedStore needs besides Store
type ArchiveReader interface {
	Store
	GetHot(ctx context.Context, id int64) (*Record, error)
	GetArchived(ctx context.Context, id int64) (*Record, error)
}

// CacheStats reports CachedStore lookups
type CacheStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Size   int   `json:"size"`
}

// CachedStore keeps recently read archived records in memory. Archived records
// never change, so only Get results served from the archive are cached; hot
// records, searches and stats always go to the database.
type CachedStore struct {
	ArchiveReader

	cache  *lru.LRU[int64, *Record]
	hits   atomic.Int64
	misses atomic.Int64
}

// NewCachedStore wraps store with an LRU of at most size archived records
func NewCachedStore(store ArchiveReader, size int, ttl time.Duration) *CachedStore {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedStore{
		ArchiveReader: store,
		cache:         lru.NewLRU[int64, *Record](size, nil, ttl),
	}
}

// Get returns a record from the cache, the hot table, or the archive, in that order
func (s *CachedStore) Get(ctx context.Context, id int64) (*Record, error) {
	if rec, ok := s.cache.Get(id); ok {
		s.hits.Add(1)
		return copyRecord(rec), nil
	}
	s.misses.Add(1)

	rec, err := s.ArchiveReader.GetHot(ctx, id)
	if !errors.Is(err, ErrNotFound) {
		return rec, err
	}

	rec, err = s.ArchiveReader.GetArchived(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.Add(id, copyRecord(rec))
	return rec, nil
}

// Stats returns hit and miss counts since creation
func (s *CachedStore) Stats() CacheStats {
	return CacheStats{
		Hits:   s.hits.Load(),
		Misses: s.misses.Load(),
		Size:   s.cache.Len(),
	}
}

// Purge drops every cached record
func (s *CachedStore) Purge() {
	s.cache.Purge()
}

func copyRecord(rec *Record) *Record {
	c := *rec
	return &c
}
