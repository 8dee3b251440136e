// Package cache maps (path, fingerprint, estimator) to token counts and persists
// them between sessions.
package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/temirov/ctxload/internal/types"
	"github.com/temirov/ctxload/internal/utils"
)

const (
	shardCount = 16

	loadFailedMessage  = "token cache store unreadable; continuing in memory"
	flushFailedMessage = "token cache store write failed; continuing in memory"
	storeClosedMessage = "closing token cache store failed"
	storageIssuePath   = "token cache"
)

// Key identifies a cached token count. Counts are only reused when every
// component matches.
type Key struct {
	RelativePath string
	Fingerprint  string
	Kind         string
}

// String returns a stable representation of the key.
func (key Key) String() string {
	return key.Kind + "\x00" + key.Fingerprint + "\x00" + key.RelativePath
}

// Entry is one cached token count.
type Entry struct {
	Key
	TokenCount int
	LastSeenAt time.Time
}

// Stats summarizes cache activity.
type Stats struct {
	Entries    int
	Hits       int64
	Misses     int64
	Persistent bool
}

// pathKind indexes entries so a path keeps one fingerprint per estimator kind.
type pathKind struct {
	relativePath string
	kind         string
}

type shard struct {
	mutex   sync.RWMutex
	entries map[pathKind]Entry
	dirty   map[pathKind]struct{}
	removed map[Key]struct{}
}

// Cache is a concurrent token count cache. Unrelated keys never contend on the
// same lock unless they share a shard, and concurrent computations of one key
// collapse into a single computation and a single write.
type Cache struct {
	shards [shardCount]*shard
	group  singleflight.Group

	storeMutex sync.Mutex
	store      Store

	issueMutex sync.Mutex
	issues     []types.FileIssue

	hits   atomic.Int64
	misses atomic.Int64

	logger *zap.Logger
	now    func() time.Time
}

// Options configures a Cache.
type Options struct {
	Logger *zap.Logger
	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// NewMemory returns a cache without persistence.
func NewMemory(options Options) *Cache {
	cache := &Cache{logger: utils.LoggerOrNop(options.Logger), now: options.Clock}
	if cache.now == nil {
		cache.now = time.Now
	}
	for shardIndex := range cache.shards {
		cache.shards[shardIndex] = &shard{
			entries: make(map[pathKind]Entry),
			dirty:   make(map[pathKind]struct{}),
			removed: make(map[Key]struct{}),
		}
	}
	return cache
}

// Open returns a cache backed by store, preloaded with its entries. A store
// that cannot be read is closed and the cache continues in memory; the failure
// is available from Issues.
func Open(ctx context.Context, store Store, options Options) *Cache {
	cache := NewMemory(options)
	if store == nil {
		return cache
	}
	loadedEntries, loadError := store.Load(ctx)
	if loadError != nil {
		cache.logger.Warn(loadFailedMessage, zap.Error(loadError))
		cache.recordIssue(fmt.Errorf("load: %w", loadError))
		if closeError := store.Close(); closeError != nil {
			cache.logger.Debug(storeClosedMessage, zap.Error(closeError))
		}
		return cache
	}
	cache.store = store
	for _, loadedEntry := range loadedEntries {
		cache.restore(loadedEntry)
	}
	return cache
}

// OpenWorkspace opens the SQLite cache of workspaceRoot under cacheDirectory.
// When the database cannot be opened the returned cache is memory-only and the
// failure is available from Issues.
func OpenWorkspace(ctx context.Context, cacheDirectory string, workspaceRoot string, options Options) *Cache {
	store, openError := OpenSQLiteStore(DatabasePath(cacheDirectory, workspaceRoot))
	if openError != nil {
		cache := NewMemory(options)
		cache.logger.Warn(loadFailedMessage, zap.Error(openError))
		cache.recordIssue(fmt.Errorf("open: %w", openError))
		return cache
	}
	return Open(ctx, store, options)
}

func (cache *Cache) shardFor(relativePath string) *shard {
	return cache.shards[xxhash.Sum64String(relativePath)%shardCount]
}

// restore inserts a persisted entry without marking it dirty. When the store
// holds several fingerprints for one path and kind, the most recent one wins.
func (cache *Cache) restore(entry Entry) {
	targetShard := cache.shardFor(entry.RelativePath)
	index := pathKind{relativePath: entry.RelativePath, kind: entry.Kind}
	targetShard.mutex.Lock()
	defer targetShard.mutex.Unlock()
	existing, exists := targetShard.entries[index]
	if exists && existing.LastSeenAt.After(entry.LastSeenAt) {
		targetShard.removed[entry.Key] = struct{}{}
		return
	}
	if exists {
		targetShard.removed[existing.Key] = struct{}{}
	}
	targetShard.entries[index] = entry
}

// Lookup returns the cached count for key. An entry recorded for another
// fingerprint of the same path is stale and never returned.
func (cache *Cache) Lookup(key Key) (int, bool) {
	targetShard := cache.shardFor(key.RelativePath)
	index := pathKind{relativePath: key.RelativePath, kind: key.Kind}
	targetShard.mutex.Lock()
	defer targetShard.mutex.Unlock()
	entry, exists := targetShard.entries[index]
	if !exists || entry.Fingerprint != key.Fingerprint {
		return 0, false
	}
	entry.LastSeenAt = cache.now().UTC()
	targetShard.entries[index] = entry
	targetShard.dirty[index] = struct{}{}
	return entry.TokenCount, true
}

// Insert records tokenCount for key, replacing any entry for an older
// fingerprint of the same path and kind.
func (cache *Cache) Insert(key Key, tokenCount int) {
	targetShard := cache.shardFor(key.RelativePath)
	index := pathKind{relativePath: key.RelativePath, kind: key.Kind}
	targetShard.mutex.Lock()
	defer targetShard.mutex.Unlock()
	if existing, exists := targetShard.entries[index]; exists && existing.Fingerprint != key.Fingerprint {
		targetShard.removed[existing.Key] = struct{}{}
	}
	delete(targetShard.removed, key)
	targetShard.entries[index] = Entry{Key: key, TokenCount: tokenCount, LastSeenAt: cache.now().UTC()}
	targetShard.dirty[index] = struct{}{}
}

type computeResult struct {
	tokenCount int
	hit        bool
}

// GetOrCompute returns the cached count for key, or runs compute once for all
// concurrent callers asking for the same key and records its result. The
// boolean reports whether the count came from the cache. Failed computations
// are not cached.
func (cache *Cache) GetOrCompute(key Key, compute func() (int, error)) (int, bool, error) {
	if tokenCount, found := cache.Lookup(key); found {
		cache.hits.Add(1)
		return tokenCount, true, nil
	}
	value, computeError, _ := cache.group.Do(key.String(), func() (interface{}, error) {
		if tokenCount, found := cache.Lookup(key); found {
			return computeResult{tokenCount: tokenCount, hit: true}, nil
		}
		cache.misses.Add(1)
		tokenCount, err := compute()
		if err != nil {
			return computeResult{}, err
		}
		cache.Insert(key, tokenCount)
		return computeResult{tokenCount: tokenCount}, nil
	})
	if computeError != nil {
		return 0, false, computeError
	}
	result := value.(computeResult)
	if result.hit {
		cache.hits.Add(1)
	}
	return result.tokenCount, result.hit, nil
}

// Flush writes every changed entry to the store in one unit of work. A failed
// write closes the store and the cache continues in memory.
func (cache *Cache) Flush(ctx context.Context) error {
	cache.storeMutex.Lock()
	defer cache.storeMutex.Unlock()

	upserts, deletions := cache.drainChanges()
	if cache.store == nil || (len(upserts) == 0 && len(deletions) == 0) {
		return nil
	}
	if applyError := cache.store.Apply(ctx, upserts, deletions); applyError != nil {
		cache.detachStoreLocked(applyError)
		return fmt.Errorf("flush token cache: %w", applyError)
	}
	return nil
}

func (cache *Cache) drainChanges() ([]Entry, []Key) {
	var upserts []Entry
	var deletions []Key
	for _, currentShard := range cache.shards {
		currentShard.mutex.Lock()
		for index := range currentShard.dirty {
			if entry, exists := currentShard.entries[index]; exists {
				upserts = append(upserts, entry)
			}
		}
		for removedKey := range currentShard.removed {
			deletions = append(deletions, removedKey)
		}
		currentShard.dirty = make(map[pathKind]struct{})
		currentShard.removed = make(map[Key]struct{})
		currentShard.mutex.Unlock()
	}
	return upserts, deletions
}

func (cache *Cache) detachStoreLocked(cause error) {
	cache.logger.Warn(flushFailedMessage, zap.Error(cause))
	cache.recordIssue(fmt.Errorf("write: %w", cause))
	if closeError := cache.store.Close(); closeError != nil {
		cache.logger.Debug(storeClosedMessage, zap.Error(closeError))
	}
	cache.store = nil
}

// Prune drops entries not seen within maxAge and returns how many were removed.
func (cache *Cache) Prune(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := cache.now().UTC().Add(-maxAge)
	pruned := 0
	for _, currentShard := range cache.shards {
		currentShard.mutex.Lock()
		for index, entry := range currentShard.entries {
			if entry.LastSeenAt.Before(cutoff) {
				delete(currentShard.entries, index)
				delete(currentShard.dirty, index)
				currentShard.removed[entry.Key] = struct{}{}
				pruned++
			}
		}
		currentShard.mutex.Unlock()
	}
	return pruned, cache.Flush(ctx)
}

// Clear removes every entry from memory and from the store.
func (cache *Cache) Clear(ctx context.Context) error {
	for _, currentShard := range cache.shards {
		currentShard.mutex.Lock()
		currentShard.entries = make(map[pathKind]Entry)
		currentShard.dirty = make(map[pathKind]struct{})
		currentShard.removed = make(map[Key]struct{})
		currentShard.mutex.Unlock()
	}
	cache.storeMutex.Lock()
	defer cache.storeMutex.Unlock()
	if cache.store == nil {
		return nil
	}
	if clearError := cache.store.Clear(ctx); clearError != nil {
		cache.detachStoreLocked(clearError)
		return fmt.Errorf("clear token cache: %w", clearError)
	}
	return nil
}

// Entries returns a snapshot of every cached entry.
func (cache *Cache) Entries() []Entry {
	var snapshot []Entry
	for _, currentShard := range cache.shards {
		currentShard.mutex.RLock()
		for _, entry := range currentShard.entries {
			snapshot = append(snapshot, entry)
		}
		currentShard.mutex.RUnlock()
	}
	return snapshot
}

// Stats returns counters describing cache activity.
func (cache *Cache) Stats() Stats {
	entryCount := 0
	for _, currentShard := range cache.shards {
		currentShard.mutex.RLock()
		entryCount += len(currentShard.entries)
		currentShard.mutex.RUnlock()
	}
	return Stats{
		Entries:    entryCount,
		Hits:       cache.hits.Load(),
		Misses:     cache.misses.Load(),
		Persistent: cache.Persistent(),
	}
}

// Persistent reports whether the cache is still backed by a store.
func (cache *Cache) Persistent() bool {
	cache.storeMutex.Lock()
	defer cache.storeMutex.Unlock()
	return cache.store != nil
}

// Issues returns and forgets the storage failures recorded so far.
func (cache *Cache) Issues() []types.FileIssue {
	cache.issueMutex.Lock()
	defer cache.issueMutex.Unlock()
	drained := cache.issues
	cache.issues = nil
	return drained
}

func (cache *Cache) recordIssue(cause error) {
	cache.issueMutex.Lock()
	defer cache.issueMutex.Unlock()
	cache.issues = append(cache.issues, types.FileIssue{
		Path:    storageIssuePath,
		Kind:    types.IssueKindCacheStorage,
		Message: cause.Error(),
	})
}

// Close flushes pending changes and closes the store.
func (cache *Cache) Close(ctx context.Context) error {
	flushError := cache.Flush(ctx)
	cache.storeMutex.Lock()
	defer cache.storeMutex.Unlock()
	if cache.store == nil {
		return flushError
	}
	closeError := cache.store.Close()
	cache.store = nil
	if flushError != nil {
		return flushError
	}
	return closeError
}
