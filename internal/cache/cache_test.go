package cache_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/temirov/ctxload/internal/cache"
	"github.com/temirov/ctxload/internal/types"
)

const (
	testPath        = "src/main.go"
	testKind        = "chars4"
	firstHash       = "aaaa"
	secondHash      = "bbbb"
	computedTokens  = 42
	recomputeTokens = 7
)

var errStoreUnavailable = errors.New("store unavailable")

// failingStore loads nothing and fails every write.
type failingStore struct {
	loadError error
	closed    atomic.Bool
}

func (store *failingStore) Load(ctx context.Context) ([]cache.Entry, error) {
	return nil, store.loadError
}

func (store *failingStore) Apply(ctx context.Context, upserts []cache.Entry, deletions []cache.Key) error {
	return errStoreUnavailable
}

func (store *failingStore) Clear(ctx context.Context) error { return errStoreUnavailable }

func (store *failingStore) Close() error {
	store.closed.Store(true)
	return nil
}

// countingCompute returns a compute function that records how often it ran.
func countingCompute(calls *atomic.Int32, tokens int) func() (int, error) {
	return func() (int, error) {
		calls.Add(1)
		return tokens, nil
	}
}

func TestGetOrComputeHitSkipsComputation(t *testing.T) {
	tokenCache := cache.NewMemory(cache.Options{})
	key := cache.Key{RelativePath: testPath, Fingerprint: firstHash, Kind: testKind}
	var calls atomic.Int32

	firstCount, firstHit, firstError := tokenCache.GetOrCompute(key, countingCompute(&calls, computedTokens))
	if firstError != nil || firstHit || firstCount != computedTokens {
		t.Fatalf("unexpected first result: %d %v %v", firstCount, firstHit, firstError)
	}
	secondCount, secondHit, secondError := tokenCache.GetOrCompute(key, countingCompute(&calls, computedTokens))
	if secondError != nil || !secondHit || secondCount != computedTokens {
		t.Fatalf("unexpected second result: %d %v %v", secondCount, secondHit, secondError)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected one computation, got %d", calls.Load())
	}
	stats := tokenCache.Stats()
	if stats.Hits != 1 || stats.Misses != 1 || stats.Entries != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestChangedFingerprintRecomputesAndReplaces(t *testing.T) {
	tokenCache := cache.NewMemory(cache.Options{})
	oldKey := cache.Key{RelativePath: testPath, Fingerprint: firstHash, Kind: testKind}
	newKey := cache.Key{RelativePath: testPath, Fingerprint: secondHash, Kind: testKind}
	var calls atomic.Int32

	if _, _, err := tokenCache.GetOrCompute(oldKey, countingCompute(&calls, computedTokens)); err != nil {
		t.Fatalf("GetOrCompute error: %v", err)
	}
	count, hit, err := tokenCache.GetOrCompute(newKey, countingCompute(&calls, recomputeTokens))
	if err != nil || hit || count != recomputeTokens {
		t.Fatalf("expected recomputation for new fingerprint, got %d %v %v", count, hit, err)
	}
	if _, found := tokenCache.Lookup(oldKey); found {
		t.Fatalf("expected stale fingerprint to be gone")
	}
	if tokenCache.Stats().Entries != 1 {
		t.Fatalf("expected a single entry per path and kind")
	}
}

func TestEstimatorKindsAreIsolated(t *testing.T) {
	tokenCache := cache.NewMemory(cache.Options{})
	tokenCache.Insert(cache.Key{RelativePath: testPath, Fingerprint: firstHash, Kind: testKind}, computedTokens)
	if _, found := tokenCache.Lookup(cache.Key{RelativePath: testPath, Fingerprint: firstHash, Kind: "cl100k_base"}); found {
		t.Fatalf("expected a different estimator kind to miss")
	}
	if count, found := tokenCache.Lookup(cache.Key{RelativePath: testPath, Fingerprint: firstHash, Kind: testKind}); !found || count != computedTokens {
		t.Fatalf("expected original kind to hit")
	}
}

func TestConcurrentComputationsCollapse(t *testing.T) {
	tokenCache := cache.NewMemory(cache.Options{})
	key := cache.Key{RelativePath: testPath, Fingerprint: firstHash, Kind: testKind}
	var calls atomic.Int32
	release := make(chan struct{})
	compute := func() (int, error) {
		calls.Add(1)
		<-release
		return computedTokens, nil
	}

	const callers = 16
	var waitGroup sync.WaitGroup
	results := make([]int, callers)
	for callerIndex := 0; callerIndex < callers; callerIndex++ {
		waitGroup.Add(1)
		go func(index int) {
			defer waitGroup.Done()
			count, _, err := tokenCache.GetOrCompute(key, compute)
			if err != nil {
				t.Errorf("GetOrCompute error: %v", err)
			}
			results[index] = count
		}(callerIndex)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	waitGroup.Wait()

	if calls.Load() != 1 {
		t.Fatalf("expected one computation, got %d", calls.Load())
	}
	for index, count := range results {
		if count != computedTokens {
			t.Fatalf("caller %d received %d", index, count)
		}
	}
}

func TestFailedComputationIsNotCached(t *testing.T) {
	tokenCache := cache.NewMemory(cache.Options{})
	key := cache.Key{RelativePath: testPath, Fingerprint: firstHash, Kind: testKind}
	computeError := errors.New("tokenizer exploded")
	if _, _, err := tokenCache.GetOrCompute(key, func() (int, error) { return 0, computeError }); !errors.Is(err, computeError) {
		t.Fatalf("expected compute error, got %v", err)
	}
	if _, found := tokenCache.Lookup(key); found {
		t.Fatalf("expected failed computation to leave no entry")
	}
}

func TestMemoryStorePersistsAcrossSessions(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStore()
	key := cache.Key{RelativePath: testPath, Fingerprint: firstHash, Kind: testKind}

	firstSession := cache.Open(ctx, store, cache.Options{})
	firstSession.Insert(key, computedTokens)
	if err := firstSession.Flush(ctx); err != nil {
		t.Fatalf("Flush error: %v", err)
	}

	secondSession := cache.Open(ctx, store, cache.Options{})
	if count, found := secondSession.Lookup(key); !found || count != computedTokens {
		t.Fatalf("expected persisted entry, got %d %v", count, found)
	}
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	cacheDirectory := t.TempDir()
	workspaceRoot := t.TempDir()
	oldKey := cache.Key{RelativePath: testPath, Fingerprint: firstHash, Kind: testKind}
	newKey := cache.Key{RelativePath: testPath, Fingerprint: secondHash, Kind: testKind}

	firstSession := cache.OpenWorkspace(ctx, cacheDirectory, workspaceRoot, cache.Options{})
	if !firstSession.Persistent() {
		t.Fatalf("expected persistent cache, issues: %v", firstSession.Issues())
	}
	firstSession.Insert(oldKey, computedTokens)
	if err := firstSession.Flush(ctx); err != nil {
		t.Fatalf("Flush error: %v", err)
	}
	firstSession.Insert(newKey, recomputeTokens)
	if err := firstSession.Close(ctx); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	secondSession := cache.OpenWorkspace(ctx, cacheDirectory, workspaceRoot, cache.Options{})
	defer secondSession.Close(ctx)
	var calls atomic.Int32
	count, hit, err := secondSession.GetOrCompute(newKey, countingCompute(&calls, 0))
	if err != nil || !hit || count != recomputeTokens || calls.Load() != 0 {
		t.Fatalf("expected persisted hit, got %d %v %v calls %d", count, hit, err, calls.Load())
	}
	if entries := secondSession.Entries(); len(entries) != 1 {
		t.Fatalf("expected replaced fingerprint to be deleted from storage, got %v", entries)
	}
}

func TestCorruptDatabaseFallsBackToMemory(t *testing.T) {
	ctx := context.Background()
	cacheDirectory := t.TempDir()
	workspaceRoot := t.TempDir()
	databasePath := cache.DatabasePath(cacheDirectory, workspaceRoot)
	garbage := make([]byte, 4096)
	for index := range garbage {
		garbage[index] = byte('x')
	}
	if err := os.WriteFile(databasePath, garbage, 0o600); err != nil {
		t.Fatalf("write corrupt database: %v", err)
	}

	tokenCache := cache.OpenWorkspace(ctx, cacheDirectory, workspaceRoot, cache.Options{})
	if tokenCache.Persistent() {
		t.Fatalf("expected corrupt database to leave the cache in memory")
	}
	issues := tokenCache.Issues()
	if len(issues) != 1 || issues[0].Kind != types.IssueKindCacheStorage {
		t.Fatalf("expected one CacheStorageError, got %v", issues)
	}
	var calls atomic.Int32
	key := cache.Key{RelativePath: testPath, Fingerprint: firstHash, Kind: testKind}
	if _, _, err := tokenCache.GetOrCompute(key, countingCompute(&calls, computedTokens)); err != nil {
		t.Fatalf("expected in-memory cache to keep working: %v", err)
	}
	if _, hit, _ := tokenCache.GetOrCompute(key, countingCompute(&calls, computedTokens)); !hit {
		t.Fatalf("expected in-memory hit")
	}
}

func TestUnreadableStoreStartsEmpty(t *testing.T) {
	store := &failingStore{loadError: errors.New("malformed")}
	tokenCache := cache.Open(context.Background(), store, cache.Options{})
	if tokenCache.Persistent() || !store.closed.Load() {
		t.Fatalf("expected unreadable store to be closed and detached")
	}
	if tokenCache.Stats().Entries != 0 || len(tokenCache.Issues()) != 1 {
		t.Fatalf("expected an empty cache with one recorded issue")
	}
}

func TestFlushFailureDetachesStore(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{}
	tokenCache := cache.Open(ctx, store, cache.Options{})
	tokenCache.Insert(cache.Key{RelativePath: testPath, Fingerprint: firstHash, Kind: testKind}, computedTokens)

	if err := tokenCache.Flush(ctx); !errors.Is(err, errStoreUnavailable) {
		t.Fatalf("expected flush error, got %v", err)
	}
	if tokenCache.Persistent() {
		t.Fatalf("expected store to be detached after a write failure")
	}
	issues := tokenCache.Issues()
	if len(issues) != 1 || issues[0].Kind != types.IssueKindCacheStorage {
		t.Fatalf("expected one CacheStorageError, got %v", issues)
	}
	if err := tokenCache.Flush(ctx); err != nil {
		t.Fatalf("expected memory-only flush to succeed, got %v", err)
	}
}

func TestPruneDropsEntriesNotSeenRecently(t *testing.T) {
	ctx := context.Background()
	currentTime := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return currentTime }
	store := cache.NewMemoryStore()
	tokenCache := cache.Open(ctx, store, cache.Options{Clock: clock})
	tokenCache.Insert(cache.Key{RelativePath: "old.txt", Fingerprint: firstHash, Kind: testKind}, 1)
	currentTime = currentTime.Add(48 * time.Hour)
	tokenCache.Insert(cache.Key{RelativePath: "new.txt", Fingerprint: firstHash, Kind: testKind}, 2)

	pruned, err := tokenCache.Prune(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Prune error: %v", err)
	}
	if pruned != 1 || tokenCache.Stats().Entries != 1 {
		t.Fatalf("expected one pruned entry, got %d", pruned)
	}
	persisted, _ := store.Load(ctx)
	if len(persisted) != 1 || persisted[0].RelativePath != "new.txt" {
		t.Fatalf("unexpected persisted entries %v", persisted)
	}
}

func TestClearEmptiesMemoryAndStore(t *testing.T) {
	ctx := context.Background()
	databaseDirectory := t.TempDir()
	store, openError := cache.OpenSQLiteStore(filepath.Join(databaseDirectory, "cache.db"))
	if openError != nil {
		t.Fatalf("OpenSQLiteStore error: %v", openError)
	}
	tokenCache := cache.Open(ctx, store, cache.Options{})
	defer tokenCache.Close(ctx)
	tokenCache.Insert(cache.Key{RelativePath: testPath, Fingerprint: firstHash, Kind: testKind}, computedTokens)
	if err := tokenCache.Flush(ctx); err != nil {
		t.Fatalf("Flush error: %v", err)
	}
	if err := tokenCache.Clear(ctx); err != nil {
		t.Fatalf("Clear error: %v", err)
	}
	persisted, loadError := store.Load(ctx)
	if loadError != nil || len(persisted) != 0 || tokenCache.Stats().Entries != 0 {
		t.Fatalf("expected empty cache, got %v %v", persisted, loadError)
	}
}
