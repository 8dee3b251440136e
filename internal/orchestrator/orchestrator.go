// Package orchestrator computes token counts for every eligible file of a
// workspace, coordinating the crawler, the fingerprinting, the token cache and
// the estimators under bounded concurrency.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/temirov/ctxload/internal/cache"
	"github.com/temirov/ctxload/internal/crawler"
	"github.com/temirov/ctxload/internal/fingerprint"
	"github.com/temirov/ctxload/internal/metrics"
	"github.com/temirov/ctxload/internal/tokenizer"
	"github.com/temirov/ctxload/internal/types"
	"github.com/temirov/ctxload/internal/utils"
)

// OversizePolicy decides how files larger than the byte limit are estimated.
type OversizePolicy string

const (
	// OversizeTruncate estimates oversized files from their leading bytes.
	OversizeTruncate OversizePolicy = "truncate"
	// OversizeSkip leaves oversized files without a token count.
	OversizeSkip OversizePolicy = "skip"
)

const (
	// DefaultWorkers bounds concurrent file processing when Options.Workers is unset.
	DefaultWorkers = 8
	// DefaultMaxFileBytes is the read limit applied when Options.MaxFileBytes is unset.
	DefaultMaxFileBytes int64 = 2 << 20

	// binaryTokenCount marks cached entries of content that is not text.
	binaryTokenCount = -1

	oversizeSkippedFormat = "file is %d bytes, above the %d byte limit; token count skipped"
	cacheFlushWarning     = "token cache flush failed"
	fileIssueWarning      = "file skipped"
)

// ErrSuperseded reports a computation abandoned because a newer one started.
var ErrSuperseded = errors.New("computation superseded by a newer request")

// ErrUnknownOversizePolicy reports a policy name outside the supported set.
var ErrUnknownOversizePolicy = errors.New("unknown oversize policy")

// ParseOversizePolicy resolves a policy name; the empty string selects truncate.
func ParseOversizePolicy(name string) (OversizePolicy, error) {
	switch OversizePolicy(name) {
	case OversizeTruncate, "":
		return OversizeTruncate, nil
	case OversizeSkip:
		return OversizeSkip, nil
	default:
		return "", fmt.Errorf("%w %q; supported: %s, %s", ErrUnknownOversizePolicy, name, OversizeTruncate, OversizeSkip)
	}
}

// CounterFactory builds the estimator for a kind.
type CounterFactory func(kind tokenizer.Kind) (tokenizer.Counter, error)

// ProgressFunc receives the number of finished candidates out of total.
type ProgressFunc func(completed int, total int)

// Options configures an Orchestrator.
type Options struct {
	WorkspaceRoot     string
	Workers           int
	MaxFileBytes      int64
	OversizePolicy    OversizePolicy
	ExclusionPatterns []string
	IncludeHidden     bool
	// Cache stores token counts; a memory-only cache is used when nil.
	Cache *cache.Cache
	// Counters overrides tokenizer.NewCounter.
	Counters CounterFactory
	Metrics  *metrics.Recorder
	// Progress is called once before the first candidate and once per
	// finished candidate, with completed never decreasing.
	Progress ProgressFunc
	Logger   *zap.Logger
}

// Report aggregates the file-scoped failures and statistics of one computation.
type Report struct {
	Issues         []types.FileIssue `json:"issues" xml:"issues>issue"`
	CacheHits      int               `json:"cacheHits" xml:"cacheHits"`
	CacheMisses    int               `json:"cacheMisses" xml:"cacheMisses"`
	FilesProcessed int               `json:"filesProcessed" xml:"filesProcessed"`
	TokensTotal    int               `json:"tokensTotal" xml:"tokensTotal"`
	Duration       time.Duration     `json:"duration" xml:"duration"`
}

// Result is the outcome of one computation.
type Result struct {
	Generation uint64
	Kind       tokenizer.Kind
	// Entries are sorted by relative path.
	Entries           []types.FileEntry
	Report            Report
	IgnoreFilePresent bool
	// InitialSelection is empty when the workspace has no .gitignore and lists
	// every entry otherwise.
	InitialSelection []string
}

// Orchestrator computes FileEntry records for one workspace. It owns the
// workspace's token cache.
type Orchestrator struct {
	workspaceRoot  string
	workers        int
	maxFileBytes   int64
	oversizePolicy OversizePolicy
	crawler        *crawler.Crawler
	cache          *cache.Cache
	counterFactory CounterFactory
	metrics        *metrics.Recorder
	progress       ProgressFunc
	logger         *zap.Logger

	generation atomic.Uint64

	counterMutex sync.Mutex
	counters     map[tokenizer.Kind]tokenizer.Counter
}

// New constructs an Orchestrator for options.WorkspaceRoot.
func New(options Options) (*Orchestrator, error) {
	absoluteRoot, absoluteError := filepath.Abs(options.WorkspaceRoot)
	if absoluteError != nil {
		return nil, fmt.Errorf("resolve workspace root %s: %w", options.WorkspaceRoot, absoluteError)
	}
	policy, policyError := ParseOversizePolicy(string(options.OversizePolicy))
	if policyError != nil {
		return nil, policyError
	}
	logger := utils.LoggerOrNop(options.Logger)
	orchestrator := &Orchestrator{
		workspaceRoot:  absoluteRoot,
		workers:        options.Workers,
		maxFileBytes:   options.MaxFileBytes,
		oversizePolicy: policy,
		crawler: crawler.New(crawler.Options{
			ExclusionPatterns: options.ExclusionPatterns,
			IncludeHidden:     options.IncludeHidden,
			Logger:            logger,
		}),
		cache:          options.Cache,
		counterFactory: options.Counters,
		metrics:        options.Metrics,
		progress:       options.Progress,
		logger:         logger,
		counters:       make(map[tokenizer.Kind]tokenizer.Counter),
	}
	if orchestrator.workers <= 0 {
		orchestrator.workers = DefaultWorkers
	}
	if orchestrator.maxFileBytes <= 0 {
		orchestrator.maxFileBytes = DefaultMaxFileBytes
	}
	if orchestrator.cache == nil {
		orchestrator.cache = cache.NewMemory(cache.Options{Logger: logger})
	}
	if orchestrator.counterFactory == nil {
		orchestrator.counterFactory = tokenizer.NewCounter
	}
	return orchestrator, nil
}

// WorkspaceRoot returns the absolute workspace root.
func (orchestrator *Orchestrator) WorkspaceRoot() string {
	return orchestrator.workspaceRoot
}

// Cache returns the token cache owned by the orchestrator.
func (orchestrator *Orchestrator) Cache() *cache.Cache {
	return orchestrator.cache
}

// Generation returns the generation of the most recently started computation.
func (orchestrator *Orchestrator) Generation() uint64 {
	return orchestrator.generation.Load()
}

// Cancel supersedes any computation in flight without starting a new one.
func (orchestrator *Orchestrator) Cancel() {
	orchestrator.generation.Add(1)
}

func (orchestrator *Orchestrator) counterFor(kind tokenizer.Kind) (tokenizer.Counter, error) {
	orchestrator.counterMutex.Lock()
	defer orchestrator.counterMutex.Unlock()
	if counter, exists := orchestrator.counters[kind]; exists {
		return counter, nil
	}
	counter, counterError := orchestrator.counterFactory(kind)
	if counterError != nil {
		return nil, counterError
	}
	orchestrator.counters[kind] = counter
	return counter, nil
}

// fileOutcome is the processing result of one candidate.
type fileOutcome struct {
	entry    types.FileEntry
	issue    *types.FileIssue
	cacheHit bool
	cached   bool
}

// Compute crawls the workspace and returns one FileEntry per eligible file.
// File-scoped failures are recorded in the report and never abort the batch.
// A computation overtaken by a newer Compute or Cancel returns ErrSuperseded.
func (orchestrator *Orchestrator) Compute(ctx context.Context, kind tokenizer.Kind) (Result, error) {
	generation := orchestrator.generation.Add(1)
	startTime := time.Now()

	counter, counterError := orchestrator.counterFor(kind)
	if counterError != nil {
		return Result{}, counterError
	}
	crawlResult, crawlError := orchestrator.crawler.Enumerate(ctx, orchestrator.workspaceRoot)
	if crawlError != nil {
		return Result{}, crawlError
	}
	if orchestrator.generation.Load() != generation {
		return Result{}, ErrSuperseded
	}

	outcomes := make([]fileOutcome, len(crawlResult.Candidates))
	tracker := newProgressTracker(orchestrator.progress, len(crawlResult.Candidates))
	group, groupContext := errgroup.WithContext(ctx)
	group.SetLimit(orchestrator.workers)
	for candidateIndex, candidate := range crawlResult.Candidates {
		if groupContext.Err() != nil {
			break
		}
		group.Go(func() error {
			if contextError := groupContext.Err(); contextError != nil {
				return contextError
			}
			if orchestrator.generation.Load() != generation {
				return ErrSuperseded
			}
			outcomes[candidateIndex] = orchestrator.processCandidate(candidate, kind, counter)
			tracker.finish()
			return nil
		})
	}
	waitError := group.Wait()
	if contextError := ctx.Err(); contextError != nil {
		return Result{}, contextError
	}
	if waitError != nil {
		return Result{}, waitError
	}
	if orchestrator.generation.Load() != generation {
		return Result{}, ErrSuperseded
	}

	result := Result{
		Generation:        generation,
		Kind:              kind,
		Entries:           make([]types.FileEntry, 0, len(outcomes)),
		IgnoreFilePresent: crawlResult.IgnoreFilePresent,
		InitialSelection:  []string{},
	}
	result.Report.Issues = append(result.Report.Issues, crawlResult.Warnings...)
	for _, outcome := range outcomes {
		result.Entries = append(result.Entries, outcome.entry)
		result.Report.FilesProcessed++
		if outcome.issue != nil {
			result.Report.Issues = append(result.Report.Issues, *outcome.issue)
		}
		if outcome.cached {
			if outcome.cacheHit {
				result.Report.CacheHits++
			} else {
				result.Report.CacheMisses++
			}
			orchestrator.metrics.RecordFile(string(kind), outcome.cacheHit)
		}
		if outcome.entry.TokensAvailable {
			result.Report.TokensTotal += outcome.entry.TokenCount
		}
		if result.IgnoreFilePresent {
			result.InitialSelection = append(result.InitialSelection, outcome.entry.RelativePath)
		}
	}

	if flushError := orchestrator.cache.Flush(ctx); flushError != nil {
		orchestrator.logger.Warn(cacheFlushWarning, zap.Error(flushError))
	}
	result.Report.Issues = append(result.Report.Issues, orchestrator.cache.Issues()...)
	sortIssues(result.Report.Issues)
	for _, issue := range result.Report.Issues {
		orchestrator.metrics.RecordIssue(string(issue.Kind))
	}
	result.Report.Duration = time.Since(startTime)
	orchestrator.metrics.ObserveCompute(string(kind), result.Report.Duration)
	return result, nil
}

func sortIssues(issues []types.FileIssue) {
	sort.SliceStable(issues, func(leftIndex, rightIndex int) bool {
		if issues[leftIndex].Path != issues[rightIndex].Path {
			return issues[leftIndex].Path < issues[rightIndex].Path
		}
		return issues[leftIndex].Kind < issues[rightIndex].Kind
	})
}

// fileFailure carries the issue kind of a failed cache computation.
type fileFailure struct {
	kind types.IssueKind
	err  error
}

func (failure fileFailure) Error() string { return failure.err.Error() }

func (failure fileFailure) Unwrap() error { return failure.err }

func (orchestrator *Orchestrator) processCandidate(candidate crawler.Candidate, kind tokenizer.Kind, counter tokenizer.Counter) fileOutcome {
	outcome := fileOutcome{entry: types.FileEntry{
		RelativePath:  candidate.RelativePath,
		AbsolutePath:  candidate.AbsolutePath,
		SizeBytes:     candidate.SizeBytes,
		IsSymlink:     candidate.IsSymlink,
		EstimatorKind: kind.String(),
	}}

	if candidate.IsSymlink {
		linkTarget, readLinkError := os.Readlink(candidate.AbsolutePath)
		if readLinkError != nil {
			return orchestrator.withIssue(outcome, types.IssueKindIO, readLinkError)
		}
		outcome.entry.Fingerprint = fingerprint.Symlink(linkTarget)
		outcome.entry.TokensAvailable = true
		return outcome
	}

	snapshot, snapshotError := readSnapshot(candidate.AbsolutePath, orchestrator.maxFileBytes)
	if snapshotError != nil {
		return orchestrator.withIssue(outcome, types.IssueKindIO, snapshotError)
	}
	contentFingerprint := snapshot.fingerprint
	outcome.entry.Fingerprint = contentFingerprint
	outcome.entry.SizeBytes = snapshot.sizeBytes

	oversized := snapshot.oversized
	if oversized && orchestrator.oversizePolicy == OversizeSkip {
		return orchestrator.withIssue(outcome, types.IssueKindTokenization,
			fmt.Errorf(oversizeSkippedFormat, snapshot.sizeBytes, orchestrator.maxFileBytes))
	}

	cacheKey := cache.Key{
		RelativePath: candidate.RelativePath,
		Fingerprint:  contentFingerprint,
		Kind:         orchestrator.cacheKind(kind, oversized),
	}
	tokenCount, cacheHit, computeError := orchestrator.cache.GetOrCompute(cacheKey, func() (int, error) {
		return estimate(snapshot.prefix, counter)
	})
	if computeError != nil {
		issueKind := types.IssueKindTokenization
		var failure fileFailure
		if errors.As(computeError, &failure) {
			issueKind = failure.kind
		}
		return orchestrator.withIssue(outcome, issueKind, computeError)
	}

	outcome.cached = true
	outcome.cacheHit = cacheHit
	outcome.entry.Truncated = oversized
	if tokenCount == binaryTokenCount {
		outcome.entry.IsBinary = true
		return outcome
	}
	outcome.entry.TokenCount = tokenCount
	outcome.entry.TokensAvailable = true
	return outcome
}

// cacheKind keeps counts of truncated files apart from full-content counts
// and from counts taken under another limit.
func (orchestrator *Orchestrator) cacheKind(kind tokenizer.Kind, truncated bool) string {
	if !truncated {
		return kind.String()
	}
	return kind.String() + "@" + string(OversizeTruncate) + ":" + strconv.FormatInt(orchestrator.maxFileBytes, 10)
}

// estimate counts the tokens of content. Content that is not text yields
// binaryTokenCount.
func estimate(content []byte, counter tokenizer.Counter) (int, error) {
	countResult, countError := tokenizer.CountBytes(counter, content)
	if countError != nil {
		return 0, fileFailure{kind: types.IssueKindTokenization, err: fmt.Errorf("%s: %w", counter.Name(), countError)}
	}
	if !countResult.Counted {
		return binaryTokenCount, nil
	}
	return countResult.Tokens, nil
}

// fileSnapshot is the fingerprint and the leading bytes of one read of a file.
type fileSnapshot struct {
	fingerprint string
	sizeBytes   int64
	oversized   bool
	// prefix holds at most the byte limit, trimmed to a rune boundary when
	// the file is oversized.
	prefix []byte
}

// prefixWriter keeps the first limit bytes written to it and counts the rest.
type prefixWriter struct {
	limit   int64
	written int64
	buffer  []byte
}

func (writer *prefixWriter) Write(data []byte) (int, error) {
	if remaining := writer.limit - int64(len(writer.buffer)); remaining > 0 {
		keep := data
		if int64(len(keep)) > remaining {
			keep = keep[:remaining]
		}
		writer.buffer = append(writer.buffer, keep...)
	}
	writer.written += int64(len(data))
	return len(data), nil
}

// readSnapshot hashes the whole file and captures its leading bytes in the
// same pass, so the count and the fingerprint describe identical content.
func readSnapshot(absolutePath string, limit int64) (fileSnapshot, error) {
	capture := &prefixWriter{limit: limit + 1}
	contentFingerprint, hashError := fingerprint.File(absolutePath, capture)
	if hashError != nil {
		return fileSnapshot{}, hashError
	}
	snapshot := fileSnapshot{
		fingerprint: contentFingerprint,
		sizeBytes:   capture.written,
		oversized:   capture.written > limit,
		prefix:      capture.buffer,
	}
	if snapshot.oversized {
		snapshot.prefix = utils.TrimToRuneBoundary(capture.buffer, int(limit))
	}
	return snapshot, nil
}

// progressTracker serialises progress callbacks so completed counts arrive in order.
type progressTracker struct {
	report    ProgressFunc
	total     int
	mutex     sync.Mutex
	completed int
}

func newProgressTracker(report ProgressFunc, total int) *progressTracker {
	tracker := &progressTracker{report: report, total: total}
	if report != nil {
		report(0, total)
	}
	return tracker
}

func (tracker *progressTracker) finish() {
	if tracker.report == nil {
		return
	}
	tracker.mutex.Lock()
	defer tracker.mutex.Unlock()
	tracker.completed++
	tracker.report(tracker.completed, tracker.total)
}

func (orchestrator *Orchestrator) withIssue(outcome fileOutcome, kind types.IssueKind, cause error) fileOutcome {
	orchestrator.logger.Warn(fileIssueWarning, zap.String("path", outcome.entry.RelativePath), zap.String("kind", string(kind)), zap.Error(cause))
	outcome.entry.TokensAvailable = false
	outcome.entry.TokenCount = 0
	outcome.issue = &types.FileIssue{Path: outcome.entry.RelativePath, Kind: kind, Message: cause.Error()}
	return outcome
}

// Close flushes the token cache and closes its store.
func (orchestrator *Orchestrator) Close(ctx context.Context) error {
	orchestrator.Cancel()
	return orchestrator.cache.Close(ctx)
}
