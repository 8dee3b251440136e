// Package workspace owns the state of one open workspace: its orchestrator,
// the current file entries, the selected path set and the selection tree.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/temirov/ctxload/internal/cache"
	"github.com/temirov/ctxload/internal/metrics"
	"github.com/temirov/ctxload/internal/orchestrator"
	"github.com/temirov/ctxload/internal/pathset"
	"github.com/temirov/ctxload/internal/selection"
	"github.com/temirov/ctxload/internal/tokenizer"
	"github.com/temirov/ctxload/internal/types"
	"github.com/temirov/ctxload/internal/utils"
)

// ErrClosed reports use of a session after Close.
var ErrClosed = errors.New("workspace session closed")

// ErrNotLoaded reports a selection change before the first successful Load.
var ErrNotLoaded = errors.New("workspace not loaded")

// Options configures the sessions of a workspace.
type Options struct {
	Workers           int
	MaxFileBytes      int64
	OversizePolicy    orchestrator.OversizePolicy
	ExclusionPatterns []string
	IncludeHidden     bool
	// CacheEnabled persists token counts under CacheDirectory.
	CacheEnabled   bool
	CacheDirectory string
	Counters       orchestrator.CounterFactory
	Metrics        *metrics.Recorder
	Progress       orchestrator.ProgressFunc
	Logger         *zap.Logger
}

// Session is one open workspace. Its methods are safe for concurrent use;
// a load runs without holding the session lock and its result is applied only
// while it is still the newest computation of an open session.
type Session struct {
	orchestrator *orchestrator.Orchestrator
	metrics      *metrics.Recorder
	logger       *zap.Logger

	lifetime context.Context
	stop     context.CancelFunc

	mutex    sync.Mutex
	closed   bool
	loaded   bool
	kind     tokenizer.Kind
	entries  []types.FileEntry
	selected *pathset.Set
	tree     *selection.Tree
	report   orchestrator.Report
}

// NewSession opens workspaceRoot. When caching is enabled and the cache store
// cannot be opened the session continues with an in-memory cache.
func NewSession(ctx context.Context, workspaceRoot string, options Options) (*Session, error) {
	logger := utils.LoggerOrNop(options.Logger)
	var tokenCache *cache.Cache
	if options.CacheEnabled {
		cacheDirectory := options.CacheDirectory
		if cacheDirectory == utils.EmptyString {
			cacheDirectory = utils.UserCacheDirectory()
		}
		tokenCache = cache.OpenWorkspace(ctx, cacheDirectory, workspaceRoot, cache.Options{Logger: logger})
	}
	workspaceOrchestrator, orchestratorError := orchestrator.New(orchestrator.Options{
		WorkspaceRoot:     workspaceRoot,
		Workers:           options.Workers,
		MaxFileBytes:      options.MaxFileBytes,
		OversizePolicy:    options.OversizePolicy,
		ExclusionPatterns: options.ExclusionPatterns,
		IncludeHidden:     options.IncludeHidden,
		Cache:             tokenCache,
		Counters:          options.Counters,
		Metrics:           options.Metrics,
		Progress:          options.Progress,
		Logger:            logger,
	})
	if orchestratorError != nil {
		if tokenCache != nil {
			_ = tokenCache.Close(ctx)
		}
		return nil, orchestratorError
	}
	lifetime, stop := context.WithCancel(context.Background())
	return &Session{
		orchestrator: workspaceOrchestrator,
		metrics:      options.Metrics,
		logger:       logger,
		lifetime:     lifetime,
		stop:         stop,
		selected:     pathset.New(),
		tree:         selection.Build(nil, nil),
	}, nil
}

// Root returns the absolute workspace root.
func (session *Session) Root() string {
	return session.orchestrator.WorkspaceRoot()
}

// Cache returns the token cache of the workspace.
func (session *Session) Cache() *cache.Cache {
	return session.orchestrator.Cache()
}

// Load computes the workspace with kind and replaces the entries and the tree.
// The first load seeds the selection with the computation's initial selection;
// later loads keep the current selection minus paths that disappeared.
func (session *Session) Load(ctx context.Context, kind tokenizer.Kind) error {
	session.mutex.Lock()
	if session.closed {
		session.mutex.Unlock()
		return ErrClosed
	}
	session.mutex.Unlock()

	loadContext, cancel := context.WithCancel(ctx)
	defer cancel()
	stopAfter := context.AfterFunc(session.lifetime, cancel)
	defer stopAfter()

	result, computeError := session.orchestrator.Compute(loadContext, kind)

	session.mutex.Lock()
	defer session.mutex.Unlock()
	if session.closed {
		return ErrClosed
	}
	if computeError != nil {
		return computeError
	}
	if result.Generation != session.orchestrator.Generation() {
		return orchestrator.ErrSuperseded
	}

	session.entries = result.Entries
	if session.loaded {
		entryPaths := make([]string, 0, len(result.Entries))
		for _, entry := range result.Entries {
			entryPaths = append(entryPaths, entry.RelativePath)
		}
		session.selected.RetainOnly(entryPaths)
	} else {
		session.selected = pathset.New(result.InitialSelection...)
	}
	session.loaded = true
	session.kind = kind
	session.report = result.Report
	session.rebuildLocked()
	session.logger.Debug("workspace loaded",
		zap.String("root", session.Root()),
		zap.String("estimator", kind.String()),
		zap.Int("files", len(result.Entries)),
		zap.Int("issues", len(result.Report.Issues)))
	return nil
}

// SwitchEstimator reloads the workspace with another estimator. Counts already
// cached for that estimator are reused.
func (session *Session) SwitchEstimator(ctx context.Context, kind tokenizer.Kind) error {
	return session.Load(ctx, kind)
}

func (session *Session) rebuildLocked() {
	session.tree = selection.Build(session.entries, session.selected)
	session.metrics.SetSelectedTokens(session.tree.SelectedTokenTotal())
}

func (session *Session) mutate(change func(tree *selection.Tree) error) error {
	session.mutex.Lock()
	defer session.mutex.Unlock()
	if session.closed {
		return ErrClosed
	}
	if !session.loaded {
		return ErrNotLoaded
	}
	if changeError := change(session.tree); changeError != nil {
		return changeError
	}
	session.metrics.SetSelectedTokens(session.tree.SelectedTokenTotal())
	return nil
}

// Toggle checks or unchecks the node id of the current tree.
func (session *Session) Toggle(id selection.NodeID, checked bool) error {
	return session.mutate(func(tree *selection.Tree) error {
		return tree.Toggle(id, checked)
	})
}

// TogglePath checks or unchecks the node at relativePath.
func (session *Session) TogglePath(relativePath string, checked bool) error {
	return session.mutate(func(tree *selection.Tree) error {
		return tree.TogglePath(relativePath, checked)
	})
}

// SelectAll selects every file.
func (session *Session) SelectAll() error {
	return session.mutate(func(tree *selection.Tree) error {
		tree.SelectAll()
		return nil
	})
}

// DeselectAll clears the selection.
func (session *Session) DeselectAll() error {
	return session.mutate(func(tree *selection.Tree) error {
		tree.DeselectAll()
		return nil
	})
}

// View calls visit with the current tree under the session lock. The tree must
// not be retained or modified.
func (session *Session) View(visit func(tree *selection.Tree) error) error {
	session.mutex.Lock()
	defer session.mutex.Unlock()
	if session.closed {
		return ErrClosed
	}
	return visit(session.tree)
}

// Entries returns a copy of the current file entries.
func (session *Session) Entries() []types.FileEntry {
	session.mutex.Lock()
	defer session.mutex.Unlock()
	return append([]types.FileEntry(nil), session.entries...)
}

// SelectedPaths returns the selected file paths in lexical order.
func (session *Session) SelectedPaths() []string {
	session.mutex.Lock()
	defer session.mutex.Unlock()
	return session.tree.SelectedPaths()
}

// SelectedTokenTotal returns the token total of the selection.
func (session *Session) SelectedTokenTotal() int {
	session.mutex.Lock()
	defer session.mutex.Unlock()
	return session.tree.SelectedTokenTotal()
}

// Report returns the report of the last applied load.
func (session *Session) Report() orchestrator.Report {
	session.mutex.Lock()
	defer session.mutex.Unlock()
	return session.report
}

// Kind returns the estimator of the last applied load.
func (session *Session) Kind() tokenizer.Kind {
	session.mutex.Lock()
	defer session.mutex.Unlock()
	return session.kind
}

// Close cancels any load in flight, flushes the token cache and releases it.
func (session *Session) Close(ctx context.Context) error {
	session.mutex.Lock()
	if session.closed {
		session.mutex.Unlock()
		return nil
	}
	session.closed = true
	session.mutex.Unlock()
	session.stop()
	if closeError := session.orchestrator.Close(ctx); closeError != nil {
		return fmt.Errorf("close workspace %s: %w", session.Root(), closeError)
	}
	return nil
}
