package workspace

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/temirov/ctxload/internal/utils"
)

// Manager holds the single open workspace. Opening a workspace closes the
// previous one first, so a load started for one workspace can never be applied
// to another.
type Manager struct {
	options Options
	logger  *zap.Logger

	mutex   sync.Mutex
	current *Session
}

// NewManager constructs a Manager whose sessions use options.
func NewManager(options Options) *Manager {
	return &Manager{options: options, logger: utils.LoggerOrNop(options.Logger)}
}

// Open closes the current session, if any, and opens workspaceRoot.
func (manager *Manager) Open(ctx context.Context, workspaceRoot string) (*Session, error) {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()
	if manager.current != nil {
		if closeError := manager.current.Close(ctx); closeError != nil {
			manager.logger.Warn("closing previous workspace failed", zap.Error(closeError))
		}
		manager.current = nil
	}
	session, sessionError := NewSession(ctx, workspaceRoot, manager.options)
	if sessionError != nil {
		return nil, sessionError
	}
	manager.current = session
	return session, nil
}

// Current returns the open session, or nil.
func (manager *Manager) Current() *Session {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()
	return manager.current
}

// Close closes the open session.
func (manager *Manager) Close(ctx context.Context) error {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()
	if manager.current == nil {
		return nil
	}
	closeError := manager.current.Close(ctx)
	manager.current = nil
	return closeError
}
