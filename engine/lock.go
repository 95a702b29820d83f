package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/learnobot/mediation/core"
)

// sessionLocks is the bounded pool of per-session mutual-exclusion tokens
// required by spec §5: turns for the same session_id are strictly
// serialized while turns from distinct sessions proceed concurrently.
// Each session's token is a binary (weighted-1) semaphore, created lazily
// on first use and kept for the engine's lifetime — an idle session just
// holds an unlocked entry, never evicted, since the spec does not require
// pool shrinkage and a long-lived process is expected to see a bounded
// number of distinct sessions relative to its memory budget.
type sessionLocks struct {
	timeout time.Duration

	mu     sync.Mutex
	tokens map[string]*semaphore.Weighted
}

func newSessionLocks(timeout time.Duration) *sessionLocks {
	return &sessionLocks{timeout: timeout, tokens: make(map[string]*semaphore.Weighted)}
}

func (l *sessionLocks) tokenFor(sessionID string) *semaphore.Weighted {
	l.mu.Lock()
	defer l.mu.Unlock()
	sem, ok := l.tokens[sessionID]
	if !ok {
		sem = semaphore.NewWeighted(1)
		l.tokens[sessionID] = sem
	}
	return sem
}

// acquire blocks until sessionID's token is held or the acquisition
// timeout (spec §5's suggested 30s) elapses, whichever comes first. The
// returned release func must be called exactly once.
func (l *sessionLocks) acquire(ctx context.Context, sessionID string) (release func(), err error) {
	sem := l.tokenFor(sessionID)

	acquireCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	if err := sem.Acquire(acquireCtx, 1); err != nil {
		return nil, fmt.Errorf("%w: session %s", core.ErrSessionLocked, sessionID)
	}
	return func() { sem.Release(1) }, nil
}
