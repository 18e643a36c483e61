package handlers

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/oogiv/oogiv-web/internal/session"
)

var errRegistryClosed = errors.New("session registry is closed")

// registry keeps one session manager per browser session. A manager is evicted once it has been
// idle for longer than the idle timeout, or explicitly when its session is cleared. Everything a
// manager holds is persisted, so an evicted session is restored from storage on its next request.
type registry struct {
	open   func(ctx context.Context, sessionID string) (*session.Manager, error)
	idle   time.Duration
	now    func() time.Time
	logger *slog.Logger

	mu       sync.Mutex
	managers map[string]*registryEntry
	closed   bool
	done     chan struct{}
}

type registryEntry struct {
	mgr      *session.Manager
	lastUsed time.Time
}

func newRegistry(
	idle time.Duration,
	logger *slog.Logger,
	open func(ctx context.Context, sessionID string) (*session.Manager, error),
) *registry {
	return &registry{
		open:     open,
		idle:     idle,
		now:      time.Now,
		logger:   logger,
		managers: make(map[string]*registryEntry),
		done:     make(chan struct{}),
	}
}

// get returns the manager of sessionID, restoring it from storage on first use.
func (r *registry) get(ctx context.Context, sessionID string) (*session.Manager, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, errRegistryClosed
	}
	if e, ok := r.managers[sessionID]; ok {
		e.lastUsed = r.now()
		return e.mgr, nil
	}

	m, err := r.open(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	r.managers[sessionID] = &registryEntry{mgr: m, lastUsed: r.now()}
	return m, nil
}

// evict closes the manager of sessionID, if any.
func (r *registry) evict(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.managers[sessionID]; ok {
		e.mgr.Close()
		delete(r.managers, sessionID)
	}
}

// sweep evicts the managers that were not used for the idle timeout and have nothing in flight.
// It returns the number of evicted managers.
func (r *registry) sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.idle)
	var n int
	for id, e := range r.managers {
		if e.lastUsed.After(cutoff) || e.mgr.State() != session.Idle || e.mgr.Pending() > 0 {
			continue
		}
		e.mgr.Close()
		delete(r.managers, id)
		n++
	}
	return n
}

// size returns the number of managers held.
func (r *registry) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.managers)
}

// run sweeps every interval until closeAll is called.
func (r *registry) run(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			if n := r.sweep(); n > 0 {
				r.logger.Debug("Evicted idle sessions", slog.Int("count", n), slog.Int("remaining", r.size()))
			}
		}
	}
}

// closeAll closes every manager and stops run. Later calls of get fail.
func (r *registry) closeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		close(r.done)
	}
	r.closed = true
	for id, e := range r.managers {
		e.mgr.Close()
		delete(r.managers, id)
	}
}
