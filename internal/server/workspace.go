package server

import (
	"context"
	"sync"
	"time"

	"github.com/woozymasta/mapnote/internal/editor"
	"github.com/woozymasta/mapnote/internal/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Workspace is the editor of one logged-in session.
type Workspace struct {
	ID     uuid.UUID
	Editor *editor.Editor

	mu       sync.Mutex
	lastSeen time.Time

	done      chan struct{}
	closeOnce sync.Once
}

// Done is closed when the workspace is logged out or evicted.
func (w *Workspace) Done() <-chan struct{} { return w.done }

func (w *Workspace) close() {
	w.closeOnce.Do(func() { close(w.done) })
}

func (w *Workspace) closed() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

func (w *Workspace) touch(now time.Time) {
	w.mu.Lock()
	w.lastSeen = now
	w.mu.Unlock()
}

func (w *Workspace) idleSince() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastSeen
}

// Registry holds the open workspaces and evicts idle ones.
type Registry struct {
	mu    sync.RWMutex
	items map[uuid.UUID]*Workspace
	ttl   time.Duration
	now   func() time.Time

	// OnEvict runs after a workspace was dropped for inactivity.
	OnEvict func(id uuid.UUID)
}

// NewRegistry creates a registry dropping workspaces idle for longer than ttl.
func NewRegistry(ttl time.Duration) *Registry {
	return &Registry{items: make(map[uuid.UUID]*Workspace), ttl: ttl, now: time.Now}
}

// Create registers a workspace for id around ed.
func (r *Registry) Create(id uuid.UUID, ed *editor.Editor) *Workspace {
	ws := &Workspace{ID: id, Editor: ed, lastSeen: r.now(), done: make(chan struct{})}

	r.mu.Lock()
	r.items[id] = ws
	n := len(r.items)
	r.mu.Unlock()

	metrics.Workspaces.Set(float64(n))
	return ws
}

// Get returns the workspace of id and marks it as active.
func (r *Registry) Get(id uuid.UUID) (*Workspace, bool) {
	r.mu.RLock()
	ws, ok := r.items[id]
	r.mu.RUnlock()

	if ok {
		ws.touch(r.now())
	}
	return ws, ok
}

// Delete drops the workspace of id and closes it.
func (r *Registry) Delete(id uuid.UUID) {
	r.mu.Lock()
	ws, ok := r.items[id]
	delete(r.items, id)
	n := len(r.items)
	r.mu.Unlock()

	if ok {
		ws.close()
	}
	metrics.Workspaces.Set(float64(n))
}

// Len returns the number of open workspaces.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// Evict drops every workspace idle for longer than the TTL and returns their ids.
func (r *Registry) Evict() []uuid.UUID {
	deadline := r.now().Add(-r.ttl)

	r.mu.Lock()
	var evicted []uuid.UUID
	for id, ws := range r.items {
		if ws.idleSince().Before(deadline) {
			delete(r.items, id)
			ws.close()
			evicted = append(evicted, id)
		}
	}
	n := len(r.items)
	r.mu.Unlock()

	metrics.Workspaces.Set(float64(n))
	for _, id := range evicted {
		log.Info().Stringer("session", id).Msg("Idle workspace evicted")
		if r.OnEvict != nil {
			r.OnEvict(id)
		}
	}
	return evicted
}

// Run evicts idle workspaces periodically until ctx is done.
func (r *Registry) Run(ctx context.Context) {
	interval := r.ttl / 4
	if interval < time.Minute {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Evict()
		}
	}
}
