// Package abort tracks the cancellation handle of every active run, keyed
// by session. At most one handle exists per session key.
package abort

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

var (
	// ErrAlreadyActive is returned by Register when the session already has a run.
	ErrAlreadyActive = errors.New("session already has an active run")

	// ErrEmptyKey is returned by Register for an empty session key.
	ErrEmptyKey = errors.New("session key is required")
)

// Handle is the cooperative cancellation flag for one run.
type Handle struct {
	key      string
	token    string
	aborted  atomic.Bool
	released atomic.Bool
	cancel   context.CancelFunc
	done     <-chan struct{}
	registry *Registry
}

// SessionKey returns the session the handle belongs to.
func (h *Handle) SessionKey() string { return h.key }

// Aborted reports whether Signal has been called for this run.
func (h *Handle) Aborted() bool { return h != nil && h.aborted.Load() }

// Done is closed when the run is signalled or released.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Release removes the handle from its registry. Only the first call has
// any effect; it reports whether this call performed the release.
func (h *Handle) Release() bool {
	if h == nil || !h.released.CompareAndSwap(false, true) {
		return false
	}
	h.registry.remove(h)
	h.cancel()
	return true
}

func (h *Handle) signal() {
	h.aborted.Store(true)
	h.cancel()
}

// Registry maps session keys to active run handles.
type Registry struct {
	mu      sync.Mutex
	handles map[string]*Handle
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handles: make(map[string]*Handle)}
}

// Register creates the handle for a new run. The returned context is
// derived from ctx and cancelled on Signal or Release.
func (r *Registry) Register(ctx context.Context, sessionKey string) (*Handle, context.Context, error) {
	if sessionKey == "" {
		return nil, nil, ErrEmptyKey
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handles[sessionKey]; ok {
		return nil, nil, ErrAlreadyActive
	}

	runCtx, cancel := context.WithCancel(ctx)
	h := &Handle{
		key:      sessionKey,
		token:    uuid.NewString(),
		cancel:   cancel,
		done:     runCtx.Done(),
		registry: r,
	}
	r.handles[sessionKey] = h
	return h, runCtx, nil
}

// Signal marks the session's run as aborted. It is idempotent and reports
// whether a run was active.
func (r *Registry) Signal(sessionKey string) bool {
	r.mu.Lock()
	h, ok := r.handles[sessionKey]
	r.mu.Unlock()
	if !ok {
		return false
	}
	h.signal()
	return true
}

// IsAborted reports whether the handle's run has been signalled.
func (r *Registry) IsAborted(h *Handle) bool {
	return h.Aborted()
}

// Release removes the session's handle. A second call reports false.
func (r *Registry) Release(sessionKey string) bool {
	r.mu.Lock()
	h, ok := r.handles[sessionKey]
	r.mu.Unlock()
	if !ok {
		return false
	}
	return h.Release()
}

// Active reports whether a run is registered for the session.
func (r *Registry) Active(sessionKey string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.handles[sessionKey]
	return ok
}

// Keys returns the session keys with active runs.
func (r *Registry) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.handles))
	for k := range r.handles {
		keys = append(keys, k)
	}
	return keys
}

// Len returns the number of active runs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

func (r *Registry) remove(h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.handles[h.key]; ok && current.token == h.token {
		delete(r.handles, h.key)
	}
}
