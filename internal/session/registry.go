package session

import (
	"context"
	"fmt"
	"sync"

	"payment_verification_gateway/internal/model"
)

type entry struct {
	status    model.Status
	cancelled bool
	cancel    context.CancelCauseFunc
}

// Registry maps session ids to live sessions. Sessions run on their own
// goroutines so every access goes through the mutex.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*entry
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*entry),
	}
}

// Create registers a pending session and returns its cancellation token.
// The token is done once the session is cancelled or the parent ends.
func (r *Registry) Create(parent context.Context, id string) (context.Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateSession, id)
	}

	ctx, cancel := context.WithCancelCause(parent)
	r.sessions[id] = &entry{
		status: model.StatusPending,
		cancel: cancel,
	}
	return ctx, nil
}

// Cancel flags a pending session as cancelled. It reports whether a live
// session accepted the cancellation; calling it again is a no-op.
func (r *Registry) Cancel(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[id]
	if !ok || e.status != model.StatusPending {
		return false
	}
	if !e.cancelled {
		e.cancelled = true
		e.cancel(ErrCancelled)
	}
	return true
}

func (r *Registry) IsCancelled(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[id]
	return ok && e.cancelled
}

// Commit moves a pending session to a terminal status. A match cannot be
// committed once cancellation has been accepted.
func (r *Registry) Commit(id string, status model.Status) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[id]
	if !ok || e.status != model.StatusPending || !status.IsTerminal() {
		return false
	}
	if status == model.StatusMatched && e.cancelled {
		return false
	}
	e.status = status
	return true
}

// Status returns the current status of a live session
func (r *Registry) Status(id string) (model.Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[id]
	if !ok {
		return "", false
	}
	return e.status, true
}

// Remove deletes the session and releases its token
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	e, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if ok {
		e.cancel(context.Canceled)
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
