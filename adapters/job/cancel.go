package annotatejob

import (
	"context"
	"sync"

	"github.com/goliatone/go-annotate/annotate"
)

// CancelRegistry tracks running background exports by session.
type CancelRegistry struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewCancelRegistry creates a new registry for job cancellation.
func NewCancelRegistry() *CancelRegistry {
	return &CancelRegistry{cancels: make(map[string]context.CancelFunc)}
}

// Register associates a cancel func with a session ID.
func (r *CancelRegistry) Register(sessionID string, cancel context.CancelFunc) func() {
	if r == nil || sessionID == "" || cancel == nil {
		return func() {}
	}
	r.mu.Lock()
	r.cancels[sessionID] = cancel
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.cancels, sessionID)
		r.mu.Unlock()
	}
}

// Cancel stops the background export running for a session.
func (r *CancelRegistry) Cancel(ctx context.Context, sessionID string) error {
	_ = ctx
	if r == nil {
		return annotate.NewError(annotate.KindInternal, "cancel registry is nil", nil)
	}
	if sessionID == "" {
		return annotate.NewError(annotate.KindValidation, "session ID is required", nil)
	}

	r.mu.Lock()
	cancel, ok := r.cancels[sessionID]
	r.mu.Unlock()
	if !ok {
		return annotate.NewError(annotate.KindNotFound, "no export running for session", nil)
	}
	cancel()
	return nil
}

// Running reports whether a background export is in flight for a session.
func (r *CancelRegistry) Running(sessionID string) bool {
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.cancels[sessionID]
	return ok
}
