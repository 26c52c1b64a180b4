package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/antoniostano/callvoice/internal/tenant"
	"github.com/antoniostano/callvoice/internal/vad"
)

// Options configure every session the registry creates.
type Options struct {
	QueueSize         int
	Overflow          OverflowPolicy
	Threshold         float64
	MaxSessions       int
	InactivityTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}
	if o.Overflow == "" {
		o.Overflow = OverflowDropOldest
	}
	if o.Threshold <= 0 || o.Threshold >= 1 {
		o.Threshold = vad.DefaultThreshold
	}
	if o.InactivityTimeout <= 0 {
		o.InactivityTimeout = 2 * time.Minute
	}
	return o
}

// Info is a read-only view of a live session.
type Info struct {
	CallID       string    `json:"call_id"`
	TenantID     string    `json:"tenant_id"`
	StartedAt    time.Time `json:"started_at"`
	LastActivity time.Time `json:"last_activity_at"`
	Queued       int       `json:"queued_frames"`
	Dropped      uint64    `json:"dropped_frames"`
	Turns        uint64    `json:"turns"`
	Degraded     uint64    `json:"degraded_turns"`
}

// Registry maps call ids to live sessions and owns their lifecycle.
type Registry struct {
	parent context.Context
	opts   Options
	slots  *semaphore.Weighted

	mu       sync.RWMutex
	sessions map[string]*CallSession
	onRemove func(*CallSession, error)
}

// NewRegistry builds an empty registry. Session contexts derive from parent so
// cancelling it tears every session down.
func NewRegistry(parent context.Context, opts Options) *Registry {
	opts = opts.withDefaults()
	r := &Registry{
		parent:   parent,
		opts:     opts,
		sessions: make(map[string]*CallSession),
	}
	if opts.MaxSessions > 0 {
		r.slots = semaphore.NewWeighted(int64(opts.MaxSessions))
	}
	return r
}

func (r *Registry) SetRemoveHook(hook func(*CallSession, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onRemove = hook
}

// Create publishes a fully built session for callID. A live session with the
// same id is left untouched and ErrDuplicateSession is returned.
func (r *Registry) Create(callID string, transport Transport, creds tenant.Credentials) (*CallSession, error) {
	if callID == "" {
		return nil, fmt.Errorf("%w: empty call id", ErrSessionNotFound)
	}

	r.mu.RLock()
	_, exists := r.sessions[callID]
	r.mu.RUnlock()
	if exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateSession, callID)
	}

	if r.slots != nil && !r.slots.TryAcquire(1) {
		return nil, fmt.Errorf("%w: %d active", ErrCapacity, r.opts.MaxSessions)
	}

	s := newCallSession(r.parent, callID, transport, creds, r.opts)

	r.mu.Lock()
	if _, exists := r.sessions[callID]; exists {
		r.mu.Unlock()
		s.cancel(ErrDuplicateSession)
		r.release()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateSession, callID)
	}
	r.sessions[callID] = s
	r.mu.Unlock()
	return s, nil
}

func (r *Registry) Lookup(callID string) (*CallSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[callID]
	return s, ok
}

// Remove tears down the session for callID. Removing an absent id is a no-op
// and reports false.
func (r *Registry) Remove(callID string, cause error) bool {
	r.mu.Lock()
	s, ok := r.sessions[callID]
	if ok {
		delete(r.sessions, callID)
	}
	hook := r.onRemove
	r.mu.Unlock()
	if !ok {
		return false
	}
	r.teardown(s, cause, hook)
	return true
}

// Detach removes s only if it is still the live session for its id, so a
// finished session cannot evict a newer one that reused the call id.
func (r *Registry) Detach(s *CallSession, cause error) bool {
	r.mu.Lock()
	cur, ok := r.sessions[s.id]
	if ok && cur == s {
		delete(r.sessions, s.id)
	}
	hook := r.onRemove
	r.mu.Unlock()
	if !ok || cur != s {
		return false
	}
	r.teardown(s, cause, hook)
	return true
}

func (r *Registry) teardown(s *CallSession, cause error, hook func(*CallSession, error)) {
	_ = s.close(cause)
	r.release()
	if hook != nil {
		hook(s, s.Cause())
	}
}

func (r *Registry) release() {
	if r.slots != nil {
		r.slots.Release(1)
	}
}

func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Snapshot lists live sessions ordered by start time.
func (r *Registry) Snapshot() []Info {
	r.mu.RLock()
	out := make([]Info, 0, len(r.sessions))
	for _, s := range r.sessions {
		turns, degraded := s.Turns()
		out = append(out, Info{
			CallID:       s.id,
			TenantID:     s.creds.TenantID,
			StartedAt:    s.startedAt,
			LastActivity: s.LastActivity(),
			Queued:       s.Queued(),
			Dropped:      s.Dropped(),
			Turns:        turns,
			Degraded:     degraded,
		})
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// CloseAll tears down every live session, used at shutdown.
func (r *Registry) CloseAll(cause error) {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	for _, id := range ids {
		r.Remove(id, cause)
	}
}

func (r *Registry) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.expireInactive()
			}
		}
	}()
}

func (r *Registry) expireInactive() {
	now := time.Now()
	var stale []*CallSession

	r.mu.RLock()
	for _, s := range r.sessions {
		if now.Sub(s.LastActivity()) >= r.opts.InactivityTimeout {
			stale = append(stale, s)
		}
	}
	r.mu.RUnlock()

	for _, s := range stale {
		r.Detach(s, ErrSessionIdle)
	}
}
