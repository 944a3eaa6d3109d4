package session

import (
	"sort"
	"sync"
	"time"
)

// Registry maps tenant IDs to sessions. It is the single source of truth for
// which tenants are tracked; compound operations are serialized by the
// Manager.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Get returns the session for tenantID, or nil if it is not tracked.
func (r *Registry) Get(tenantID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[tenantID]
}

// Create tracks a new session in StateConnecting.
func (r *Registry) Create(tenantID string, now time.Time) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[tenantID]; ok {
		return nil, ErrAlreadyExists
	}
	s := &Session{
		TenantID:     tenantID,
		State:        StateConnecting,
		CreatedAt:    now,
		LastActiveAt: now,
	}
	r.sessions[tenantID] = s
	return s, nil
}

// Remove stops tracking tenantID. Removing an untracked tenant is a no-op.
func (r *Registry) Remove(tenantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, tenantID)
}

// Len returns the number of tracked sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// List returns the tracked sessions ordered by tenant ID.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TenantID < out[j].TenantID })
	return out
}
