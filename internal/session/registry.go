package session

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry owns every Session, keyed by the caller's session id.
type Registry struct {
	deps Deps

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry(deps Deps) *Registry {
	return &Registry{deps: deps, sessions: make(map[string]*Session)}
}

// GetOrCreate returns the session for id, creating an idle one on first use.
func (r *Registry) GetOrCreate(id string) (*Session, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrInvalidID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		s = newSession(id, r.deps)
		r.sessions[id] = s
	}
	return s, nil
}

func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %q: %w", id, ErrSessionNotFound)
	}
	return s, nil
}

// Remove forgets the session. It does not stop it.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// RemoveIfIdle forgets the session only when it is not recording, so a
// session restarted by another caller in the meantime is kept.
func (r *Registry) RemoveIfIdle(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[id]; ok && s.Status().State == Idle {
		delete(r.sessions, id)
	}
}

// All returns every session ordered by id.
func (r *Registry) All() []*Session {
	r.mu.Lock()
	list := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		list = append(list, s)
	}
	r.mu.Unlock()

	sort.Slice(list, func(i, j int) bool { return list[i].id < list[j].id })
	return list
}

// Active returns the sessions that are currently recording.
func (r *Registry) Active() []*Session {
	var active []*Session
	for _, s := range r.All() {
		if s.Status().Active {
			active = append(active, s)
		}
	}
	return active
}
