package bridge

import (
	"errors"
	"sort"
	"sync"
)

var ErrDuplicateConn = errors.New("connection already registered")

// Registry tracks live connections so diagnostics can list them and shutdown
// can close them. Keyed by connection id, not the client session id, because
// the session id only becomes known after the first start frame.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

func (r *Registry) Register(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[s.ConnID]; exists {
		return ErrDuplicateConn
	}
	r.sessions[s.ConnID] = s
	return nil
}

func (r *Registry) Remove(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, connID)
}

func (r *Registry) Get(connID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[connID]
	return s, ok
}

func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Snapshot returns diagnostics for every live connection, ordered by
// connection age (oldest first) with the connection id as a tiebreaker.
func (r *Registry) Snapshot() []SessionInfo {
	r.mu.RLock()
	infos := make([]SessionInfo, 0, len(r.sessions))
	for _, s := range r.sessions {
		infos = append(infos, s.Info())
	}
	r.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		if !infos[i].ConnectedAt.Equal(infos[j].ConnectedAt) {
			return infos[i].ConnectedAt.Before(infos[j].ConnectedAt)
		}
		return infos[i].ConnID < infos[j].ConnID
	})
	return infos
}

// CloseAll force-closes every registered connection. Used on shutdown; the
// websocket handlers remove themselves from the registry as they unwind.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	for _, s := range sessions {
		s.CloseNow()
	}
}
