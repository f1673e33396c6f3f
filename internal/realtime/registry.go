package realtime

import "sync"

// Sender is a live connection as seen by the registry.
type Sender interface {
	ID() string
	Send(payload []byte) error
	Close() error
}

type registration struct {
	conn   Sender
	userID int64
}

// Registry owns every live connection and the user it belongs to.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]registration
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]registration),
	}
}

func (r *Registry) Register(conn Sender, userID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[conn.ID()] = registration{conn: conn, userID: userID}
}

// Remove drops the connection and reports whether it was still registered.
func (r *Registry) Remove(connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[connID]; !ok {
		return false
	}
	delete(r.conns, connID)
	return true
}

// ForEach calls fn for a snapshot of the registrations taken under the
// lock; fn itself runs unlocked so slow sends don't block registration.
func (r *Registry) ForEach(fn func(connID string, conn Sender, userID int64)) {
	r.mu.RLock()
	snapshot := make([]registration, 0, len(r.conns))
	for _, reg := range r.conns {
		snapshot = append(snapshot, reg)
	}
	r.mu.RUnlock()

	for _, reg := range snapshot {
		fn(reg.conn.ID(), reg.conn, reg.userID)
	}
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// CloseAll closes and removes every connection. Used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[string]registration)
	r.mu.Unlock()

	for _, reg := range conns {
		_ = reg.conn.Close()
	}
}
