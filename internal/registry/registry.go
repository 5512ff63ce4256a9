package registry

import (
	"sort"
	"strings"
	"sync"
)

// ClientType separates the driver and monitor namespaces.
type ClientType string

const (
	// ClientDriver identifies vehicle-tracking clients.
	ClientDriver ClientType = "driver"
	// ClientMonitor identifies dashboard clients.
	ClientMonitor ClientType = "monitor"
)

// Valid reports whether the client type is one of the two known namespaces.
func (t ClientType) Valid() bool {
	return t == ClientDriver || t == ClientMonitor
}

// Session is the transport handle bound to a logical client identity. Send
// reports whether the payload was accepted for delivery so callers can treat
// unreachable peers as queued rather than failed.
type Session interface {
	SessionID() string
	Send(event string, payload any) bool
}

type binding struct {
	clientType ClientType
	clientID   string
}

// Registry maps logical client identities to active transport sessions, one
// namespace per client type. Last registration wins on identity collisions.
type Registry struct {
	mu       sync.RWMutex
	drivers  map[string]Session
	monitors map[string]Session
	bySess   map[string]binding
}

// New constructs an empty connection registry.
func New() *Registry {
	return &Registry{
		//1.- Keep the driver and monitor namespaces separate so identities never collide.
		drivers:  make(map[string]Session),
		monitors: make(map[string]Session),
		//2.- Track the reverse mapping so disconnects and re-identification stay O(1).
		bySess: make(map[string]binding),
	}
}

// Register binds clientID to the session in the type-specific namespace and
// returns the superseded session when a different live session held the id.
func (r *Registry) Register(clientType ClientType, clientID string, session Session) (Session, bool) {
	if r == nil || session == nil || !clientType.Valid() {
		return nil, false
	}
	trimmed := strings.TrimSpace(clientID)
	if trimmed == "" {
		return nil, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	//1.- Release any identity this session already holds so re-binding never
	// leaves the old id pointing at this socket.
	if bound, ok := r.bySess[session.SessionID()]; ok && (bound.clientType != clientType || bound.clientID != trimmed) {
		if current, live := r.namespaceLocked(bound.clientType)[bound.clientID]; live && current != nil && current.SessionID() == session.SessionID() {
			delete(r.namespaceLocked(bound.clientType), bound.clientID)
		}
	}

	namespace := r.namespaceLocked(clientType)
	previous, had := namespace[trimmed]
	//2.- Last registration wins so reconnects with the same id displace stale sockets.
	namespace[trimmed] = session
	r.bySess[session.SessionID()] = binding{clientType: clientType, clientID: trimmed}
	if had && previous != nil && previous.SessionID() != session.SessionID() {
		//3.- Drop the evicted session's reverse entry so its disconnect is a no-op.
		delete(r.bySess, previous.SessionID())
		return previous, true
	}
	return nil, false
}

// Identify re-keys an already connected session under a caller-supplied id and
// returns the id it previously held plus any superseded session for the new id.
func (r *Registry) Identify(session Session, clientType ClientType, newID string) (previousID string, superseded Session) {
	if r == nil || session == nil || !clientType.Valid() {
		return "", nil
	}
	trimmed := strings.TrimSpace(newID)
	if trimmed == "" {
		return "", nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	//1.- Release the session's current binding before claiming the new identity.
	if bound, ok := r.bySess[session.SessionID()]; ok {
		if bound.clientType == clientType && bound.clientID == trimmed {
			//2.- Re-identifying under the same id is idempotent.
			return trimmed, nil
		}
		delete(r.namespaceLocked(bound.clientType), bound.clientID)
		previousID = bound.clientID
	}

	namespace := r.namespaceLocked(clientType)
	if prior, ok := namespace[trimmed]; ok && prior != nil && prior.SessionID() != session.SessionID() {
		delete(r.bySess, prior.SessionID())
		superseded = prior
	}
	namespace[trimmed] = session
	r.bySess[session.SessionID()] = binding{clientType: clientType, clientID: trimmed}
	return previousID, superseded
}

// Unregister removes the binding for clientID. Downstream state is untouched.
func (r *Registry) Unregister(clientType ClientType, clientID string) {
	if r == nil || !clientType.Valid() {
		return
	}
	trimmed := strings.TrimSpace(clientID)
	if trimmed == "" {
		return
	}
	r.mu.Lock()
	if session, ok := r.namespaceLocked(clientType)[trimmed]; ok {
		delete(r.namespaceLocked(clientType), trimmed)
		if session != nil {
			delete(r.bySess, session.SessionID())
		}
	}
	r.mu.Unlock()
}

// Drop removes whatever binding the session currently holds and reports it so
// the caller can demote the matching driver record.
func (r *Registry) Drop(session Session) (ClientType, string, bool) {
	if r == nil || session == nil {
		return "", "", false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	bound, ok := r.bySess[session.SessionID()]
	if !ok {
		return "", "", false
	}
	//1.- Only clear the namespace slot when this session still owns it.
	if current, live := r.namespaceLocked(bound.clientType)[bound.clientID]; live && current != nil && current.SessionID() == session.SessionID() {
		delete(r.namespaceLocked(bound.clientType), bound.clientID)
	}
	delete(r.bySess, session.SessionID())
	return bound.clientType, bound.clientID, true
}

// Resolve returns the session bound to clientID, or false when not connected.
func (r *Registry) Resolve(clientType ClientType, clientID string) (Session, bool) {
	if r == nil || !clientType.Valid() {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.namespaceLocked(clientType)[strings.TrimSpace(clientID)]
	return session, ok && session != nil
}

// MonitorSessions snapshots every connected monitor for broadcast fan-out.
func (r *Registry) MonitorSessions() []Session {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	//1.- Copy under the read lock so fan-out never races registration changes.
	sessions := make([]Session, 0, len(r.monitors))
	ids := make([]string, 0, len(r.monitors))
	for id := range r.monitors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if session := r.monitors[id]; session != nil {
			sessions = append(sessions, session)
		}
	}
	return sessions
}

// Counts reports how many drivers and monitors are currently bound.
func (r *Registry) Counts() (drivers, monitors int) {
	if r == nil {
		return 0, 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.drivers), len(r.monitors)
}

func (r *Registry) namespaceLocked(clientType ClientType) map[string]Session {
	if clientType == ClientMonitor {
		return r.monitors
	}
	return r.drivers
}
