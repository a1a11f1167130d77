package terminal

import (
	"sync"

	apperrors "github.com/termwright/opsagent/pkg/errors"
)

// Registry owns terminal sessions and enforces exclusive binding: a
// session may be bound to at most one AgentRun at a time.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]Session
	ownerOf  map[string]string // sessionID -> runID
}

// NewRegistry creates an empty terminal registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]Session),
		ownerOf:  make(map[string]string),
	}
}

// Add registers a session, unbound.
func (r *Registry) Add(s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID()] = s
}

// AddAs registers a session under an explicit id, decoupling the lookup
// key from the session's own ID(). The orchestrator uses this to give each
// worker's private registry a stable "default" alias for whichever real
// terminal it was dispatched to, so the worker's tool calls never need to
// know the terminal's real id.
func (r *Registry) AddAs(id string, s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[id] = s
}

// Remove unregisters and releases ownership of a session.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
	delete(r.ownerOf, sessionID)
}

// Get returns a registered session by id.
func (r *Registry) Get(sessionID string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	return s, ok
}

// Bind exclusively assigns sessionID to runID. Returns an error if the
// session is already bound to a different run.
func (r *Registry) Bind(sessionID, runID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sessionID]; !ok {
		return apperrors.NewTerminalNotFoundError(sessionID)
	}
	if owner, bound := r.ownerOf[sessionID]; bound && owner != runID {
		return apperrors.NewTerminalBusyError(sessionID, owner)
	}
	r.ownerOf[sessionID] = runID
	return nil
}

// Unbind releases ownership, if held by runID.
func (r *Registry) Unbind(sessionID, runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ownerOf[sessionID] == runID {
		delete(r.ownerOf, sessionID)
	}
}

// OwnerOf returns the run id currently owning sessionID, if any.
func (r *Registry) OwnerOf(sessionID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	owner, ok := r.ownerOf[sessionID]
	return owner, ok
}

// List returns the ids of all registered sessions.
func (r *Registry) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}
