// Package session owns the membership relation between live connections and
// named review sessions. All mutation goes through Registry, which keeps the
// forward (session -> members) and inverse (connection -> session) maps
// consistent under a single lock.
package session

import "sync"

// Member describes one joined connection with the user reference supplied at
// join time. The user reference is trusted as-is; verification happens
// upstream of the relay.
type Member struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId"`
	Username     string `json:"username"`
}

// LeaveResult reports a departure: which session was left, who left, and who
// is still there. Remaining is empty when the session was garbage-collected.
type LeaveResult struct {
	SessionID string
	Member    Member
	Remaining []Member
}

// JoinResult reports a join. Members is the post-join member set including
// the joiner. Left is non-nil when the connection was moved out of another
// session as part of the join.
type JoinResult struct {
	SessionID string
	Members   []Member
	Left      *LeaveResult
}

// Registry is the single owner of session membership. A connection belongs
// to at most one session; a session with no members does not exist.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]map[string]Member // sessionID -> connectionID -> member
	byConn   map[string]string            // connectionID -> sessionID
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]map[string]Member),
		byConn:   make(map[string]string),
	}
}

// Join adds the connection to sessionID, creating the session if absent.
// If the connection is already in a different session it is removed from
// that session first, in the same critical section, so no caller ever
// observes it in two sessions. Rejoining the current session just refreshes
// the stored user reference.
func (r *Registry) Join(connID, sessionID, userID, username string) JoinResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	member := Member{ConnectionID: connID, UserID: userID, Username: username}
	result := JoinResult{SessionID: sessionID}

	if prev, ok := r.byConn[connID]; ok && prev != sessionID {
		left := r.removeLocked(connID, prev)
		result.Left = &left
	}

	if r.sessions[sessionID] == nil {
		r.sessions[sessionID] = make(map[string]Member)
	}
	r.sessions[sessionID][connID] = member
	r.byConn[connID] = sessionID

	result.Members = r.membersLocked(sessionID)
	return result
}

// Leave removes the connection from whatever session it is in. Returns
// false when the connection was not joined anywhere; callers treat that as
// a no-op, not an error.
func (r *Registry) Leave(connID string) (LeaveResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessionID, ok := r.byConn[connID]
	if !ok {
		return LeaveResult{}, false
	}
	return r.removeLocked(connID, sessionID), true
}

// MembersOf returns a snapshot of the connection ids joined to sessionID.
// Unknown sessions yield an empty slice.
func (r *Registry) MembersOf(sessionID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	members := r.sessions[sessionID]
	ids := make([]string, 0, len(members))
	for connID := range members {
		ids = append(ids, connID)
	}
	return ids
}

// Participants returns a snapshot of the full member records for sessionID.
func (r *Registry) Participants(sessionID string) []Member {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.membersLocked(sessionID)
}

// SessionOf returns the session the connection is currently joined to.
func (r *Registry) SessionOf(connID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sessionID, ok := r.byConn[connID]
	return sessionID, ok
}

// SessionCount reports the number of live sessions, for metrics.
func (r *Registry) SessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// removeLocked deletes the membership entry and garbage-collects the session
// when its member set empties. Caller holds r.mu.
func (r *Registry) removeLocked(connID, sessionID string) LeaveResult {
	member := r.sessions[sessionID][connID]
	delete(r.sessions[sessionID], connID)
	delete(r.byConn, connID)
	if len(r.sessions[sessionID]) == 0 {
		delete(r.sessions, sessionID)
	}
	return LeaveResult{
		SessionID: sessionID,
		Member:    member,
		Remaining: r.membersLocked(sessionID),
	}
}

func (r *Registry) membersLocked(sessionID string) []Member {
	members := r.sessions[sessionID]
	out := make([]Member, 0, len(members))
	for _, m := range members {
		out = append(out, m)
	}
	return out
}
