package relay

import (
	"sort"
	"sync"
)

// Tracker owns the ephemeral, session-scoped presence state: the global set
// of online users, per-scope typing sets, and per-scope member lists. The
// sets are mutated only by explicit events — typing entries have no
// client-side expiry, a stop event is the only thing that clears them — and
// the whole tracker is rebuilt from the users:initial_status snapshot after
// every (re)connect, so stale entries never survive a dropped connection.
type Tracker struct {
	mu      sync.RWMutex
	online  map[string]struct{}
	typing  map[Scope]map[string]struct{}
	members map[Scope][]string
}

// NewTracker creates an empty presence tracker.
func NewTracker() *Tracker {
	t := &Tracker{}
	t.resetLocked()
	return t
}

func (t *Tracker) resetLocked() {
	t.online = make(map[string]struct{})
	t.typing = make(map[Scope]map[string]struct{})
	t.members = make(map[Scope][]string)
}

// Reset clears all presence state. Called on reconnect, before the server's
// fresh snapshot arrives.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetLocked()
}

// ── Online set ───────────────────────────────────────────────────────────

// SetInitial replaces the online set with the server's full snapshot.
func (t *Tracker) SetInitial(online []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.online = make(map[string]struct{}, len(online))
	for _, id := range online {
		t.online[id] = struct{}{}
	}
}

// SetOnline marks a user online.
func (t *Tracker) SetOnline(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.online[userID] = struct{}{}
}

// SetOffline marks a user offline.
func (t *Tracker) SetOffline(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.online, userID)
}

// IsOnline reports whether a user is currently online.
func (t *Tracker) IsOnline(userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.online[userID]
	return ok
}

// Online returns the online user IDs, sorted.
func (t *Tracker) Online() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return sortedKeys(t.online)
}

// ── Typing sets ──────────────────────────────────────────────────────────

// SetTyping adds or removes a user from a scope's typing set. A start for a
// user already typing is idempotent.
func (t *Tracker) SetTyping(scope Scope, userID string, typing bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	set, ok := t.typing[scope]
	if !ok {
		if !typing {
			return
		}
		set = make(map[string]struct{})
		t.typing[scope] = set
	}
	if typing {
		set[userID] = struct{}{}
	} else {
		delete(set, userID)
	}
}

// Typing returns the user IDs currently typing in a scope, sorted.
func (t *Tracker) Typing(scope Scope) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return sortedKeys(t.typing[scope])
}

// ── Scope members ────────────────────────────────────────────────────────

// SetMembers replaces a scope's member list.
func (t *Tracker) SetMembers(scope Scope, users []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.members[scope] = append([]string{}, users...)
}

// AddMember records a user joining a scope.
func (t *Tracker) AddMember(scope Scope, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range t.members[scope] {
		if id == userID {
			return
		}
	}
	t.members[scope] = append(t.members[scope], userID)
}

// RemoveMember records a user leaving a scope. Their typing entry for the
// scope is cleared with them.
func (t *Tracker) RemoveMember(scope Scope, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	members := t.members[scope]
	for i, id := range members {
		if id == userID {
			t.members[scope] = append(members[:i], members[i+1:]...)
			break
		}
	}
	if set, ok := t.typing[scope]; ok {
		delete(set, userID)
	}
}

// Members returns a scope's member list.
func (t *Tracker) Members(scope Scope) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]string{}, t.members[scope]...)
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
