package irc

import (
	"log"
	"net"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/irc4go/ircd/irc/auth"
)

// nicknameRE is the nickname grammar: a letter followed by letters, digits,
// underscore or hyphen. Length is checked separately against the configured
// maximum.
var nicknameRE = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)

// ClaimResult is the outcome of a nickname claim or rename.
type ClaimResult int

const (
	ClaimOK ClaimResult = iota
	ClaimInUse
	ClaimInvalid
)

// UserRegistry owns every connected Session and is the single writer of the
// nickname->session, username->session and connection->session mappings.
// Claim, rename and remove are compound atomic actions under one mutex so
// concurrent claims of the same nickname cannot both succeed.
type UserRegistry struct {
	mu         sync.RWMutex
	byID       map[string]*Session
	byNickname map[string]*Session
	byUsername map[string]*Session

	maxNicknameLength int
	stats             *ServerStats

	// onEvict is invoked (on its own goroutine) when a delivery failure
	// forces a recipient's removal; the server wires this to the standard
	// session teardown so eviction and QUIT share one path.
	onEvict func(*Session, string)
}

// NewUserRegistry creates an empty user registry.
func NewUserRegistry(maxNicknameLength int, stats *ServerStats) *UserRegistry {
	return &UserRegistry{
		byID:              make(map[string]*Session),
		byNickname:        make(map[string]*Session),
		byUsername:        make(map[string]*Session),
		maxNicknameLength: maxNicknameLength,
		stats:             stats,
	}
}

// SetEvictHandler wires the teardown path used for delivery-failure
// eviction. Must be called before the first Send.
func (r *UserRegistry) SetEvictHandler(fn func(*Session, string)) {
	r.onEvict = fn
}

// BeginSession creates a Session bound to the connection's remote address
// and registers it under a fresh connection id.
func (r *UserRegistry) BeginSession(conn net.Conn) *Session {
	now := time.Now()
	s := &Session{
		id:           uuid.NewString(),
		conn:         conn,
		hostname:     conn.RemoteAddr().String(),
		role:         auth.RoleUser,
		connectedAt:  now,
		lastActivity: now,
		channels:     make(map[string]bool),
		writer:       newSessionWriter(conn),
	}

	r.mu.Lock()
	r.byID[s.id] = s
	r.mu.Unlock()

	return s
}

// ValidNickname reports whether a nickname matches the grammar and length
// limit.
func (r *UserRegistry) ValidNickname(nick string) bool {
	return nick != "" && len(nick) <= r.maxNicknameLength && nicknameRE.MatchString(nick)
}

// ClaimNickname atomically claims a nickname for a session that has none
// yet. Exactly one of several concurrent claimants for the same nickname
// succeeds.
func (r *UserRegistry) ClaimNickname(s *Session, nick string) ClaimResult {
	if !r.ValidNickname(nick) {
		return ClaimInvalid
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.byNickname[nick]; taken {
		return ClaimInUse
	}
	r.byNickname[nick] = s
	s.setNickname(nick)
	return ClaimOK
}

// RenameNickname atomically moves a session from old to new. The caller is
// responsible for announcing the rename to the session's channels.
func (r *UserRegistry) RenameNickname(old, new string) ClaimResult {
	if !r.ValidNickname(new) {
		return ClaimInvalid
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.byNickname[new]; taken {
		return ClaimInUse
	}
	s, exists := r.byNickname[old]
	if !exists {
		return ClaimInvalid
	}
	delete(r.byNickname, old)
	r.byNickname[new] = s
	s.setNickname(new)
	return ClaimOK
}

// SetUsername records the USER identity for a session and indexes it.
func (r *UserRegistry) SetUsername(s *Session, username, realname string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s.setUser(username, realname)
	// Usernames are not unique the way nicknames are. The index keeps the
	// first session that claimed a username so a later duplicate cannot
	// steal the mapping out from under it.
	if _, taken := r.byUsername[username]; !taken {
		r.byUsername[username] = s
	}
}

// GetByNickname resolves a nickname to its live session, nil when offline.
func (r *UserRegistry) GetByNickname(nick string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byNickname[nick]
}

// GetByUsername resolves a username to its live session, nil when offline.
func (r *UserRegistry) GetByUsername(username string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byUsername[username]
}

// Count returns the number of live connections.
func (r *UserRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Sessions returns a snapshot of all live sessions.
func (r *UserRegistry) Sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Session, 0, len(r.byID))
	for _, s := range r.byID {
		out = append(out, s)
	}
	return out
}

// RemoveSession detaches a session from every mapping and releases its
// connection. Idempotent.
func (r *UserRegistry) RemoveSession(s *Session) {
	r.mu.Lock()
	if _, live := r.byID[s.id]; live {
		delete(r.byID, s.id)
		if nick := s.Nickname(); nick != "" && r.byNickname[nick] == s {
			delete(r.byNickname, nick)
		}
		if user := s.Username(); user != "" && r.byUsername[user] == s {
			delete(r.byUsername, user)
		}
	}
	r.mu.Unlock()

	s.close()
}

// Remove detaches the session holding the nickname. Idempotent.
func (r *UserRegistry) Remove(nick string) {
	if s := r.GetByNickname(nick); s != nil {
		r.RemoveSession(s)
	}
}

// Send delivers one line to the named session. A write failure evicts the
// recipient without affecting delivery to anyone else.
func (r *UserRegistry) Send(nick, line string) bool {
	s := r.GetByNickname(nick)
	if s == nil {
		return false
	}
	return r.SendTo(s, line)
}

// SendTo delivers one line to a session, evicting it on write failure.
func (r *UserRegistry) SendTo(s *Session, line string) bool {
	if err := s.Send(line); err != nil {
		log.Printf("[%s] Delivery failed, evicting: %v", s.Hostname(), err)
		r.stats.DeliveryFailed()
		if r.onEvict != nil {
			go r.onEvict(s, "Write error")
		} else {
			r.RemoveSession(s)
		}
		return false
	}
	r.stats.MessageSent()
	return true
}

// BroadcastAll delivers a line to every live session, best effort.
func (r *UserRegistry) BroadcastAll(line string) {
	for _, s := range r.Sessions() {
		r.SendTo(s, line)
	}
}

// BroadcastToRole delivers a line to every session whose role covers
// minRole.
func (r *UserRegistry) BroadcastToRole(line string, minRole auth.Role) {
	for _, s := range r.Sessions() {
		if s.Role().Covers(minRole) {
			r.SendTo(s, line)
		}
	}
}

// Idle returns the sessions whose last activity predates now-timeout.
// Invoked by the periodic sweep, never on the hot path.
func (r *UserRegistry) Idle(timeout time.Duration) []*Session {
	cutoff := time.Now().Add(-timeout)

	var idle []*Session
	for _, s := range r.Sessions() {
		if s.LastActivity().Before(cutoff) {
			idle = append(idle, s)
		}
	}
	return idle
}
