package irc

import (
	"bufio"
	"net"
	"sync"
	"time"

	"github.com/irc4go/ircd/irc/auth"
)

// writeTimeout bounds how long a single delivery may block on a slow or
// dead recipient before the write fails and the recipient is evicted.
const writeTimeout = 10 * time.Second

// Session represents one connected client. The session exclusively owns the
// connection's output path; all writes go through Send, serialized by the
// write mutex. Identity fields are guarded by mu and mutated only by the
// user registry and the dispatcher.
type Session struct {
	mu sync.RWMutex

	id   string
	conn net.Conn

	nickname string
	username string
	realname string
	hostname string
	password string

	role          auth.Role
	registered    bool
	authenticated bool
	greeted       bool

	connectedAt  time.Time
	lastActivity time.Time

	channels map[string]bool

	writer    *bufio.Writer
	writeMu   sync.Mutex
	closeOnce sync.Once

	tearingDown bool
}

func newSessionWriter(conn net.Conn) *bufio.Writer {
	return bufio.NewWriter(conn)
}

// ID returns the connection identifier.
func (s *Session) ID() string { return s.id }

// Nickname returns the session's nickname, empty before NICK.
func (s *Session) Nickname() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nickname
}

// Username returns the session's username, empty before USER.
func (s *Session) Username() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username
}

// Realname returns the session's real name.
func (s *Session) Realname() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.realname
}

// Hostname returns the remote address the session connected from.
func (s *Session) Hostname() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hostname
}

// Role returns the session's server-wide role.
func (s *Session) Role() auth.Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.role
}

// SetRole updates the session's server-wide role.
func (s *Session) SetRole(role auth.Role) {
	s.mu.Lock()
	s.role = role
	s.mu.Unlock()
}

// Registered reports whether the session completed registration.
func (s *Session) Registered() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.registered
}

// Authenticated reports whether the session's credentials verified.
func (s *Session) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authenticated
}

// ConnectedAt returns the time the connection was accepted.
func (s *Session) ConnectedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connectedAt
}

// LastActivity returns the time of the last inbound line or delivery.
func (s *Session) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

// Touch records activity on the session.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// Channels returns a snapshot of the channel names the session has joined.
func (s *Session) Channels() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.channels))
	for name := range s.channels {
		names = append(names, name)
	}
	return names
}

// InChannel reports whether the session has joined the named channel.
func (s *Session) InChannel(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.channels[name]
}

func (s *Session) trackChannel(name string) {
	s.mu.Lock()
	s.channels[name] = true
	s.mu.Unlock()
}

func (s *Session) forgetChannel(name string) {
	s.mu.Lock()
	delete(s.channels, name)
	s.mu.Unlock()
}

// FullMask returns the nick!user@host mask for the session. Missing parts
// are substituted so the mask is always well-formed.
func (s *Session) FullMask() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	nick := s.nickname
	if nick == "" {
		nick = "*"
	}
	user := s.username
	if user == "" {
		user = "unknown"
	}
	host := s.hostname
	if host == "" {
		host = "unknown"
	}
	return FormatHostmask(nick, user, host)
}

// Send writes one protocol line to the client, appending CRLF. A per-write
// deadline bounds delivery so one slow recipient cannot stall a fan-out.
func (s *Session) Send(line string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.conn == nil {
		return net.ErrClosed
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))

	if _, err := s.writer.WriteString(line + "\r\n"); err != nil {
		return err
	}
	return s.writer.Flush()
}

// close shuts the underlying connection at most once.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		if s.conn != nil {
			s.conn.Close()
		}
	})
}

func (s *Session) setNickname(nick string) {
	s.mu.Lock()
	s.nickname = nick
	s.mu.Unlock()
}

func (s *Session) setUser(username, realname string) {
	s.mu.Lock()
	s.username = username
	s.realname = realname
	s.mu.Unlock()
}

func (s *Session) setPassword(password string) {
	s.mu.Lock()
	s.password = password
	s.mu.Unlock()
}

func (s *Session) storedPassword() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.password
}

func (s *Session) setRegistered(authenticated bool) {
	s.mu.Lock()
	s.registered = true
	s.authenticated = authenticated
	s.mu.Unlock()
}

// beginTeardown flips the teardown flag, reporting whether this call was
// the one that flipped it. QUIT, read-loop exit, the idle sweep and admin
// kicks all funnel through the same teardown unit; only the first runs it.
func (s *Session) beginTeardown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tearingDown {
		return false
	}
	s.tearingDown = true
	return true
}

// markGreeted flips the greeted flag, reporting whether this call was the
// one that flipped it. The greeting block is emitted exactly once.
func (s *Session) markGreeted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.greeted {
		return false
	}
	s.greeted = true
	return true
}
