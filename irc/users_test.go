package irc

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irc4go/ircd/irc/auth"
)

func newTestRegistry(t *testing.T) *UserRegistry {
	t.Helper()
	return NewUserRegistry(30, NewServerStats())
}

func newTestSession(t *testing.T, r *UserRegistry) *Session {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return r.BeginSession(server)
}

func TestValidNickname(t *testing.T) {
	r := newTestRegistry(t)

	assert.True(t, r.ValidNickname("alice"))
	assert.True(t, r.ValidNickname("Alice_42-x"))
	assert.False(t, r.ValidNickname(""))
	assert.False(t, r.ValidNickname("1alice"))
	assert.False(t, r.ValidNickname("ali ce"))
	assert.False(t, r.ValidNickname("#alice"))
	assert.False(t, r.ValidNickname("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"))
}

func TestClaimNickname(t *testing.T) {
	r := newTestRegistry(t)
	s1 := newTestSession(t, r)
	s2 := newTestSession(t, r)

	assert.Equal(t, ClaimOK, r.ClaimNickname(s1, "alice"))
	assert.Equal(t, "alice", s1.Nickname())
	assert.Same(t, s1, r.GetByNickname("alice"))

	assert.Equal(t, ClaimInUse, r.ClaimNickname(s2, "alice"))
	assert.Empty(t, s2.Nickname())

	assert.Equal(t, ClaimInvalid, r.ClaimNickname(s2, "9bad"))
}

// Exactly one of N concurrent claimants for the same nickname may win.
func TestConcurrentClaimExactlyOneWins(t *testing.T) {
	r := newTestRegistry(t)

	const n = 32
	sessions := make([]*Session, n)
	for i := range sessions {
		sessions[i] = newTestSession(t, r)
	}

	results := make([]ClaimResult, n)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i] = r.ClaimNickname(sessions[i], "alice")
		}(i)
	}
	close(start)
	wg.Wait()

	won := 0
	for _, res := range results {
		switch res {
		case ClaimOK:
			won++
		case ClaimInUse:
		default:
			t.Fatalf("unexpected claim result %v", res)
		}
	}
	assert.Equal(t, 1, won)
	require.NotNil(t, r.GetByNickname("alice"))
}

func TestRenameNickname(t *testing.T) {
	r := newTestRegistry(t)
	s1 := newTestSession(t, r)
	s2 := newTestSession(t, r)

	require.Equal(t, ClaimOK, r.ClaimNickname(s1, "alice"))
	require.Equal(t, ClaimOK, r.ClaimNickname(s2, "bob"))

	assert.Equal(t, ClaimInUse, r.RenameNickname("alice", "bob"))
	assert.Equal(t, "alice", s1.Nickname())

	assert.Equal(t, ClaimOK, r.RenameNickname("alice", "carol"))
	assert.Equal(t, "carol", s1.Nickname())
	assert.Nil(t, r.GetByNickname("alice"))
	assert.Same(t, s1, r.GetByNickname("carol"))

	assert.Equal(t, ClaimInvalid, r.RenameNickname("ghost", "dave"))
}

func TestDuplicateUsernameKeepsFirstIndex(t *testing.T) {
	r := newTestRegistry(t)
	s1 := newTestSession(t, r)
	s2 := newTestSession(t, r)

	require.Equal(t, ClaimOK, r.ClaimNickname(s1, "alice"))
	require.Equal(t, ClaimOK, r.ClaimNickname(s2, "bob"))

	r.SetUsername(s1, "shared", "Alice A")
	r.SetUsername(s2, "shared", "Bob B")

	// Both sessions carry the username, but the index stays with the
	// first claimant until it disconnects.
	assert.Equal(t, "shared", s2.Username())
	assert.Same(t, s1, r.GetByUsername("shared"))

	r.RemoveSession(s2)
	assert.Same(t, s1, r.GetByUsername("shared"))

	r.RemoveSession(s1)
	assert.Nil(t, r.GetByUsername("shared"))
}

func TestRemoveSessionIdempotent(t *testing.T) {
	r := newTestRegistry(t)
	s := newTestSession(t, r)
	require.Equal(t, ClaimOK, r.ClaimNickname(s, "alice"))
	r.SetUsername(s, "alice", "Alice A")

	require.Equal(t, 1, r.Count())
	r.RemoveSession(s)
	assert.Equal(t, 0, r.Count())
	assert.Nil(t, r.GetByNickname("alice"))
	assert.Nil(t, r.GetByUsername("alice"))

	r.RemoveSession(s)
	assert.Equal(t, 0, r.Count())
}

func TestRemoveByNickname(t *testing.T) {
	r := newTestRegistry(t)
	s := newTestSession(t, r)
	require.Equal(t, ClaimOK, r.ClaimNickname(s, "alice"))

	r.Remove("alice")
	assert.Nil(t, r.GetByNickname("alice"))
	r.Remove("alice")
}

func TestIdleSelectsStaleSessions(t *testing.T) {
	r := newTestRegistry(t)
	stale := newTestSession(t, r)
	fresh := newTestSession(t, r)
	require.Equal(t, ClaimOK, r.ClaimNickname(stale, "stale"))
	require.Equal(t, ClaimOK, r.ClaimNickname(fresh, "fresh"))

	stale.mu.Lock()
	stale.lastActivity = time.Now().Add(-2 * time.Hour)
	stale.mu.Unlock()

	idle := r.Idle(time.Hour)
	require.Len(t, idle, 1)
	assert.Same(t, stale, idle[0])
}

func TestSessionRoles(t *testing.T) {
	r := newTestRegistry(t)
	user := newTestSession(t, r)
	oper := newTestSession(t, r)
	require.Equal(t, ClaimOK, r.ClaimNickname(user, "mortal"))
	require.Equal(t, ClaimOK, r.ClaimNickname(oper, "staff"))
	oper.SetRole(auth.RoleOperator)

	assert.False(t, user.Role().Covers(auth.RoleOperator))
	assert.True(t, oper.Role().Covers(auth.RoleOperator))
}
