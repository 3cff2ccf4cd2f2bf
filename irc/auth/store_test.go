package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreSeedsDefaultAdmin(t *testing.T) {
	s := NewStore("admin", "admin123")

	assert.True(t, s.Exists("admin"))
	assert.True(t, s.Authenticate("admin", "admin123"))
	assert.False(t, s.Authenticate("admin", "wrong"))
	assert.Equal(t, RoleAdmin, s.Role("admin"))
}

func TestRegisterAndAuthenticate(t *testing.T) {
	s := NewStore("admin", "admin123")

	require.NoError(t, s.Register("alice", "hunter2", RoleUser))
	assert.True(t, s.Authenticate("alice", "hunter2"))
	assert.False(t, s.Authenticate("alice", "Hunter2"))
	assert.False(t, s.Authenticate("nobody", "hunter2"))

	err := s.Register("alice", "other", RoleUser)
	assert.ErrorIs(t, err, ErrAccountExists)
}

func TestPasswordHashesAreSalted(t *testing.T) {
	a := hashPassword("hunter2")
	b := hashPassword("hunter2")

	assert.NotEqual(t, a, b, "two hashes of the same password must differ by salt")
	assert.True(t, verifyPassword("hunter2", a))
	assert.True(t, verifyPassword("hunter2", b))
	assert.False(t, verifyPassword("hunter3", a))
	assert.False(t, strings.Contains(a, "hunter2"))
}

func TestChangePassword(t *testing.T) {
	s := NewStore("admin", "admin123")
	require.NoError(t, s.Register("alice", "old", RoleUser))

	assert.ErrorIs(t, s.ChangePassword("alice", "wrong", "new"), ErrBadPassword)
	assert.True(t, s.Authenticate("alice", "old"))

	require.NoError(t, s.ChangePassword("alice", "old", "new"))
	assert.False(t, s.Authenticate("alice", "old"))
	assert.True(t, s.Authenticate("alice", "new"))

	assert.ErrorIs(t, s.ChangePassword("nobody", "x", "y"), ErrNoSuchAccount)
}

func TestResetPassword(t *testing.T) {
	s := NewStore("admin", "admin123")
	require.NoError(t, s.Register("alice", "old", RoleUser))

	require.NoError(t, s.ResetPassword("alice", "forced"))
	assert.True(t, s.Authenticate("alice", "forced"))
	assert.ErrorIs(t, s.ResetPassword("nobody", "x"), ErrNoSuchAccount)
}

func TestDeleteProtectsDefaultAdmin(t *testing.T) {
	s := NewStore("admin", "admin123")
	require.NoError(t, s.Register("alice", "pw", RoleUser))

	assert.ErrorIs(t, s.Delete("admin"), ErrProtectedAccount)
	assert.True(t, s.Exists("admin"))

	require.NoError(t, s.Delete("alice"))
	assert.False(t, s.Exists("alice"))
	assert.ErrorIs(t, s.Delete("alice"), ErrNoSuchAccount)
}

func TestSetRole(t *testing.T) {
	s := NewStore("admin", "admin123")
	require.NoError(t, s.Register("alice", "pw", RoleUser))

	require.NoError(t, s.SetRole("alice", RoleOperator))
	assert.Equal(t, RoleOperator, s.Role("alice"))
	assert.ErrorIs(t, s.SetRole("nobody", RoleOperator), ErrNoSuchAccount)
}

func TestRoleOrdering(t *testing.T) {
	assert.True(t, RoleAdmin.Covers(RoleOperator))
	assert.True(t, RoleAdmin.Covers(RoleAdmin))
	assert.True(t, RoleOperator.Covers(RoleUser))
	assert.False(t, RoleUser.Covers(RoleOperator))
	assert.False(t, RoleOperator.Covers(RoleAdmin))
}

func TestParseRole(t *testing.T) {
	for in, want := range map[string]Role{
		"USER":     RoleUser,
		"operator": RoleOperator,
		"Admin":    RoleAdmin,
	} {
		got, err := ParseRole(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseRole("root")
	assert.Error(t, err)
}
