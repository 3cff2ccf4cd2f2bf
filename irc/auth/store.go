// Package auth implements the credential store for the IRC server: account
// names mapped to salted password hashes and server-wide roles. The store is
// independent of connection state; the dispatcher consults it during
// registration and OPER, the admin API mutates it directly.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"sync"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltLength = 16
	hashLength = 32
	pbkdf2Iter = 4096
)

var (
	// ErrAccountExists is returned by Register for a taken account name.
	ErrAccountExists = errors.New("account already exists")
	// ErrNoSuchAccount is returned for operations on unknown accounts.
	ErrNoSuchAccount = errors.New("no such account")
	// ErrProtectedAccount is returned when deleting the default admin.
	ErrProtectedAccount = errors.New("account is protected")
	// ErrBadPassword is returned by ChangePassword for a wrong old password.
	ErrBadPassword = errors.New("password incorrect")
)

type record struct {
	hash string // base64(salt||digest)
	role Role
}

// Store maps account names to salted password hashes and roles.
// All methods are safe for concurrent use.
type Store struct {
	mu           sync.RWMutex
	accounts     map[string]*record
	defaultAdmin string
}

// NewStore creates a credential store seeded with the default administrator
// account. The default admin cannot be deleted.
func NewStore(adminUsername, adminPassword string) *Store {
	s := &Store{
		accounts:     make(map[string]*record),
		defaultAdmin: adminUsername,
	}
	s.accounts[adminUsername] = &record{
		hash: hashPassword(adminPassword),
		role: RoleAdmin,
	}
	log.Printf("Default administrator account initialized: %s", adminUsername)
	return s
}

// Register creates a new account with the given password and role.
func (s *Store) Register(account, password string, role Role) error {
	if account == "" || password == "" {
		return fmt.Errorf("account and password must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[account]; exists {
		return ErrAccountExists
	}
	s.accounts[account] = &record{hash: hashPassword(password), role: role}
	log.Printf("Account registered: %s (role: %s)", account, role)
	return nil
}

// Authenticate verifies the supplied password against the stored hash.
// The comparison is constant time; plaintext is never stored or logged.
func (s *Store) Authenticate(account, password string) bool {
	s.mu.RLock()
	rec, exists := s.accounts[account]
	s.mu.RUnlock()

	if !exists {
		return false
	}
	return verifyPassword(password, rec.hash)
}

// Role returns the role for an account, RoleUser when unknown.
func (s *Store) Role(account string) Role {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if rec, exists := s.accounts[account]; exists {
		return rec.role
	}
	return RoleUser
}

// SetRole updates the role of an existing account.
func (s *Store) SetRole(account string, role Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.accounts[account]
	if !exists {
		return ErrNoSuchAccount
	}
	rec.role = role
	log.Printf("Account role updated: %s -> %s", account, role)
	return nil
}

// ChangePassword updates an account password after verifying the old one.
func (s *Store) ChangePassword(account, oldPassword, newPassword string) error {
	if !s.Authenticate(account, oldPassword) {
		return ErrBadPassword
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.accounts[account]
	if !exists {
		return ErrNoSuchAccount
	}
	rec.hash = hashPassword(newPassword)
	log.Printf("Account password changed: %s", account)
	return nil
}

// ResetPassword sets a new password without checking the old one.
// Administrative operation.
func (s *Store) ResetPassword(account, newPassword string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.accounts[account]
	if !exists {
		return ErrNoSuchAccount
	}
	rec.hash = hashPassword(newPassword)
	log.Printf("Account password reset: %s", account)
	return nil
}

// Delete removes an account. The default administrator is protected.
func (s *Store) Delete(account string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if account == s.defaultAdmin {
		return ErrProtectedAccount
	}
	if _, exists := s.accounts[account]; !exists {
		return ErrNoSuchAccount
	}
	delete(s.accounts, account)
	log.Printf("Account deleted: %s", account)
	return nil
}

// Exists reports whether an account is registered.
func (s *Store) Exists(account string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.accounts[account]
	return exists
}

// Accounts returns a snapshot of account names and their roles.
func (s *Store) Accounts() map[string]Role {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Role, len(s.accounts))
	for name, rec := range s.accounts {
		out[name] = rec.role
	}
	return out
}

// hashPassword derives a salted digest and encodes salt||digest as base64.
func hashPassword(password string) string {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		// crypto/rand failure is unrecoverable
		panic(fmt.Sprintf("auth: reading random salt: %v", err))
	}

	digest := pbkdf2.Key([]byte(password), salt, pbkdf2Iter, hashLength, sha256.New)
	return base64.StdEncoding.EncodeToString(append(salt, digest...))
}

// verifyPassword re-derives the digest with the stored salt and compares in
// constant time.
func verifyPassword(password, stored string) bool {
	combined, err := base64.StdEncoding.DecodeString(stored)
	if err != nil || len(combined) != saltLength+hashLength {
		return false
	}

	salt := combined[:saltLength]
	digest := pbkdf2.Key([]byte(password), salt, pbkdf2Iter, hashLength, sha256.New)
	return subtle.ConstantTimeCompare(combined[saltLength:], digest) == 1
}
