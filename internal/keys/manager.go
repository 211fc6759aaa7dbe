// Package keys owns the per-installation salt and the in-memory derived key.
//
// The key is never persisted. Saves read it under a shared lock while
// rotation and password change hold the exclusive lock, so a save started
// during a rotation waits until the new key is in place.
package keys

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/mindvault/internal/common"
	"github.com/dmitrijs2005/mindvault/internal/cryptox"
)

// SaltStore persists the plaintext salt.
type SaltStore interface {
	Salt(ctx context.Context) ([]byte, error)
	SetSalt(ctx context.Context, salt []byte) error
}

// CommitFunc re-encrypts the at-rest payload under newKey and persists it
// together with newSalt. The manager swaps its key only if it returns nil.
type CommitFunc func(oldKey, newKey, newSalt []byte) error

type Manager struct {
	salts      SaltStore
	iterations int

	mu  sync.RWMutex
	key []byte
}

// NewManager returns a Manager deriving keys with the given PBKDF2 work
// factor; iterations <= 0 selects cryptox.Iterations.
func NewManager(salts SaltStore, iterations int) *Manager {
	if iterations <= 0 {
		iterations = cryptox.Iterations
	}
	return &Manager{salts: salts, iterations: iterations}
}

// DeriveKey derives the key for password under the stored salt, creating
// the salt on first use. It does not install the key.
func (m *Manager) DeriveKey(ctx context.Context, password []byte) ([]byte, error) {
	salt, err := m.salts.Salt(ctx)
	if err != nil {
		return nil, fmt.Errorf("read salt: %w", err)
	}
	if len(salt) == 0 {
		salt = common.GenerateRandByteArray(common.SaltSize)
		if err := m.salts.SetSalt(ctx, salt); err != nil {
			return nil, fmt.Errorf("store salt: %w", err)
		}
	}
	return cryptox.DeriveKeyIterations(password, salt, m.iterations), nil
}

// SetKey installs a verified key for the session. The manager keeps its
// own copy.
func (m *Manager) SetKey(key []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	common.WipeByteArray(m.key)
	m.key = common.CloneBytes(key)
}

// HasKey reports whether the session is unlocked.
func (m *Manager) HasKey() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.key != nil
}

// WithKey runs fn with the session key under the shared lock. fn must not
// retain the slice. It returns common.ErrLocked when no key is held.
func (m *Manager) WithKey(fn func(key []byte) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.key == nil {
		return common.ErrLocked
	}
	return fn(m.key)
}

// Lock wipes the session key.
func (m *Manager) Lock() {
	m.mu.Lock()
	defer m.mu.Unlock()
	common.WipeByteArray(m.key)
	m.key = nil
}

// Rotate replaces salt and key while keeping the password. The session must
// hold a key and password must re-derive it; otherwise the rotation is
// denied.
func (m *Manager) Rotate(ctx context.Context, password []byte, commit CommitFunc) error {
	if len(password) == 0 {
		return common.ErrRotationDenied
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.key == nil {
		return common.ErrRotationDenied
	}

	salt, err := m.salts.Salt(ctx)
	if err != nil {
		return fmt.Errorf("read salt: %w", err)
	}
	current := cryptox.DeriveKeyIterations(password, salt, m.iterations)
	defer common.WipeByteArray(current)

	if subtle.ConstantTimeCompare(current, m.key) != 1 {
		return fmt.Errorf("%w: cached password no longer matches", common.ErrRotationDenied)
	}

	return m.rekey(password, m.key, commit)
}

// ChangePassword re-keys the payload under newPassword. verify receives the
// key derived from oldPassword and must prove it opens the current payload.
func (m *Manager) ChangePassword(ctx context.Context, oldPassword, newPassword []byte, verify func(oldKey []byte) error, commit CommitFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	salt, err := m.salts.Salt(ctx)
	if err != nil {
		return fmt.Errorf("read salt: %w", err)
	}
	if len(salt) == 0 {
		return fmt.Errorf("%w: no salt stored", common.ErrWrongPassword)
	}

	oldKey := cryptox.DeriveKeyIterations(oldPassword, salt, m.iterations)
	defer common.WipeByteArray(oldKey)

	if err := verify(oldKey); err != nil {
		if errors.Is(err, common.ErrDecryptionFailed) {
			return common.ErrWrongPassword
		}
		return err
	}

	return m.rekey(newPassword, oldKey, commit)
}

// rekey must be called with mu held exclusively.
func (m *Manager) rekey(password, oldKey []byte, commit CommitFunc) error {
	newSalt := common.GenerateRandByteArray(common.SaltSize)
	newKey := cryptox.DeriveKeyIterations(password, newSalt, m.iterations)

	if err := commit(oldKey, newKey, newSalt); err != nil {
		common.WipeByteArray(newKey)
		return err
	}

	common.WipeByteArray(m.key)
	m.key = newKey
	return nil
}
