// Package session holds state scoped to one running session: the recovery
// snapshot captured before a destructive reset and the cached password used
// to re-derive keys without prompting again. Nothing here is persisted.
package session

import (
	"sync"

	"github.com/dmitrijs2005/mindvault/internal/common"
	"github.com/dmitrijs2005/mindvault/internal/models"
)

type Store struct {
	mu       sync.Mutex
	snapshot models.Snapshot
	password []byte
}

func New() *Store {
	return &Store{}
}

// SetSnapshot keeps a copy of snap in the recovery slot, replacing any
// previous snapshot.
func (s *Store) SetSnapshot(snap models.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = cloneSnapshot(snap)
}

// Snapshot returns the recovery snapshot and whether one was captured.
func (s *Store) Snapshot() (models.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshot == nil {
		return nil, false
	}
	return cloneSnapshot(s.snapshot), true
}

func (s *Store) ClearSnapshot() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = nil
}

// SetPassword caches a copy of pw; the caller keeps ownership of pw.
func (s *Store) SetPassword(pw []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	common.WipeByteArray(s.password)
	s.password = common.CloneBytes(pw)
}

// Password returns a copy of the cached password. The caller should wipe it.
func (s *Store) Password() ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.password) == 0 {
		return nil, false
	}
	return common.CloneBytes(s.password), true
}

// ClearPassword wipes the cached password.
func (s *Store) ClearPassword() {
	s.mu.Lock()
	defer s.mu.Unlock()
	common.WipeByteArray(s.password)
	s.password = nil
}

func cloneSnapshot(snap models.Snapshot) models.Snapshot {
	if snap == nil {
		return nil
	}
	out := make(models.Snapshot, len(snap))
	for store, rows := range snap {
		cp := make([]models.Record, len(rows))
		for i, r := range rows {
			cp[i] = r.Clone()
		}
		out[store] = cp
	}
	return out
}
