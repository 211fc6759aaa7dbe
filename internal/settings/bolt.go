package settings

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dmitrijs2005/mindvault/internal/common"
	"go.etcd.io/bbolt"
)

var (
	configBucket = []byte("config")
	vaultBucket  = []byte("vault")
	blobKey      = []byte("blob")
)

// Well-known config keys.
const (
	KeySalt              = "salt"
	KeyVerifier          = "key_verifier"
	KeyEncryptionEnabled = "encryption_enabled"
)

// BoltStore keeps the plaintext config area and the encrypted vault blob in
// one bbolt file, separate from the entity store.
type BoltStore struct {
	db *bbolt.DB
}

// Open opens (or creates) the settings file at path. A file lock held by
// another process past timeout yields common.ErrBlocked.
func Open(path string, timeout time.Duration) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: timeout})
	if err != nil {
		if errors.Is(err, bbolt.ErrTimeout) {
			return nil, fmt.Errorf("open settings %s: %w", path, common.ErrBlocked)
		}
		return nil, fmt.Errorf("open settings %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{configBucket, vaultBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init settings buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) Get(_ context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		value = common.CloneBytes(tx.Bucket(configBucket).Get([]byte(key)))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get setting[%s]: %w", key, err)
	}
	return value, nil
}

func (s *BoltStore) Set(_ context.Context, key string, value []byte) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(configBucket).Put([]byte(key), value)
	})
	if err != nil {
		return fmt.Errorf("failed to set setting[%s]: %w", key, err)
	}
	return nil
}

func (s *BoltStore) Delete(_ context.Context, key string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(configBucket).Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("failed to delete setting[%s]: %w", key, err)
	}
	return nil
}

func (s *BoltStore) Clear(_ context.Context) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(configBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucket(configBucket)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to clear settings: %w", err)
	}
	return nil
}

func (s *BoltStore) List(_ context.Context) (map[string][]byte, error) {
	result := make(map[string][]byte)
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(configBucket).ForEach(func(k, v []byte) error {
			result[string(k)] = common.CloneBytes(v)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list settings: %w", err)
	}
	return result, nil
}

// MarkerDone reports whether the named migration marker is set.
func (s *BoltStore) MarkerDone(ctx context.Context, name string) (bool, error) {
	v, err := s.Get(ctx, common.MarkerPrefix+name)
	if err != nil {
		return false, err
	}
	return v != nil, nil
}

// SetMarker records that the named migration finished. Setting it twice is
// a no-op.
func (s *BoltStore) SetMarker(ctx context.Context, name string) error {
	done, err := s.MarkerDone(ctx, name)
	if err != nil || done {
		return err
	}
	stamp := strconv.FormatInt(time.Now().UTC().Unix(), 10)
	return s.Set(ctx, common.MarkerPrefix+name, []byte(stamp))
}

func (s *BoltStore) Salt(ctx context.Context) ([]byte, error) {
	return s.Get(ctx, KeySalt)
}

func (s *BoltStore) SetSalt(ctx context.Context, salt []byte) error {
	return s.Set(ctx, KeySalt, salt)
}

func (s *BoltStore) EncryptionEnabled(ctx context.Context) (bool, error) {
	v, err := s.Get(ctx, KeyEncryptionEnabled)
	if err != nil {
		return false, err
	}
	return string(v) == "1", nil
}

func (s *BoltStore) SetEncryptionEnabled(ctx context.Context, enabled bool) error {
	v := "0"
	if enabled {
		v = "1"
	}
	return s.Set(ctx, KeyEncryptionEnabled, []byte(v))
}

// LoadVault returns the persisted vault blob, or nil when none exists.
func (s *BoltStore) LoadVault(_ context.Context) ([]byte, error) {
	var blob []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		blob = common.CloneBytes(tx.Bucket(vaultBucket).Get(blobKey))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load vault: %w", err)
	}
	return blob, nil
}

// SaveVault replaces the vault blob. bbolt commits copy-on-write pages, so
// the previous blob stays authoritative until the transaction commits.
func (s *BoltStore) SaveVault(_ context.Context, blob []byte) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(vaultBucket).Put(blobKey, blob)
	})
	if err != nil {
		return fmt.Errorf("failed to save vault: %w", err)
	}
	return nil
}

// CommitRotation stores a re-encrypted blob together with the salt it was
// derived under, in one transaction.
func (s *BoltStore) CommitRotation(_ context.Context, blob, salt []byte) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(vaultBucket).Put(blobKey, blob); err != nil {
			return err
		}
		return tx.Bucket(configBucket).Put([]byte(KeySalt), salt)
	})
	if err != nil {
		return fmt.Errorf("failed to commit rotation: %w", err)
	}
	return nil
}
