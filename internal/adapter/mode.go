package adapter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dmitrijs2005/mindvault/internal/settings"
)

// StorageMode selects the backend an Adapter routes to. It is fixed when
// the adapter is constructed.
type StorageMode int

const (
	// Plain stores entities in the versioned key-value file, with PHI
	// fields field-encrypted while a key is held.
	Plain StorageMode = iota
	// Encrypted stores entities in the vault sealed under the session key.
	Encrypted
)

func (m StorageMode) String() string {
	switch m {
	case Plain:
		return "plain"
	case Encrypted:
		return "encrypted"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseStorageMode accepts "plain"/"off" and "encrypted"/"on".
func ParseStorageMode(s string) (StorageMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "plain", "off", "false":
		return Plain, nil
	case "encrypted", "on", "true":
		return Encrypted, nil
	default:
		return Plain, fmt.Errorf("unknown storage mode %q", s)
	}
}

// DetectMode reads the persisted encryption flag of the installation in
// dir. A fresh installation is Plain.
func DetectMode(ctx context.Context, dir string, timeout time.Duration) (StorageMode, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return Plain, translate(err)
	}
	store, err := settings.Open(filepath.Join(dir, SettingsFile), timeout)
	if err != nil {
		return Plain, translate(err)
	}
	defer store.Close()

	enabled, err := store.EncryptionEnabled(ctx)
	if err != nil {
		return Plain, translate(err)
	}
	if enabled {
		return Encrypted, nil
	}
	return Plain, nil
}
