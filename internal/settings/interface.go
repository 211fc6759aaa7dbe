package settings

import "context"

// Repository is the plaintext key/value config area. Get returns (nil, nil)
// for a missing key.
type Repository interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) (map[string][]byte, error)
	Clear(ctx context.Context) error
}

// Markers records idempotent "migration complete" flags.
type Markers interface {
	MarkerDone(ctx context.Context, name string) (bool, error)
	SetMarker(ctx context.Context, name string) error
}

// BlobStore persists the single encrypted vault blob.
type BlobStore interface {
	// LoadVault returns nil when no vault was saved yet.
	LoadVault(ctx context.Context) ([]byte, error)

	SaveVault(ctx context.Context, blob []byte) error

	// CommitRotation writes blob and salt atomically: either both replace
	// their predecessors or neither does.
	CommitRotation(ctx context.Context, blob, salt []byte) error
}
