// Package common defines shared constants, sentinel errors and small helpers
// used across the mindvault storage layers. Callers should use errors.Is to
// match these values; lower layers wrap them with fmt.Errorf("...: %w").
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound   = errors.New("not found")
	ErrConstraint = errors.New("constraint violation")

	// Storage backend errors, translated at the adapter boundary.
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrQuotaExceeded      = errors.New("storage quota exceeded")
	ErrBlocked            = errors.New("storage blocked by another connection")

	// Schema and migration errors.
	ErrVersionCorrupted    = errors.New("schema version corrupted")
	ErrVersionConflict     = errors.New("version conflict")
	ErrMigrationStepFailed = errors.New("migration step failed")

	// Key and encryption errors.
	ErrWrongPassword      = errors.New("wrong password")
	ErrDecryptionFailed   = errors.New("wrong password or corrupted data")
	ErrRotationDenied     = errors.New("key rotation denied: password must be re-entered")
	ErrLocked             = errors.New("store is locked")
	ErrIntegrityViolation = errors.New("integrity violation")

	// ErrUnsupported is returned for operations the active storage mode cannot serve.
	ErrUnsupported = errors.New("operation not supported in this storage mode")
)
