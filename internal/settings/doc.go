// Package settings implements the plaintext config area of an installation
// (salt, key verifier, encryption flag, migration markers) and the opaque
// single-blob slot holding the encrypted vault snapshot.
//
// Both live in settings.db, a bbolt file with two buckets:
//
//	config  key -> value
//	vault   "blob" -> IV || ciphertext || tag
package settings
