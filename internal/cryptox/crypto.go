// Package cryptox holds the stateless crypto primitives of the store:
// PBKDF2-HMAC-SHA256 key derivation and AES-256-GCM sealing of blobs.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/mindvault/internal/common"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// Iterations is the PBKDF2 work factor used for every installation.
	Iterations = 100_000

	// NonceSize is the AES-GCM IV length prepended to every blob.
	NonceSize = 12

	// TagSize is the AES-GCM authentication tag length appended by Seal.
	TagSize = 16
)

// MakeVerifier returns a one-way fingerprint of a derived key that can be
// stored in plaintext and compared on unlock.
func MakeVerifier(key []byte) []byte {
	hash := sha256.Sum256(key)
	return hash[:]
}

// DeriveKey derives a 256-bit key from password and salt with
// PBKDF2-HMAC-SHA256 and the default iteration count. The result is
// deterministic for a given (password, salt) pair.
func DeriveKey(password, salt []byte) []byte {
	return DeriveKeyIterations(password, salt, Iterations)
}

// DeriveKeyIterations is DeriveKey with an explicit work factor.
func DeriveKeyIterations(password, salt []byte, iterations int) []byte {
	if iterations <= 0 {
		iterations = Iterations
	}
	return pbkdf2.Key(password, salt, iterations, common.KeySize, sha256.New)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("invalid key: %w", err)
	}
	return cipher.NewGCM(block)
}

// EncryptBlob seals plaintext with AES-256-GCM under key.
//
// A fresh random 12-byte IV is generated on every call and the result is
// laid out as IV || ciphertext || tag.
func EncryptBlob(key, plaintext []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := common.GenerateRandByteArray(NonceSize)

	out := make([]byte, 0, NonceSize+len(plaintext)+TagSize)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, nil), nil
}

// DecryptBlob reverses EncryptBlob. Any authentication failure, including a
// wrong key, is reported as common.ErrDecryptionFailed.
func DecryptBlob(key, blob []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	if len(blob) < NonceSize+TagSize {
		return nil, fmt.Errorf("%w: blob too short (%d bytes)", common.ErrDecryptionFailed, len(blob))
	}

	plaintext, err := aead.Open(nil, blob[:NonceSize], blob[NonceSize:], nil)
	if err != nil {
		return nil, common.ErrDecryptionFailed
	}
	return plaintext, nil
}

// EncryptEntry serializes entry to JSON and seals it with EncryptBlob.
//
// Example:
//
//	blob, err := EncryptEntry(map[string]any{"note": "slept well"}, key)
//	if err != nil {
//	    return err
//	}
func EncryptEntry(entry any, key []byte) ([]byte, error) {
	plaintext, err := json.Marshal(entry)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(plaintext)

	return EncryptBlob(key, plaintext)
}

// DecryptEntry opens blob with key and unmarshals the JSON payload into v.
func DecryptEntry(blob, key []byte, v any) error {
	plaintext, err := DecryptBlob(key, blob)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(plaintext)

	return json.Unmarshal(plaintext, v)
}

// ContentHash returns the hex-encoded SHA-256 digest of data.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
