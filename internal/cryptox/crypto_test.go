package cryptox

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/dmitrijs2005/mindvault/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestDeriveKey_KnownVector(t *testing.T) {
	// PBKDF2-HMAC-SHA256("passwd", "salt", 1), first 32 bytes (RFC 7914 §11).
	key := DeriveKeyIterations([]byte("passwd"), []byte("salt"), 1)
	assert.Equal(t, "55ac046e56e3089fec1691c22544b605f94185216dde0465e68b9d57c20dacbc", hex.EncodeToString(key))
}

func TestDeriveKey_Deterministic(t *testing.T) {
	password := []byte("secret-password")
	salt := []byte("fixed-salt-16byt")

	key1 := DeriveKey(password, salt)
	key2 := DeriveKey(password, salt)

	require.Len(t, key1, common.KeySize)
	if !bytes.Equal(key1, key2) {
		t.Errorf("expected same result for same inputs, got different")
	}
}

func TestDeriveKey_DifferentSalts(t *testing.T) {
	password := []byte("secret-password")

	key1 := DeriveKeyIterations(password, []byte("salt-1"), 1000)
	key2 := DeriveKeyIterations(password, []byte("salt-2"), 1000)

	if bytes.Equal(key1, key2) {
		t.Errorf("expected different results for different salts, got same")
	}
}

func TestEncryptBlob_Layout(t *testing.T) {
	key := common.GenerateRandByteArray(common.KeySize)
	plaintext := []byte("mood: calm")

	blob, err := EncryptBlob(key, plaintext)
	require.NoError(t, err)
	assert.Len(t, blob, NonceSize+len(plaintext)+TagSize)

	again, err := EncryptBlob(key, plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, blob[:NonceSize], again[:NonceSize], "IV must be fresh per call")
}

func TestDecryptBlob_WrongKey(t *testing.T) {
	k1 := common.GenerateRandByteArray(common.KeySize)
	k2 := common.GenerateRandByteArray(common.KeySize)

	blob, err := EncryptBlob(k1, []byte("journal"))
	require.NoError(t, err)

	_, err = DecryptBlob(k2, blob)
	require.ErrorIs(t, err, common.ErrDecryptionFailed)
}

func TestDecryptBlob_ShortAndTampered(t *testing.T) {
	key := common.GenerateRandByteArray(common.KeySize)

	_, err := DecryptBlob(key, []byte{1, 2, 3})
	require.ErrorIs(t, err, common.ErrDecryptionFailed)

	blob, err := EncryptBlob(key, []byte("journal"))
	require.NoError(t, err)
	blob[len(blob)-1] ^= 0xFF

	_, err = DecryptBlob(key, blob)
	require.ErrorIs(t, err, common.ErrDecryptionFailed)
}

func TestDecryptBlob_InvalidKeyLength(t *testing.T) {
	_, err := DecryptBlob([]byte("short"), make([]byte, 64))
	require.Error(t, err)
	assert.NotErrorIs(t, err, common.ErrDecryptionFailed)
}

func TestEncryptEntry_RoundTrip(t *testing.T) {
	key := common.GenerateRandByteArray(common.KeySize)

	blob, err := EncryptEntry(map[string]any{"feeling": "hopeful", "score": 7}, key)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, DecryptEntry(blob, key, &got))
	assert.Equal(t, "hopeful", got["feeling"])
	assert.Equal(t, float64(7), got["score"])
}

func TestContentHash(t *testing.T) {
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", ContentHash(nil))
	assert.Len(t, MakeVerifier([]byte("k")), 32)
}

func TestBlob_RoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		key := rapid.SliceOfN(rapid.Byte(), common.KeySize, common.KeySize).Draw(t, "key")
		other := rapid.SliceOfN(rapid.Byte(), common.KeySize, common.KeySize).Draw(t, "other")
		msg := rapid.SliceOf(rapid.Byte()).Draw(t, "msg")

		blob, err := EncryptBlob(key, msg)
		if err != nil {
			t.Fatalf("encrypt: %v", err)
		}
		got, err := DecryptBlob(key, blob)
		if err != nil {
			t.Fatalf("decrypt: %v", err)
		}
		if !bytes.Equal(got, msg) {
			t.Fatalf("round trip mismatch")
		}

		if !bytes.Equal(key, other) {
			if _, err := DecryptBlob(other, blob); err == nil {
				t.Fatalf("decrypt with a different key must fail")
			}
		}
	})
}
