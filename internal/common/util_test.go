package common

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestGenerateRandByteArray(t *testing.T) {
	for _, size := range []int{0, 1, SaltSize, 32} {
		b := GenerateRandByteArray(size)
		assert.Len(t, b, size)
	}

	a := GenerateRandByteArray(SaltSize)
	b := GenerateRandByteArray(SaltSize)
	assert.NotEqual(t, a, b, "two salts must not collide")
}

func TestWipeByteArray(t *testing.T) {
	key := []byte("session key material")
	WipeByteArray(key)
	assert.Equal(t, make([]byte, len(key)), key)

	assert.NotPanics(t, func() { WipeByteArray(nil) })
}

func TestCloneBytes(t *testing.T) {
	assert.Nil(t, CloneBytes(nil))
	assert.NotNil(t, CloneBytes([]byte{}))

	rapid.Check(t, func(t *rapid.T) {
		src := rapid.SliceOf(rapid.Byte()).Draw(t, "src")
		dst := CloneBytes(src)
		if !bytes.Equal(src, dst) {
			t.Fatalf("clone %v differs from %v", dst, src)
		}
		if len(src) > 0 {
			src[0]++
			if dst[0] == src[0] {
				t.Fatalf("clone shares memory with source")
			}
		}
	})
}
