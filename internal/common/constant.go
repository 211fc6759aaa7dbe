package common

const (
	// SaltSize is the length of the per-installation key derivation salt.
	SaltSize = 16

	// KeySize is the length of the derived AES-256 key.
	KeySize = 32

	// MarkerPrefix prefixes migration marker keys in the config area.
	MarkerPrefix = "migration:"
)
