// Package codec implements field-level encryption of PHI fields on plain
// records. An encrypted field holds base64(IV || ciphertext || tag) of the
// JSON-encoded original value and carries a "<field>_encrypted" flag.
package codec

import (
	"encoding/base64"
	"fmt"

	"github.com/dmitrijs2005/mindvault/internal/cryptox"
	"github.com/dmitrijs2005/mindvault/internal/models"
)

// FlagSuffix is appended to a field name to form its encryption flag.
const FlagSuffix = "_encrypted"

// Flag returns the companion flag name of field.
func Flag(field string) string { return field + FlagSuffix }

// IsEncrypted reports whether field is flagged as encrypted in rec.
func IsEncrypted(rec models.Record, field string) bool {
	flagged, _ := rec[Flag(field)].(bool)
	return flagged
}

// EncryptFields returns a copy of rec with every present, non-nil field in
// fields encrypted under key. Fields already flagged are left untouched, so
// calling it twice never double-wraps a value.
func EncryptFields(rec models.Record, fields []string, key []byte) (models.Record, error) {
	out := rec.Clone()
	for _, f := range fields {
		v, ok := out[f]
		if !ok || v == nil || IsEncrypted(out, f) {
			continue
		}
		blob, err := cryptox.EncryptEntry(v, key)
		if err != nil {
			return nil, fmt.Errorf("encrypt field %s: %w", f, err)
		}
		out[f] = base64.StdEncoding.EncodeToString(blob)
		out[Flag(f)] = true
	}
	return out, nil
}

// DecryptFields returns a copy of rec with every flagged field in fields
// decrypted and its flag removed. A field that fails to decrypt is set to
// nil and its name is reported in failed; the other fields still decrypt.
func DecryptFields(rec models.Record, fields []string, key []byte) (out models.Record, failed []string) {
	out = rec.Clone()
	for _, f := range fields {
		if !IsEncrypted(out, f) {
			continue
		}
		delete(out, Flag(f))

		v, err := decryptValue(out[f], key)
		if err != nil {
			out[f] = nil
			failed = append(failed, f)
			continue
		}
		out[f] = v
	}
	return out, failed
}

// HasEncrypted reports whether any of fields is flagged in rec.
func HasEncrypted(rec models.Record, fields []string) bool {
	for _, f := range fields {
		if IsEncrypted(rec, f) {
			return true
		}
	}
	return false
}

func decryptValue(v any, key []byte) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("encrypted value is %T, want string", v)
	}
	blob, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	var out any
	if err := cryptox.DecryptEntry(blob, key, &out); err != nil {
		return nil, err
	}
	return out, nil
}
