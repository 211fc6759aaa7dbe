package kvstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/mindvault/internal/common"
	"github.com/dmitrijs2005/mindvault/internal/models"
	"go.etcd.io/bbolt"
)

// On-disk layout of journal.db:
//
//	__schema                version -> decimal, header -> "mvdb1:<v>:<crc32>"
//	s:<store>               primary key -> JSON record
//	i:<store>:<index>       value 0x00 primary key -> primary key
const (
	schemaBucketName = "__schema"
	dataPrefix       = "s:"
	indexPrefix      = "i:"
	headerMagic      = "mvdb1"
)

var (
	schemaBucket = []byte(schemaBucketName)
	versionKey   = []byte("version")
	headerKey    = []byte("header")
)

// DataBucketName returns the bucket holding the rows of store.
func DataBucketName(store string) []byte {
	return []byte(dataPrefix + store)
}

func indexBucketName(store, index string) []byte {
	return []byte(indexPrefix + store + ":" + index)
}

// checkIndexValue rejects values that cannot be told apart inside an index
// key, where 0x00 separates the value from the primary key.
func checkIndexValue(store, field, value string) error {
	if strings.IndexByte(value, 0) >= 0 {
		return fmt.Errorf("%w: %s.%s value contains a NUL byte", common.ErrConstraint, store, field)
	}
	return nil
}

func indexEntry(value, pk string) []byte {
	out := make([]byte, 0, len(value)+1+len(pk))
	out = append(out, value...)
	out = append(out, 0)
	return append(out, pk...)
}

func indexPrefixFor(value string) []byte {
	return append([]byte(value), 0)
}

// firstWithPrefix returns the primary key of the first entry for value.
func firstWithPrefix(b *bbolt.Bucket, value string) (string, bool) {
	prefix := indexPrefixFor(value)
	k, pk := b.Cursor().Seek(prefix)
	if k == nil || !bytes.HasPrefix(k, prefix) {
		return "", false
	}
	return string(pk), true
}

func encodeHeader(v int) []byte {
	body := headerMagic + ":" + strconv.Itoa(v)
	return []byte(fmt.Sprintf("%s:%08x", body, crc32.ChecksumIEEE([]byte(body))))
}

func decodeHeader(raw []byte) (int, bool) {
	parts := strings.Split(string(raw), ":")
	if len(parts) != 3 || parts[0] != headerMagic {
		return 0, false
	}
	v, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, false
	}
	body := parts[0] + ":" + parts[1]
	if fmt.Sprintf("%08x", crc32.ChecksumIEEE([]byte(body))) != parts[2] {
		return 0, false
	}
	return v, true
}

// versionInfo is what a store reports about its own version.
type versionInfo struct {
	// Exists is false for a store never initialized by Open.
	Exists bool
	// Version is -1 when the persisted value is not a number.
	Version int
	// Trusted is true when a consistent header confirms Version.
	Trusted bool
}

func readVersion(tx *bbolt.Tx) versionInfo {
	b := tx.Bucket(schemaBucket)
	if b == nil {
		return versionInfo{}
	}
	raw := b.Get(versionKey)
	if raw == nil {
		return versionInfo{}
	}
	v, err := strconv.Atoi(string(raw))
	if err != nil {
		return versionInfo{Exists: true, Version: -1}
	}
	hv, ok := decodeHeader(b.Get(headerKey))
	return versionInfo{Exists: true, Version: v, Trusted: ok && hv == v}
}

func writeVersion(tx *bbolt.Tx, v int, header bool) error {
	b, err := tx.CreateBucketIfNotExists(schemaBucket)
	if err != nil {
		return err
	}
	if err := b.Put(versionKey, []byte(strconv.Itoa(v))); err != nil {
		return err
	}
	if header {
		return b.Put(headerKey, encodeHeader(v))
	}
	return b.Delete(headerKey)
}

func decodeRecord(raw []byte) (models.Record, error) {
	var rec models.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}
