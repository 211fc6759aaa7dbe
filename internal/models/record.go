// Package models holds the storage-neutral types shared by the plain
// key-value path, the encrypted vault and the store adapter.
package models

import (
	"strconv"
	"time"
)

// Record is one logical entity row (user, goal, feeling log, ...), decoded
// from JSON. Field-encrypted values carry a companion "<field>_encrypted"
// boolean flag.
type Record map[string]any

// Clone returns a shallow copy of r.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Key returns the value at path rendered as a key string, and whether the
// path held a usable scalar.
func (r Record) Key(path string) (string, bool) {
	v, ok := r[path]
	if !ok || v == nil {
		return "", false
	}
	return KeyString(v)
}

// KeyString renders a scalar as the string form used for primary keys and
// index entries. Booleans become "1"/"0" and numbers use their shortest
// decimal form; other types are not indexable.
func KeyString(v any) (string, bool) {
	switch value := v.(type) {
	case string:
		return value, true
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(value), 'f', -1, 32), true
	case int:
		return strconv.Itoa(value), true
	case int64:
		return strconv.FormatInt(value, 10), true
	case bool:
		if value {
			return "1", true
		}
		return "0", true
	default:
		return "", false
	}
}

// QueryOptions bounds an index query. A zero Limit means no limit.
type QueryOptions struct {
	Limit   int
	Reverse bool
}

// Snapshot maps store names to every row exported from them. It is the
// shape of both ExportAll and the recovery snapshot.
type Snapshot map[string][]Record

// Count returns the total number of rows across stores.
func (s Snapshot) Count() int {
	n := 0
	for _, rows := range s {
		n += len(rows)
	}
	return n
}

// Tx is the transactional view of the entity stores handed to migration
// transforms and to multi-record adapter operations.
type Tx interface {
	Get(store, key string) (Record, error)
	Put(store string, rec Record) error
	Delete(store, key string) error
	QueryByIndex(store, index string, value any, opts QueryOptions) ([]Record, error)
	ForEach(store string, fn func(Record) error) error
}

// AuditLogEntry is one append-only audit row kept inside the encrypted vault.
type AuditLogEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	UserID    string    `json:"userId"`
	Action    string    `json:"action"`
	Table     string    `json:"table"`
	RecordID  string    `json:"recordId"`
	Details   string    `json:"details"`
}

// Failure names a store a batch operation could not complete for.
type Failure struct {
	Store string
	Err   error
}

// BatchResult reports a best-effort multi-store operation.
type BatchResult struct {
	Succeeded []string
	Failed    []Failure
}

// OK reports whether every store succeeded.
func (b BatchResult) OK() bool { return len(b.Failed) == 0 }

func (b *BatchResult) Add(store string, err error) {
	if err != nil {
		b.Failed = append(b.Failed, Failure{Store: store, Err: err})
		return
	}
	b.Succeeded = append(b.Succeeded, store)
}
