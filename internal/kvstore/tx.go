package kvstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/dmitrijs2005/mindvault/internal/common"
	"github.com/dmitrijs2005/mindvault/internal/models"
	"github.com/dmitrijs2005/mindvault/internal/schema"
	"go.etcd.io/bbolt"
)

// boltTx implements models.Tx over one bbolt transaction. stores holds the
// definitions valid for the transaction, which during a migration step are
// those of the step's target version.
type boltTx struct {
	tx     *bbolt.Tx
	stores map[string]schema.StoreDefinition
}

var _ models.Tx = (*boltTx)(nil)

func (t *boltTx) bucket(store string) (schema.StoreDefinition, *bbolt.Bucket, error) {
	def, ok := t.stores[store]
	if !ok {
		return def, nil, fmt.Errorf("%w: unknown store %q", common.ErrNotFound, store)
	}
	b := t.tx.Bucket(DataBucketName(store))
	if b == nil {
		return def, nil, fmt.Errorf("%w: store %q has no bucket", common.ErrNotFound, store)
	}
	return def, b, nil
}

func (t *boltTx) index(store string, idx schema.IndexDefinition) (*bbolt.Bucket, error) {
	b := t.tx.Bucket(indexBucketName(store, idx.Name))
	if b == nil {
		return nil, fmt.Errorf("%w: index %s.%s has no bucket", common.ErrNotFound, store, idx.Name)
	}
	return b, nil
}

func (t *boltTx) Get(store, key string) (models.Record, error) {
	_, b, err := t.bucket(store)
	if err != nil {
		return nil, err
	}
	raw := b.Get([]byte(key))
	if raw == nil {
		return nil, fmt.Errorf("%w: %s/%s", common.ErrNotFound, store, key)
	}
	return decodeRecord(raw)
}

func (t *boltTx) Put(store string, rec models.Record) error {
	def, b, err := t.bucket(store)
	if err != nil {
		return err
	}
	pk, ok := rec.Key(def.PrimaryKeyPath)
	if !ok || pk == "" {
		return fmt.Errorf("%w: %s record without %q", common.ErrConstraint, store, def.PrimaryKeyPath)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", store, pk, err)
	}

	var old models.Record
	if raw := b.Get([]byte(pk)); raw != nil {
		if old, err = decodeRecord(raw); err != nil {
			return err
		}
	}

	buckets := make([]*bbolt.Bucket, len(def.Indexes))
	for i, idx := range def.Indexes {
		ib, err := t.index(store, idx)
		if err != nil {
			return err
		}
		buckets[i] = ib
		v, ok := rec.Key(idx.KeyPath)
		if !ok {
			continue
		}
		if err := checkIndexValue(store, idx.KeyPath, v); err != nil {
			return err
		}
		if idx.Unique {
			if other, found := firstWithPrefix(ib, v); found && other != pk {
				return fmt.Errorf("%w: %s.%s %q already used by %s", common.ErrConstraint, store, idx.Name, v, other)
			}
		}
	}

	for i, idx := range def.Indexes {
		ib := buckets[i]
		if v, ok := old.Key(idx.KeyPath); ok {
			if err := ib.Delete(indexEntry(v, pk)); err != nil {
				return err
			}
		}
		if v, ok := rec.Key(idx.KeyPath); ok {
			if err := ib.Put(indexEntry(v, pk), []byte(pk)); err != nil {
				return err
			}
		}
	}

	return b.Put([]byte(pk), data)
}

func (t *boltTx) Delete(store, key string) error {
	def, b, err := t.bucket(store)
	if err != nil {
		return err
	}
	raw := b.Get([]byte(key))
	if raw == nil {
		return nil
	}
	old, err := decodeRecord(raw)
	if err != nil {
		return err
	}
	for _, idx := range def.Indexes {
		ib, err := t.index(store, idx)
		if err != nil {
			return err
		}
		if v, ok := old.Key(idx.KeyPath); ok {
			if err := ib.Delete(indexEntry(v, key)); err != nil {
				return err
			}
		}
	}
	return b.Delete([]byte(key))
}

func (t *boltTx) QueryByIndex(store, index string, value any, opts models.QueryOptions) ([]models.Record, error) {
	def, b, err := t.bucket(store)
	if err != nil {
		return nil, err
	}
	idx, ok := def.Index(index)
	if !ok {
		return nil, fmt.Errorf("%w: unknown index %s.%s", common.ErrNotFound, store, index)
	}
	v, ok := models.KeyString(value)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not an indexable value", common.ErrConstraint, value)
	}
	if err := checkIndexValue(store, idx.KeyPath, v); err != nil {
		return nil, err
	}
	ib, err := t.index(store, idx)
	if err != nil {
		return nil, err
	}

	var pks []string
	prefix := indexPrefixFor(v)
	c := ib.Cursor()
	for k, pk := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, pk = c.Next() {
		pks = append(pks, string(pk))
	}
	if opts.Reverse {
		slices.Reverse(pks)
	}
	if opts.Limit > 0 && len(pks) > opts.Limit {
		pks = pks[:opts.Limit]
	}

	out := make([]models.Record, 0, len(pks))
	for _, pk := range pks {
		raw := b.Get([]byte(pk))
		if raw == nil {
			continue
		}
		rec, err := decodeRecord(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// ForEach calls fn for every row of store in key order. fn must not write
// to the same store; collect keys first and write after ForEach returns.
func (t *boltTx) ForEach(store string, fn func(models.Record) error) error {
	_, b, err := t.bucket(store)
	if err != nil {
		return err
	}
	return b.ForEach(func(_, raw []byte) error {
		rec, err := decodeRecord(raw)
		if err != nil {
			return err
		}
		return fn(rec)
	})
}

func (t *boltTx) all(store string) ([]models.Record, error) {
	out := []models.Record{}
	err := t.ForEach(store, func(rec models.Record) error {
		out = append(out, rec)
		return nil
	})
	return out, err
}

// deleteWhere removes every row of store whose field renders as value.
func (t *boltTx) deleteWhere(store, field, value string) (int, error) {
	def, _, err := t.bucket(store)
	if err != nil {
		return 0, err
	}

	var pks []string
	if field == def.PrimaryKeyPath {
		if _, err := t.Get(store, value); err == nil {
			pks = append(pks, value)
		}
	} else if idx, ok := indexOn(def, field); ok {
		rows, err := t.QueryByIndex(store, idx.Name, value, models.QueryOptions{})
		if err != nil {
			return 0, err
		}
		for _, rec := range rows {
			pk, _ := rec.Key(def.PrimaryKeyPath)
			pks = append(pks, pk)
		}
	} else {
		err := t.ForEach(store, func(rec models.Record) error {
			if v, ok := rec.Key(field); ok && v == value {
				pk, _ := rec.Key(def.PrimaryKeyPath)
				pks = append(pks, pk)
			}
			return nil
		})
		if err != nil {
			return 0, err
		}
	}

	for _, pk := range pks {
		if err := t.Delete(store, pk); err != nil {
			return 0, err
		}
	}
	return len(pks), nil
}

func indexOn(def schema.StoreDefinition, field string) (schema.IndexDefinition, bool) {
	for _, idx := range def.Indexes {
		if idx.KeyPath == field {
			return idx, true
		}
	}
	return schema.IndexDefinition{}, false
}
