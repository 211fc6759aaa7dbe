// Package kvstore is the plain, versioned entity store of the journal,
// built on a single bbolt file.
//
// Open brings the file to the schema's current version: a fresh file gets
// every store at once, an older one is migrated step by step, each step in
// a single exclusive bbolt transaction together with its version bump. A
// store already at the current version is opened without any write.
package kvstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/mindvault/internal/common"
	"github.com/dmitrijs2005/mindvault/internal/logging"
	"github.com/dmitrijs2005/mindvault/internal/models"
	"github.com/dmitrijs2005/mindvault/internal/schema"
	"github.com/dmitrijs2005/mindvault/internal/settings"
	"go.etcd.io/bbolt"
)

// Options configures Open.
type Options struct {
	// Timeout bounds the wait for the file lock. Zero waits forever.
	Timeout time.Duration

	// Markers records finished data transforms. Nil disables markers.
	Markers settings.Markers

	Logger logging.Logger
}

type DB struct {
	bolt    *bbolt.DB
	schema  *schema.Schema
	stores  map[string]schema.StoreDefinition
	log     logging.Logger
	markers settings.Markers
	path    string
	version int
	writes  atomic.Int64
}

func openBolt(path string, timeout time.Duration, readOnly bool) (*bbolt.DB, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: timeout, ReadOnly: readOnly})
	if err != nil {
		if errors.Is(err, bbolt.ErrTimeout) {
			return nil, fmt.Errorf("open %s: %w", path, common.ErrBlocked)
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return db, nil
}

func storeMap(defs []schema.StoreDefinition) map[string]schema.StoreDefinition {
	m := make(map[string]schema.StoreDefinition, len(defs))
	for _, d := range defs {
		m[d.Name] = d
	}
	return m
}

// Open opens the store at path and migrates it to s.Current().
//
// It fails with common.ErrVersionConflict when the file reports a version
// newer than the schema, and with common.ErrMigrationStepFailed when a step
// is rejected; the file then stays at the last version that committed.
func Open(ctx context.Context, path string, s *schema.Schema, opts Options) (*DB, error) {
	bdb, err := openBolt(path, opts.Timeout, false)
	if err != nil {
		return nil, err
	}

	log := opts.Logger
	if log == nil {
		log = logging.Nop()
	}

	db := &DB{
		bolt:    bdb,
		schema:  s,
		stores:  storeMap(s.Stores()),
		log:     log.With("component", "kvstore"),
		markers: opts.Markers,
		path:    path,
	}

	if err := db.upgrade(ctx); err != nil {
		_ = bdb.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) Close() error {
	return db.bolt.Close()
}

// Version is the schema version the file is at.
func (db *DB) Version() int { return db.version }

func (db *DB) Path() string { return db.path }

func (db *DB) Schema() *schema.Schema { return db.schema }

// Writes counts the write transactions issued through this handle.
func (db *DB) Writes() int64 { return db.writes.Load() }

func (db *DB) update(fn func(tx *bbolt.Tx) error) error {
	db.writes.Add(1)
	return db.bolt.Update(fn)
}

func (db *DB) txFor(tx *bbolt.Tx) *boltTx {
	return &boltTx{tx: tx, stores: db.stores}
}

func (db *DB) Get(_ context.Context, store, key string) (models.Record, error) {
	var rec models.Record
	err := db.bolt.View(func(tx *bbolt.Tx) error {
		var err error
		rec, err = db.txFor(tx).Get(store, key)
		return err
	})
	return rec, err
}

func (db *DB) Put(_ context.Context, store string, rec models.Record) error {
	return db.update(func(tx *bbolt.Tx) error {
		return db.txFor(tx).Put(store, rec)
	})
}

func (db *DB) Delete(_ context.Context, store, key string) error {
	return db.update(func(tx *bbolt.Tx) error {
		return db.txFor(tx).Delete(store, key)
	})
}

func (db *DB) QueryByIndex(_ context.Context, store, index string, value any, opts models.QueryOptions) ([]models.Record, error) {
	var out []models.Record
	err := db.bolt.View(func(tx *bbolt.Tx) error {
		var err error
		out, err = db.txFor(tx).QueryByIndex(store, index, value, opts)
		return err
	})
	return out, err
}

// All returns every row of store.
func (db *DB) All(_ context.Context, store string) ([]models.Record, error) {
	var out []models.Record
	err := db.bolt.View(func(tx *bbolt.Tx) error {
		var err error
		out, err = db.txFor(tx).all(store)
		return err
	})
	return out, err
}

// Update runs fn in one read-write transaction across all stores.
func (db *DB) Update(_ context.Context, fn func(tx models.Tx) error) error {
	return db.update(func(tx *bbolt.Tx) error {
		return fn(db.txFor(tx))
	})
}

// View runs fn in one read-only transaction; writes through tx fail.
func (db *DB) View(_ context.Context, fn func(tx models.Tx) error) error {
	return db.bolt.View(func(tx *bbolt.Tx) error {
		return fn(db.txFor(tx))
	})
}

// ExportAll returns every row of every current store.
func (db *DB) ExportAll(_ context.Context) (models.Snapshot, error) {
	snap := make(models.Snapshot, len(db.stores))
	err := db.bolt.View(func(tx *bbolt.Tx) error {
		t := db.txFor(tx)
		for name := range db.stores {
			rows, err := t.all(name)
			if err != nil {
				return fmt.Errorf("export %s: %w", name, err)
			}
			snap[name] = rows
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// DeleteWhere deletes every row of store whose field equals value and
// returns how many rows went away.
func (db *DB) DeleteWhere(_ context.Context, store, field, value string) (int, error) {
	var n int
	err := db.update(func(tx *bbolt.Tx) error {
		var err error
		n, err = db.txFor(tx).deleteWhere(store, field, value)
		return err
	})
	return n, err
}

// ClearStore removes every row and index entry of store.
func (db *DB) ClearStore(_ context.Context, store string) error {
	def, ok := db.stores[store]
	if !ok {
		return fmt.Errorf("%w: unknown store %q", common.ErrNotFound, store)
	}
	return db.update(func(tx *bbolt.Tx) error {
		if err := recreateBucket(tx, DataBucketName(store)); err != nil {
			return err
		}
		for _, idx := range def.Indexes {
			if err := recreateBucket(tx, indexBucketName(store, idx.Name)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Restore writes snapshot rows back, one transaction per store. Stores the
// schema no longer knows and rows the current schema rejects are reported
// or skipped without aborting the rest.
func (db *DB) Restore(ctx context.Context, snap models.Snapshot) models.BatchResult {
	var result models.BatchResult

	names := make([]string, 0, len(snap))
	for name := range snap {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if _, ok := db.stores[name]; !ok {
			result.Add(name, fmt.Errorf("%w: unknown store %q", common.ErrNotFound, name))
			continue
		}
		skipped := 0
		err := db.update(func(tx *bbolt.Tx) error {
			t := db.txFor(tx)
			for _, rec := range snap[name] {
				if err := t.Put(name, rec); err != nil {
					if errors.Is(err, common.ErrConstraint) {
						skipped++
						continue
					}
					return err
				}
			}
			return nil
		})
		if skipped > 0 {
			db.log.Warn(ctx, "restore skipped rows", "store", name, "skipped", skipped)
		}
		result.Add(name, err)
	}
	return result
}

func recreateBucket(tx *bbolt.Tx, name []byte) error {
	if tx.Bucket(name) != nil {
		if err := tx.DeleteBucket(name); err != nil {
			return err
		}
	}
	_, err := tx.CreateBucket(name)
	return err
}
