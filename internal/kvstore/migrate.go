package kvstore

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/mindvault/internal/common"
	"github.com/dmitrijs2005/mindvault/internal/schema"
	"go.etcd.io/bbolt"
)

func (db *DB) upgrade(ctx context.Context) error {
	var info versionInfo
	if err := db.bolt.View(func(tx *bbolt.Tx) error {
		info = readVersion(tx)
		return nil
	}); err != nil {
		return err
	}

	current := db.schema.Current()

	switch {
	case !info.Exists:
		return db.create(ctx)
	case info.Version < 0:
		return fmt.Errorf("%w: version is not a number", common.ErrVersionCorrupted)
	case info.Version > current:
		return fmt.Errorf("%w: store at version %d, schema at %d", common.ErrVersionConflict, info.Version, current)
	case info.Version == current:
		db.version = current
		db.log.Debug(ctx, "store up to date", "version", current)
		return nil
	}

	db.version = info.Version
	for v := info.Version + 1; v <= current; v++ {
		step, _ := db.schema.Step(v)
		if err := db.migrate(ctx, step); err != nil {
			return err
		}
		db.version = v
	}
	return nil
}

// create lays out every current store in a fresh file.
func (db *DB) create(ctx context.Context) error {
	current := db.schema.Current()
	err := db.update(func(tx *bbolt.Tx) error {
		for _, st := range db.schema.Stores() {
			if err := createStore(tx, st); err != nil {
				return err
			}
		}
		return writeVersion(tx, current, true)
	})
	if err != nil {
		return fmt.Errorf("create stores: %w", err)
	}
	db.version = current
	db.log.Info(ctx, "created store", "version", current, "path", db.path)
	return nil
}

// migrate applies one step. Structure, index builds, transforms and the
// version bump commit together or not at all.
func (db *DB) migrate(ctx context.Context, step schema.Migration) error {
	var run []schema.Transform
	for _, tr := range step.Transforms {
		if db.markers != nil {
			done, err := db.markers.MarkerDone(ctx, tr.Name)
			if err != nil {
				return fmt.Errorf("%w: version %d: read marker %s: %w", common.ErrMigrationStepFailed, step.Version, tr.Name, err)
			}
			if done {
				db.log.Debug(ctx, "transform already applied", "transform", tr.Name)
				continue
			}
		}
		run = append(run, tr)
	}

	stores := storeMap(db.schema.StoresAt(step.Version))

	err := db.update(func(tx *bbolt.Tx) error {
		for _, st := range step.Stores {
			if err := createStore(tx, st); err != nil {
				return err
			}
		}
		for _, add := range step.Indexes {
			if err := buildIndex(tx, add.Store, add.Index); err != nil {
				return err
			}
		}
		t := &boltTx{tx: tx, stores: stores}
		for _, tr := range run {
			if err := tr.Apply(t); err != nil {
				return fmt.Errorf("transform %s: %w", tr.Name, err)
			}
		}
		return writeVersion(tx, step.Version, true)
	})
	if err != nil {
		return fmt.Errorf("%w: version %d: %w", common.ErrMigrationStepFailed, step.Version, err)
	}

	for _, tr := range run {
		if db.markers == nil {
			break
		}
		if err := db.markers.SetMarker(ctx, tr.Name); err != nil {
			db.log.Warn(ctx, "failed to set migration marker", "transform", tr.Name, "error", err)
		}
	}

	db.log.Info(ctx, "migrated store", "version", step.Version, "transforms", len(run))
	return nil
}

func createStore(tx *bbolt.Tx, st schema.StoreDefinition) error {
	if _, err := tx.CreateBucketIfNotExists(DataBucketName(st.Name)); err != nil {
		return fmt.Errorf("create store %s: %w", st.Name, err)
	}
	for _, idx := range st.Indexes {
		if _, err := tx.CreateBucketIfNotExists(indexBucketName(st.Name, idx.Name)); err != nil {
			return fmt.Errorf("create index %s.%s: %w", st.Name, idx.Name, err)
		}
	}
	return nil
}

// buildIndex (re)builds idx over the existing rows of store.
func buildIndex(tx *bbolt.Tx, store string, idx schema.IndexDefinition) error {
	data := tx.Bucket(DataBucketName(store))
	if data == nil {
		return fmt.Errorf("%w: store %q has no bucket", common.ErrNotFound, store)
	}
	name := indexBucketName(store, idx.Name)
	if err := recreateBucket(tx, name); err != nil {
		return err
	}
	ib := tx.Bucket(name)

	return data.ForEach(func(k, raw []byte) error {
		rec, err := decodeRecord(raw)
		if err != nil {
			return err
		}
		v, ok := rec.Key(idx.KeyPath)
		if !ok {
			return nil
		}
		pk := string(k)
		if idx.Unique {
			if other, found := firstWithPrefix(ib, v); found && other != pk {
				return fmt.Errorf("%w: %s.%s %q used by %s and %s", common.ErrConstraint, store, idx.Name, v, other, pk)
			}
		}
		return ib.Put(indexEntry(v, pk), []byte(pk))
	})
}
