package vault

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/dmitrijs2005/mindvault/internal/common"
	"github.com/dmitrijs2005/mindvault/internal/dbx"
	"github.com/dmitrijs2005/mindvault/internal/models"
	"github.com/dmitrijs2005/mindvault/internal/repositories/records"
	"github.com/dmitrijs2005/mindvault/internal/schema"
)

// sqlTx implements models.Tx over one SQL transaction of the working copy.
type sqlTx struct {
	ctx    context.Context
	repo   records.Repository
	stores map[string]schema.StoreDefinition
	now    int64
}

var _ models.Tx = (*sqlTx)(nil)

func (v *Vault) txFor(ctx context.Context, db dbx.DBTX) *sqlTx {
	return &sqlTx{
		ctx:    ctx,
		repo:   records.NewSQLiteRepository(db),
		stores: v.stores,
		now:    v.now().UnixMilli(),
	}
}

func (t *sqlTx) def(store string) (schema.StoreDefinition, error) {
	def, ok := t.stores[store]
	if !ok {
		return def, fmt.Errorf("%w: unknown store %q", common.ErrNotFound, store)
	}
	return def, nil
}

func decode(row records.Row) (models.Record, error) {
	var rec models.Record
	if err := json.Unmarshal(row.Data, &rec); err != nil {
		return nil, fmt.Errorf("decode record %s/%s: %w", row.Store, row.ID, err)
	}
	return rec, nil
}

func decodeAll(rows []records.Row) ([]models.Record, error) {
	out := make([]models.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := decode(row)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (t *sqlTx) Get(store, key string) (models.Record, error) {
	if _, err := t.def(store); err != nil {
		return nil, err
	}
	row, err := t.repo.Get(t.ctx, store, key)
	if err != nil {
		return nil, err
	}
	return decode(*row)
}

func (t *sqlTx) Put(store string, rec models.Record) error {
	def, err := t.def(store)
	if err != nil {
		return err
	}
	pk, ok := rec.Key(def.PrimaryKeyPath)
	if !ok || pk == "" {
		return fmt.Errorf("%w: %s record without %q", common.ErrConstraint, store, def.PrimaryKeyPath)
	}

	for _, idx := range def.Indexes {
		if !idx.Unique {
			continue
		}
		v, ok := rec.Key(idx.KeyPath)
		if !ok {
			continue
		}
		others, err := t.repo.Find(t.ctx, records.Filter{Store: store, Field: idx.KeyPath, Value: v, ExcludeID: pk, Limit: 1})
		if err != nil {
			return err
		}
		if len(others) > 0 {
			return fmt.Errorf("%w: %s.%s %q already used by %s", common.ErrConstraint, store, idx.Name, v, others[0].ID)
		}
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", store, pk, err)
	}
	userID := ""
	if def.UserKeyPath != "" {
		userID, _ = rec.Key(def.UserKeyPath)
	}
	return t.repo.Upsert(t.ctx, records.Row{Store: store, ID: pk, UserID: userID, Data: data, UpdatedAt: t.now})
}

func (t *sqlTx) Delete(store, key string) error {
	if _, err := t.def(store); err != nil {
		return err
	}
	return t.repo.Delete(t.ctx, store, key)
}

func (t *sqlTx) QueryByIndex(store, index string, value any, opts models.QueryOptions) ([]models.Record, error) {
	def, err := t.def(store)
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
	rows, err := t.repo.Find(t.ctx, records.Filter{
		Store:   store,
		Field:   idx.KeyPath,
		Value:   v,
		Limit:   opts.Limit,
		Reverse: opts.Reverse,
	})
	if err != nil {
		return nil, err
	}
	return decodeAll(rows)
}

// ForEach reads the whole store before calling fn, so fn may write.
func (t *sqlTx) ForEach(store string, fn func(models.Record) error) error {
	rows, err := t.all(store)
	if err != nil {
		return err
	}
	for _, rec := range rows {
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

func (t *sqlTx) all(store string) ([]models.Record, error) {
	if _, err := t.def(store); err != nil {
		return nil, err
	}
	rows, err := t.repo.ListByStore(t.ctx, store)
	if err != nil {
		return nil, err
	}
	return decodeAll(rows)
}

// Reads run directly on the working copy.

func (v *Vault) Get(ctx context.Context, store, key string) (models.Record, error) {
	return v.txFor(ctx, v.db).Get(store, key)
}

func (v *Vault) QueryByIndex(ctx context.Context, store, index string, value any, opts models.QueryOptions) ([]models.Record, error) {
	return v.txFor(ctx, v.db).QueryByIndex(store, index, value, opts)
}

func (v *Vault) All(ctx context.Context, store string) ([]models.Record, error) {
	return v.txFor(ctx, v.db).all(store)
}

// Writes persist a new blob before they return.

func (v *Vault) Put(ctx context.Context, store string, rec models.Record) error {
	def, ok := v.stores[store]
	if !ok {
		return fmt.Errorf("%w: unknown store %q", common.ErrNotFound, store)
	}
	pk, _ := rec.Key(def.PrimaryKeyPath)
	return v.commit(ctx, v.entry(ActionSave, store, pk, "put"), func(ctx context.Context, tx dbx.DBTX) error {
		return v.txFor(ctx, tx).Put(store, rec)
	})
}

func (v *Vault) Delete(ctx context.Context, store, key string) error {
	return v.commit(ctx, v.entry(ActionSave, store, key, "delete"), func(ctx context.Context, tx dbx.DBTX) error {
		return v.txFor(ctx, tx).Delete(store, key)
	})
}

// Update runs fn in one transaction and persists the result once.
func (v *Vault) Update(ctx context.Context, fn func(tx models.Tx) error) error {
	return v.commit(ctx, v.entry(ActionSave, "", "", "update"), func(ctx context.Context, tx dbx.DBTX) error {
		return fn(v.txFor(ctx, tx))
	})
}

// ExportAll returns every row of every store, with an empty slice for
// stores without rows.
func (v *Vault) ExportAll(ctx context.Context) (models.Snapshot, error) {
	snap := make(models.Snapshot, len(v.stores))
	t := v.txFor(ctx, v.db)
	for _, name := range v.storeNames() {
		rows, err := t.all(name)
		if err != nil {
			return nil, fmt.Errorf("export %s: %w", name, err)
		}
		snap[name] = rows
	}
	return snap, nil
}

// Import writes the rows of snap in one transaction. It is used once, when
// an installation switches from the plain store to the vault.
func (v *Vault) Import(ctx context.Context, snap models.Snapshot) error {
	names := make([]string, 0, len(snap))
	for name := range snap {
		names = append(names, name)
	}
	sort.Strings(names)

	details := fmt.Sprintf("%d rows", snap.Count())
	return v.commit(ctx, v.entry(ActionImportPlain, "", "", details), func(ctx context.Context, tx dbx.DBTX) error {
		t := v.txFor(ctx, tx)
		for _, name := range names {
			if _, ok := v.stores[name]; !ok {
				v.log.Warn(ctx, "skipping unknown store on import", "store", name)
				continue
			}
			for _, rec := range snap[name] {
				if err := t.Put(name, rec); err != nil {
					return fmt.Errorf("import %s: %w", name, err)
				}
			}
		}
		return nil
	})
}

// DeleteByUser removes the rows of userID from every store that references
// a user, keeps going past per-store failures and persists once.
func (v *Vault) DeleteByUser(ctx context.Context, userID string) (models.BatchResult, error) {
	var result models.BatchResult
	err := v.commit(ctx, v.entry(ActionClearUser, "", userID, ""), func(ctx context.Context, tx dbx.DBTX) error {
		repo := records.NewSQLiteRepository(tx)
		for _, name := range v.storeNames() {
			def := v.stores[name]
			if def.UserKeyPath == "" {
				continue
			}
			n, err := repo.DeleteByUser(ctx, name, userID)
			if err != nil {
				v.log.Warn(ctx, "clear user failed for store", "store", name, "error", err)
			} else {
				v.log.Debug(ctx, "cleared user rows", "store", name, "rows", n)
			}
			result.Add(name, err)
		}
		return nil
	})
	return result, err
}
