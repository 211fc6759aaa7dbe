package adapter

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/mindvault/internal/codec"
	"github.com/dmitrijs2005/mindvault/internal/common"
	"github.com/dmitrijs2005/mindvault/internal/keys"
	"github.com/dmitrijs2005/mindvault/internal/logging"
	"github.com/dmitrijs2005/mindvault/internal/models"
	"github.com/dmitrijs2005/mindvault/internal/schema"
)

// backend is what the adapter routes entity operations to.
type backend interface {
	Get(ctx context.Context, store, key string) (models.Record, error)
	Put(ctx context.Context, store string, rec models.Record) error
	Delete(ctx context.Context, store, key string) error
	QueryByIndex(ctx context.Context, store, index string, value any, opts models.QueryOptions) ([]models.Record, error)
	Update(ctx context.Context, fn func(tx models.Tx) error) error
	ExportAll(ctx context.Context) (models.Snapshot, error)
}

// kvStore is the part of *kvstore.DB the plain backend uses.
type kvStore interface {
	backend
	DeleteWhere(ctx context.Context, store, field, value string) (int, error)
	ClearStore(ctx context.Context, store string) error
	Version() int
	Close() error
}

// plainBackend serves the key-value store and applies the field codec to
// PHI fields while the session holds a key. Without a key rows are written
// as they come and flagged fields are returned still encrypted.
type plainBackend struct {
	db        kvStore
	keys      *keys.Manager
	sensitive map[string][]string
	log       logging.Logger
}

func newPlainBackend(db kvStore, s *schema.Schema, km *keys.Manager, log logging.Logger) *plainBackend {
	sensitive := make(map[string][]string)
	for _, st := range s.Stores() {
		if len(st.Sensitive) > 0 {
			sensitive[st.Name] = st.Sensitive
		}
	}
	return &plainBackend{db: db, keys: km, sensitive: sensitive, log: log}
}

func (p *plainBackend) encode(store string, rec models.Record) (models.Record, error) {
	fields := p.sensitive[store]
	if len(fields) == 0 {
		return rec, nil
	}
	out := rec
	err := p.keys.WithKey(func(key []byte) error {
		var err error
		out, err = codec.EncryptFields(rec, fields, key)
		return err
	})
	if errors.Is(err, common.ErrLocked) {
		return rec, nil
	}
	return out, err
}

func (p *plainBackend) decode(ctx context.Context, store string, rec models.Record) models.Record {
	fields := p.sensitive[store]
	if len(fields) == 0 || !codec.HasEncrypted(rec, fields) {
		return rec
	}
	out := rec
	_ = p.keys.WithKey(func(key []byte) error {
		var failed []string
		out, failed = codec.DecryptFields(rec, fields, key)
		if len(failed) > 0 {
			p.log.Warn(ctx, "fields could not be decrypted", "store", store, "fields", failed)
		}
		return nil
	})
	return out
}

func (p *plainBackend) decodeAll(ctx context.Context, store string, rows []models.Record) []models.Record {
	for i, rec := range rows {
		rows[i] = p.decode(ctx, store, rec)
	}
	return rows
}

func (p *plainBackend) Get(ctx context.Context, store, key string) (models.Record, error) {
	rec, err := p.db.Get(ctx, store, key)
	if err != nil {
		return nil, err
	}
	return p.decode(ctx, store, rec), nil
}

func (p *plainBackend) Put(ctx context.Context, store string, rec models.Record) error {
	enc, err := p.encode(store, rec)
	if err != nil {
		return err
	}
	return p.db.Put(ctx, store, enc)
}

func (p *plainBackend) Delete(ctx context.Context, store, key string) error {
	return p.db.Delete(ctx, store, key)
}

func (p *plainBackend) QueryByIndex(ctx context.Context, store, index string, value any, opts models.QueryOptions) ([]models.Record, error) {
	rows, err := p.db.QueryByIndex(ctx, store, index, value, opts)
	if err != nil {
		return nil, err
	}
	return p.decodeAll(ctx, store, rows), nil
}

func (p *plainBackend) Update(ctx context.Context, fn func(tx models.Tx) error) error {
	return p.db.Update(ctx, func(tx models.Tx) error {
		return fn(&codecTx{ctx: ctx, inner: tx, p: p})
	})
}

func (p *plainBackend) ExportAll(ctx context.Context) (models.Snapshot, error) {
	snap, err := p.db.ExportAll(ctx)
	if err != nil {
		return nil, err
	}
	for store, rows := range snap {
		snap[store] = p.decodeAll(ctx, store, rows)
	}
	return snap, nil
}

// codecTx applies the field codec to a transaction of the plain store.
type codecTx struct {
	ctx   context.Context
	inner models.Tx
	p     *plainBackend
}

var _ models.Tx = (*codecTx)(nil)

func (t *codecTx) Get(store, key string) (models.Record, error) {
	rec, err := t.inner.Get(store, key)
	if err != nil {
		return nil, err
	}
	return t.p.decode(t.ctx, store, rec), nil
}

func (t *codecTx) Put(store string, rec models.Record) error {
	enc, err := t.p.encode(store, rec)
	if err != nil {
		return err
	}
	return t.inner.Put(store, enc)
}

func (t *codecTx) Delete(store, key string) error {
	return t.inner.Delete(store, key)
}

func (t *codecTx) QueryByIndex(store, index string, value any, opts models.QueryOptions) ([]models.Record, error) {
	rows, err := t.inner.QueryByIndex(store, index, value, opts)
	if err != nil {
		return nil, err
	}
	return t.p.decodeAll(t.ctx, store, rows), nil
}

func (t *codecTx) ForEach(store string, fn func(models.Record) error) error {
	return t.inner.ForEach(store, func(rec models.Record) error {
		return fn(t.p.decode(t.ctx, store, rec))
	})
}
