package kvstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dmitrijs2005/mindvault/internal/common"
	"github.com/dmitrijs2005/mindvault/internal/models"
	"github.com/dmitrijs2005/mindvault/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"
)

type memMarkers struct {
	done map[string]bool
	sets int
}

func newMarkers() *memMarkers { return &memMarkers{done: map[string]bool{}} }

func (m *memMarkers) MarkerDone(_ context.Context, name string) (bool, error) {
	return m.done[name], nil
}

func (m *memMarkers) SetMarker(_ context.Context, name string) error {
	m.sets++
	m.done[name] = true
	return nil
}

func dbPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "journal.db")
}

func journalAt(v int) *schema.Schema {
	return schema.MustNew(schema.JournalMigrations()[:v]...)
}

func open(t *testing.T, path string, s *schema.Schema, markers *memMarkers) *DB {
	t.Helper()
	opts := Options{Timeout: time.Second}
	if markers != nil {
		opts.Markers = markers
	}
	db, err := Open(context.Background(), path, s, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpen_FreshCreatesCurrentStores(t *testing.T) {
	db := open(t, dbPath(t), schema.Journal(), nil)
	ctx := context.Background()

	assert.Equal(t, 5, db.Version())
	assert.EqualValues(t, 1, db.Writes())

	require.NoError(t, db.Put(ctx, schema.StoreUsers, models.Record{"id": "u1", "email": "a@b.c"}))
	rec, err := db.Get(ctx, schema.StoreUsers, "u1")
	require.NoError(t, err)
	assert.Equal(t, "a@b.c", rec["email"])

	snap, err := db.ExportAll(ctx)
	require.NoError(t, err)
	assert.Len(t, snap, 9)
	assert.Len(t, snap[schema.StoreUsers], 1)
	assert.NotNil(t, snap[schema.StoreGoals])
}

func TestOpen_UpToDateStoreIsNotWritten(t *testing.T) {
	path := dbPath(t)
	markers := newMarkers()

	first, err := Open(context.Background(), path, schema.Journal(), Options{Timeout: time.Second, Markers: markers})
	require.NoError(t, err)
	require.NoError(t, first.Close())

	for i := 0; i < 2; i++ {
		db, err := Open(context.Background(), path, schema.Journal(), Options{Timeout: time.Second, Markers: markers})
		require.NoError(t, err)
		assert.EqualValues(t, 0, db.Writes())
		assert.Equal(t, 5, db.Version())
		require.NoError(t, db.Close())
	}
	assert.Zero(t, markers.sets)
}

func seedV2(t *testing.T, path string) {
	t.Helper()
	ctx := context.Background()
	db, err := Open(ctx, path, journalAt(2), Options{Timeout: time.Second})
	require.NoError(t, err)
	require.NoError(t, db.Put(ctx, schema.StoreSessions, models.Record{"id": "s1", "userId": "u1"}))
	require.NoError(t, db.Put(ctx, schema.StoreFeelingLogs, models.Record{"id": "f1", "sessionId": "s1", "feeling": "ok"}))
	require.NoError(t, db.Put(ctx, schema.StoreFeelingLogs, models.Record{"id": "f2", "sessionId": "gone"}))
	require.NoError(t, db.Close())
}

func TestOpen_MigratesAndBackfills(t *testing.T) {
	path := dbPath(t)
	seedV2(t, path)
	markers := newMarkers()

	db := open(t, path, schema.Journal(), markers)
	ctx := context.Background()

	assert.Equal(t, 5, db.Version())
	assert.True(t, markers.done[schema.BackfillFeelingLogUserID])
	assert.Equal(t, 1, markers.sets)

	rec, err := db.Get(ctx, schema.StoreFeelingLogs, "f1")
	require.NoError(t, err)
	assert.Equal(t, "u1", rec["userId"])

	byUser, err := db.QueryByIndex(ctx, schema.StoreFeelingLogs, "userId", "u1", models.QueryOptions{})
	require.NoError(t, err)
	require.Len(t, byUser, 1)
	assert.Equal(t, "f1", byUser[0]["id"])

	orphan, err := db.Get(ctx, schema.StoreFeelingLogs, "f2")
	require.NoError(t, err)
	assert.NotContains(t, orphan, "userId")

	require.NoError(t, db.Put(ctx, schema.StoreValues, models.Record{"id": "u1:v1", "userId": "u1"}))
}

func TestOpen_SkipsTransformWhenMarkerSet(t *testing.T) {
	path := dbPath(t)
	seedV2(t, path)
	markers := newMarkers()
	markers.done[schema.BackfillFeelingLogUserID] = true

	db := open(t, path, schema.Journal(), markers)

	rec, err := db.Get(context.Background(), schema.StoreFeelingLogs, "f1")
	require.NoError(t, err)
	assert.NotContains(t, rec, "userId")
	assert.Zero(t, markers.sets)
	assert.Equal(t, 5, db.Version())
}

func failingSchema(fail bool) *schema.Schema {
	return schema.MustNew(
		schema.Migration{Version: 1, Stores: []schema.StoreDefinition{{Name: "a", PrimaryKeyPath: "id"}}},
		schema.Migration{
			Version: 2,
			Stores:  []schema.StoreDefinition{{Name: "b", PrimaryKeyPath: "id"}},
			Transforms: []schema.Transform{{
				Name: "copy_a_to_b",
				Apply: func(tx models.Tx) error {
					if err := tx.Put("b", models.Record{"id": "x"}); err != nil {
						return err
					}
					if fail {
						return errors.New("disk hiccup")
					}
					return nil
				},
			}},
		},
	)
}

func TestOpen_FailedStepKeepsPreviousVersion(t *testing.T) {
	path := dbPath(t)
	ctx := context.Background()

	v1 := schema.MustNew(failingSchema(false).Migrations()[0])
	db, err := Open(ctx, path, v1, Options{Timeout: time.Second})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	markers := newMarkers()
	_, err = Open(ctx, path, failingSchema(true), Options{Timeout: time.Second, Markers: markers})
	require.ErrorIs(t, err, common.ErrMigrationStepFailed)
	assert.ErrorContains(t, err, "disk hiccup")
	assert.False(t, markers.done["copy_a_to_b"])

	probe, err := Probe(path, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, probe.Version)

	db = open(t, path, failingSchema(false), markers)
	assert.Equal(t, 2, db.Version())
	rec, err := db.Get(ctx, "b", "x")
	require.NoError(t, err)
	assert.Equal(t, "x", rec["id"])
	assert.True(t, markers.done["copy_a_to_b"])
}

func TestOpen_NewerStoreIsVersionConflict(t *testing.T) {
	path := dbPath(t)
	db, err := Open(context.Background(), path, journalAt(3), Options{Timeout: time.Second})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = Open(context.Background(), path, journalAt(2), Options{Timeout: time.Second})
	require.ErrorIs(t, err, common.ErrVersionConflict)
}

func TestOpen_BlockedByOtherHandle(t *testing.T) {
	path := dbPath(t)
	open(t, path, schema.Journal(), nil)

	_, err := Open(context.Background(), path, schema.Journal(), Options{Timeout: 50 * time.Millisecond})
	require.ErrorIs(t, err, common.ErrBlocked)
}

func TestPut_UniqueIndexAndPrimaryKey(t *testing.T) {
	db := open(t, dbPath(t), schema.Journal(), nil)
	ctx := context.Background()

	require.NoError(t, db.Put(ctx, schema.StoreUsers, models.Record{"id": "u1", "email": "a@b.c"}))
	require.NoError(t, db.Put(ctx, schema.StoreUsers, models.Record{"id": "u1", "email": "a@b.c", "name": "A"}))

	err := db.Put(ctx, schema.StoreUsers, models.Record{"id": "u2", "email": "a@b.c"})
	require.ErrorIs(t, err, common.ErrConstraint)

	require.NoError(t, db.Put(ctx, schema.StoreUsers, models.Record{"id": "u1", "email": "new@b.c"}))
	require.NoError(t, db.Put(ctx, schema.StoreUsers, models.Record{"id": "u2", "email": "a@b.c"}))

	err = db.Put(ctx, schema.StoreGoals, models.Record{"title": "no id"})
	require.ErrorIs(t, err, common.ErrConstraint)

	err = db.Put(ctx, "nope", models.Record{"id": "x"})
	require.ErrorIs(t, err, common.ErrNotFound)

	_, err = db.Get(ctx, schema.StoreUsers, "missing")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestQueryByIndex_OrderLimitReverse(t *testing.T) {
	db := open(t, dbPath(t), schema.Journal(), nil)
	ctx := context.Background()

	for _, g := range []models.Record{
		{"id": "g1", "userId": "u1"},
		{"id": "g3", "userId": "u1"},
		{"id": "g2", "userId": "u1"},
		{"id": "g4", "userId": "u2"},
	} {
		require.NoError(t, db.Put(ctx, schema.StoreGoals, g))
	}

	ids := func(rows []models.Record) []any {
		out := []any{}
		for _, r := range rows {
			out = append(out, r["id"])
		}
		return out
	}

	rows, err := db.QueryByIndex(ctx, schema.StoreGoals, "userId", "u1", models.QueryOptions{})
	require.NoError(t, err)
	assert.Equal(t, []any{"g1", "g2", "g3"}, ids(rows))

	rows, err = db.QueryByIndex(ctx, schema.StoreGoals, "userId", "u1", models.QueryOptions{Reverse: true, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []any{"g3", "g2"}, ids(rows))

	require.NoError(t, db.Put(ctx, schema.StoreGoals, models.Record{"id": "g2", "userId": "u2"}))
	require.NoError(t, db.Delete(ctx, schema.StoreGoals, "g1"))
	require.NoError(t, db.Delete(ctx, schema.StoreGoals, "g1"))

	rows, err = db.QueryByIndex(ctx, schema.StoreGoals, "userId", "u1", models.QueryOptions{})
	require.NoError(t, err)
	assert.Equal(t, []any{"g3"}, ids(rows))

	_, err = db.QueryByIndex(ctx, schema.StoreGoals, "title", "x", models.QueryOptions{})
	require.ErrorIs(t, err, common.ErrNotFound)

	_, err = db.QueryByIndex(ctx, schema.StoreGoals, "userId", []string{"x"}, models.QueryOptions{})
	require.ErrorIs(t, err, common.ErrConstraint)
}

func TestDeleteWhere_ByIndexPrimaryKeyAndScan(t *testing.T) {
	db := open(t, dbPath(t), schema.Journal(), nil)
	ctx := context.Background()

	require.NoError(t, db.Put(ctx, schema.StoreUsers, models.Record{"id": "u1"}))
	require.NoError(t, db.Put(ctx, schema.StoreGoals, models.Record{"id": "g1", "userId": "u1"}))
	require.NoError(t, db.Put(ctx, schema.StoreGoals, models.Record{"id": "g2", "userId": "u2"}))
	require.NoError(t, db.Put(ctx, schema.StoreMetadata, models.Record{"key": "k", "owner": "u1"}))

	n, err := db.DeleteWhere(ctx, schema.StoreGoals, "userId", "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = db.DeleteWhere(ctx, schema.StoreUsers, "id", "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = db.DeleteWhere(ctx, schema.StoreMetadata, "owner", "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	all, err := db.All(ctx, schema.StoreGoals)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "g2", all[0]["id"])
}

func TestIndexValues_RejectNULAndKeepUsersApart(t *testing.T) {
	db := open(t, dbPath(t), schema.Journal(), nil)
	ctx := context.Background()

	err := db.Put(ctx, schema.StoreGoals, models.Record{"id": "g1", "userId": "u1\x00evil"})
	assert.ErrorIs(t, err, common.ErrConstraint)
	_, err = db.Get(ctx, schema.StoreGoals, "g1")
	assert.ErrorIs(t, err, common.ErrNotFound)

	_, err = db.QueryByIndex(ctx, schema.StoreGoals, "userId", "u1\x00", models.QueryOptions{})
	assert.ErrorIs(t, err, common.ErrConstraint)
	_, err = db.DeleteWhere(ctx, schema.StoreGoals, "userId", "u1\x00evil")
	assert.ErrorIs(t, err, common.ErrConstraint)

	require.NoError(t, db.Put(ctx, schema.StoreGoals, models.Record{"id": "g2", "userId": "u1"}))
	require.NoError(t, db.Put(ctx, schema.StoreGoals, models.Record{"id": "g3", "userId": "u10"}))

	rows, err := db.QueryByIndex(ctx, schema.StoreGoals, "userId", "u1", models.QueryOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "g2", rows[0]["id"])

	n, err := db.DeleteWhere(ctx, schema.StoreGoals, "userId", "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = db.Get(ctx, schema.StoreGoals, "g3")
	assert.NoError(t, err)
}

func TestUpdate_RollsBackOnError(t *testing.T) {
	db := open(t, dbPath(t), schema.Journal(), nil)
	ctx := context.Background()

	err := db.Update(ctx, func(tx models.Tx) error {
		if err := tx.Put(schema.StoreGoals, models.Record{"id": "g1", "userId": "u1"}); err != nil {
			return err
		}
		return errors.New("abort")
	})
	require.Error(t, err)

	_, err = db.Get(ctx, schema.StoreGoals, "g1")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestClearStoreAndRestore(t *testing.T) {
	db := open(t, dbPath(t), schema.Journal(), nil)
	ctx := context.Background()

	require.NoError(t, db.Put(ctx, schema.StoreGoals, models.Record{"id": "g1", "userId": "u1"}))
	require.NoError(t, db.ClearStore(ctx, schema.StoreGoals))

	rows, err := db.QueryByIndex(ctx, schema.StoreGoals, "userId", "u1", models.QueryOptions{})
	require.NoError(t, err)
	assert.Empty(t, rows)

	res := db.Restore(ctx, models.Snapshot{
		schema.StoreGoals: {{"id": "g1", "userId": "u1"}, {"title": "no id"}},
		"legacy":          {{"id": "x"}},
	})
	assert.Equal(t, []string{schema.StoreGoals}, res.Succeeded)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "legacy", res.Failed[0].Store)

	rows, err = db.QueryByIndex(ctx, schema.StoreGoals, "userId", "u1", models.QueryOptions{})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestHeader_RoundTripAndTamper(t *testing.T) {
	v, ok := decodeHeader(encodeHeader(5))
	assert.True(t, ok)
	assert.Equal(t, 5, v)

	_, ok = decodeHeader([]byte("mvdb1:50:00000000"))
	assert.False(t, ok)
	_, ok = decodeHeader(nil)
	assert.False(t, ok)
}

func TestProbeAndWriteVersion(t *testing.T) {
	path := dbPath(t)

	res, err := Probe(path, time.Second)
	require.NoError(t, err)
	assert.False(t, res.Exists)

	db, err := Open(context.Background(), path, schema.Journal(), Options{Timeout: time.Second})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	res, err = Probe(path, time.Second)
	require.NoError(t, err)
	assert.Equal(t, ProbeResult{Exists: true, Version: 5, Trusted: true}, res)

	require.NoError(t, WriteVersion(path, 20, false, time.Second))
	res, err = Probe(path, time.Second)
	require.NoError(t, err)
	assert.Equal(t, ProbeResult{Exists: true, Version: 20, Trusted: false}, res)
}

func TestExport_TolerantPerStore(t *testing.T) {
	path := dbPath(t)
	ctx := context.Background()

	db, err := Open(ctx, path, schema.Journal(), Options{Timeout: time.Second})
	require.NoError(t, err)
	require.NoError(t, db.Put(ctx, schema.StoreGoals, models.Record{"id": "g1", "userId": "u1"}))
	require.NoError(t, db.Put(ctx, schema.StoreSessions, models.Record{"id": "s1", "userId": "u1"}))
	require.NoError(t, db.Close())

	raw, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	require.NoError(t, err)
	require.NoError(t, raw.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(DataBucketName(schema.StoreSessions)).Put([]byte("s2"), []byte("{broken"))
	}))
	require.NoError(t, raw.Close())

	snap, failed, err := Export(path, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []string{schema.StoreSessions}, failed)
	assert.Len(t, snap[schema.StoreGoals], 1)
	assert.Empty(t, snap[schema.StoreSessions])
	assert.Contains(t, snap, schema.StoreReports)
}

func TestDestroy_SingleRetry(t *testing.T) {
	orig := removeFile
	t.Cleanup(func() { removeFile = orig })

	path := dbPath(t)
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))

	calls := 0
	removeFile = func(name string) error {
		calls++
		if calls == 1 {
			return errors.New("busy")
		}
		return os.Remove(name)
	}
	require.NoError(t, Destroy(path, time.Millisecond))
	assert.Equal(t, 2, calls)
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	calls = 0
	removeFile = func(string) error { calls++; return errors.New("busy") }
	require.Error(t, Destroy(path, time.Millisecond))
	assert.Equal(t, 2, calls)

	removeFile = orig
	require.NoError(t, Destroy(path, time.Millisecond), "missing file counts as deleted")
}

func TestWipe_DropsBuckets(t *testing.T) {
	path := dbPath(t)
	db, err := Open(context.Background(), path, schema.Journal(), Options{Timeout: time.Second})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	require.NoError(t, Wipe(path, time.Second))

	res, err := Probe(path, time.Second)
	require.NoError(t, err)
	assert.False(t, res.Exists)
}
