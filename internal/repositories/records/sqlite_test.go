package records

import (
	"context"
	"database/sql"
	"testing"

	"github.com/dmitrijs2005/mindvault/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
CREATE TABLE records (
  store      TEXT NOT NULL,
  id         TEXT NOT NULL,
  user_id    TEXT,
  data       TEXT NOT NULL,
  updated_at INTEGER NOT NULL,
  PRIMARY KEY (store, id)
);`)
	require.NoError(t, err)
	return db
}

func ids(rows []Row) []string {
	out := []string{}
	for _, r := range rows {
		out = append(out, r.ID)
	}
	return out
}

func TestUpsertAndGet(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	require.NoError(t, r.Upsert(ctx, Row{Store: "goals", ID: "g1", UserID: "u1", Data: []byte(`{"id":"g1"}`), UpdatedAt: 1}))
	require.NoError(t, r.Upsert(ctx, Row{Store: "goals", ID: "g1", UserID: "u1", Data: []byte(`{"id":"g1","title":"x"}`), UpdatedAt: 2}))

	row, err := r.Get(ctx, "goals", "g1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"g1","title":"x"}`, string(row.Data))
	assert.EqualValues(t, 2, row.UpdatedAt)
	assert.Equal(t, "u1", row.UserID)

	_, err = r.Get(ctx, "goals", "missing")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestGet_NullUserIDScansAsEmpty(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	require.NoError(t, r.Upsert(ctx, Row{Store: "metadata", ID: "k", Data: []byte(`{"key":"k"}`)}))
	row, err := r.Get(ctx, "metadata", "k")
	require.NoError(t, err)
	assert.Empty(t, row.UserID)
}

func TestFind_ComparesAsTextWithOrderAndLimit(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	for _, row := range []Row{
		{Store: "values", ID: "a", Data: []byte(`{"active":true,"priority":2}`)},
		{Store: "values", ID: "c", Data: []byte(`{"active":true,"priority":1.5}`)},
		{Store: "values", ID: "b", Data: []byte(`{"active":false}`)},
		{Store: "goals", ID: "d", Data: []byte(`{"active":true}`)},
	} {
		require.NoError(t, r.Upsert(ctx, row))
	}

	rows, err := r.Find(ctx, Filter{Store: "values", Field: "active", Value: "1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, ids(rows))

	rows, err = r.Find(ctx, Filter{Store: "values", Field: "active", Value: "1", Reverse: true, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, ids(rows))

	rows, err = r.Find(ctx, Filter{Store: "values", Field: "priority", Value: "1.5"})
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, ids(rows))

	rows, err = r.Find(ctx, Filter{Store: "values", Field: "active", Value: "1", ExcludeID: "a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, ids(rows))
}

func TestListAndDeleteByUser(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	require.NoError(t, r.Upsert(ctx, Row{Store: "goals", ID: "g2", UserID: "u1", Data: []byte(`{}`)}))
	require.NoError(t, r.Upsert(ctx, Row{Store: "goals", ID: "g1", UserID: "u2", Data: []byte(`{}`)}))
	require.NoError(t, r.Upsert(ctx, Row{Store: "assessments", ID: "a1", UserID: "u1", Data: []byte(`{}`)}))

	all, err := r.ListAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a1", "g1", "g2"}, ids(all))

	n, err := r.DeleteByUser(ctx, "goals", "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	goals, err := r.ListByStore(ctx, "goals")
	require.NoError(t, err)
	assert.Equal(t, []string{"g1"}, ids(goals))

	require.NoError(t, r.Delete(ctx, "goals", "g1"))
	require.NoError(t, r.Delete(ctx, "goals", "g1"))
	goals, err = r.ListByStore(ctx, "goals")
	require.NoError(t, err)
	assert.Empty(t, goals)
}

func TestClosedDB_WrapsErrors(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	require.NoError(t, db.Close())

	err := r.Upsert(context.Background(), Row{Store: "goals", ID: "g1", Data: []byte(`{}`)})
	require.ErrorContains(t, err, "failed to upsert record goals/g1")

	_, err = r.ListAll(context.Background())
	require.ErrorContains(t, err, "failed to list records")
}
