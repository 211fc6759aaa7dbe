package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/mindvault/internal/common"
	"github.com/dmitrijs2005/mindvault/internal/dbx"
)

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const rowColumns = `store, id, COALESCE(user_id, ''), data, updated_at`

func scanRow(rows *sql.Rows) (Row, error) {
	var r Row
	err := rows.Scan(&r.Store, &r.ID, &r.UserID, &r.Data, &r.UpdatedAt)
	return r, err
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Upsert inserts the row or replaces the document of an existing one.
func (r *SQLiteRepository) Upsert(ctx context.Context, row Row) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO records (store, id, user_id, data, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(store, id) DO UPDATE SET
			user_id = excluded.user_id,
			data = excluded.data,
			updated_at = excluded.updated_at
	`, row.Store, row.ID, nullable(row.UserID), string(row.Data), row.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert record %s/%s: %w", row.Store, row.ID, err)
	}
	return nil
}

// Get returns common.ErrNotFound when the row does not exist.
func (r *SQLiteRepository) Get(ctx context.Context, store, id string) (*Row, error) {
	row := &Row{}
	err := r.db.QueryRowContext(ctx, `SELECT `+rowColumns+` FROM records WHERE store = ? AND id = ?`, store, id).
		Scan(&row.Store, &row.ID, &row.UserID, &row.Data, &row.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", common.ErrNotFound, store, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record %s/%s: %w", store, id, err)
	}
	return row, nil
}

// Delete is a no-op for a missing row.
func (r *SQLiteRepository) Delete(ctx context.Context, store, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM records WHERE store = ? AND id = ?`, store, id)
	if err != nil {
		return fmt.Errorf("failed to delete record %s/%s: %w", store, id, err)
	}
	return nil
}

func (r *SQLiteRepository) Find(ctx context.Context, f Filter) ([]Row, error) {
	order := "ASC"
	if f.Reverse {
		order = "DESC"
	}
	limit := -1
	if f.Limit > 0 {
		limit = f.Limit
	}

	query := `SELECT ` + rowColumns + ` FROM records
		WHERE store = ? AND CAST(json_extract(data, ?) AS TEXT) = ? AND id <> ?
		ORDER BY id ` + order + ` LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, f.Store, "$."+f.Field, f.Value, f.ExcludeID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query records %s.%s: %w", f.Store, f.Field, err)
	}
	return dbx.CollectRows(rows, "record", scanRow)
}

func (r *SQLiteRepository) ListByStore(ctx context.Context, store string) ([]Row, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+rowColumns+` FROM records WHERE store = ? ORDER BY id`, store)
	if err != nil {
		return nil, fmt.Errorf("failed to list records of %s: %w", store, err)
	}
	return dbx.CollectRows(rows, "record", scanRow)
}

// ListAll returns every row ordered by store and id.
func (r *SQLiteRepository) ListAll(ctx context.Context) ([]Row, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+rowColumns+` FROM records ORDER BY store, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	return dbx.CollectRows(rows, "record", scanRow)
}

func (r *SQLiteRepository) DeleteByUser(ctx context.Context, store, userID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM records WHERE store = ? AND user_id = ?`, store, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete %s records of user %s: %w", store, userID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}
