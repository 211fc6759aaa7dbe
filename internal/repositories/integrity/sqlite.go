package integrity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/mindvault/internal/dbx"
)

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Get(ctx context.Context) (string, error) {
	var hash string
	err := r.db.QueryRowContext(ctx, `SELECT hash FROM integrity WHERE id = 1`).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get integrity hash: %w", err)
	}
	return hash, nil
}

func (r *SQLiteRepository) Set(ctx context.Context, hash string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO integrity (id, hash, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET hash = excluded.hash, updated_at = excluded.updated_at
	`, hash, at.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to set integrity hash: %w", err)
	}
	return nil
}
