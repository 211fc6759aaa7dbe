package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dmitrijs2005/mindvault/internal/dbx"
	"github.com/dmitrijs2005/mindvault/internal/models"
)

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Append stores e. Timestamps are kept with millisecond precision in UTC.
func (r *SQLiteRepository) Append(ctx context.Context, e models.AuditLogEntry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, ts, user_id, action, table_name, record_id, details)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.Timestamp.UnixMilli(), e.UserID, e.Action, e.Table, e.RecordID, e.Details)
	if err != nil {
		return fmt.Errorf("failed to append audit entry %s: %w", e.Action, err)
	}
	return nil
}

func (r *SQLiteRepository) List(ctx context.Context) ([]models.AuditLogEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, ts, user_id, action, table_name, record_id, details
		FROM audit_log ORDER BY seq
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit log: %w", err)
	}
	return dbx.CollectRows(rows, "audit", func(rows *sql.Rows) (models.AuditLogEntry, error) {
		var e models.AuditLogEntry
		var ts int64
		if err := rows.Scan(&e.ID, &ts, &e.UserID, &e.Action, &e.Table, &e.RecordID, &e.Details); err != nil {
			return e, err
		}
		e.Timestamp = time.UnixMilli(ts).UTC()
		return e, nil
	})
}
