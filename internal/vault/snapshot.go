package vault

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/mindvault/internal/common"
	"github.com/dmitrijs2005/mindvault/internal/cryptox"
	"github.com/dmitrijs2005/mindvault/internal/dbx"
	"github.com/dmitrijs2005/mindvault/internal/models"
	"github.com/dmitrijs2005/mindvault/internal/repositories/records"
)

// snapshotFormat is bumped when the sealed layout changes.
const snapshotFormat = 1

type recordRow struct {
	Store     string          `json:"store"`
	ID        string          `json:"id"`
	UserID    string          `json:"userId,omitempty"`
	Data      json.RawMessage `json:"data"`
	UpdatedAt int64           `json:"updatedAt"`
}

// content is the hashed part of a snapshot.
type content struct {
	Records []recordRow            `json:"records"`
	Audit   []models.AuditLogEntry `json:"audit"`
}

// sealed is the plaintext of the vault blob.
type sealed struct {
	Format        int    `json:"format"`
	SchemaVersion int    `json:"schemaVersion"`
	IntegrityHash string `json:"integrityHash"`
	content
}

// readContent reads rows and audit entries back in a deterministic order.
func readContent(ctx context.Context, db dbx.DBTX) (content, error) {
	r := reposFor(db)

	rows, err := r.records.ListAll(ctx)
	if err != nil {
		return content{}, err
	}
	entries, err := r.audit.List(ctx)
	if err != nil {
		return content{}, err
	}

	c := content{Records: make([]recordRow, 0, len(rows)), Audit: entries}
	if c.Audit == nil {
		c.Audit = []models.AuditLogEntry{}
	}
	for _, row := range rows {
		c.Records = append(c.Records, recordRow{
			Store:     row.Store,
			ID:        row.ID,
			UserID:    row.UserID,
			Data:      json.RawMessage(row.Data),
			UpdatedAt: row.UpdatedAt,
		})
	}
	return c, nil
}

func (c content) hash() (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	return cryptox.ContentHash(data), nil
}

// seal appends e to the audit log, refreshes the integrity hash and returns
// the encrypted snapshot of the state visible through db.
func (v *Vault) seal(ctx context.Context, db dbx.DBTX, key []byte, e models.AuditLogEntry) ([]byte, error) {
	r := reposFor(db)

	if err := r.audit.Append(ctx, e); err != nil {
		v.log.Warn(ctx, "audit append failed", "action", e.Action, "error", err)
	}

	c, err := readContent(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("read vault content: %w", err)
	}
	sum, err := c.hash()
	if err != nil {
		return nil, err
	}
	if err := r.integrity.Set(ctx, sum, v.now()); err != nil {
		return nil, err
	}

	plain, err := json.Marshal(sealed{
		Format:        snapshotFormat,
		SchemaVersion: v.schema.Current(),
		IntegrityHash: sum,
		content:       c,
	})
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	defer common.WipeByteArray(plain)

	return cryptox.EncryptBlob(key, plain)
}

// Load decrypts blob with key and imports it into the empty working copy.
// A wrong key yields common.ErrDecryptionFailed and leaves the vault empty.
func (v *Vault) Load(ctx context.Context, blob, key []byte) error {
	plain, err := cryptox.DecryptBlob(key, blob)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(plain)

	var s sealed
	if err := json.Unmarshal(plain, &s); err != nil {
		return fmt.Errorf("%w: decode snapshot: %v", common.ErrDecryptionFailed, err)
	}
	if s.Format != snapshotFormat {
		return fmt.Errorf("%w: snapshot format %d", common.ErrUnsupported, s.Format)
	}

	v.saveMu.Lock()
	defer v.saveMu.Unlock()

	err = dbx.WithTx(ctx, v.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		r := reposFor(tx)
		for _, row := range s.Records {
			if err := r.records.Upsert(ctx, records.Row{
				Store:     row.Store,
				ID:        row.ID,
				UserID:    row.UserID,
				Data:      row.Data,
				UpdatedAt: row.UpdatedAt,
			}); err != nil {
				return err
			}
		}
		for _, e := range s.Audit {
			if err := r.audit.Append(ctx, e); err != nil {
				return err
			}
		}
		if s.IntegrityHash != "" {
			return r.integrity.Set(ctx, s.IntegrityHash, v.now())
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("import vault snapshot: %w", err)
	}

	v.log.Info(ctx, "loaded vault", "records", len(s.Records), "audit", len(s.Audit), "schema_version", s.SchemaVersion)
	return nil
}

// Verify runs SQLite's structural self-check and compares the content hash
// with the stored one. The first run on a vault without a stored hash
// seeds it. A mismatch is reported as common.ErrIntegrityViolation.
func (v *Vault) Verify(ctx context.Context) error {
	v.saveMu.Lock()
	defer v.saveMu.Unlock()

	var result string
	if err := v.db.QueryRowContext(ctx, `PRAGMA integrity_check`).Scan(&result); err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("%w: integrity_check reported %q", common.ErrIntegrityViolation, result)
	}

	c, err := readContent(ctx, v.db)
	if err != nil {
		return err
	}
	sum, err := c.hash()
	if err != nil {
		return err
	}

	r := reposFor(v.db)
	stored, err := r.integrity.Get(ctx)
	if err != nil {
		return err
	}
	if stored == "" {
		v.log.Info(ctx, "seeding integrity hash")
		return r.integrity.Set(ctx, sum, v.now())
	}
	if stored != sum {
		v.log.Warn(ctx, "integrity hash mismatch", "stored", stored, "actual", sum)
		return fmt.Errorf("%w: content hash does not match the last save", common.ErrIntegrityViolation)
	}
	return nil
}
