// Package vault is the encrypted relational store used when encryption is
// enabled.
//
// The working copy lives in an in-memory SQLite database. Every mutation
// commits together with a freshly sealed snapshot: the rows and the audit
// log are serialized, hashed into the integrity table and encrypted with
// the session key into one opaque blob written to the settings file. If the
// blob cannot be written the SQL transaction is rolled back, so the working
// copy never runs ahead of what is persisted.
package vault

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/mindvault/internal/dbx"
	"github.com/dmitrijs2005/mindvault/internal/keys"
	"github.com/dmitrijs2005/mindvault/internal/logging"
	"github.com/dmitrijs2005/mindvault/internal/models"
	"github.com/dmitrijs2005/mindvault/internal/repositories/audit"
	"github.com/dmitrijs2005/mindvault/internal/repositories/integrity"
	"github.com/dmitrijs2005/mindvault/internal/repositories/records"
	"github.com/dmitrijs2005/mindvault/internal/schema"
	"github.com/dmitrijs2005/mindvault/internal/settings"
	"github.com/dmitrijs2005/mindvault/internal/vault/migrations"
	"github.com/google/uuid"
	"github.com/pressly/goose/v3"

	_ "modernc.org/sqlite"
)

// Audit actions written by the vault.
const (
	ActionSchemaCreate   = "schema_create"
	ActionSave           = "save"
	ActionRotateKey      = "rotate_key"
	ActionChangePassword = "change_password"
	ActionImportPlain    = "import_plain"
	ActionClearUser      = "clear_user"
	ActionExport         = "export"
)

type Config struct {
	Keys   *keys.Manager
	Blobs  settings.BlobStore
	Schema *schema.Schema
	Logger logging.Logger

	// UserID is stamped on audit entries.
	UserID string

	// Now defaults to time.Now.
	Now func() time.Time
}

type Vault struct {
	db     *sql.DB
	keys   *keys.Manager
	blobs  settings.BlobStore
	schema *schema.Schema
	stores map[string]schema.StoreDefinition
	log    logging.Logger
	userID string
	now    func() time.Time

	// saveMu serializes mutate-and-seal sequences. It is always taken
	// before the key manager's lock.
	saveMu sync.Mutex
}

type repos struct {
	records   records.Repository
	audit     audit.Repository
	integrity integrity.Repository
}

func reposFor(db dbx.DBTX) repos {
	return repos{
		records:   records.NewSQLiteRepository(db),
		audit:     audit.NewSQLiteRepository(db),
		integrity: integrity.NewSQLiteRepository(db),
	}
}

// goose keeps its configuration in package globals.
var gooseMu sync.Mutex

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations sets up goose with the embedded migrations and runs them.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations.Migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := gooseUpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("failed to run vault migrations: %w", err)
	}
	return nil
}

// Open creates an empty, migrated in-memory vault. Call Create or Load
// before using it.
func Open(ctx context.Context, cfg Config) (*Vault, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open vault database: %w", err)
	}
	// Every connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)

	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	log := cfg.Logger
	if log == nil {
		log = logging.Nop()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	stores := make(map[string]schema.StoreDefinition)
	for _, st := range cfg.Schema.Stores() {
		stores[st.Name] = st
	}

	return &Vault{
		db:     db,
		keys:   cfg.Keys,
		blobs:  cfg.Blobs,
		schema: cfg.Schema,
		stores: stores,
		log:    log.With("component", "vault"),
		userID: cfg.UserID,
		now:    now,
	}, nil
}

func (v *Vault) Close() error {
	return v.db.Close()
}

func (v *Vault) storeNames() []string {
	names := make([]string, 0, len(v.stores))
	for name := range v.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (v *Vault) entry(action, table, recordID, details string) models.AuditLogEntry {
	return models.AuditLogEntry{
		ID:        uuid.NewString(),
		Timestamp: v.now().UTC(),
		UserID:    v.userID,
		Action:    action,
		Table:     table,
		RecordID:  recordID,
		Details:   details,
	}
}

// Record appends an audit entry outside of a save and refreshes the stored
// hash so Verify keeps agreeing with the content. It is best-effort: a
// failure is logged and otherwise ignored. The entry is persisted with the
// next save.
func (v *Vault) Record(ctx context.Context, action, table, recordID, details string) {
	v.saveMu.Lock()
	defer v.saveMu.Unlock()

	e := v.entry(action, table, recordID, details)
	err := dbx.WithTx(ctx, v.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		r := reposFor(tx)
		if err := r.audit.Append(ctx, e); err != nil {
			return err
		}
		c, err := readContent(ctx, tx)
		if err != nil {
			return err
		}
		sum, err := c.hash()
		if err != nil {
			return err
		}
		return r.integrity.Set(ctx, sum, v.now())
	})
	if err != nil {
		v.log.Warn(ctx, "audit append failed", "action", action, "error", err)
	}
}

// AuditLog returns the audit entries of the working copy, oldest first.
func (v *Vault) AuditLog(ctx context.Context) ([]models.AuditLogEntry, error) {
	return reposFor(v.db).audit.List(ctx)
}

// commit runs fn and the seal of the resulting state in one SQL
// transaction, then writes the blob. The transaction is rolled back when
// fn, the seal or the write fails.
func (v *Vault) commit(ctx context.Context, e models.AuditLogEntry, fn func(ctx context.Context, tx dbx.DBTX) error) error {
	v.saveMu.Lock()
	defer v.saveMu.Unlock()

	return v.keys.WithKey(func(key []byte) error {
		return dbx.WithTx(ctx, v.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
			if fn != nil {
				if err := fn(ctx, tx); err != nil {
					return err
				}
			}
			blob, err := v.seal(ctx, tx, key, e)
			if err != nil {
				return err
			}
			if err := v.blobs.SaveVault(ctx, blob); err != nil {
				return fmt.Errorf("save vault: %w", err)
			}
			return nil
		})
	})
}

// Create persists the initial, empty vault under the session key.
func (v *Vault) Create(ctx context.Context) error {
	if err := v.commit(ctx, v.entry(ActionSchemaCreate, "", "", fmt.Sprintf("version %d", v.schema.Current())), nil); err != nil {
		return fmt.Errorf("create vault: %w", err)
	}
	v.log.Info(ctx, "created vault", "version", v.schema.Current())
	return nil
}

// Save seals and persists the current state with a "save" audit entry.
func (v *Vault) Save(ctx context.Context) error {
	return v.commit(ctx, v.entry(ActionSave, "", "", ""), nil)
}
