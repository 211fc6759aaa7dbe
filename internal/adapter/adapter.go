// Package adapter is the façade the rest of the application uses to reach
// the journal store.
//
// An Adapter owns every open handle: the settings file, the versioned
// key-value store and, in Encrypted mode, the vault loaded on unlock. New
// performs no I/O; Init opens and repairs the stores once and is shared by
// concurrent callers. Errors leaving the adapter carry the sentinels of the
// common package.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dmitrijs2005/mindvault/internal/common"
	"github.com/dmitrijs2005/mindvault/internal/keys"
	"github.com/dmitrijs2005/mindvault/internal/kvstore"
	"github.com/dmitrijs2005/mindvault/internal/logging"
	"github.com/dmitrijs2005/mindvault/internal/recovery"
	"github.com/dmitrijs2005/mindvault/internal/schema"
	"github.com/dmitrijs2005/mindvault/internal/session"
	"github.com/dmitrijs2005/mindvault/internal/settings"
	"github.com/dmitrijs2005/mindvault/internal/vault"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/singleflight"
)

// File names inside the data directory.
const (
	JournalFile  = "journal.db"
	SettingsFile = "settings.db"
)

// MarkerEncryptionImport marks the one-time move of plain rows into the vault.
const MarkerEncryptionImport = "encryption_import_v1"

const (
	defaultOpenTimeout       = 2 * time.Second
	defaultBlockedRetries    = 3
	defaultBlockedRetryDelay = 200 * time.Millisecond
	defaultDeleteRetryDelay  = 500 * time.Millisecond
)

type Config struct {
	Dir    string
	Mode   StorageMode
	Schema *schema.Schema

	// UserID is stamped on vault audit entries.
	UserID string

	OpenTimeout       time.Duration
	BlockedRetries    int
	BlockedRetryDelay time.Duration
	DeleteRetryDelay  time.Duration

	// KDFIterations overrides the PBKDF2 work factor; zero keeps the default.
	KDFIterations int

	Logger  logging.Logger
	Session *session.Store
}

func (c *Config) setDefaults() {
	if c.Schema == nil {
		c.Schema = schema.Journal()
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = defaultOpenTimeout
	}
	if c.BlockedRetries < 0 {
		c.BlockedRetries = 0
	} else if c.BlockedRetries == 0 {
		c.BlockedRetries = defaultBlockedRetries
	}
	if c.BlockedRetryDelay <= 0 {
		c.BlockedRetryDelay = defaultBlockedRetryDelay
	}
	if c.DeleteRetryDelay <= 0 {
		c.DeleteRetryDelay = defaultDeleteRetryDelay
	}
	if c.Logger == nil {
		c.Logger = logging.Nop()
	}
	if c.Session == nil {
		c.Session = session.New()
	}
}

// Status is a point-in-time view of the adapter for diagnostics.
type Status struct {
	Mode          StorageMode
	Initialized   bool
	Unlocked      bool
	SchemaVersion int
	Recovery      recovery.Report
	Warnings      []string
}

type Adapter struct {
	cfg Config
	log logging.Logger

	initGroup   singleflight.Group
	initMu      sync.Mutex
	initialized bool

	// mu guards the handles below once Init has run.
	mu       sync.RWMutex
	settings *settings.BoltStore
	keys     *keys.Manager
	kv       kvStore
	plain    *plainBackend
	vault    *vault.Vault
	report   recovery.Report
	warnings []string
	closed   bool
}

// New returns an adapter for cfg. It does not touch the disk.
func New(cfg Config) *Adapter {
	cfg.setDefaults()
	return &Adapter{
		cfg: cfg,
		log: cfg.Logger.With("component", "adapter", "mode", cfg.Mode.String()),
	}
}

func (a *Adapter) Mode() StorageMode { return a.cfg.Mode }

func (a *Adapter) Session() *session.Store { return a.cfg.Session }

// Init opens the stores. It is idempotent; concurrent callers share one
// initialization and all observe its result.
func (a *Adapter) Init(ctx context.Context) error {
	a.initMu.Lock()
	done := a.initialized
	a.initMu.Unlock()
	if done {
		return nil
	}

	_, err, _ := a.initGroup.Do("init", func() (any, error) {
		a.initMu.Lock()
		done := a.initialized
		a.initMu.Unlock()
		if done {
			return nil, nil
		}

		if err := a.init(ctx); err != nil {
			return nil, err
		}

		a.initMu.Lock()
		a.initialized = true
		a.initMu.Unlock()
		return nil, nil
	})
	return translate(err)
}

// retryBlocked retries fn with exponential backoff while it reports
// common.ErrBlocked, then surfaces the last error.
func (a *Adapter) retryBlocked(ctx context.Context, what string, fn func(ctx context.Context) error) error {
	b := retry.WithMaxRetries(uint64(a.cfg.BlockedRetries), retry.NewExponential(a.cfg.BlockedRetryDelay))
	attempt := 0
	return retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		err := translate(fn(ctx))
		if errors.Is(err, common.ErrBlocked) {
			a.log.Warn(ctx, "storage blocked, retrying", "what", what, "attempt", attempt)
			return retry.RetryableError(err)
		}
		return err
	})
}

func (a *Adapter) init(ctx context.Context) error {
	if err := os.MkdirAll(a.cfg.Dir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	var store *settings.BoltStore
	err := a.retryBlocked(ctx, "settings", func(ctx context.Context) error {
		var err error
		store, err = settings.Open(filepath.Join(a.cfg.Dir, SettingsFile), a.cfg.OpenTimeout)
		return err
	})
	if err != nil {
		return err
	}

	db, report, err := a.openJournal(ctx, store)
	if err != nil {
		_ = store.Close()
		return err
	}

	if err := store.SetEncryptionEnabled(ctx, a.cfg.Mode == Encrypted); err != nil {
		_ = db.Close()
		_ = store.Close()
		return fmt.Errorf("persist encryption flag: %w", err)
	}

	var warnings []string
	if a.cfg.Mode == Plain {
		blob, err := store.LoadVault(ctx)
		if err == nil && blob != nil {
			warnings = append(warnings, "an encrypted vault exists but plain mode is selected; its data is not visible")
		}
	}

	km := keys.NewManager(store, a.cfg.KDFIterations)

	a.mu.Lock()
	a.settings = store
	a.keys = km
	a.kv = db
	a.plain = newPlainBackend(db, a.cfg.Schema, km, a.log)
	a.report = report
	a.warnings = append(a.warnings, warnings...)
	a.mu.Unlock()

	for _, w := range warnings {
		a.log.Warn(ctx, w)
	}
	a.log.Info(ctx, "store initialized", "version", db.Version(), "recovery", report.State.String())
	return nil
}

// openJournal runs the recovery protocol and opens the entity store,
// forcing a reset when the store reports itself newer than the schema.
func (a *Adapter) openJournal(ctx context.Context, markers settings.Markers) (*kvstore.DB, recovery.Report, error) {
	path := filepath.Join(a.cfg.Dir, JournalFile)
	proto := recovery.New(recovery.Config{
		Path:             path,
		Schema:           a.cfg.Schema,
		Timeout:          a.cfg.OpenTimeout,
		DeleteRetryDelay: a.cfg.DeleteRetryDelay,
		Snapshots:        a.cfg.Session,
		Logger:           a.cfg.Logger,
	})

	var report recovery.Report
	err := a.retryBlocked(ctx, "recovery check", func(ctx context.Context) error {
		var err error
		report, err = proto.Check(ctx)
		return err
	})
	if err != nil {
		return nil, report, err
	}

	open := func() (*kvstore.DB, error) {
		var db *kvstore.DB
		err := a.retryBlocked(ctx, "journal", func(ctx context.Context) error {
			var err error
			db, err = kvstore.Open(ctx, path, a.cfg.Schema, kvstore.Options{
				Timeout: a.cfg.OpenTimeout,
				Markers: markers,
				Logger:  a.cfg.Logger,
			})
			return err
		})
		return db, err
	}

	db, err := open()
	if errors.Is(err, common.ErrVersionConflict) {
		a.log.Warn(ctx, "journal reports a newer version, resetting", "error", err)
		if report, err = proto.ForceReset(ctx); err != nil {
			return nil, report, err
		}
		db, err = open()
	}
	if err != nil {
		return nil, report, err
	}

	if report.Reset {
		report.Restored = proto.Restore(ctx, db)
	}
	return db, report, nil
}

// handles returns the opened handles or an error before Init.
func (a *Adapter) handles() (*plainBackend, *vault.Vault, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return nil, nil, common.ErrStorageUnavailable
	}
	if a.plain == nil {
		return nil, nil, fmt.Errorf("%w: adapter not initialized", common.ErrStorageUnavailable)
	}
	return a.plain, a.vault, nil
}

// backend returns the store entity operations go to.
func (a *Adapter) backend() (backend, error) {
	plain, v, err := a.handles()
	if err != nil {
		return nil, err
	}
	if a.cfg.Mode == Plain {
		return plain, nil
	}
	if v == nil {
		return nil, common.ErrLocked
	}
	return v, nil
}

func (a *Adapter) addWarning(ctx context.Context, w string) {
	a.mu.Lock()
	a.warnings = append(a.warnings, w)
	a.mu.Unlock()
	a.log.Warn(ctx, w)
}

// Warnings returns the non-fatal problems seen so far, such as integrity
// violations.
func (a *Adapter) Warnings() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]string(nil), a.warnings...)
}

// Recovery returns the report of the recovery check run by Init.
func (a *Adapter) Recovery() recovery.Report {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.report
}

func (a *Adapter) Status() Status {
	a.initMu.Lock()
	initialized := a.initialized
	a.initMu.Unlock()

	a.mu.RLock()
	defer a.mu.RUnlock()

	st := Status{
		Mode:        a.cfg.Mode,
		Initialized: initialized,
		Recovery:    a.report,
		Warnings:    append([]string(nil), a.warnings...),
	}
	if a.keys != nil {
		st.Unlocked = a.keys.HasKey()
	}
	if a.kv != nil {
		st.SchemaVersion = a.kv.Version()
	}
	return st
}

// Close locks the session and releases every handle.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true

	var errs []error
	if a.vault != nil {
		errs = append(errs, a.vault.Close())
		a.vault = nil
	}
	if a.keys != nil {
		a.keys.Lock()
	}
	a.cfg.Session.ClearPassword()
	if a.kv != nil {
		errs = append(errs, a.kv.Close())
	}
	if a.settings != nil {
		errs = append(errs, a.settings.Close())
	}
	return errors.Join(errs...)
}
