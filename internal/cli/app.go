package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dmitrijs2005/mindvault/internal/adapter"
	"github.com/dmitrijs2005/mindvault/internal/config"
	"github.com/dmitrijs2005/mindvault/internal/logging"
	"github.com/dmitrijs2005/mindvault/internal/models"
)

// journal is the part of *adapter.Adapter the shell uses.
type journal interface {
	Init(ctx context.Context) error
	Unlock(ctx context.Context, password []byte) (bool, error)
	Lock(ctx context.Context) error
	Get(ctx context.Context, store, key string) (models.Record, error)
	Put(ctx context.Context, store string, rec models.Record) error
	Delete(ctx context.Context, store, key string) error
	QueryByIndex(ctx context.Context, store, index string, value any, opts models.QueryOptions) ([]models.Record, error)
	ExportAll(ctx context.Context) (models.Snapshot, error)
	GetActiveValues(ctx context.Context, userID string) ([]string, error)
	SetValuesActive(ctx context.Context, userID string, orderedIDs []string) error
	ClearAllForUser(ctx context.Context, userID string) (models.BatchResult, error)
	Verify(ctx context.Context) error
	RotateKey(ctx context.Context) error
	ChangePassword(ctx context.Context, oldPassword, newPassword []byte) error
	Snapshot() (models.Snapshot, bool)
	Status() adapter.Status
	Close() error
}

var _ journal = (*adapter.Adapter)(nil)

type App struct {
	store  journal
	log    logging.Logger
	userID string
	reader *bufio.Reader
	out    io.Writer
	now    func() time.Time
}

// resolveMode turns the encryption setting into a storage mode. "auto"
// keeps the mode persisted by the last run.
func resolveMode(ctx context.Context, c *config.Config) (adapter.StorageMode, error) {
	switch strings.ToLower(c.Encryption) {
	case config.EncryptionOn:
		return adapter.Encrypted, nil
	case config.EncryptionOff:
		return adapter.Plain, nil
	default:
		return adapter.DetectMode(ctx, c.DataDir, c.OpenTimeout)
	}
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	log, err := logging.New(c.LogBackend, c.LogLevel, os.Stderr)
	if err != nil {
		return nil, err
	}

	mode, err := resolveMode(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("resolve storage mode: %w", err)
	}

	store := adapter.New(adapter.Config{
		Dir:               c.DataDir,
		Mode:              mode,
		UserID:            c.UserID,
		OpenTimeout:       c.OpenTimeout,
		BlockedRetries:    c.BlockedRetries,
		BlockedRetryDelay: c.BlockedRetryDelay,
		DeleteRetryDelay:  c.DeleteRetryDelay,
		Logger:            log,
	})

	return &App{
		store:  store,
		log:    log.With("component", "cli"),
		userID: c.UserID,
		reader: bufio.NewReader(os.Stdin),
		out:    os.Stdout,
		now:    time.Now,
	}, nil
}

// Run opens the store and serves the REPL until the user exits.
func (a *App) Run(ctx context.Context) error {
	defer a.store.Close()

	if err := a.store.Init(ctx); err != nil {
		return fmt.Errorf("open journal: %w", err)
	}

	a.log.Info(ctx, "shell started", "user", a.userID)
	fmt.Fprintln(a.out, "Welcome to mindvault (type 'help' for commands)")
	if rep := a.store.Status().Recovery; rep.Corrected || rep.Reset {
		_ = a.Recovery(ctx)
	}

	runREPL(ctx, a, a.prompt, a.reader)
	return nil
}

func (a *App) isUnlocked() bool {
	return a.store.Status().Unlocked
}

func (a *App) prompt() string {
	st := a.store.Status()
	lock := "locked"
	if st.Unlocked {
		lock = "unlocked"
	}
	return fmt.Sprintf("(%s %s, %s)", a.userID, st.Mode, lock)
}
