package adapter

import (
	"database/sql"
	"errors"
	"fmt"
	"syscall"

	"github.com/dmitrijs2005/mindvault/internal/common"
	"go.etcd.io/bbolt"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// translate maps backend errors onto the common taxonomy. Errors that
// already carry a common sentinel pass through unchanged.
func translate(err error) error {
	if err == nil {
		return nil
	}

	var se *sqlite.Error
	switch {
	case errors.Is(err, syscall.ENOSPC):
		return fmt.Errorf("%w: %w", common.ErrQuotaExceeded, err)
	case errors.As(err, &se) && se.Code()&0xff == sqlite3.SQLITE_FULL:
		return fmt.Errorf("%w: %w", common.ErrQuotaExceeded, err)
	case errors.Is(err, bbolt.ErrTimeout) && !errors.Is(err, common.ErrBlocked):
		return fmt.Errorf("%w: %w", common.ErrBlocked, err)
	case errors.Is(err, bbolt.ErrDatabaseNotOpen), errors.Is(err, sql.ErrConnDone), errors.Is(err, syscall.EROFS):
		return fmt.Errorf("%w: %w", common.ErrStorageUnavailable, err)
	}
	return err
}
