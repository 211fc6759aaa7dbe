package kvstore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/dmitrijs2005/mindvault/internal/models"
	"go.etcd.io/bbolt"
)

// The functions below work on the file without a schema. Recovery uses
// them to inspect and export a store it does not trust.

// ProbeResult describes the persisted version of a store file.
type ProbeResult struct {
	// Exists is false when the file is missing or was never initialized.
	Exists  bool
	Version int
	// Trusted is true when the checksummed header confirms Version.
	Trusted bool
}

// Probe reads the persisted version of the file at path.
func Probe(path string, timeout time.Duration) (ProbeResult, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return ProbeResult{}, nil
	}

	bdb, err := openBolt(path, timeout, true)
	if err != nil {
		return ProbeResult{}, err
	}
	defer bdb.Close()

	var info versionInfo
	err = bdb.View(func(tx *bbolt.Tx) error {
		info = readVersion(tx)
		return nil
	})
	if err != nil {
		return ProbeResult{}, err
	}
	return ProbeResult{Exists: info.Exists, Version: info.Version, Trusted: info.Trusted}, nil
}

// Export full-scans every store bucket of the file. A store whose rows
// cannot be decoded is exported as an empty slice and named in failed; the
// error is non-nil only when the file cannot be opened at all.
func Export(path string, timeout time.Duration) (snap models.Snapshot, failed []string, err error) {
	bdb, err := openBolt(path, timeout, true)
	if err != nil {
		return nil, nil, err
	}
	defer bdb.Close()

	snap = make(models.Snapshot)
	err = bdb.View(func(tx *bbolt.Tx) error {
		return tx.ForEach(func(name []byte, b *bbolt.Bucket) error {
			if !strings.HasPrefix(string(name), dataPrefix) {
				return nil
			}
			store := strings.TrimPrefix(string(name), dataPrefix)
			rows, err := exportBucket(b)
			if err != nil {
				snap[store] = []models.Record{}
				failed = append(failed, store)
				return nil
			}
			snap[store] = rows
			return nil
		})
	})
	if err != nil {
		return nil, nil, fmt.Errorf("export %s: %w", path, err)
	}
	return snap, failed, nil
}

func exportBucket(b *bbolt.Bucket) (rows []models.Record, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("read bucket: %v", p)
		}
	}()

	rows = []models.Record{}
	err = b.ForEach(func(_, raw []byte) error {
		rec, err := decodeRecord(raw)
		if err != nil {
			return err
		}
		rows = append(rows, rec)
		return nil
	})
	return rows, err
}

// WriteVersion overwrites the persisted version. Without header the value
// is written the way older builds did, leaving it to the heuristic.
func WriteVersion(path string, v int, header bool, timeout time.Duration) error {
	bdb, err := openBolt(path, timeout, false)
	if err != nil {
		return err
	}
	defer bdb.Close()

	return bdb.Update(func(tx *bbolt.Tx) error {
		return writeVersion(tx, v, header)
	})
}

// removeFile is a test seam for os.Remove.
var removeFile = os.Remove

// Destroy deletes the file at path. A failed delete is retried once after
// retryDelay; a missing file counts as deleted.
func Destroy(path string, retryDelay time.Duration) error {
	err := removeFile(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	time.Sleep(retryDelay)

	err = removeFile(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("remove %s: %w", path, err)
}

// Wipe drops every bucket of the file, for when it cannot be deleted.
func Wipe(path string, timeout time.Duration) error {
	bdb, err := openBolt(path, timeout, false)
	if err != nil {
		return err
	}
	defer bdb.Close()

	return bdb.Update(func(tx *bbolt.Tx) error {
		var names [][]byte
		if err := tx.ForEach(func(name []byte, _ *bbolt.Bucket) error {
			names = append(names, append([]byte(nil), name...))
			return nil
		}); err != nil {
			return err
		}
		for _, name := range names {
			if err := tx.DeleteBucket(name); err != nil {
				return err
			}
		}
		return nil
	})
}
