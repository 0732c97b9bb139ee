package db

import (
	"errors"
	"fmt"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// ErrNotFound reports a key with no record in its collection.
	ErrNotFound = errors.New("record not found")
	// ErrStorageUnavailable reports that the database cannot be read or written.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrQuotaExceeded reports that the database has run out of space.
	ErrQuotaExceeded = errors.New("storage quota exceeded")
)

// classify tags driver failures with the storage taxonomy. The original
// error stays in the chain.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return err
	}

	switch se.Code() & 0xff {
	case sqlite3.SQLITE_FULL:
		return fmt.Errorf("%w: %w", ErrQuotaExceeded, err)
	case sqlite3.SQLITE_CANTOPEN, sqlite3.SQLITE_IOERR, sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED,
		sqlite3.SQLITE_READONLY, sqlite3.SQLITE_NOTADB, sqlite3.SQLITE_CORRUPT, sqlite3.SQLITE_PERM:
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return err
}
