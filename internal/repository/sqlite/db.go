// Package sqlite contains the SQLite implementation of the credential store.
// The database file is owned exclusively by one process: connections use a
// zero busy timeout and exclusive locking so a second instance fails fast.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"

	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/and161185/sync-keeper/internal/migrate"
)

// DSN builds the driver connection string for path.
// Pragma order matters: locking_mode must precede the switch to WAL.
func DSN(path string) string {
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(0)")
	q.Add("_pragma", "locking_mode(EXCLUSIVE)")
	q.Add("_pragma", "journal_mode(WAL)")
	return URI(path, q)
}

// URI returns a file: URI for path carrying query q. The path is made
// absolute and percent-escaped, so '?', '#' and '%' in folder names stay
// part of the file name.
func URI(path string, q url.Values) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(path), RawQuery: q.Encode()}
	return u.String()
}

// Open opens (creating if needed) the credential database at path and applies
// migrations.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", DSN(path))
	if err != nil {
		return nil, err
	}
	// one connection holds the exclusive lock for the process lifetime
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := migrate.Up(ctx, db, migrate.SchemaSQLite); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// isUniqueViolation reports whether the error is a unique constraint violation.
func isUniqueViolation(err error) bool {
	var se *msqlite.Error
	return errors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}
