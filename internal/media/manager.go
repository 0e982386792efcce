// Package media manages the per-account media folder and its index database.
package media

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/and161185/sync-keeper/internal/migrate"
	"github.com/and161185/sync-keeper/internal/repository/sqlite"
)

const (
	dirName = "media"
	dbName  = "media.db"
)

// Manager is a media handle rooted at one account folder.
type Manager struct {
	dir string
	db  *sql.DB
}

// Open creates <folder>/media if needed and opens <folder>/media.db.
func Open(ctx context.Context, folder string) (*Manager, error) {
	dir := filepath.Join(folder, dirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}

	dsn := sqlite.URI(filepath.Join(folder, dbName), url.Values{"_pragma": {"journal_mode(WAL)"}})
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := migrate.Up(ctx, db, migrate.SchemaMedia); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Manager{dir: dir, db: db}, nil
}

// Dir returns the folder media files are stored in.
func (m *Manager) Dir() string { return m.dir }

// LastUSN returns the update sequence number of the most recent media change.
func (m *Manager) LastUSN(ctx context.Context) (int64, error) {
	var usn int64
	if err := m.db.QueryRowContext(ctx, `SELECT last_usn FROM meta`).Scan(&usn); err != nil {
		return 0, fmt.Errorf("read last usn: %w", err)
	}
	return usn, nil
}

// Close releases the media database.
func (m *Manager) Close() error { return m.db.Close() }
