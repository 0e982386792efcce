// Package migrate applies embedded SQL migrations on startup.
package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/and161185/sync-keeper/migrations"
)

// Schema names a migration set under the embedded filesystem.
type Schema string

const (
	SchemaSQLite   Schema = "sqlite"
	SchemaPostgres Schema = "postgres"
	SchemaMedia    Schema = "media"
)

func (s Schema) dialect() goose.Dialect {
	if s == SchemaPostgres {
		return goose.DialectPostgres
	}
	return goose.DialectSQLite3
}

// Up runs all pending migrations of schema against db.
// A provider is used instead of goose's package-level state so that several
// databases can be migrated concurrently.
func Up(ctx context.Context, db *sql.DB, schema Schema) error {
	sub, err := fs.Sub(migrations.FS, string(schema))
	if err != nil {
		return err
	}
	p, err := goose.NewProvider(schema.dialect(), db, sub)
	if err != nil {
		return fmt.Errorf("goose provider %s: %w", schema, err)
	}
	if _, err := p.Up(ctx); err != nil {
		return fmt.Errorf("migrate %s: %w", schema, err)
	}
	return nil
}

// UpDSN opens a PostgreSQL connection for dsn and applies the postgres schema.
func UpDSN(ctx context.Context, dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	return Up(ctx, db, SchemaPostgres)
}
