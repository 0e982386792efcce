package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/and161185/sync-keeper/internal/errs"
	"github.com/and161185/sync-keeper/internal/model"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// AccountRepo implements AccountRepository on the user table.
type AccountRepo struct{ db querier }

// NewAccountRepo constructs an account repository.
func NewAccountRepo(db *sql.DB) *AccountRepo { return &AccountRepo{db: db} }

// Create inserts a new account row.
func (r *AccountRepo) Create(ctx context.Context, a *model.Account) error {
	const q = `INSERT INTO user (email, name, password) VALUES (?, ?, ?)`
	name := sql.NullString{String: a.Name, Valid: a.Name != ""}
	res, err := r.db.ExecContext(ctx, q, a.Email, name, a.PwdHash)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		a.ID = id
	}
	return nil
}

// GetByEmail selects an account by email.
func (r *AccountRepo) GetByEmail(ctx context.Context, email string) (*model.Account, error) {
	const q = `SELECT id, email, name, password FROM user WHERE email = ?`
	var (
		a    model.Account
		name sql.NullString
		pwd  sql.NullString
	)
	err := r.db.QueryRowContext(ctx, q, email).Scan(&a.ID, &a.Email, &name, &pwd)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select user: %w", err)
	}
	a.Name = name.String
	a.PwdHash = pwd.String
	return &a, nil
}
