package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/and161185/sync-keeper/internal/errs"
	"github.com/and161185/sync-keeper/internal/model"
)

// AccountRepo implements AccountRepository using PostgreSQL.
type AccountRepo struct{ db *DB }

// NewAccountRepo constructs an account repository.
func NewAccountRepo(db *DB) *AccountRepo { return &AccountRepo{db: db} }

// Create inserts a new account row.
func (r *AccountRepo) Create(ctx context.Context, a *model.Account) error {
	const q = `
INSERT INTO accounts (email, name, password)
VALUES ($1, $2, $3)
RETURNING id`
	var name any
	if a.Name != "" {
		name = a.Name
	}
	err := r.db.Pool.QueryRow(ctx, q, a.Email, name, a.PwdHash).Scan(&a.ID)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

// GetByEmail selects an account by email.
func (r *AccountRepo) GetByEmail(ctx context.Context, email string) (*model.Account, error) {
	const q = `
SELECT id, email, name, password
FROM accounts WHERE email=$1`
	var (
		a         model.Account
		name, pwd sql.NullString
	)
	err := r.db.Pool.QueryRow(ctx, q, email).Scan(&a.ID, &a.Email, &name, &pwd)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select account: %w", err)
	}
	a.Name = name.String
	a.PwdHash = pwd.String
	return &a, nil
}
