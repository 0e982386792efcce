// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/and161185/sync-keeper/internal/model"
)

// AccountRepository provides access to registered accounts.
type AccountRepository interface {
	// Create inserts a new account. A duplicate email yields errs.ErrAlreadyExists.
	Create(ctx context.Context, a *model.Account) error
	// GetByEmail loads an account with its stored verifier, or errs.ErrNotFound.
	GetByEmail(ctx context.Context, email string) (*model.Account, error)
}
