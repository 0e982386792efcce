// Package service contains the credential store and the request core that
// ties credentials to live sessions.
package service

import (
	"context"
	"errors"

	pkgcrypto "github.com/and161185/sync-keeper/internal/crypto"
	"github.com/and161185/sync-keeper/internal/errs"
	"github.com/and161185/sync-keeper/internal/model"
	"github.com/and161185/sync-keeper/internal/repository"
)

// Credentials defines account persistence and password checks.
type Credentials interface {
	// CreateAccount persists a new account with a hashed password.
	CreateAccount(ctx context.Context, email, name, password string) error
	// VerifyCredentials returns the matching account, or nil when the email is
	// unknown or the password is wrong.
	VerifyCredentials(ctx context.Context, email, password string) (*model.Account, error)
}

// CredentialStore implements Credentials over an AccountRepository.
type CredentialStore struct {
	accounts repository.AccountRepository
	hasher   pkgcrypto.Hasher
}

// NewCredentialStore constructs a store; a nil hasher means argon2id.
func NewCredentialStore(accounts repository.AccountRepository, hasher pkgcrypto.Hasher) *CredentialStore {
	if hasher == nil {
		hasher = pkgcrypto.Argon2id{}
	}
	return &CredentialStore{accounts: accounts, hasher: hasher}
}

// CreateAccount hashes password and inserts the account.
// A taken email yields errs.ErrAlreadyExists; anything else is internal.
func (s *CredentialStore) CreateAccount(ctx context.Context, email, name, password string) error {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return errs.Internal("hash password", err)
	}
	acc := &model.Account{Email: email, Name: name, PwdHash: hash}
	if err := s.accounts.Create(ctx, acc); err != nil {
		if errors.Is(err, errs.ErrAlreadyExists) {
			return err
		}
		return errs.Internal("create account", err)
	}
	return nil
}

// VerifyCredentials looks the account up by email and checks password.
// An unknown email and a wrong password both return (nil, nil).
func (s *CredentialStore) VerifyCredentials(ctx context.Context, email, password string) (*model.Account, error) {
	acc, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, nil
		}
		return nil, errs.Internal("load account", err)
	}
	ok, err := pkgcrypto.VerifyPassword(password, acc.PwdHash)
	if err != nil {
		return nil, errs.Internal("verify password", err)
	}
	if !ok {
		return nil, nil
	}
	acc.PwdHash = ""
	return acc, nil
}
