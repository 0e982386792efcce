package service

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	pkgcrypto "github.com/and161185/sync-keeper/internal/crypto"
	"github.com/and161185/sync-keeper/internal/errs"
	"github.com/and161185/sync-keeper/internal/model"
	"github.com/and161185/sync-keeper/internal/repository"
	"github.com/and161185/sync-keeper/internal/repository/sqlite"
)

type fakeAccounts struct {
	byEmail map[string]*model.Account

	createErr error
	getErr    error
}

var _ repository.AccountRepository = (*fakeAccounts)(nil)

func (f *fakeAccounts) Create(_ context.Context, a *model.Account) error {
	if f.createErr != nil {
		return f.createErr
	}
	if f.byEmail == nil {
		f.byEmail = map[string]*model.Account{}
	}
	if _, exists := f.byEmail[a.Email]; exists {
		return errs.ErrAlreadyExists
	}
	a.ID = int64(len(f.byEmail) + 1)
	cpy := *a
	f.byEmail[a.Email] = &cpy
	return nil
}

func (f *fakeAccounts) GetByEmail(_ context.Context, email string) (*model.Account, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	a, ok := f.byEmail[email]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := *a
	return &c, nil
}

func TestCredentialStore_CreateAndVerify(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := &fakeAccounts{}
	s := NewCredentialStore(repo, nil)

	require.NoError(t, s.CreateAccount(ctx, "a@b.com", "Alice", "pw"))
	stored := repo.byEmail["a@b.com"]
	require.NotEqual(t, "pw", stored.PwdHash, "password must not be stored in clear")

	acc, err := s.VerifyCredentials(ctx, "a@b.com", "pw")
	require.NoError(t, err)
	require.NotNil(t, acc)
	require.Equal(t, "a@b.com", acc.Email)
	require.Equal(t, "Alice", acc.Name)
	require.Empty(t, acc.PwdHash)

	acc, err = s.VerifyCredentials(ctx, "a@b.com", "wrong")
	require.NoError(t, err)
	require.Nil(t, acc)

	acc, err = s.VerifyCredentials(ctx, "nobody@b.com", "pw")
	require.NoError(t, err)
	require.Nil(t, acc)
}

func TestCredentialStore_Conflict(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewCredentialStore(&fakeAccounts{}, nil)

	require.NoError(t, s.CreateAccount(ctx, "a@b.com", "", "pw"))
	err := s.CreateAccount(ctx, "a@b.com", "", "other")
	require.ErrorIs(t, err, errs.ErrAlreadyExists)
	require.Equal(t, errs.KindConflict, errs.KindOf(err))
}

func TestCredentialStore_StorageErrors_AreInternal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	disk := errors.New("disk I/O error")

	s := NewCredentialStore(&fakeAccounts{createErr: disk}, nil)
	err := s.CreateAccount(ctx, "a@b.com", "", "pw")
	require.ErrorIs(t, err, errs.ErrInternal)
	require.ErrorIs(t, err, disk)

	s = NewCredentialStore(&fakeAccounts{getErr: disk}, nil)
	acc, err := s.VerifyCredentials(ctx, "a@b.com", "pw")
	require.Nil(t, acc)
	require.ErrorIs(t, err, errs.ErrInternal)
}

func TestCredentialStore_CorruptVerifier_IsInternal(t *testing.T) {
	t.Parallel()
	repo := &fakeAccounts{byEmail: map[string]*model.Account{
		"a@b.com": {ID: 1, Email: "a@b.com", PwdHash: "$argon2id$broken"},
	}}
	s := NewCredentialStore(repo, nil)

	_, err := s.VerifyCredentials(context.Background(), "a@b.com", "pw")
	require.ErrorIs(t, err, errs.ErrInternal)
}

func TestCredentialStore_LegacyRowsStillVerify(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	repo := sqlite.NewAccountRepo(db)

	legacy := NewCredentialStore(repo, pkgcrypto.LegacyMD5{})
	require.NoError(t, legacy.CreateAccount(ctx, "old@b.com", "", "123456"))

	current := NewCredentialStore(repo, nil)
	require.NoError(t, current.CreateAccount(ctx, "new@b.com", "", "secret"))

	for email, pw := range map[string]string{"old@b.com": "123456", "new@b.com": "secret"} {
		acc, err := current.VerifyCredentials(ctx, email, pw)
		require.NoError(t, err)
		require.NotNil(t, acc, email)
	}
}
