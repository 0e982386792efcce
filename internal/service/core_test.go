package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"

	pkgcrypto "github.com/and161185/sync-keeper/internal/crypto"
	"github.com/and161185/sync-keeper/internal/errs"
	"github.com/and161185/sync-keeper/internal/limiter"
	"github.com/and161185/sync-keeper/internal/media"
	"github.com/and161185/sync-keeper/internal/model"
	"github.com/and161185/sync-keeper/internal/repository/sqlite"
	"github.com/and161185/sync-keeper/internal/session"
)

type testEnv struct {
	core  *Core
	base  string
	opens *int
}

func newTestCore(t *testing.T) testEnv {
	t.Helper()
	ctx := context.Background()
	base := t.TempDir()

	db, err := sqlite.Open(ctx, filepath.Join(base, "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	opens := 0
	reg, err := session.NewRegistry(session.Options{
		BaseFolder: base,
		OpenMedia: func(ctx context.Context, folder string) (*media.Manager, error) {
			opens++
			return media.Open(ctx, folder)
		},
		Logger: zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })

	creds := NewCredentialStore(sqlite.NewAccountRepo(db), nil)
	return testEnv{core: NewCore(creds, reg, zaptest.NewLogger(t)), base: base, opens: &opens}
}

func TestCore_RegisterThenLogin(t *testing.T) {
	t.Parallel()
	env := newTestCore(t)
	ctx := context.Background()

	require.NoError(t, env.core.Register(ctx, " a@b.com ", " A ", " pw "))

	key, err := env.core.Login(ctx, "a@b.com", "pw")
	require.NoError(t, err)
	require.Equal(t, pkgcrypto.HostKey("a@b.com", "pw"), key)
	require.True(t, env.core.Sessions().Has(key))

	st, err := os.Stat(filepath.Join(env.base, "a@b.com"))
	require.NoError(t, err)
	require.True(t, st.IsDir())
}

func TestCore_AccountsWithURIDelimitersGetOwnFolders(t *testing.T) {
	t.Parallel()
	env := newTestCore(t)
	ctx := context.Background()

	for _, name := range []string{"a?x@b.com", "a#x@b.com", "a%x@b.com"} {
		require.NoError(t, env.core.Register(ctx, name, "", "pw"), name)
		_, err := env.core.Login(ctx, name, "pw")
		require.NoError(t, err, name)

		_, err = os.Stat(filepath.Join(env.base, name, "media.db"))
		require.NoError(t, err, name)
	}
	require.Equal(t, 3, env.core.Sessions().Len())
	_, err := os.Stat(filepath.Join(env.base, "a"))
	require.True(t, os.IsNotExist(err))
}

func TestCore_Register_Validation(t *testing.T) {
	t.Parallel()
	env := newTestCore(t)
	ctx := context.Background()

	err := env.core.Register(ctx, "a@b.com", "", "")
	require.ErrorIs(t, err, errs.ErrEmptyPassword)
	require.Equal(t, "empty_password", errs.Reason(err))

	err = env.core.Register(ctx, "a@b.com", "", "   ")
	require.ErrorIs(t, err, errs.ErrEmptyPassword)

	err = env.core.Register(ctx, "not-an-email", "", "pw")
	require.ErrorIs(t, err, errs.ErrBadEmail)
	require.Equal(t, errs.KindValidation, errs.KindOf(err))

	err = env.core.Register(ctx, "a/x@b.com", "", "pw")
	require.ErrorIs(t, err, errs.ErrBadEmail, "would escape the account folder")

	// empty password wins over bad email
	require.ErrorIs(t, env.core.Register(ctx, "not-an-email", "", ""), errs.ErrEmptyPassword)

	require.NoError(t, env.core.Register(ctx, "a@b.com", "", "pw"))
	err = env.core.Register(ctx, "a@b.com", "", "pw2")
	require.ErrorIs(t, err, errs.ErrAlreadyExists)
	require.Equal(t, "account_exists", errs.Reason(err))
}

func TestValidEmail(t *testing.T) {
	t.Parallel()

	for _, ok := range []string{
		"a@b.com", "first.last+tag@mail-host.co.uk", "x_y@z.io",
		"o'brien@x.com", "a@localhost", "u@[127.0.0.1]", "u@[::1]",
		"a?x@b.com", "a#x@b.com", "a%x@b.com",
	} {
		require.True(t, ValidEmail(ok), ok)
	}
	for _, bad := range []string{
		"", "not-an-email", "@b.com", "a@", "a b@c.com", "a@@b.com",
		"a@-b.com", "a@b..com", "a@b_c.com", "u@[not-an-ip]",
		strings.Repeat("x", 65) + "@b.com",
	} {
		require.False(t, ValidEmail(bad), bad)
	}
}

func TestCore_Login_WrongPasswordIsForbidden(t *testing.T) {
	t.Parallel()
	env := newTestCore(t)
	ctx := context.Background()
	require.NoError(t, env.core.Register(ctx, "a@b.com", "", "pw"))

	_, err := env.core.Login(ctx, "a@b.com", "nope")
	require.ErrorIs(t, err, errs.ErrUnauthorized)
	require.Equal(t, errs.KindForbidden, errs.KindOf(err))

	_, err = env.core.Login(ctx, "ghost@b.com", "pw")
	require.Equal(t, errs.KindForbidden, errs.KindOf(err))
	require.Zero(t, env.core.Sessions().Len())
}

func TestCore_Login_TwiceReusesSession(t *testing.T) {
	t.Parallel()
	env := newTestCore(t)
	ctx := context.Background()
	require.NoError(t, env.core.Register(ctx, "a@b.com", "", "pw"))

	k1, err := env.core.Login(ctx, "a@b.com", "pw")
	require.NoError(t, err)
	k2, err := env.core.Login(ctx, "a@b.com", "pw")
	require.NoError(t, err)
	require.Equal(t, k1, k2)
	require.Equal(t, 1, *env.opens)
	require.Equal(t, 1, env.core.Sessions().Len())
}

type stubCreds struct {
	acc *model.Account
	err error
}

func (s stubCreds) CreateAccount(context.Context, string, string, string) error { return s.err }
func (s stubCreds) VerifyCredentials(context.Context, string, string) (*model.Account, error) {
	return s.acc, s.err
}

func TestCore_Login_InternalFailures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	reg, err := session.NewRegistry(session.Options{BaseFolder: t.TempDir()})
	require.NoError(t, err)
	c := NewCore(stubCreds{err: errs.Internal("load account", errors.New("locked"))}, reg, nil)
	_, err = c.Login(ctx, "a@b.com", "pw")
	require.Equal(t, errs.KindInternal, errs.KindOf(err))

	broken, err := session.NewRegistry(session.Options{
		BaseFolder: t.TempDir(),
		OpenMedia: func(context.Context, string) (*media.Manager, error) {
			return nil, errors.New("media db corrupt")
		},
	})
	require.NoError(t, err)
	c = NewCore(stubCreds{acc: &model.Account{ID: 1, Email: "a@b.com"}}, broken, nil)
	_, err = c.Login(ctx, "a@b.com", "pw")
	require.Equal(t, errs.KindInternal, errs.KindOf(err), "session creation failure is not forbidden")
}

func TestDispatch_RecordsSpanAttributes(t *testing.T) {
	t.Parallel()
	env := newTestCore(t)
	ctx := context.Background()
	require.NoError(t, env.core.Register(ctx, "a@b.com", "", "pw"))
	key, err := env.core.Login(ctx, "a@b.com", "pw")
	require.NoError(t, err)

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	spanCtx, span := tp.Tracer("test").Start(ctx, "sync/meta")

	req := model.SyncRequest[int]{
		SyncHeader: model.SyncHeader{SyncKey: key, ClientVersion: "2.1.66", SessionKey: "s-1"},
		Data:       41,
	}
	got, err := Dispatch(spanCtx, env.core, req, func(u *session.User, r model.SyncRequest[int]) (string, error) {
		require.Equal(t, "a@b.com", u.Name)
		return u.Name, nil
	})
	span.End()
	require.NoError(t, err)
	require.Equal(t, "a@b.com", got)

	ended := sr.Ended()
	require.Len(t, ended, 1)
	attrs := map[attribute.Key]string{}
	for _, kv := range ended[0].Attributes() {
		attrs[kv.Key] = kv.Value.AsString()
	}
	require.Equal(t, "a@b.com", attrs["uid"])
	require.Equal(t, "2.1.66", attrs["client"])
	require.Equal(t, "s-1", attrs["session"])
}

func TestDispatch_UnknownKey(t *testing.T) {
	t.Parallel()
	env := newTestCore(t)

	called := false
	req := model.SyncRequest[struct{}]{SyncHeader: model.SyncHeader{SyncKey: "deadbeef"}}
	_, err := Dispatch(context.Background(), env.core, req, func(*session.User, model.SyncRequest[struct{}]) (int, error) {
		called = true
		return 0, nil
	})
	require.ErrorIs(t, err, errs.ErrUnauthorized)
	require.False(t, called)
}

func TestCore_LoginWithIP_Throttles(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	base := t.TempDir()

	db, err := sqlite.Open(ctx, filepath.Join(base, "user.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	reg, err := session.NewRegistry(session.Options{BaseFolder: base})
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })

	lim := limiter.NewMemory(time.Minute, 2, time.Minute)
	c := NewCore(NewCredentialStore(sqlite.NewAccountRepo(db), nil), reg, zaptest.NewLogger(t), WithLimiter(lim))
	require.NoError(t, c.Register(ctx, "a@b.com", "", "pw"))

	_, err = c.LoginWithIP(ctx, "a@b.com", "bad", "10.0.0.1")
	require.ErrorIs(t, err, errs.ErrUnauthorized)
	require.NotErrorIs(t, err, errs.ErrRateLimited)

	_, err = c.LoginWithIP(ctx, "a@b.com", "bad", "10.0.0.1")
	require.ErrorIs(t, err, errs.ErrRateLimited)
	require.Equal(t, errs.KindForbidden, errs.KindOf(err))

	_, err = c.LoginWithIP(ctx, "a@b.com", "pw", "10.0.0.1")
	require.ErrorIs(t, err, errs.ErrRateLimited, "blocked even with the right password")

	key, err := c.LoginWithIP(ctx, "a@b.com", "pw", "10.0.0.2")
	require.NoError(t, err)
	require.NotEmpty(t, key)
}
