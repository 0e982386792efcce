package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	pkgcrypto "github.com/and161185/sync-keeper/internal/crypto"
	"github.com/and161185/sync-keeper/internal/errs"
	"github.com/and161185/sync-keeper/internal/limiter"
	"github.com/and161185/sync-keeper/internal/model"
	"github.com/and161185/sync-keeper/internal/session"
)

// Core orchestrates registration, login and authenticated dispatch.
type Core struct {
	creds    Credentials
	sessions *session.Registry
	lim      limiter.Limiter // optional
	log      *zap.Logger
}

// CoreOption customizes a Core.
type CoreOption func(*Core)

// WithLimiter throttles failed logins per (name, client address).
func WithLimiter(l limiter.Limiter) CoreOption {
	return func(c *Core) { c.lim = l }
}

// NewCore wires credentials and sessions together.
func NewCore(creds Credentials, sessions *session.Registry, log *zap.Logger, opts ...CoreOption) *Core {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Core{creds: creds, sessions: sessions, log: log}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Sessions exposes the registry the core dispatches through.
func (c *Core) Sessions() *session.Registry { return c.sessions }

// Register validates and stores a new account. Inputs are trimmed first.
func (c *Core) Register(ctx context.Context, email, name, password string) error {
	email = strings.TrimSpace(email)
	name = strings.TrimSpace(name)
	password = strings.TrimSpace(password)

	if password == "" {
		return errs.ErrEmptyPassword
	}
	// the email names the account folder, so it must be a single path element
	if !ValidEmail(email) || !session.ValidName(email) {
		return errs.ErrBadEmail
	}
	if err := c.creds.CreateAccount(ctx, email, name, password); err != nil {
		return err
	}
	c.log.Info("account registered", zap.String("email", email))
	return nil
}

// Login checks credentials and returns the session key for them, creating
// the session object on first use.
func (c *Core) Login(ctx context.Context, name, password string) (string, error) {
	return c.LoginWithIP(ctx, name, password, "")
}

// LoginWithIP is Login with failed attempts counted against ip when a
// limiter is configured.
func (c *Core) LoginWithIP(ctx context.Context, name, password, ip string) (string, error) {
	var ipHash []byte
	if c.lim != nil {
		ipHash = limiter.HashIP(ip)
		allowed, retry, err := c.lim.Allow(ctx, name, ipHash)
		if err != nil {
			return "", errs.Internal("rate limiter", err)
		}
		if !allowed {
			return "", fmt.Errorf("%w, retry in %s", errs.ErrRateLimited, retry.Round(time.Second))
		}
	}

	acc, err := c.creds.VerifyCredentials(ctx, name, password)
	if err != nil {
		return "", err
	}
	if acc == nil {
		if c.lim != nil {
			if blocked, _, ferr := c.lim.Failure(ctx, name, ipHash); ferr == nil && blocked {
				c.log.Warn("login blocked", zap.String("uid", name))
				return "", errs.ErrRateLimited
			}
		}
		return "", fmt.Errorf("%w: invalid user/pass", errs.ErrUnauthorized)
	}
	if c.lim != nil {
		_ = c.lim.Success(ctx, name, ipHash)
	}
	key, err := c.sessions.Open(ctx, name, pkgcrypto.HostKey(name, password))
	if err != nil {
		c.log.Error("create session failed", zap.String("uid", name), zap.Error(err))
		return "", err
	}
	return key, nil
}

// Dispatch runs op against the session named by req.SyncKey with exclusive
// access. An unknown key fails with errs.ErrUnauthorized and op never runs.
func Dispatch[I, O any](ctx context.Context, c *Core, req model.SyncRequest[I], op func(*session.User, model.SyncRequest[I]) (O, error)) (O, error) {
	return session.WithSession(ctx, c.sessions, req.SyncKey, func(u *session.User) (O, error) {
		trace.SpanFromContext(ctx).SetAttributes(
			attribute.String("uid", u.Name),
			attribute.String("client", req.ClientVersion),
			attribute.String("session", req.SessionKey),
		)
		c.log.Debug("dispatch",
			zap.String("uid", u.Name),
			zap.String("client", req.ClientVersion),
			zap.String("session", req.SessionKey),
		)
		return op(u, req)
	})
}
