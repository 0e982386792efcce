package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/and161185/sync-keeper/internal/errs"
	"github.com/and161185/sync-keeper/internal/media"
)

// TokenMode selects how bearer tokens are issued at login.
type TokenMode string

const (
	// TokensDeterministic hands out the identity hash itself, so repeated
	// logins with the same credentials get the same key.
	TokensDeterministic TokenMode = "deterministic"
	// TokensRandom issues a fresh random token per login, mapped to the identity.
	TokensRandom TokenMode = "random"
)

// LockMode selects the granularity of exclusive access.
type LockMode string

const (
	// LockSession serializes operations per session object.
	LockSession LockMode = "session"
	// LockGlobal serializes every authenticated operation server-wide.
	LockGlobal LockMode = "global"
)

// MediaOpener opens the media handle for an account folder.
type MediaOpener func(ctx context.Context, folder string) (*media.Manager, error)

// Options configures a Registry.
type Options struct {
	BaseFolder string
	OpenMedia  MediaOpener // defaults to media.Open
	Tokens     TokenMode
	Locking    LockMode
	Logger     *zap.Logger
}

// ErrClosed is returned by operations on a closed registry.
var ErrClosed = errors.New("session registry closed")

type entry struct {
	user *User
	sem  *semaphore.Weighted
	dead bool // set by Close while holding the entry's lock
}

// Registry maps session keys to live session objects.
type Registry struct {
	base      string
	openMedia MediaOpener
	tokens    TokenMode
	global    *semaphore.Weighted // set in LockGlobal mode
	log       *zap.Logger

	createMu sync.Mutex // serializes session creation, never held during operations

	mu     sync.RWMutex
	closed bool
	users  map[string]*entry // identity -> entry
	keys   map[string]string // bearer token -> identity
}

// NewRegistry constructs an empty registry rooted at opts.BaseFolder.
func NewRegistry(opts Options) (*Registry, error) {
	switch opts.Tokens {
	case "":
		opts.Tokens = TokensDeterministic
	case TokensDeterministic, TokensRandom:
	default:
		return nil, fmt.Errorf("unknown token mode %q", opts.Tokens)
	}
	r := &Registry{
		base:      opts.BaseFolder,
		openMedia: opts.OpenMedia,
		tokens:    opts.Tokens,
		log:       opts.Logger,
		users:     make(map[string]*entry),
		keys:      make(map[string]string),
	}
	switch opts.Locking {
	case "", LockSession:
	case LockGlobal:
		r.global = semaphore.NewWeighted(1)
	default:
		return nil, fmt.Errorf("unknown lock mode %q", opts.Locking)
	}
	if r.openMedia == nil {
		r.openMedia = media.Open
	}
	if r.log == nil {
		r.log = zap.NewNop()
	}
	return r, nil
}

// Has reports whether key resolves to a live session.
func (r *Registry) Has(key string) bool {
	_, ok := r.lookup(key)
	return ok
}

// Len returns the number of live session objects.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

// Create materializes the session object for identity key if absent.
// An existing entry is left untouched.
func (r *Registry) Create(ctx context.Context, name, key string) error {
	r.createMu.Lock()
	defer r.createMu.Unlock()

	r.mu.RLock()
	_, exists := r.users[key]
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	if exists {
		return nil
	}

	if !ValidName(name) {
		return errs.Internal("creating user folder", fmt.Errorf("unsafe account name %q", name))
	}
	folder := filepath.Join(r.base, name)
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return errs.Internal("creating user folder", err)
	}
	m, err := r.openMedia(ctx, folder)
	if err != nil {
		return errs.Internal("opening media", err)
	}
	id, err := uuid.NewV4()
	if err != nil {
		_ = m.Close()
		return errs.Internal("session id", err)
	}

	u := &User{ID: id, Name: name, Media: m, Folder: folder}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = m.Close()
		return ErrClosed
	}
	r.users[key] = &entry{user: u, sem: semaphore.NewWeighted(1)}
	if r.tokens == TokensDeterministic {
		r.keys[key] = key
	}
	r.mu.Unlock()

	r.log.Info("session created", zap.String("uid", name), zap.Stringer("session_id", id))
	return nil
}

// ValidName reports whether name can be used as a folder directly under
// the base folder.
func ValidName(name string) bool {
	return name != "" && name != "." && name != ".." &&
		!strings.ContainsAny(name, `/\`) && filepath.Base(name) == name
}

// Open creates the session for identity if needed and returns the bearer
// token the client must present on later calls.
func (r *Registry) Open(ctx context.Context, name, identity string) (string, error) {
	if err := r.Create(ctx, name, identity); err != nil {
		return "", err
	}
	if r.tokens == TokensDeterministic {
		return identity, nil
	}
	tok, err := uuid.NewV4()
	if err != nil {
		return "", errs.Internal("issuing token", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return "", ErrClosed
	}
	r.keys[tok.String()] = identity
	return tok.String(), nil
}

func (r *Registry) lookup(key string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, false
	}
	identity, ok := r.keys[key]
	if !ok {
		return nil, false
	}
	e, ok := r.users[identity]
	return e, ok
}

func (r *Registry) acquire(ctx context.Context, e *entry) (func(), error) {
	sem := e.sem
	if r.global != nil {
		sem = r.global
	}
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { sem.Release(1) }, nil
}

// WithSession runs op with exclusive access to the session object behind key
// and returns its result verbatim. An unknown key fails with
// errs.ErrUnauthorized and op is not invoked.
func WithSession[T any](ctx context.Context, r *Registry, key string, op func(*User) (T, error)) (T, error) {
	var zero T
	e, ok := r.lookup(key)
	if !ok {
		if r.isClosed() {
			return zero, ErrClosed
		}
		return zero, fmt.Errorf("%w: invalid session key", errs.ErrUnauthorized)
	}
	release, err := r.acquire(ctx, e)
	if err != nil {
		return zero, err
	}
	defer release()
	if e.dead {
		return zero, ErrClosed
	}
	return op(e.user)
}

func (r *Registry) isClosed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

// Close releases the media and collection handles of every session. It
// waits for operations already inside WithSession to finish; later calls
// fail with ErrClosed. Calling Close from inside an operation deadlocks.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	entries := make([]*entry, 0, len(r.users))
	for _, e := range r.users {
		entries = append(entries, e)
	}
	clear(r.users)
	clear(r.keys)
	r.mu.Unlock()

	var errList []error
	for _, e := range entries {
		release, err := r.acquire(context.Background(), e)
		if err != nil {
			errList = append(errList, err)
			continue
		}
		if err := e.user.close(); err != nil {
			errList = append(errList, fmt.Errorf("close %s: %w", e.user.Name, err))
		}
		e.dead = true
		release()
	}
	return errors.Join(errList...)
}
