// Package session keeps the live per-account session objects of authenticated
// clients and gates exclusive access to them.
package session

import (
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/sync-keeper/internal/media"
)

// Collection is an open collection handle owned by a session.
type Collection interface {
	Close() error
}

// SyncState tracks an in-progress sync of one client session.
type SyncState struct {
	ClientSession string
	StartedAt     time.Time
}

// User is the mutable server-side state of one logged-in account.
// It must only be touched inside WithSession.
type User struct {
	ID        uuid.UUID // log correlation only
	Name      string
	Col       Collection // nil until a sync opens it
	SyncState *SyncState
	Media     *media.Manager
	Folder    string
}

func (u *User) close() error {
	var errList []error
	if u.Col != nil {
		errList = append(errList, u.Col.Close())
		u.Col = nil
	}
	if u.Media != nil {
		errList = append(errList, u.Media.Close())
	}
	return errors.Join(errList...)
}
