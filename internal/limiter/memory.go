package limiter

import (
	"context"
	"sync"
	"time"
)

// sweepAt is the table size that triggers dropping stale entries.
const sweepAt = 4096

type attempts struct {
	fails        int
	blockedUntil time.Time
	updatedAt    time.Time
}

// Memory is an in-process limiter with a sliding failure window and lockout.
// Counters live next to the session registry and vanish on restart.
type Memory struct {
	window   time.Duration
	maxFails int
	blockFor time.Duration
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]*attempts
}

// NewMemory constructs a limiter that blocks (username, ip) for blockFor
// after maxFails failures within window.
func NewMemory(window time.Duration, maxFails int, blockFor time.Duration) *Memory {
	return &Memory{
		window:   window,
		maxFails: maxFails,
		blockFor: blockFor,
		now:      time.Now,
		entries:  make(map[string]*attempts),
	}
}

func entryKey(username string, ipHash []byte) string {
	return username + "\x00" + string(ipHash)
}

// Allow reports whether login is currently allowed and a retry-after duration.
func (l *Memory) Allow(_ context.Context, username string, ipHash []byte) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	a, ok := l.entries[entryKey(username, ipHash)]
	if !ok {
		return true, 0, nil
	}
	if now := l.now(); a.blockedUntil.After(now) {
		return false, a.blockedUntil.Sub(now), nil
	}
	return true, 0, nil
}

// Success resets counters for (username, ip).
func (l *Memory) Success(_ context.Context, username string, ipHash []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, entryKey(username, ipHash))
	return nil
}

// Failure records a failed attempt; may set a block until a future time.
func (l *Memory) Failure(_ context.Context, username string, ipHash []byte) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	k := entryKey(username, ipHash)
	a, ok := l.entries[k]
	if !ok {
		if len(l.entries) >= sweepAt {
			l.sweep(now)
		}
		a = &attempts{}
		l.entries[k] = a
	}
	if now.Sub(a.updatedAt) > l.window {
		a.fails = 1
	} else {
		a.fails++
	}
	a.updatedAt = now

	if a.fails >= l.maxFails {
		a.blockedUntil = now.Add(l.blockFor)
		return true, l.blockFor, nil
	}
	return false, 0, nil
}

func (l *Memory) sweep(now time.Time) {
	for k, a := range l.entries {
		if now.Sub(a.updatedAt) > l.window && !a.blockedUntil.After(now) {
			delete(l.entries, k)
		}
	}
}
