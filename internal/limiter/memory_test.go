package limiter

import (
	"context"
	"testing"
	"time"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(maxFails int) (*Memory, *clock) {
	c := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := NewMemory(15*time.Minute, maxFails, 10*time.Minute)
	l.now = c.now
	return l, c
}

func TestAllow_NoEntry_Allows(t *testing.T) {
	l, _ := newTestLimiter(3)

	ok, dur, err := l.Allow(context.Background(), "u", HashIP("1.2.3.4"))
	if err != nil || !ok || dur != 0 {
		t.Fatalf("want allowed: ok=%v dur=%v err=%v", ok, dur, err)
	}
}

func TestFailure_BlocksAtThreshold(t *testing.T) {
	l, c := newTestLimiter(3)
	ctx := context.Background()
	ip := HashIP("1.2.3.4")

	for i := 1; i < 3; i++ {
		blocked, _, err := l.Failure(ctx, "u", ip)
		if err != nil || blocked {
			t.Fatalf("failure %d: blocked=%v err=%v", i, blocked, err)
		}
	}
	blocked, dur, _ := l.Failure(ctx, "u", ip)
	if !blocked || dur != 10*time.Minute {
		t.Fatalf("third failure should block: blocked=%v dur=%v", blocked, dur)
	}

	ok, retry, _ := l.Allow(ctx, "u", ip)
	if ok || retry != 10*time.Minute {
		t.Fatalf("want blocked with retry-after: ok=%v retry=%v", ok, retry)
	}
	if ok, _, _ := l.Allow(ctx, "u", HashIP("5.6.7.8")); !ok {
		t.Fatalf("other address must not be blocked")
	}

	c.advance(11 * time.Minute)
	if ok, _, _ := l.Allow(ctx, "u", ip); !ok {
		t.Fatalf("block should expire")
	}
}

func TestFailure_WindowResets(t *testing.T) {
	l, c := newTestLimiter(2)
	ctx := context.Background()
	ip := HashIP("1.2.3.4")

	_, _, _ = l.Failure(ctx, "u", ip)
	c.advance(16 * time.Minute)
	if blocked, _, _ := l.Failure(ctx, "u", ip); blocked {
		t.Fatalf("failure outside the window must restart the count")
	}
}

func TestSuccess_Resets(t *testing.T) {
	l, _ := newTestLimiter(2)
	ctx := context.Background()
	ip := HashIP("1.2.3.4")

	_, _, _ = l.Failure(ctx, "u", ip)
	if err := l.Success(ctx, "u", ip); err != nil {
		t.Fatalf("Success: %v", err)
	}
	if blocked, _, _ := l.Failure(ctx, "u", ip); blocked {
		t.Fatalf("success should clear earlier failures")
	}
}

func TestSweep_DropsStale(t *testing.T) {
	l, c := newTestLimiter(100)
	ctx := context.Background()

	_, _, _ = l.Failure(ctx, "stale", HashIP("1"))
	c.advance(time.Hour)
	l.sweep(c.now())
	if len(l.entries) != 0 {
		t.Fatalf("stale entry not swept: %d left", len(l.entries))
	}
}
