package ratelimit

import (
	"testing"
	"time"
)

func newTestLimiter(now *time.Time) *Limiter {
	l := New(NewMemoryStore())
	l.now = func() time.Time { return *now }
	return l
}

func TestConsumeWithinLimit(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l := newTestLimiter(&now)

	pol := DefaultPolicies[ActionMap]
	for i := 0; i < pol.Limit; i++ {
		if d := l.Consume("client-a", ActionMap); !d.Allowed {
			t.Fatalf("call %d unexpectedly denied", i+1)
		}
	}
	d := l.Consume("client-a", ActionMap)
	if d.Allowed {
		t.Fatalf("call over limit should be denied")
	}
	if d.RetryAfter <= 0 {
		t.Fatalf("expected positive retry hint, got %v", d.RetryAfter)
	}
}

func TestWindowReset(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l := newTestLimiter(&now)

	pol := DefaultPolicies[ActionAsk]
	for i := 0; i < pol.Limit; i++ {
		l.Consume("client-b", ActionAsk)
	}
	if d := l.Consume("client-b", ActionAsk); d.Allowed {
		t.Fatalf("expected denial at limit")
	}

	now = now.Add(pol.Window + time.Second)
	if d := l.Consume("client-b", ActionAsk); !d.Allowed {
		t.Fatalf("expected reset after window elapsed")
	}
}

func TestActionsAreIndependent(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l := newTestLimiter(&now)

	pol := DefaultPolicies[ActionMap]
	for i := 0; i < pol.Limit; i++ {
		l.Consume("client-c", ActionMap)
	}
	if d := l.Consume("client-c", ActionMap); d.Allowed {
		t.Fatalf("map budget should be exhausted")
	}
	if d := l.Consume("client-c", ActionAsk); !d.Allowed {
		t.Fatalf("ask budget must not be affected by map usage")
	}
}

func TestMissingClientFailsOpen(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l := newTestLimiter(&now)

	for i := 0; i < 100; i++ {
		if d := l.Consume("", ActionMap); !d.Allowed {
			t.Fatalf("anonymous requests must always be allowed")
		}
	}
}

func TestRetryAfterFloor(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l := newTestLimiter(&now)

	pol := DefaultPolicies[ActionImprove]
	for i := 0; i < pol.Limit; i++ {
		l.Consume("client-d", ActionImprove)
	}
	now = now.Add(pol.Window - 200*time.Millisecond)
	d := l.Consume("client-d", ActionImprove)
	if d.Allowed {
		t.Fatalf("expected denial just before window edge")
	}
	if d.RetryAfter < time.Second {
		t.Fatalf("retry hint below 1s floor: %v", d.RetryAfter)
	}
}
