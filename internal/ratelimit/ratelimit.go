package ratelimit

import (
	"strings"
	"sync"
	"time"
)

// Action is one admission-controlled operation class. Each class carries its
// own policy and is evaluated independently per client.
type Action string

const (
	ActionMap     Action = "mapping"
	ActionAsk     Action = "question"
	ActionImprove Action = "improve"
)

// Policy is a fixed-window budget for one action class.
type Policy struct {
	Limit  int
	Window time.Duration
}

// DefaultPolicies holds the shipped per-action budgets.
var DefaultPolicies = map[Action]Policy{
	ActionMap:     {Limit: 8, Window: 15 * time.Minute},
	ActionAsk:     {Limit: 30, Window: 15 * time.Minute},
	ActionImprove: {Limit: 20, Window: 15 * time.Minute},
}

// Bucket is the fixed-window counter state for one (action, client) pair.
// Created lazily, overwritten on window reset, never explicitly deleted.
type Bucket struct {
	Start time.Time `json:"start"`
	Count int       `json:"count"`
}

// BucketStore persists buckets. The cache document implements this so
// windows survive a restart; MemoryStore is the standalone fallback.
type BucketStore interface {
	Bucket(action Action, clientID string) (Bucket, bool)
	SetBucket(action Action, clientID string, b Bucket)
}

// Decision is the outcome of one Consume call. RetryAfter is only set on
// denial and is never below one second.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Limiter applies fixed-window admission control. It runs before any
// ingestion or AI work so a rejected request costs nothing.
type Limiter struct {
	mu       sync.Mutex
	store    BucketStore
	policies map[Action]Policy
	now      func() time.Time
}

// New builds a limiter over the given store with the default policies.
func New(store BucketStore) *Limiter {
	return &Limiter{
		store:    store,
		policies: DefaultPolicies,
		now:      time.Now,
	}
}

// Consume admits or rejects one request for (action, clientID).
// A missing client identifier fails open: availability is preferred over
// strict fairness when identity cannot be determined.
func (l *Limiter) Consume(clientID string, action Action) Decision {
	if l == nil {
		return Decision{Allowed: true}
	}
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return Decision{Allowed: true}
	}
	pol, ok := l.policies[action]
	if !ok || pol.Limit <= 0 {
		return Decision{Allowed: true}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, exists := l.store.Bucket(action, clientID)
	if !exists || now.Sub(b.Start) > pol.Window {
		l.store.SetBucket(action, clientID, Bucket{Start: now, Count: 1})
		return Decision{Allowed: true}
	}
	if b.Count >= pol.Limit {
		retry := pol.Window - now.Sub(b.Start)
		if retry < time.Second {
			retry = time.Second
		}
		return Decision{Allowed: false, RetryAfter: retry}
	}
	b.Count++
	l.store.SetBucket(action, clientID, b)
	return Decision{Allowed: true}
}

// MemoryStore is a map-backed BucketStore for tests and storeless setups.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]Bucket
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buckets: make(map[string]Bucket)}
}

func (m *MemoryStore) Bucket(action Action, clientID string) (Bucket, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buckets[bucketKey(action, clientID)]
	return b, ok
}

func (m *MemoryStore) SetBucket(action Action, clientID string, b Bucket) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buckets[bucketKey(action, clientID)] = b
}

func bucketKey(action Action, clientID string) string {
	return string(action) + ":" + clientID
}
