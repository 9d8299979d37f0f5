package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"codemapper/internal/ratelimit"
	t "codemapper/internal/types"
)

// DefaultTTL is how long a mapping entry stays servable.
const DefaultTTL = 24 * time.Hour

const contextCacheSize = 256

// Store is the content-addressed persistence layer for mapping results,
// per-mapping contexts, rate-limit state and the cost ledger. All access is
// read-modify-write on one document under a process mutex; no lock is held
// across network calls.
type Store struct {
	mu      sync.Mutex
	backend DocumentBackend
	ttl     time.Duration
	now     func() time.Time

	// Hot decoded contexts by mapping id, invalidated on writes and prune.
	contexts *lru.Cache[string, Context]
}

func NewStore(backend DocumentBackend, ttl time.Duration) (*Store, error) {
	if backend == nil {
		return nil, fmt.Errorf("cache: backend is required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	hot, err := lru.New[string, Context](contextCacheSize)
	if err != nil {
		return nil, err
	}
	return &Store{backend: backend, ttl: ttl, now: time.Now, contexts: hot}, nil
}

// Key hashes (commitSurrogate, repoName, focusAreas) into a cache key.
// Case folding and order-independence guarantee that differing request
// phrasing of the same logical request never produces a spurious miss.
func Key(commit, repoName string, focusAreas []string) string {
	focus := make([]string, 0, len(focusAreas))
	for _, f := range focusAreas {
		f = strings.ToLower(strings.TrimSpace(f))
		if f != "" {
			focus = append(focus, f)
		}
	}
	sort.Strings(focus)

	h := sha256.New()
	h.Write([]byte(strings.TrimSpace(commit)))
	h.Write([]byte{'|'})
	h.Write([]byte(strings.ToLower(strings.TrimSpace(repoName))))
	h.Write([]byte{'|'})
	h.Write([]byte(strings.Join(focus, ",")))
	return hex.EncodeToString(h.Sum(nil))[:40]
}

func (s *Store) load(ctx context.Context) (*document, error) {
	raw, ok, err := s.backend.Load(ctx)
	if err != nil {
		return nil, err
	}
	doc := newDocument()
	if ok {
		if err := json.Unmarshal(raw, doc); err != nil {
			return nil, fmt.Errorf("cache: decode document: %w", err)
		}
		doc.normalize()
	}
	return doc, nil
}

func (s *Store) save(ctx context.Context, doc *document) error {
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return s.backend.Save(ctx, raw)
}

// Get returns the live entry for key, pruning expired entries and orphaned
// contexts first on every call.
func (s *Store) Get(ctx context.Context, key string) (Entry, bool, error) {
	if s == nil {
		return Entry{}, false, fmt.Errorf("cache: store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(ctx)
	if err != nil {
		return Entry{}, false, err
	}
	if doc.prune(s.now(), s.ttl) {
		s.contexts.Purge()
		if err := s.save(ctx, doc); err != nil {
			return Entry{}, false, err
		}
	}
	e, ok := doc.Entries[key]
	return e, ok, nil
}

// Put upserts the entry by cache key and its paired context by mapping id:
// at most one live entry per key and one context per mapping id.
func (s *Store) Put(ctx context.Context, e Entry, c Context) error {
	if s == nil {
		return fmt.Errorf("cache: store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(ctx)
	if err != nil {
		return err
	}
	doc.prune(s.now(), s.ttl)
	doc.Entries[e.CacheKey] = e
	doc.Contexts[c.MappingID] = c
	s.contexts.Add(c.MappingID, c)
	return s.save(ctx, doc)
}

// Context returns the per-mapping context, pruning expired state first.
// A miss means the caller must remap.
func (s *Store) Context(ctx context.Context, mappingID string) (Context, bool, error) {
	if s == nil {
		return Context{}, false, fmt.Errorf("cache: store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.contexts.Get(mappingID); ok {
		// The hot layer may outlive a prune; verify against the document.
		doc, err := s.load(ctx)
		if err != nil {
			return Context{}, false, err
		}
		if doc.prune(s.now(), s.ttl) {
			s.contexts.Purge()
			if err := s.save(ctx, doc); err != nil {
				return Context{}, false, err
			}
			c2, ok2 := doc.Contexts[mappingID]
			return c2, ok2, nil
		}
		return c, true, nil
	}

	doc, err := s.load(ctx)
	if err != nil {
		return Context{}, false, err
	}
	if doc.prune(s.now(), s.ttl) {
		s.contexts.Purge()
		if err := s.save(ctx, doc); err != nil {
			return Context{}, false, err
		}
	}
	c, ok := doc.Contexts[mappingID]
	if ok {
		s.contexts.Add(mappingID, c)
	}
	return c, ok, nil
}

// RecordCost accumulates into the all-time total and the current UTC-day
// bucket. An all-zero delta is a no-op to avoid empty ledger entries.
func (s *Store) RecordCost(ctx context.Context, delta t.CostDelta) error {
	if s == nil || delta.IsZero() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(ctx)
	if err != nil {
		return err
	}
	day := s.now().UTC().Format("2006-01-02")
	doc.Ledger.Total = doc.Ledger.Total.Add(delta)
	doc.Ledger.Days[day] = doc.Ledger.Days[day].Add(delta)
	return s.save(ctx, doc)
}

// Ledger returns a copy of the cost ledger.
func (s *Store) Ledger(ctx context.Context) (CostLedger, error) {
	if s == nil {
		return CostLedger{}, fmt.Errorf("cache: store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(ctx)
	if err != nil {
		return CostLedger{}, err
	}
	out := CostLedger{Total: doc.Ledger.Total, Days: make(map[string]t.CostDelta, len(doc.Ledger.Days))}
	for d, c := range doc.Ledger.Days {
		out.Days[d] = c
	}
	return out, nil
}

// Bucket implements ratelimit.BucketStore over the persisted document so
// windows survive a restart.
func (s *Store) Bucket(action ratelimit.Action, clientID string) (ratelimit.Bucket, bool) {
	if s == nil {
		return ratelimit.Bucket{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(context.Background())
	if err != nil {
		return ratelimit.Bucket{}, false
	}
	b, ok := doc.RateBuckets[string(action)+":"+clientID]
	return b, ok
}

// SetBucket stores bucket state best-effort; a persistence failure only
// weakens rate limiting, it never blocks the request path.
func (s *Store) SetBucket(action ratelimit.Action, clientID string, b ratelimit.Bucket) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx := context.Background()
	doc, err := s.load(ctx)
	if err != nil {
		return
	}
	doc.RateBuckets[string(action)+":"+clientID] = b
	_ = s.save(ctx, doc)
}
