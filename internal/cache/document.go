package cache

import (
	"time"

	"codemapper/internal/ratelimit"
	t "codemapper/internal/types"
)

// Entry is one cached mapping result. Created at the first successful run
// for its key; read-only until TTL expiry. At most one live entry per key.
type Entry struct {
	CacheKey   string        `json:"cache_key"`
	MappingID  string        `json:"mapping_id"`
	CreatedAt  time.Time     `json:"created_at"`
	FocusAreas []string      `json:"focus_areas,omitempty"`
	Response   t.MapResponse `json:"response"`
}

// Context is the per-mapping state that serves Ask/Improve without
// recomputation: a prompt-sized summary plus the diagram set. Its lifetime
// is tied 1:1 to its Entry; pruning removes both in the same sweep.
type Context struct {
	MappingID string             `json:"mapping_id"`
	CacheKey  string             `json:"cache_key"`
	RepoName  string             `json:"repo_name"`
	Summary   string             `json:"summary"`
	Diagrams  []t.DiagramPayload `json:"diagrams"`
	CreatedAt time.Time          `json:"created_at"`
}

// CostLedger is append-only: all-time totals plus per-UTC-day buckets.
type CostLedger struct {
	Total t.CostDelta            `json:"total"`
	Days  map[string]t.CostDelta `json:"days,omitempty"`
}

// document is the single persisted unit behind the store. One external
// location, read-modify-write, no cross-process locking: an accepted
// limitation under the single-process deployment assumption.
type document struct {
	Entries     map[string]Entry            `json:"entries,omitempty"`
	Contexts    map[string]Context          `json:"contexts,omitempty"`
	RateBuckets map[string]ratelimit.Bucket `json:"rate_buckets,omitempty"`
	Ledger      CostLedger                  `json:"ledger"`
}

func newDocument() *document {
	return &document{
		Entries:     make(map[string]Entry),
		Contexts:    make(map[string]Context),
		RateBuckets: make(map[string]ratelimit.Bucket),
		Ledger:      CostLedger{Days: make(map[string]t.CostDelta)},
	}
}

func (d *document) normalize() {
	if d.Entries == nil {
		d.Entries = make(map[string]Entry)
	}
	if d.Contexts == nil {
		d.Contexts = make(map[string]Context)
	}
	if d.RateBuckets == nil {
		d.RateBuckets = make(map[string]ratelimit.Bucket)
	}
	if d.Ledger.Days == nil {
		d.Ledger.Days = make(map[string]t.CostDelta)
	}
}

// prune drops entries older than ttl and, in the same sweep, any context
// whose mapping id no longer has a live entry. Keeping both removals in one
// pass means the two collections can never desynchronize.
func (d *document) prune(now time.Time, ttl time.Duration) bool {
	changed := false
	live := make(map[string]struct{}, len(d.Entries))
	for key, e := range d.Entries {
		if now.Sub(e.CreatedAt) > ttl {
			delete(d.Entries, key)
			changed = true
			continue
		}
		live[e.MappingID] = struct{}{}
	}
	for id := range d.Contexts {
		if _, ok := live[id]; !ok {
			delete(d.Contexts, id)
			changed = true
		}
	}
	return changed
}
