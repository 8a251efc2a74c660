package kg

import (
	"context"
	"sort"
	"sync"
	"time"
)

// ApplyResult reports per-bucket counts from a store apply. Added counts are
// net-new entities; entities absorbed by merge-on-id are counted separately
// so idempotent re-applies are visible.
type ApplyResult struct {
	NodesAdded   int      `json:"nodes_added"`
	NodesMerged  int      `json:"nodes_merged,omitempty"`
	NodesUpdated int      `json:"nodes_updated"`
	NodesDeleted int      `json:"nodes_deleted"`
	EdgesAdded   int      `json:"edges_added"`
	EdgesMerged  int      `json:"edges_merged,omitempty"`
	EdgesUpdated int      `json:"edges_updated"`
	EdgesDeleted int      `json:"edges_deleted"`
	Errors       []string `json:"errors,omitempty"`
}

// NetNew reports whether the apply produced any net-new nodes or edges.
func (r *ApplyResult) NetNew() bool {
	return r.NodesAdded > 0 || r.EdgesAdded > 0 ||
		r.NodesUpdated > 0 || r.EdgesUpdated > 0 ||
		r.NodesDeleted > 0 || r.EdgesDeleted > 0
}

// ChangelogEntry is an immutable record of an applied diff at a specific
// version. Versions start at 1 and increase strictly monotonically.
type ChangelogEntry struct {
	Version        int64        `json:"version"`
	DiffID         string       `json:"diff_id"`
	Timestamp      time.Time    `json:"timestamp"`
	Diff           Diff         `json:"diff"`
	SourceAgent    string       `json:"source_agent"`
	SourceDocument string       `json:"source_document,omitempty"`
	Reason         string       `json:"reason,omitempty"`
	Result         *ApplyResult `json:"result,omitempty"`
	Summary        string       `json:"summary,omitempty"`
}

// ChangelogStore persists changelog entries append-only. Append assigns the
// next version atomically and returns the stored entry; implementations must
// guarantee no two entries ever share a version.
type ChangelogStore interface {
	Append(ctx context.Context, entry *ChangelogEntry) (*ChangelogEntry, error)
	CurrentVersion(ctx context.Context) (int64, error)
	Get(ctx context.Context, version int64) (*ChangelogEntry, error)
	// Recent returns up to limit entries, newest first.
	Recent(ctx context.Context, limit int) ([]ChangelogEntry, error)
	// After returns all entries with version > after, ascending.
	After(ctx context.Context, after int64) ([]ChangelogEntry, error)
}

// MemoryChangelog is the process-local ChangelogStore used in inline mode
// and in tests.
type MemoryChangelog struct {
	mu      sync.Mutex
	entries []ChangelogEntry
	version int64
}

// NewMemoryChangelog returns an empty in-memory changelog.
func NewMemoryChangelog() *MemoryChangelog {
	return &MemoryChangelog{}
}

// Append assigns the next version and stores a copy of the entry.
func (c *MemoryChangelog) Append(ctx context.Context, entry *ChangelogEntry) (*ChangelogEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.version++
	stored := *entry
	stored.Version = c.version
	if stored.Timestamp.IsZero() {
		stored.Timestamp = time.Now().UTC()
	}
	c.entries = append(c.entries, stored)
	return &stored, nil
}

// CurrentVersion returns the highest assigned version, 0 when empty.
func (c *MemoryChangelog) CurrentVersion(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version, nil
}

// Get returns the entry at the given version.
func (c *MemoryChangelog) Get(ctx context.Context, version int64) (*ChangelogEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.entries {
		if c.entries[i].Version == version {
			entry := c.entries[i]
			return &entry, nil
		}
	}
	return nil, ErrVersionNotFound
}

// Recent returns up to limit entries, newest first.
func (c *MemoryChangelog) Recent(ctx context.Context, limit int) ([]ChangelogEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.entries)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]ChangelogEntry, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, c.entries[i])
	}
	return out, nil
}

// After returns entries with version > after in ascending version order.
func (c *MemoryChangelog) After(ctx context.Context, after int64) ([]ChangelogEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []ChangelogEntry
	for i := range c.entries {
		if c.entries[i].Version > after {
			out = append(out, c.entries[i])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}
