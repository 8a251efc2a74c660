package kg

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Per-bucket size limits for a single diff. A diff that exceeds any of these
// is rejected before it reaches the store.
const (
	MaxNodesAdd    = 300
	MaxNodesUpdate = 300
	MaxNodesDelete = 100
	MaxEdgesAdd    = 600
	MaxEdgesUpdate = 600
	MaxEdgesDelete = 200
)

// NodeOps holds the node mutations of a diff. Delete entries only need ID set.
type NodeOps struct {
	Add    []Node `json:"add"`
	Update []Node `json:"update"`
	Delete []Node `json:"delete"`
}

// EdgeOps holds the edge mutations of a diff.
type EdgeOps struct {
	Add    []Edge `json:"add"`
	Update []Edge `json:"update"`
	Delete []Edge `json:"delete"`
}

// DiffMetadata describes the origin of a diff.
type DiffMetadata struct {
	CreatedAt       time.Time `json:"created_at"`
	Source          string    `json:"source,omitempty"`
	Reason          string    `json:"reason,omitempty"`
	ProvenanceAgent string    `json:"provenance_agent,omitempty"`
	ProvenanceAt    time.Time `json:"provenance_at,omitempty"`
}

// Diff is a proposed or committed set of graph mutations. Invariants:
// every bucket respects the Max* limits, and any edge endpoint in Edges.Add
// either appears in Nodes.Add of the same diff or pre-exists in the store.
type Diff struct {
	Nodes    NodeOps      `json:"nodes"`
	Edges    EdgeOps      `json:"edges"`
	Metadata DiffMetadata `json:"metadata"`
}

// Empty reports whether the diff carries no mutations.
func (d *Diff) Empty() bool {
	return len(d.Nodes.Add) == 0 && len(d.Nodes.Update) == 0 && len(d.Nodes.Delete) == 0 &&
		len(d.Edges.Add) == 0 && len(d.Edges.Update) == 0 && len(d.Edges.Delete) == 0
}

// CheckBounds verifies the per-bucket limits, returning a descriptive error
// naming the first bucket that overflows.
func (d *Diff) CheckBounds() error {
	checks := []struct {
		name  string
		count int
		limit int
	}{
		{"nodes.add", len(d.Nodes.Add), MaxNodesAdd},
		{"nodes.update", len(d.Nodes.Update), MaxNodesUpdate},
		{"nodes.delete", len(d.Nodes.Delete), MaxNodesDelete},
		{"edges.add", len(d.Edges.Add), MaxEdgesAdd},
		{"edges.update", len(d.Edges.Update), MaxEdgesUpdate},
		{"edges.delete", len(d.Edges.Delete), MaxEdgesDelete},
	}
	for _, c := range checks {
		if c.count > c.limit {
			return fmt.Errorf("diff bucket %s has %d entries, limit %d", c.name, c.count, c.limit)
		}
	}
	return nil
}

// Serialize encodes the diff in the canonical JSON wire format.
func (d *Diff) Serialize() ([]byte, error) {
	return json.Marshal(d)
}

// ParseDiff decodes a diff from its JSON wire format. Unknown property keys
// are preserved inside the property maps; unknown top-level keys are ignored,
// per the wire contract that readers accept additional keys.
func ParseDiff(data []byte) (*Diff, error) {
	var d Diff
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to parse diff: %w", err)
	}
	return &d, nil
}

// EnrichWithProvenance attaches a _provenance sub-record to every node and
// edge in the add and update buckets and stamps the diff metadata. Existing
// provenance records are preserved.
func (d *Diff) EnrichWithProvenance(agent, document, reasoning string) {
	now := time.Now().UTC()
	prov := Provenance{
		SourceAgent:    agent,
		SourceDocument: document,
		CreatedAt:      now,
		Reasoning:      reasoning,
		Confidence:     0.8,
	}

	for i := range d.Nodes.Add {
		if _, ok := ProvenanceOf(d.Nodes.Add[i].Properties); !ok {
			d.Nodes.Add[i].SetProvenance(prov)
		}
	}
	for i := range d.Nodes.Update {
		if _, ok := ProvenanceOf(d.Nodes.Update[i].Properties); !ok {
			d.Nodes.Update[i].SetProvenance(prov)
		}
	}
	for i := range d.Edges.Add {
		if _, ok := ProvenanceOf(d.Edges.Add[i].Properties); !ok {
			d.Edges.Add[i].SetProvenance(prov)
		}
	}
	for i := range d.Edges.Update {
		if _, ok := ProvenanceOf(d.Edges.Update[i].Properties); !ok {
			d.Edges.Update[i].SetProvenance(prov)
		}
	}

	d.Metadata.ProvenanceAgent = agent
	d.Metadata.ProvenanceAt = now
	if d.Metadata.CreatedAt.IsZero() {
		d.Metadata.CreatedAt = now
	}
	if d.Metadata.Source == "" {
		d.Metadata.Source = document
	}
}

// Summary renders the human-readable counts string used in approval prompts,
// e.g. "+2 nodes, -1 edges". Zero buckets are omitted; an empty diff renders
// as "no changes".
func (d *Diff) Summary() string {
	var parts []string
	add := func(count int, prefix, noun string) {
		if count > 0 {
			parts = append(parts, fmt.Sprintf("%s%d %s", prefix, count, noun))
		}
	}
	add(len(d.Nodes.Add), "+", "nodes")
	add(len(d.Nodes.Update), "~", "nodes")
	add(len(d.Nodes.Delete), "-", "nodes")
	add(len(d.Edges.Add), "+", "edges")
	add(len(d.Edges.Update), "~", "edges")
	add(len(d.Edges.Delete), "-", "edges")
	if len(parts) == 0 {
		return "no changes"
	}
	return strings.Join(parts, ", ")
}

// Reverse synthesizes the inversion of this diff for rollback: adds become
// deletes and deletes become adds, per bucket. Updates are not inverted
// because pre-images are not stored; the second return reports how many
// update entries were skipped so the rollback entry can note them.
func (d *Diff) Reverse() (*Diff, int) {
	rev := &Diff{
		Metadata: DiffMetadata{CreatedAt: time.Now().UTC(), Reason: "rollback"},
	}
	for _, n := range d.Nodes.Add {
		rev.Nodes.Delete = append(rev.Nodes.Delete, Node{ID: n.ID, Label: n.Label})
	}
	for _, n := range d.Nodes.Delete {
		rev.Nodes.Add = append(rev.Nodes.Add, n)
	}
	for _, e := range d.Edges.Add {
		rev.Edges.Delete = append(rev.Edges.Delete, Edge{From: e.From, To: e.To, Type: e.Type})
	}
	for _, e := range d.Edges.Delete {
		rev.Edges.Add = append(rev.Edges.Add, e)
	}
	skipped := len(d.Nodes.Update) + len(d.Edges.Update)
	return rev, skipped
}

// Merge appends the mutations of other into d. Used by rollback to fold the
// reversals of several changelog entries into one diff.
func (d *Diff) Merge(other *Diff) {
	d.Nodes.Add = append(d.Nodes.Add, other.Nodes.Add...)
	d.Nodes.Update = append(d.Nodes.Update, other.Nodes.Update...)
	d.Nodes.Delete = append(d.Nodes.Delete, other.Nodes.Delete...)
	d.Edges.Add = append(d.Edges.Add, other.Edges.Add...)
	d.Edges.Update = append(d.Edges.Update, other.Edges.Update...)
	d.Edges.Delete = append(d.Edges.Delete, other.Edges.Delete...)
}
