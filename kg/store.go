package kg

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// Store errors surfaced to the versioning layer.
var (
	ErrVersionNotFound = errors.New("changelog version not found")
	ErrNodeNotFound    = errors.New("node not found")
)

// GraphStore is the opaque graph database contract: apply a diff, look up
// nodes for linking, report size. Implementations merge on ID so re-applying
// a committed diff absorbs duplicates instead of creating them.
type GraphStore interface {
	ApplyDiff(ctx context.Context, diff *Diff) (*ApplyResult, error)
	NodeByID(ctx context.Context, id string) (*Node, error)
	// NodeByName finds a node whose normalized name property matches the
	// given normalized form. Best effort: a miss returns ErrNodeNotFound.
	NodeByName(ctx context.Context, normalized string) (*Node, error)
	Stats(ctx context.Context) (GraphStats, error)
}

// GraphStats summarizes store size for telemetry.
type GraphStats struct {
	Nodes int `json:"nodes"`
	Edges int `json:"edges"`
}

// NormalizeName lowercases a name and replaces whitespace and hyphens with
// underscores; the linker and the store use the same form so lookups agree.
func NormalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '-':
			return '_'
		default:
			return r
		}
	}, name)
}

// MemoryStore is the process-local GraphStore used in inline mode and tests.
// It keeps nodes by ID, edges by endpoint+type key, and a normalized-name
// index for the linker.
type MemoryStore struct {
	mu     sync.RWMutex
	nodes  map[string]Node
	edges  map[string]Edge
	byName map[string]string
}

// NewMemoryStore returns an empty in-memory graph store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes:  make(map[string]Node),
		edges:  make(map[string]Edge),
		byName: make(map[string]string),
	}
}

// ApplyDiff applies the diff's buckets in order: node adds, node updates,
// node deletes, then the edge buckets. Adds merge on ID; an add whose ID
// already exists merges properties and is counted as merged, not added.
func (s *MemoryStore) ApplyDiff(ctx context.Context, diff *Diff) (*ApplyResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := &ApplyResult{}

	for _, n := range diff.Nodes.Add {
		if existing, ok := s.nodes[n.ID]; ok {
			merged := existing
			merged.Properties = mergeProps(existing.Properties, n.Properties)
			s.nodes[n.ID] = merged
			result.NodesMerged++
			continue
		}
		s.nodes[n.ID] = Node{ID: n.ID, Label: n.Label, Properties: n.Properties.Clone()}
		s.indexName(n)
		result.NodesAdded++
	}

	for _, n := range diff.Nodes.Update {
		existing, ok := s.nodes[n.ID]
		if !ok {
			result.Errors = append(result.Errors, "update of missing node "+n.ID)
			continue
		}
		existing.Properties = mergeProps(existing.Properties, n.Properties)
		s.nodes[n.ID] = existing
		s.indexName(existing)
		result.NodesUpdated++
	}

	for _, n := range diff.Nodes.Delete {
		if existing, ok := s.nodes[n.ID]; ok {
			s.unindexName(existing)
			delete(s.nodes, n.ID)
			result.NodesDeleted++
		}
	}

	for _, e := range diff.Edges.Add {
		key := e.Key()
		if _, ok := s.edges[key]; ok {
			result.EdgesMerged++
			continue
		}
		if _, ok := s.nodes[e.From]; !ok {
			result.Errors = append(result.Errors, "edge add references missing node "+e.From)
			continue
		}
		if _, ok := s.nodes[e.To]; !ok {
			result.Errors = append(result.Errors, "edge add references missing node "+e.To)
			continue
		}
		s.edges[key] = Edge{From: e.From, To: e.To, Type: e.Type, Properties: e.Properties.Clone()}
		result.EdgesAdded++
	}

	for _, e := range diff.Edges.Update {
		key := e.Key()
		existing, ok := s.edges[key]
		if !ok {
			result.Errors = append(result.Errors, "update of missing edge "+key)
			continue
		}
		existing.Properties = mergeProps(existing.Properties, e.Properties)
		s.edges[key] = existing
		result.EdgesUpdated++
	}

	for _, e := range diff.Edges.Delete {
		key := e.Key()
		if _, ok := s.edges[key]; ok {
			delete(s.edges, key)
			result.EdgesDeleted++
		}
	}

	return result, nil
}

// NodeByID returns a copy of the node with the given ID.
func (s *MemoryStore) NodeByID(ctx context.Context, id string) (*Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[id]
	if !ok {
		return nil, ErrNodeNotFound
	}
	n.Properties = n.Properties.Clone()
	return &n, nil
}

// NodeByName resolves a node through the normalized-name index.
func (s *MemoryStore) NodeByName(ctx context.Context, normalized string) (*Node, error) {
	s.mu.RLock()
	id, ok := s.byName[normalized]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNodeNotFound
	}
	return s.NodeByID(ctx, id)
}

// Stats reports node and edge counts.
func (s *MemoryStore) Stats(ctx context.Context) (GraphStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return GraphStats{Nodes: len(s.nodes), Edges: len(s.edges)}, nil
}

func (s *MemoryStore) indexName(n Node) {
	if name, ok := n.Properties["name"].(string); ok && name != "" {
		s.byName[NormalizeName(name)] = n.ID
	}
}

func (s *MemoryStore) unindexName(n Node) {
	if name, ok := n.Properties["name"].(string); ok && name != "" {
		normalized := NormalizeName(name)
		if s.byName[normalized] == n.ID {
			delete(s.byName, normalized)
		}
	}
}

func mergeProps(base, overlay Properties) Properties {
	out := base.Clone()
	if out == nil {
		out = Properties{}
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}
