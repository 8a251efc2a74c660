// Package kg implements the diff and versioning layer of the knowledge
// graph: the node/edge/diff data model, provenance enrichment, the
// append-only changelog, and rollback-diff synthesis. The graph itself is an
// opaque store behind the GraphStore interface; this package never assumes a
// particular storage engine.
package kg

import (
	"time"

	"github.com/graphmind-ai/graphmind/schema"
)

// ProvenanceKey is the property key under which every created or updated
// node and edge carries its provenance sub-record.
const ProvenanceKey = "_provenance"

// Properties is the string-keyed property map carried by nodes and edges.
// Values are scalars, lists, or nested maps; validators bound their size.
type Properties map[string]interface{}

// Clone returns a shallow copy of the property map. Nested values are shared;
// callers that mutate nested maps must copy them explicitly.
func (p Properties) Clone() Properties {
	if p == nil {
		return nil
	}
	out := make(Properties, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Provenance records where a node or edge came from and how much we trust it.
type Provenance struct {
	SourceAgent     string     `json:"source_agent"`
	SourceDocument  string     `json:"source_document,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	Confidence      float64    `json:"confidence,omitempty"`
	Reasoning       string     `json:"reasoning,omitempty"`
	Evidence        []string   `json:"evidence,omitempty"`
	LastVerifiedAt  *time.Time `json:"last_verified_at,omitempty"`
	EvidenceSummary string     `json:"evidence_summary,omitempty"`
}

// Node is a polymorphic graph record. The ID prefix determines the label;
// schema.KindOf recovers it.
type Node struct {
	ID         string          `json:"id"`
	Label      schema.NodeKind `json:"label"`
	Properties Properties      `json:"properties,omitempty"`
}

// Edge connects two nodes by ID with a typed relation.
type Edge struct {
	From       string          `json:"from"`
	To         string          `json:"to"`
	Type       schema.EdgeType `json:"type"`
	Properties Properties      `json:"properties,omitempty"`
}

// Key returns the identity of an edge within the graph: endpoints plus type.
func (e Edge) Key() string {
	return e.From + "|" + string(e.Type) + "|" + e.To
}

// SetProvenance attaches prov under the node's _provenance property,
// initializing the property map when needed.
func (n *Node) SetProvenance(prov Provenance) {
	if n.Properties == nil {
		n.Properties = Properties{}
	}
	n.Properties[ProvenanceKey] = prov
}

// SetProvenance attaches prov under the edge's _provenance property.
func (e *Edge) SetProvenance(prov Provenance) {
	if e.Properties == nil {
		e.Properties = Properties{}
	}
	e.Properties[ProvenanceKey] = prov
}

// ProvenanceOf extracts the provenance sub-record from a property map.
// It accepts both the typed form (set in-process) and the generic map form
// produced by JSON decoding.
func ProvenanceOf(props Properties) (Provenance, bool) {
	raw, ok := props[ProvenanceKey]
	if !ok {
		return Provenance{}, false
	}
	switch v := raw.(type) {
	case Provenance:
		return v, true
	case map[string]interface{}:
		var prov Provenance
		if agent, ok := v["source_agent"].(string); ok {
			prov.SourceAgent = agent
		}
		if doc, ok := v["source_document"].(string); ok {
			prov.SourceDocument = doc
		}
		if conf, ok := v["confidence"].(float64); ok {
			prov.Confidence = conf
		}
		if reasoning, ok := v["reasoning"].(string); ok {
			prov.Reasoning = reasoning
		}
		if ts, ok := v["created_at"].(string); ok {
			if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
				prov.CreatedAt = parsed
			}
		}
		return prov, prov.SourceAgent != ""
	default:
		return Provenance{}, false
	}
}
