// Package schema defines the knowledge-graph type catalog: node kinds, edge
// types, their legal endpoints and property names, and the persisted ID
// format. IDs appear on the wire and in the store, so the prefix mapping here
// is frozen; changing it would orphan every persisted node.
package schema

import (
	"strings"

	"github.com/google/uuid"
)

// NodeKind enumerates the node labels the graph accepts.
type NodeKind string

const (
	KindConcept   NodeKind = "Concept"
	KindClaim     NodeKind = "Claim"
	KindEvidence  NodeKind = "Evidence"
	KindSource    NodeKind = "Source"
	KindMethod    NodeKind = "Method"
	KindScope     NodeKind = "Scope"
	KindPosition  NodeKind = "Position"
	KindHypernode NodeKind = "Hypernode"
	KindProcess   NodeKind = "Process"
)

// EdgeType enumerates the relation labels the graph accepts.
type EdgeType string

const (
	EdgeDefines        EdgeType = "DEFINES"
	EdgeSupports       EdgeType = "SUPPORTS"
	EdgeRefutes        EdgeType = "REFUTES"
	EdgePrereq         EdgeType = "PREREQ"
	EdgePartOf         EdgeType = "PartOf"
	EdgeIsA            EdgeType = "IsA"
	EdgeRelatedTo      EdgeType = "RELATED_TO"
	EdgeContains       EdgeType = "CONTAINS"
	EdgeNestedIn       EdgeType = "NESTED_IN"
	EdgeInputsTo       EdgeType = "INPUTS_TO"
	EdgeOutputsFrom    EdgeType = "OUTPUTS_FROM"
	EdgeScalesTo       EdgeType = "SCALES_TO"
	EdgeMirrors        EdgeType = "MIRRORS"
	EdgeContradicts    EdgeType = "CONTRADICTS"
	EdgeUnderScope     EdgeType = "UNDER_SCOPE"
	EdgePrerequisiteOf EdgeType = "PrerequisiteOf"
)

// kindPrefixes is the frozen ID prefix mapping. Persisted IDs use the form
// PREFIX:uuid where the prefix determines the node kind.
var kindPrefixes = map[NodeKind]string{
	KindConcept:   "C",
	KindClaim:     "CL",
	KindEvidence:  "E",
	KindSource:    "SRC",
	KindMethod:    "M",
	KindScope:     "S",
	KindPosition:  "PO",
	KindHypernode: "HN",
	KindProcess:   "P",
}

var prefixKinds = func() map[string]NodeKind {
	m := make(map[string]NodeKind, len(kindPrefixes))
	for kind, prefix := range kindPrefixes {
		m[prefix] = kind
	}
	return m
}()

// NodeKinds returns all legal node kinds in stable order.
func NodeKinds() []NodeKind {
	return []NodeKind{
		KindConcept, KindClaim, KindEvidence, KindSource, KindMethod,
		KindScope, KindPosition, KindHypernode, KindProcess,
	}
}

// EdgeTypes returns all legal edge types in stable order.
func EdgeTypes() []EdgeType {
	return []EdgeType{
		EdgeDefines, EdgeSupports, EdgeRefutes, EdgePrereq, EdgePartOf,
		EdgeIsA, EdgeRelatedTo, EdgeContains, EdgeNestedIn, EdgeInputsTo,
		EdgeOutputsFrom, EdgeScalesTo, EdgeMirrors, EdgeContradicts,
		EdgeUnderScope, EdgePrerequisiteOf,
	}
}

// ValidNodeKind reports whether label is a legal node kind.
func ValidNodeKind(label string) bool {
	_, ok := kindPrefixes[NodeKind(label)]
	return ok
}

// ValidEdgeType reports whether label is a legal edge type.
func ValidEdgeType(label string) bool {
	for _, t := range EdgeTypes() {
		if t == EdgeType(label) {
			return true
		}
	}
	return false
}

// GenerateID produces a new persisted ID for the given kind, in the form
// PREFIX:uuid. Unknown kinds fall back to the Concept prefix so callers never
// receive an empty ID; validators reject unknown kinds before this point.
func GenerateID(kind NodeKind) string {
	prefix, ok := kindPrefixes[kind]
	if !ok {
		prefix = kindPrefixes[KindConcept]
	}
	return prefix + ":" + uuid.NewString()
}

// ValidateID reports whether id has a known prefix and a parseable UUID body.
func ValidateID(id string) bool {
	_, ok := KindOf(id)
	return ok
}

// KindOf returns the node kind encoded in id's prefix. The second return is
// false when the prefix is unknown or the body is not a UUID.
func KindOf(id string) (NodeKind, bool) {
	prefix, body, found := strings.Cut(id, ":")
	if !found {
		return "", false
	}
	kind, ok := prefixKinds[prefix]
	if !ok {
		return "", false
	}
	if _, err := uuid.Parse(body); err != nil {
		return "", false
	}
	return kind, true
}

// RequiredProperties lists the property keys a node of the given kind must
// carry to enter the graph.
func RequiredProperties(kind NodeKind) []string {
	switch kind {
	case KindConcept:
		return []string{"name"}
	case KindClaim:
		return []string{"text", "claimType"}
	case KindEvidence:
		return []string{"text", "evidenceType"}
	case KindSource:
		return []string{"url"}
	case KindMethod:
		return []string{"name"}
	case KindScope:
		return []string{"name"}
	case KindPosition:
		return []string{"statement"}
	case KindHypernode:
		return []string{"name", "scale"}
	case KindProcess:
		return []string{"name"}
	default:
		return nil
	}
}

// edgeEndpoints captures the legal from/to kinds per edge type. An empty
// entry means any kind is accepted on that side.
type edgeEndpoints struct {
	from []NodeKind
	to   []NodeKind
}

var edgeCatalog = map[EdgeType]edgeEndpoints{
	EdgeDefines:        {from: []NodeKind{KindSource, KindConcept, KindMethod}, to: []NodeKind{KindConcept}},
	EdgeSupports:       {from: []NodeKind{KindEvidence, KindSource, KindClaim}, to: []NodeKind{KindClaim, KindPosition}},
	EdgeRefutes:        {from: []NodeKind{KindEvidence, KindSource, KindClaim}, to: []NodeKind{KindClaim, KindPosition}},
	EdgePrereq:         {from: []NodeKind{KindConcept, KindMethod}, to: []NodeKind{KindConcept, KindMethod}},
	EdgePrerequisiteOf: {from: []NodeKind{KindConcept, KindMethod}, to: []NodeKind{KindConcept, KindMethod}},
	EdgeContains:       {from: []NodeKind{KindHypernode, KindScope}, to: nil},
	EdgeNestedIn:       {from: nil, to: []NodeKind{KindHypernode, KindScope}},
	EdgeUnderScope:     {from: nil, to: []NodeKind{KindScope}},
	EdgeInputsTo:       {from: nil, to: []NodeKind{KindProcess, KindMethod}},
	EdgeOutputsFrom:    {from: nil, to: []NodeKind{KindProcess, KindMethod}},
	// Structural and associative edges accept any endpoints.
	EdgePartOf:      {},
	EdgeIsA:         {},
	EdgeRelatedTo:   {},
	EdgeScalesTo:    {},
	EdgeMirrors:     {},
	EdgeContradicts: {},
}

// LegalEndpoints reports whether an edge of type t may connect fromKind to
// toKind. Unknown edge types are never legal.
func LegalEndpoints(t EdgeType, fromKind, toKind NodeKind) bool {
	ep, ok := edgeCatalog[t]
	if !ok {
		return false
	}
	return kindAllowed(ep.from, fromKind) && kindAllowed(ep.to, toKind)
}

func kindAllowed(allowed []NodeKind, kind NodeKind) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, k := range allowed {
		if k == kind {
			return true
		}
	}
	return false
}
