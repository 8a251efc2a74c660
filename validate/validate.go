// Package validate checks agent outputs before they enter shared state.
// Validators are transformative: they return a sanitized copy and never
// mutate their input. Anything a validator cannot repair is dropped or
// rejected with a ValidationError, never half-applied.
package validate

import (
	"fmt"

	"github.com/graphmind-ai/graphmind/common"
	"github.com/graphmind-ai/graphmind/kg"
	"github.com/graphmind-ai/graphmind/schema"
)

const (
	MaxEntities  = 100
	MaxRelations = 200
	MaxClaims    = 100

	MaxPropertyValueLength = 2000
	MaxEntityProperties    = 20
)

// Entity is an extractor-proposed node before linking.
type Entity struct {
	Name       string          `json:"name"`
	Label      schema.NodeKind `json:"label"`
	Properties kg.Properties   `json:"properties,omitempty"`
}

// Relation is an extractor-proposed edge, endpoints named (not yet IDs).
type Relation struct {
	From       string          `json:"from"`
	To         string          `json:"to"`
	Type       schema.EdgeType `json:"type"`
	Properties kg.Properties   `json:"properties,omitempty"`
}

// Claim is an extractor-proposed Claim node with its evidence references.
type Claim struct {
	Text        string        `json:"text"`
	ClaimType   string        `json:"claim_type"`
	Confidence  float64       `json:"confidence,omitempty"`
	SourceID    string        `json:"source_id,omitempty"`
	EvidenceIDs []string      `json:"evidence_ids,omitempty"`
	Properties  kg.Properties `json:"properties,omitempty"`
}

// Extraction is the extractor's structured output.
type Extraction struct {
	Entities  []Entity   `json:"entities"`
	Relations []Relation `json:"relations"`
	Claims    []Claim    `json:"claims"`
}

// Linked is the linker's structured output: entities with canonical IDs
// assigned and relations rewritten to those IDs.
type Linked struct {
	Entities     []Entity          `json:"entities"`
	Relations    []Relation        `json:"relations"`
	CanonicalIDs map[string]string `json:"canonical_ids"`
}

// ExtractionResult carries the sanitized output plus what was dropped.
type ExtractionResult struct {
	Output      Extraction
	Dropped     []string
	Quarantined []string
}

// ValidateExtraction sanitizes an extractor output. Entities with unknown
// labels and relations with unknown edge types are dropped (callers remap
// known aliases first). When requireClaimProvenance is set, Claims without
// a source, evidence, or an inbound SUPPORTS relation are quarantined along
// with every relation that references them.
func ValidateExtraction(in Extraction, requireClaimProvenance bool) (*ExtractionResult, error) {
	if len(in.Entities) > MaxEntities {
		return nil, common.NewValidationError("entities", "count %d exceeds limit %d", len(in.Entities), MaxEntities)
	}
	if len(in.Relations) > MaxRelations {
		return nil, common.NewValidationError("relations", "count %d exceeds limit %d", len(in.Relations), MaxRelations)
	}
	if len(in.Claims) > MaxClaims {
		return nil, common.NewValidationError("claims", "count %d exceeds limit %d", len(in.Claims), MaxClaims)
	}

	result := &ExtractionResult{}

	entityNames := make(map[string]bool, len(in.Entities))
	for _, e := range in.Entities {
		if e.Name == "" {
			result.Dropped = append(result.Dropped, "entity with empty name")
			continue
		}
		if !schema.ValidNodeKind(string(e.Label)) {
			result.Dropped = append(result.Dropped, fmt.Sprintf("entity %q with unknown label %q", e.Name, e.Label))
			continue
		}
		clean := e
		clean.Properties = sanitizeProperties(e.Properties)
		result.Output.Entities = append(result.Output.Entities, clean)
		entityNames[e.Name] = true
	}

	// Claims participate as relation endpoints by text.
	supported := make(map[string]bool)
	for _, r := range in.Relations {
		if r.Type == schema.EdgeSupports {
			supported[r.To] = true
		}
	}

	claimNames := make(map[string]bool)
	for _, c := range in.Claims {
		if c.Text == "" || c.ClaimType == "" {
			result.Dropped = append(result.Dropped, "claim missing text or claim_type")
			continue
		}
		if requireClaimProvenance && c.SourceID == "" && len(c.EvidenceIDs) == 0 && !supported[c.Text] {
			result.Quarantined = append(result.Quarantined, c.Text)
			continue
		}
		clean := c
		clean.Properties = sanitizeProperties(c.Properties)
		clean.Text = truncateValue(c.Text)
		result.Output.Claims = append(result.Output.Claims, clean)
		claimNames[c.Text] = true
	}

	quarantined := make(map[string]bool, len(result.Quarantined))
	for _, text := range result.Quarantined {
		quarantined[text] = true
	}

	for _, r := range in.Relations {
		if !schema.ValidEdgeType(string(r.Type)) {
			result.Dropped = append(result.Dropped, fmt.Sprintf("relation with unknown type %q", r.Type))
			continue
		}
		if quarantined[r.From] || quarantined[r.To] {
			result.Dropped = append(result.Dropped, fmt.Sprintf("relation referencing quarantined claim (%s -> %s)", r.From, r.To))
			continue
		}
		clean := r
		clean.Properties = sanitizeProperties(r.Properties)
		result.Output.Relations = append(result.Output.Relations, clean)
	}

	return result, nil
}

// ValidateLinked bounds-checks a linker output and drops relations whose
// endpoints are not canonical IDs.
func ValidateLinked(in Linked) (*Linked, error) {
	if len(in.Entities) > MaxEntities {
		return nil, common.NewValidationError("entities", "count %d exceeds limit %d", len(in.Entities), MaxEntities)
	}
	if len(in.Relations) > MaxRelations {
		return nil, common.NewValidationError("relations", "count %d exceeds limit %d", len(in.Relations), MaxRelations)
	}

	out := Linked{CanonicalIDs: make(map[string]string, len(in.CanonicalIDs))}
	for k, v := range in.CanonicalIDs {
		out.CanonicalIDs[k] = v
	}
	out.Entities = append(out.Entities, in.Entities...)
	for _, r := range in.Relations {
		if !schema.ValidateID(r.From) || !schema.ValidateID(r.To) {
			continue
		}
		out.Relations = append(out.Relations, r)
	}
	return &out, nil
}

// ValidateDiff rejects writer output that exceeds per-bucket limits.
func ValidateDiff(diff *kg.Diff) error {
	if diff == nil {
		return common.NewValidationError("diff", "missing")
	}
	return diff.CheckBounds()
}

func sanitizeProperties(props kg.Properties) kg.Properties {
	if props == nil {
		return nil
	}
	out := make(kg.Properties, len(props))
	count := 0
	for k, v := range props {
		if count >= MaxEntityProperties {
			break
		}
		if s, ok := v.(string); ok {
			out[k] = truncateValue(s)
		} else {
			out[k] = v
		}
		count++
	}
	return out
}

func truncateValue(s string) string {
	return common.Truncate(s, MaxPropertyValueLength)
}
