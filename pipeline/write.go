package pipeline

import (
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/graphmind-ai/graphmind/common"
	"github.com/graphmind-ai/graphmind/kg"
	"github.com/graphmind-ai/graphmind/schema"
	"github.com/graphmind-ai/graphmind/taxonomy"
	"github.com/graphmind-ai/graphmind/validate"
)

// CrucialDecisionKGWrite labels the approval decision surfaced for a
// proposed graph write.
const CrucialDecisionKGWrite = "kg_write"

// WriterAgent is the provenance agent name stamped on written diffs.
const WriterAgent = "writer_node"

// hypernodeThreshold is the batch size at which members get grouped under a
// synthesized Hypernode.
const hypernodeThreshold = 5

// Scale labels.
const (
	ScaleMicro = "micro"
	ScaleMeso  = "meso"
	ScaleMacro = "macro"
)

var macroKeywords = []string{"field", "discipline", "theory", "framework", "system of", "paradigm"}

// Proposal is the writer's output: a bounded diff awaiting approval.
type Proposal struct {
	Diff                *kg.Diff `json:"diff"`
	DiffID              string   `json:"diff_id"`
	Summary             string   `json:"summary"`
	ApprovalRequired    bool     `json:"approval_required"`
	CrucialDecisionType string   `json:"crucial_decision_type"`
	Scale               string   `json:"scale"`
}

// Writer turns linked entities, relations and claims into a proposed diff.
type Writer struct {
	log *logrus.Entry
}

func NewWriter() *Writer {
	return &Writer{log: common.ServiceLogger("writer")}
}

// Write builds the proposal. Every node and edge carries provenance; the
// proposal always requires approval.
func (w *Writer) Write(linked *validate.Linked, claims []validate.Claim, sourceText, document, reason string) (*Proposal, error) {
	diff := &kg.Diff{}

	scale := inferScale(sourceText, len(linked.Entities))

	for _, e := range linked.Entities {
		id := linked.CanonicalIDs[e.Name]
		props := e.Properties.Clone()
		if props == nil {
			props = kg.Properties{}
		}
		props["id"] = id
		props["name"] = e.Name
		props["scale"] = scale
		if e.Label == schema.KindConcept {
			for k, v := range taxonomy.Annotate(e.Name) {
				props[k] = v
			}
		}
		diff.Nodes.Add = append(diff.Nodes.Add, kg.Node{ID: id, Label: e.Label, Properties: props})
	}

	for _, c := range claims {
		id := linked.CanonicalIDs[c.Text]
		if id == "" {
			id = schema.GenerateID(schema.KindClaim)
		}
		confidence := c.Confidence
		if confidence == 0 {
			confidence = 0.5
		}
		tier := kg.TierClaim(confidence, evidenceStrength(c))
		props := kg.Properties{
			"id":              id,
			"text":            c.Text,
			"claimType":       c.ClaimType,
			"confidence":      tier.EffectiveConfidence,
			"confidence_tier": tier.Tier,
			"p_error":         tier.PError,
		}
		if c.SourceID != "" {
			props["source_id"] = c.SourceID
		}
		if len(c.EvidenceIDs) > 0 {
			props["evidence_ids"] = c.EvidenceIDs
		}
		diff.Nodes.Add = append(diff.Nodes.Add, kg.Node{ID: id, Label: schema.KindClaim, Properties: props})
	}

	for _, r := range linked.Relations {
		diff.Edges.Add = append(diff.Edges.Add, kg.Edge{
			From: r.From, To: r.To, Type: r.Type,
			Properties: r.Properties.Clone(),
		})
	}

	if len(diff.Nodes.Add) >= hypernodeThreshold {
		w.addHypernode(diff, document, scale)
	}

	if err := validate.ValidateDiff(diff); err != nil {
		return nil, err
	}

	diff.EnrichWithProvenance(WriterAgent, document, reason)

	proposal := &Proposal{
		Diff:                diff,
		DiffID:              uuid.NewString(),
		Summary:             diff.Summary(),
		ApprovalRequired:    true,
		CrucialDecisionType: CrucialDecisionKGWrite,
		Scale:               scale,
	}
	w.log.WithFields(logrus.Fields{
		"diff_id": proposal.DiffID,
		"summary": proposal.Summary,
		"scale":   scale,
	}).Info("proposed diff ready for approval")
	return proposal, nil
}

// addHypernode groups the batch under a Hypernode with CONTAINS edges.
func (w *Writer) addHypernode(diff *kg.Diff, document, scale string) {
	hnID := schema.GenerateID(schema.KindHypernode)
	members := make([]string, 0, len(diff.Nodes.Add))
	for _, n := range diff.Nodes.Add {
		members = append(members, n.ID)
	}

	diff.Nodes.Add = append(diff.Nodes.Add, kg.Node{
		ID:    hnID,
		Label: schema.KindHypernode,
		Properties: kg.Properties{
			"id":      hnID,
			"name":    "cluster: " + document,
			"scale":   scale,
			"members": len(members),
		},
	})
	for _, member := range members {
		diff.Edges.Add = append(diff.Edges.Add, kg.Edge{
			From: hnID, To: member, Type: schema.EdgeContains,
		})
	}
}

// inferScale derives the batch scale from content keywords and node count.
func inferScale(text string, nodeCount int) string {
	lower := strings.ToLower(text)
	for _, kw := range macroKeywords {
		if strings.Contains(lower, kw) {
			return ScaleMacro
		}
	}
	switch {
	case nodeCount > 15:
		return ScaleMacro
	case nodeCount >= hypernodeThreshold:
		return ScaleMeso
	default:
		return ScaleMicro
	}
}

func evidenceStrength(c validate.Claim) float64 {
	strength := 0.0
	if c.SourceID != "" {
		strength += 0.5
	}
	strength += 0.25 * float64(len(c.EvidenceIDs))
	if strength > 1 {
		strength = 1
	}
	return strength
}
