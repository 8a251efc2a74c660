// Package pipeline turns fetched text into a proposed graph diff through
// three stages: extract entities/relations/claims, link them to canonical
// IDs, and write a bounded diff with provenance and an approval gate.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/graphmind-ai/graphmind/common"
	"github.com/graphmind-ai/graphmind/egress"
	"github.com/graphmind-ai/graphmind/llm"
	"github.com/graphmind-ai/graphmind/schema"
	"github.com/graphmind-ai/graphmind/validate"
)

// Extraction thresholds. Inputs outside the cheap band, or with weak NER
// signal, go to the model.
const (
	shortTextThreshold    = 200
	longTextThreshold     = 20000
	cheapConfidenceNeeded = 0.6
)

// ModelInvoker is the slice of the tracked client the pipeline needs.
type ModelInvoker interface {
	Invoke(ctx context.Context, req llm.Request, scope llm.CallScope) (*llm.Response, error)
}

// edgeTypeRemap translates common model-invented edge labels onto the legal
// catalog before validation rejects the rest.
var edgeTypeRemap = map[string]schema.EdgeType{
	"STUDIES":      schema.EdgeRelatedTo,
	"TEACHES":      schema.EdgeRelatedTo,
	"RELATES_TO":   schema.EdgeRelatedTo,
	"ASSOCIATED":   schema.EdgeRelatedTo,
	"PREREQUISITE": schema.EdgePrerequisiteOf,
	"REQUIRES":     schema.EdgePrereq,
	"IS_A":         schema.EdgeIsA,
	"PART_OF":      schema.EdgePartOf,
	"HAS_PART":     schema.EdgeContains,
	"OPPOSES":      schema.EdgeContradicts,
}

// Extractor chooses between heuristic and model extraction.
type Extractor struct {
	model                  ModelInvoker
	modelName              string
	requireClaimProvenance bool
	log                    *logrus.Entry
}

// NewExtractor builds an extractor; model may be nil to force the cheap path
// (used in inline development mode without credentials).
func NewExtractor(model ModelInvoker, modelName string, requireClaimProvenance bool) *Extractor {
	return &Extractor{
		model:                  model,
		modelName:              modelName,
		requireClaimProvenance: requireClaimProvenance,
		log:                    common.ServiceLogger("extractor"),
	}
}

// Extract produces a validated extraction for one document.
func (e *Extractor) Extract(ctx context.Context, text string, scope llm.CallScope) (*validate.ExtractionResult, error) {
	cheap, confidence := cheapExtract(text)
	useModel := confidence < cheapConfidenceNeeded ||
		len(text) < shortTextThreshold ||
		len(text) > longTextThreshold

	if useModel && e.model != nil {
		modelOut, err := e.modelExtract(ctx, text, scope)
		if err != nil {
			return nil, err
		}
		cheap = *modelOut
	} else if useModel {
		e.log.Debug("model extraction wanted but no model configured, using heuristic output")
	}

	remapEdgeTypes(&cheap)
	result, err := validate.ValidateExtraction(cheap, e.requireClaimProvenance)
	if err != nil {
		return nil, err
	}
	e.log.WithFields(logrus.Fields{
		"entities":    len(result.Output.Entities),
		"relations":   len(result.Output.Relations),
		"claims":      len(result.Output.Claims),
		"quarantined": len(result.Quarantined),
		"model_path":  useModel && e.model != nil,
	}).Info("extraction complete")
	return result, nil
}

var (
	properPhrase = regexp.MustCompile(`\b[A-Z][a-zA-Z]+(?:[ -][A-Z][a-zA-Z]+){0,3}\b`)
	wordSplit    = regexp.MustCompile(`[^a-zA-Z]+`)
)

// cheapExtract runs the heuristic NER path and reports a confidence score
// derived from hit counts and term frequency coverage.
func cheapExtract(text string) (validate.Extraction, float64) {
	var out validate.Extraction

	counts := make(map[string]int)
	var order []string
	for _, m := range properPhrase.FindAllString(text, -1) {
		if len(m) < 3 {
			continue
		}
		if counts[m] == 0 {
			order = append(order, m)
		}
		counts[m]++
	}

	for _, name := range order {
		if counts[name] < 2 || len(out.Entities) >= validate.MaxEntities {
			continue
		}
		out.Entities = append(out.Entities, validate.Entity{
			Name:  name,
			Label: schema.KindConcept,
		})
	}

	// Co-occurring repeated phrases relate weakly.
	for i := 1; i < len(out.Entities) && len(out.Relations) < validate.MaxRelations; i++ {
		out.Relations = append(out.Relations, validate.Relation{
			From: out.Entities[0].Name,
			To:   out.Entities[i].Name,
			Type: schema.EdgeRelatedTo,
		})
	}

	words := wordSplit.Split(text, -1)
	totalWords := 0
	for _, w := range words {
		if len(w) > 2 {
			totalWords++
		}
	}
	if totalWords == 0 {
		return out, 0
	}

	hits := 0
	for _, c := range counts {
		if c >= 2 {
			hits += c
		}
	}
	confidence := float64(len(out.Entities))/10.0 + float64(hits)/float64(totalWords)
	if confidence > 1 {
		confidence = 1
	}
	return out, confidence
}

const extractSystemPrompt = `You extract knowledge-graph structure from documents.
Respond with one JSON object: {"entities":[{"name","label","properties"}],
"relations":[{"from","to","type"}],"claims":[{"text","claim_type","confidence","source_id","evidence_ids"}]}.
Labels: Concept, Claim, Evidence, Source, Method, Scope, Position, Hypernode, Process.
Edge types: DEFINES, SUPPORTS, REFUTES, PREREQ, PartOf, IsA, RELATED_TO, CONTAINS,
NESTED_IN, INPUTS_TO, OUTPUTS_FROM, SCALES_TO, MIRRORS, CONTRADICTS, UNDER_SCOPE, PrerequisiteOf.`

func (e *Extractor) modelExtract(ctx context.Context, text string, scope llm.CallScope) (*validate.Extraction, error) {
	resp, err := e.model.Invoke(ctx, llm.Request{
		Model:  e.modelName,
		System: extractSystemPrompt,
		Prompt: egress.WrapUntrustedContent(text),
	}, scope)
	if err != nil {
		return nil, fmt.Errorf("model extraction failed: %w", err)
	}

	var out validate.Extraction
	if err := json.Unmarshal([]byte(jsonBody(resp.Text)), &out); err != nil {
		return nil, fmt.Errorf("failed to parse extraction output: %w", err)
	}
	return &out, nil
}

// jsonBody tolerates model responses that fence the JSON in markdown.
func jsonBody(text string) string {
	text = strings.TrimSpace(text)
	if start := strings.Index(text, "{"); start >= 0 {
		if end := strings.LastIndex(text, "}"); end > start {
			return text[start : end+1]
		}
	}
	return text
}

func remapEdgeTypes(out *validate.Extraction) {
	for i, r := range out.Relations {
		if mapped, ok := edgeTypeRemap[strings.ToUpper(string(r.Type))]; ok {
			out.Relations[i].Type = mapped
		}
	}
}
