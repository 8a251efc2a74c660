package validate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphmind-ai/graphmind/common"
	"github.com/graphmind-ai/graphmind/kg"
	"github.com/graphmind-ai/graphmind/schema"
)

func TestValidateExtraction_DropsUnknownLabelsAndTypes(t *testing.T) {
	in := Extraction{
		Entities: []Entity{
			{Name: "photosynthesis", Label: schema.KindConcept},
			{Name: "mystery", Label: "Widget"},
		},
		Relations: []Relation{
			{From: "photosynthesis", To: "photosynthesis", Type: schema.EdgeRelatedTo},
			{From: "a", To: "b", Type: "TEACHES"},
		},
	}

	result, err := ValidateExtraction(in, false)
	require.NoError(t, err)
	require.Len(t, result.Output.Entities, 1)
	assert.Equal(t, "photosynthesis", result.Output.Entities[0].Name)
	require.Len(t, result.Output.Relations, 1)
	assert.Len(t, result.Dropped, 2)

	// Input untouched.
	assert.Len(t, in.Entities, 2)
}

func TestValidateExtraction_BoundsRejected(t *testing.T) {
	in := Extraction{}
	for i := 0; i <= MaxEntities; i++ {
		in.Entities = append(in.Entities, Entity{Name: "e", Label: schema.KindConcept})
	}

	_, err := ValidateExtraction(in, false)
	require.Error(t, err)
	var verr *common.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "entities", verr.Field)
}

func TestValidateExtraction_QuarantinesUnbackedClaims(t *testing.T) {
	in := Extraction{
		Entities: []Entity{{Name: "evidence-1", Label: schema.KindEvidence}},
		Claims: []Claim{
			{Text: "water boils at 100C", ClaimType: "empirical"},
			{Text: "sourced claim", ClaimType: "empirical", SourceID: "SRC:x"},
			{Text: "supported claim", ClaimType: "empirical"},
		},
		Relations: []Relation{
			{From: "evidence-1", To: "supported claim", Type: schema.EdgeSupports},
			{From: "evidence-1", To: "water boils at 100C", Type: schema.EdgeRefutes},
		},
	}

	result, err := ValidateExtraction(in, true)
	require.NoError(t, err)

	require.Len(t, result.Quarantined, 1)
	assert.Equal(t, "water boils at 100C", result.Quarantined[0])

	kept := make([]string, 0)
	for _, c := range result.Output.Claims {
		kept = append(kept, c.Text)
	}
	assert.ElementsMatch(t, []string{"sourced claim", "supported claim"}, kept)

	// The REFUTES relation pointed at the quarantined claim and goes with it.
	require.Len(t, result.Output.Relations, 1)
	assert.Equal(t, schema.EdgeSupports, result.Output.Relations[0].Type)
}

func TestValidateExtraction_TruncatesLongProperties(t *testing.T) {
	long := strings.Repeat("x", MaxPropertyValueLength+100)
	in := Extraction{
		Entities: []Entity{{
			Name:       "verbose",
			Label:      schema.KindConcept,
			Properties: kg.Properties{"description": long},
		}},
	}

	result, err := ValidateExtraction(in, false)
	require.NoError(t, err)
	got := result.Output.Entities[0].Properties["description"].(string)
	assert.LessOrEqual(t, len(got), MaxPropertyValueLength)
}

func TestValidateLinked_DropsNonCanonicalRelations(t *testing.T) {
	goodID := schema.GenerateID(schema.KindConcept)
	in := Linked{
		Entities: []Entity{{Name: "a", Label: schema.KindConcept}},
		Relations: []Relation{
			{From: goodID, To: goodID, Type: schema.EdgeRelatedTo},
			{From: "not-an-id", To: goodID, Type: schema.EdgeRelatedTo},
		},
		CanonicalIDs: map[string]string{"a": goodID},
	}

	out, err := ValidateLinked(in)
	require.NoError(t, err)
	assert.Len(t, out.Relations, 1)
	assert.Equal(t, goodID, out.CanonicalIDs["a"])
}

func TestValidateStateUpdate(t *testing.T) {
	tests := []struct {
		name    string
		update  map[string]interface{}
		wantErr string
	}{
		{
			name:   "AllowedKeys",
			update: map[string]interface{}{"approval_decision": "approve", "approval_required": true},
		},
		{
			name:    "UnknownKeyRejected",
			update:  map[string]interface{}{"secret_override": 1},
			wantErr: "allowlist",
		},
		{
			name:    "BadDecisionRejected",
			update:  map[string]interface{}{"approval_decision": "maybe"},
			wantErr: "approve or reject",
		},
		{
			name:    "WrongTypeRejected",
			update:  map[string]interface{}{"approval_required": "yes"},
			wantErr: "expected bool",
		},
		{
			name:    "OversizedResponseRejected",
			update:  map[string]interface{}{"final_response": strings.Repeat("a", MaxFinalResponseLength+1)},
			wantErr: "exceeds limit",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := ValidateStateUpdate(tt.update)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, len(tt.update), len(out))
		})
	}
}

func TestClampFetchIntent(t *testing.T) {
	in := FetchIntent{
		Domains:     []string{"Algebra", "Algebra", "Topology", "", "Logic"},
		MaxSources:  50,
		MinPriority: 1.7,
	}

	out := ClampFetchIntent(in, 10, 2)
	assert.Equal(t, 10, out.MaxSources)
	assert.Equal(t, 1.0, out.MinPriority)
	assert.Equal(t, []string{"Algebra", "Topology"}, out.Domains)

	low := ClampFetchIntent(FetchIntent{MaxSources: 0, MinPriority: -3}, 10, 5)
	assert.Equal(t, 1, low.MaxSources)
	assert.Zero(t, low.MinPriority)
}
