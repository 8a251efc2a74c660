package kg

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTierClaim(t *testing.T) {
	tests := []struct {
		name       string
		confidence float64
		evidence   float64
		wantTier   string
		wantConf   float64
	}{
		{
			name:       "AuditedStrongEvidence",
			confidence: 0.95,
			evidence:   0.8,
			wantTier:   TierAudited,
			wantConf:   0.95,
		},
		{
			name:       "WeakEvidenceCapsConfidence",
			confidence: 0.95,
			evidence:   0.2,
			wantTier:   TierSupported,
			wantConf:   CapSecondary,
		},
		{
			name:       "Supported",
			confidence: 0.8,
			evidence:   0.6,
			wantTier:   TierSupported,
			wantConf:   0.8,
		},
		{
			name:       "Provisional",
			confidence: 0.4,
			evidence:   0.9,
			wantTier:   TierProvisional,
			wantConf:   0.4,
		},
		{
			name:       "ClampedInput",
			confidence: 1.5,
			evidence:   1.2,
			wantTier:   TierAudited,
			wantConf:   1.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TierClaim(tt.confidence, tt.evidence)
			assert.Equal(t, tt.wantTier, got.Tier)
			assert.InDelta(t, tt.wantConf, got.EffectiveConfidence, 1e-9)
			assert.InDelta(t, 1-tt.wantConf, got.PError, 1e-9)
		})
	}
}
