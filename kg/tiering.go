package kg

// Claim confidence tiers, derived from confidence and evidence strength.
// They are computed properties, never stored directly.
const (
	TierProvisional = "Provisional"
	TierSupported   = "Supported"
	TierAudited     = "Audited"
)

// Tiering thresholds. When a claim's effective primary-evidence strength is
// below TauPrimary, its confidence is capped at CapSecondary regardless of
// how confident the extractor was.
const (
	TauPrimary   = 0.5
	CapSecondary = 0.7

	tierSupportedMin = 0.7
	tierAuditedMin   = 0.9
)

// ClaimTier is the derived confidence view of a claim.
type ClaimTier struct {
	Tier                string  `json:"confidence_tier"`
	EffectiveConfidence float64 `json:"effective_confidence"`
	PError              float64 `json:"p_error"`
}

// TierClaim derives the confidence tier from raw confidence and the
// effective primary-evidence strength, both in [0,1]. Inputs outside the
// range are clamped.
func TierClaim(confidence, effectivePrimaryEvidence float64) ClaimTier {
	confidence = clamp01(confidence)
	effectivePrimaryEvidence = clamp01(effectivePrimaryEvidence)

	effective := confidence
	if effectivePrimaryEvidence < TauPrimary && effective > CapSecondary {
		effective = CapSecondary
	}

	tier := TierProvisional
	switch {
	case effective >= tierAuditedMin && effectivePrimaryEvidence >= TauPrimary:
		tier = TierAudited
	case effective >= tierSupportedMin:
		tier = TierSupported
	}

	return ClaimTier{
		Tier:                tier,
		EffectiveConfidence: effective,
		PError:              1 - effective,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
