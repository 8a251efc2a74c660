package egress

import (
	"regexp"
	"strings"
)

var (
	dangerousTags = regexp.MustCompile(`(?is)<(script|style|iframe|object|embed|form)\b[^>]*>.*?</\s*(script|style|iframe|object|embed|form)\s*>`)
	orphanTags    = regexp.MustCompile(`(?i)<(script|style|iframe|object|embed|form)\b[^>]*/?>`)
	htmlComments  = regexp.MustCompile(`(?s)<!--.*?-->`)
	eventAttrs    = regexp.MustCompile(`(?i)\s+on[a-z]+\s*=\s*("[^"]*"|'[^']*'|[^\s>]+)`)
	badURIs       = regexp.MustCompile(`(?i)(javascript|data|vbscript)\s*:`)
	hiddenStyles  = regexp.MustCompile(`(?i)\s+style\s*=\s*("[^"]*(display\s*:\s*none|visibility\s*:\s*hidden|font-size\s*:\s*0|opacity\s*:\s*0|position\s*:\s*absolute\s*;\s*left\s*:\s*-)[^"]*"|'[^']*(display\s*:\s*none|visibility\s*:\s*hidden|font-size\s*:\s*0|opacity\s*:\s*0|position\s*:\s*absolute\s*;\s*left\s*:\s*-)[^']*')`)
	invisibleRune = regexp.MustCompile(`[\x{200B}\x{200C}\x{200D}\x{2060}\x{FEFF}\x{202A}-\x{202E}\x{2066}-\x{2069}]`)
	multiSpace    = regexp.MustCompile(`[ \t]+`)
	multiNewline  = regexp.MustCompile(`\n{3,}`)
)

// SanitizeContent strips active and hidden markup from retrieved content and
// truncates it to maxLength runes. Unicode is not normalized; only invisible
// and bidi control characters are removed.
func SanitizeContent(raw string, maxLength int) string {
	s := dangerousTags.ReplaceAllString(raw, " ")
	s = orphanTags.ReplaceAllString(s, " ")
	s = htmlComments.ReplaceAllString(s, " ")
	s = hiddenStyles.ReplaceAllString(s, "")
	s = eventAttrs.ReplaceAllString(s, "")
	s = badURIs.ReplaceAllString(s, "")
	s = invisibleRune.ReplaceAllString(s, "")

	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = multiSpace.ReplaceAllString(s, " ")
	s = multiNewline.ReplaceAllString(s, "\n\n")
	s = strings.TrimSpace(s)

	if maxLength > 0 {
		runes := []rune(s)
		if len(runes) > maxLength {
			s = string(runes[:maxLength])
		}
	}
	return s
}

// paywallIndicators are phrases that mark metered or subscriber-only pages.
var paywallIndicators = []string{
	"subscribe",
	"subscription required",
	"sign in to read",
	"sign in to continue",
	"register to continue",
	"premium content",
	"paywall",
	"members only",
	"free articles remaining",
	"become a member",
	"already a subscriber",
}

// PaywallResult reports the paywall decision with the evidence behind it.
type PaywallResult struct {
	IsPaywall  bool     `json:"is_paywall"`
	Confidence float64  `json:"confidence"`
	Indicators []string `json:"indicators,omitempty"`
}

// DetectPaywall scans page content for paywall indicators. Each occurrence
// adds 0.3 confidence (capped at 1.0); two hits or confidence >= 0.6 flags
// the page.
func DetectPaywall(html string) PaywallResult {
	lower := strings.ToLower(html)

	result := PaywallResult{}
	hits := 0
	for _, indicator := range paywallIndicators {
		n := strings.Count(lower, indicator)
		if n > 0 {
			hits += n
			result.Indicators = append(result.Indicators, indicator)
		}
	}

	result.Confidence = 0.3 * float64(hits)
	if result.Confidence > 1.0 {
		result.Confidence = 1.0
	}
	result.IsPaywall = hits >= 2 || result.Confidence >= 0.6
	return result
}
