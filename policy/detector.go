package policy

import (
	"regexp"
)

// Severity levels for directive matches.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// DirectivePattern is one compiled detection rule.
type DirectivePattern struct {
	Pattern     *regexp.Regexp
	Description string
	Severity    string
}

// DirectiveMatch records a single pattern hit inside a piece of content.
type DirectiveMatch struct {
	Description string `json:"description"`
	Severity    string `json:"severity"`
	MatchedText string `json:"matched_text"`
	Position    int    `json:"position"`
}

// DirectiveDetector flags content whose apparent intent is to instruct the
// agent rather than to state a fact. It drives both the write-time
// storeworthiness filter and the read-time instruction stripping.
type DirectiveDetector struct {
	patterns []DirectivePattern
}

// NewDirectiveDetector builds a detector over the default pattern table plus
// any custom patterns. Custom patterns that fail to compile are skipped.
func NewDirectiveDetector(customPatterns ...string) *DirectiveDetector {
	patterns := defaultDirectivePatterns()
	for _, raw := range customPatterns {
		re, err := regexp.Compile("(?i)" + raw)
		if err != nil {
			continue
		}
		patterns = append(patterns, DirectivePattern{
			Pattern:     re,
			Description: "custom directive pattern",
			Severity:    SeverityHigh,
		})
	}
	return &DirectiveDetector{patterns: patterns}
}

func defaultDirectivePatterns() []DirectivePattern {
	return []DirectivePattern{
		// Instruction override attempts.
		{
			Pattern:     regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above|earlier)\s+(instructions?|prompts?|rules?|guidelines?)`),
			Description: "attempt to ignore previous instructions",
			Severity:    SeverityCritical,
		},
		{
			Pattern:     regexp.MustCompile(`(?i)disregard\s+(all\s+)?(previous|prior|above|earlier|the\s+above)\s*(instructions?|prompts?|rules?|guidelines?)?`),
			Description: "attempt to disregard instructions",
			Severity:    SeverityCritical,
		},
		{
			Pattern:     regexp.MustCompile(`(?i)forget\s+(everything|all|what)\s*(you\s+)?(know|learned|were\s+told)?`),
			Description: "attempt to erase prior context",
			Severity:    SeverityCritical,
		},
		{
			Pattern:     regexp.MustCompile(`(?i)(new|different|updated|override)\s+instructions?`),
			Description: "attempt to inject new instructions",
			Severity:    SeverityHigh,
		},
		// Role manipulation.
		{
			Pattern:     regexp.MustCompile(`(?i)you\s+are\s+now\s+(a|an|the)?`),
			Description: "attempt to change the agent role",
			Severity:    SeverityHigh,
		},
		{
			Pattern:     regexp.MustCompile(`(?i)act\s+as\s+(if\s+you\s+are\s+)?(a|an|the)\s`),
			Description: "attempt to change agent behavior",
			Severity:    SeverityMedium,
		},
		{
			Pattern:     regexp.MustCompile(`(?i)pretend\s+(to\s+be|you\s+are)`),
			Description: "attempt to make the agent pretend",
			Severity:    SeverityMedium,
		},
		// Standing-order injection.
		{
			Pattern:     regexp.MustCompile(`(?i)always\s+(respond|reply|answer)\s+with`),
			Description: "standing response order",
			Severity:    SeverityHigh,
		},
		{
			Pattern:     regexp.MustCompile(`(?i)always\s+call\s+me`),
			Description: "standing naming order",
			Severity:    SeverityHigh,
		},
		{
			Pattern:     regexp.MustCompile(`(?i)follow\s+(all\s+)?(my\s+)?(commands?|orders?|instructions?)`),
			Description: "blanket obedience order",
			Severity:    SeverityCritical,
		},
		{
			Pattern:     regexp.MustCompile(`(?i)from\s+now\s+on\s+(you|always)`),
			Description: "persistent behavior change order",
			Severity:    SeverityHigh,
		},
		// Role marker injection.
		{
			Pattern:     regexp.MustCompile(`(?i)^\s*system\s*:\s*`),
			Description: "system role marker",
			Severity:    SeverityCritical,
		},
		{
			Pattern:     regexp.MustCompile(`(?i)^\s*assistant\s*:\s*`),
			Description: "assistant role marker",
			Severity:    SeverityHigh,
		},
		{
			Pattern:     regexp.MustCompile(`(?i)<\s*system\s*>`),
			Description: "system tag injection",
			Severity:    SeverityCritical,
		},
		{
			Pattern:     regexp.MustCompile(`(?i)---+\s*(system|instructions?|rules?)\s*---+`),
			Description: "delimiter-based injection",
			Severity:    SeverityHigh,
		},
	}
}

// Detect returns every pattern hit in the content, in pattern-table order.
func (d *DirectiveDetector) Detect(content string) []DirectiveMatch {
	var matches []DirectiveMatch
	for _, p := range d.patterns {
		locs := p.Pattern.FindAllStringIndex(content, -1)
		for _, loc := range locs {
			matches = append(matches, DirectiveMatch{
				Description: p.Description,
				Severity:    p.Severity,
				MatchedText: content[loc[0]:loc[1]],
				Position:    loc[0],
			})
		}
	}
	return matches
}

// IsDirective reports whether the content trips any pattern.
func (d *DirectiveDetector) IsDirective(content string) bool {
	for _, p := range d.patterns {
		if p.Pattern.MatchString(content) {
			return true
		}
	}
	return false
}
