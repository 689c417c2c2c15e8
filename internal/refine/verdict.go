package refine

import (
	"regexp"
	"strings"
)

// DefaultPassTokens are the acceptance keywords recognized out of the box.
var DefaultPassTokens = []string{"SATISFACTORY", "PASS"}

type tokenPattern struct {
	match   *regexp.Regexp
	negated *regexp.Regexp
}

// VerdictParser turns raw evaluator text into a Verdict. Acceptance is a
// case-insensitive whole-word match for any pass token anywhere in the text,
// not a prefix check, since evaluators often preface the verdict with
// commentary. A token directly preceded by "NOT" does not count ("NOT
// SATISFACTORY: ..." is a rejection). When no token matches, the entire raw
// text becomes the critique: lenient pass detection, maximal failure payload.
type VerdictParser struct {
	patterns []tokenPattern
}

// NewVerdictParser builds a parser for the given acceptance tokens. An empty
// token list falls back to DefaultPassTokens.
func NewVerdictParser(passTokens []string) *VerdictParser {
	if len(passTokens) == 0 {
		passTokens = DefaultPassTokens
	}

	patterns := make([]tokenPattern, 0, len(passTokens))
	for _, token := range passTokens {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		quoted := regexp.QuoteMeta(token)
		patterns = append(patterns, tokenPattern{
			match:   regexp.MustCompile(`(?i)\b` + quoted + `\b`),
			negated: regexp.MustCompile(`(?i)\bNOT\s+` + quoted + `\b`),
		})
	}

	return &VerdictParser{patterns: patterns}
}

// Parse produces a Verdict from raw evaluator output. A failing verdict
// always carries a critique, even when the evaluator returned nothing.
func (p *VerdictParser) Parse(raw string) Verdict {
	if strings.TrimSpace(raw) == "" {
		return Verdict{Passed: false, Critique: "evaluator returned no output"}
	}

	for _, pattern := range p.patterns {
		// Drop negated occurrences first so "NOT PASS" cannot satisfy
		// the bare token match.
		stripped := pattern.negated.ReplaceAllString(raw, "")
		if pattern.match.MatchString(stripped) {
			return Verdict{Passed: true}
		}
	}
	return Verdict{Passed: false, Critique: raw}
}

// CritiqueOf extracts the critique from a verdict, empty when the verdict
// passed. It is the loop's only view into a failing verdict.
func CritiqueOf(v Verdict) string {
	if v.Passed {
		return ""
	}
	return v.Critique
}
