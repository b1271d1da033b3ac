package parser

import (
	"regexp"
	"strings"
)

var (
	trailingComma = regexp.MustCompile(`,\s*([}\]])`)
	smartQuotes   = strings.NewReplacer(
		"“", `"`, "”", `"`,
		"‘", "'", "’", "'",
	)
	bareNaN      = regexp.MustCompile(`:\s*NaN\b`)
	bareInfinity = regexp.MustCompile(`:\s*-?Infinity\b`)
)

// repairCommonIssues fixes the JSON defects models produce often enough to
// be worth a dedicated pass: smart quotes from copy-pasted source text,
// trailing commas before a closing bracket, and the non-standard NaN /
// Infinity literals some models emit for unscoreable fields.
func repairCommonIssues(s string) string {
	s = smartQuotes.Replace(s)
	s = trailingComma.ReplaceAllString(s, "$1")
	s = bareNaN.ReplaceAllString(s, ": null")
	s = bareInfinity.ReplaceAllString(s, ": null")
	s = stripControlChars(s)
	return s
}

func stripControlChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= 32 && r < 127 || r == '\n' || r == '\r' || r == '\t' || r > 127 {
			b.WriteRune(r)
		}
	}
	return b.String()
}
