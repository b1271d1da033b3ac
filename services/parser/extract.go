// Package parser turns a raw LLM completion into validated JSON matching one
// of the analyzer result shapes in the model package. Models wrap JSON in
// markdown fences, emit trailing commas or smart quotes, and occasionally
// truncate mid-object on a MAX_TOKENS cutoff; the stages here exist to
// recover a usable result from all of those cases before giving up.
package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var ErrNoJSONFound = errors.New("no valid JSON object or array found in response")

// ExtractJSON runs the full preprocess -> repair -> extract -> partial
// recovery pipeline and returns clean JSON text, or ErrNoJSONFound if every
// stage failed.
func ExtractJSON(response string) (string, error) {
	if response == "" {
		return "", ErrNoJSONFound
	}

	cleaned := stripMarkdownFences(response)

	if candidate := extractByBrackets(cleaned); candidate != "" && json.Valid([]byte(candidate)) {
		return candidate, nil
	}

	if json.Valid([]byte(cleaned)) {
		return cleaned, nil
	}

	repaired := repairCommonIssues(cleaned)
	if candidate := extractByBrackets(repaired); candidate != "" && json.Valid([]byte(candidate)) {
		return candidate, nil
	}
	if json.Valid([]byte(repaired)) {
		return repaired, nil
	}

	if candidate := aggressiveExtract(response); candidate != "" && json.Valid([]byte(candidate)) {
		return candidate, nil
	}

	if candidate := recoverPartial(repaired); candidate != "" && json.Valid([]byte(candidate)) {
		return candidate, nil
	}

	return "", fmt.Errorf("%w: response length=%d", ErrNoJSONFound, len(response))
}

// ExtractJSONTo extracts and unmarshals in one step.
func ExtractJSONTo(response string, target interface{}) error {
	jsonStr, err := ExtractJSON(response)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(jsonStr), target); err != nil {
		return fmt.Errorf("unmarshal extracted JSON: %w", err)
	}
	return nil
}

var fencedBlock = regexp.MustCompile("(?s)```(?:json)?\\s*(.+?)\\s*```")

func stripMarkdownFences(s string) string {
	s = strings.TrimSpace(s)
	if m := fencedBlock.FindStringSubmatch(s); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// extractByBrackets finds the first top-level {...} or [...] span using a
// depth-counting, string-aware scan so braces inside quoted strings don't
// throw off the count.
func extractByBrackets(s string) string {
	startObj := strings.IndexByte(s, '{')
	startArr := strings.IndexByte(s, '[')

	var start int
	var openChar, closeChar byte
	switch {
	case startObj == -1 && startArr == -1:
		return ""
	case startObj == -1:
		start, openChar, closeChar = startArr, '[', ']'
	case startArr == -1:
		start, openChar, closeChar = startObj, '{', '}'
	case startObj < startArr:
		start, openChar, closeChar = startObj, '{', '}'
	default:
		start, openChar, closeChar = startArr, '[', ']'
	}

	depth := 0
	inString := false
	escaped := false
	end := -1
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		if c == '\\' && inString {
			escaped = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		if c == openChar {
			depth++
		} else if c == closeChar {
			depth--
			if depth == 0 {
				end = i + 1
				break
			}
		}
	}
	if end == -1 {
		return ""
	}
	return s[start:end]
}

func aggressiveExtract(s string) string {
	if first, last := strings.IndexByte(s, '{'), strings.LastIndexByte(s, '}'); first != -1 && last > first {
		if candidate := s[first : last+1]; json.Valid([]byte(candidate)) {
			return candidate
		}
	}
	if first, last := strings.IndexByte(s, '['), strings.LastIndexByte(s, ']'); first != -1 && last > first {
		if candidate := s[first : last+1]; json.Valid([]byte(candidate)) {
			return candidate
		}
	}
	return ""
}
