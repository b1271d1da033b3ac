package parser

import (
	"regexp"
	"strconv"
)

const (
	minRelevanceScore = 0
	maxRelevanceScore = 110
)

// ClampRelevanceScore enforces the [0,110] range documented on
// model.RelatedSlide.RelevanceScore: models occasionally emit scores
// outside the requested range, especially near the 100 boundary.
func ClampRelevanceScore(score int) int {
	if score < minRelevanceScore {
		return minRelevanceScore
	}
	if score > maxRelevanceScore {
		return maxRelevanceScore
	}
	return score
}

var answerKeyDigits = regexp.MustCompile(`\d+`)

// NormalizeWrongAnswerKey rewrites a model's free-form wrong-answer
// reference ("3", "answer 3", "３번", "No. 3") into the canonical "N번"
// form jokbo convention expects. Inputs with no digit are returned as-is.
func NormalizeWrongAnswerKey(raw string) string {
	if raw == "" {
		return ""
	}
	digits := answerKeyDigits.FindString(raw)
	if digits == "" {
		return raw
	}
	return digits + "번"
}

// QuestionNumberSortKey extracts the first run of ASCII digits from a
// question number string ("12", "12-2", "12번") for numeric ordering, so "10"
// sorts after "2" instead of before it. Falls back to 0 when the string
// contains no digits.
func QuestionNumberSortKey(raw string) int {
	digits := answerKeyDigits.FindString(raw)
	if digits == "" {
		return 0
	}
	n, _ := strconv.Atoi(digits)
	return n
}
