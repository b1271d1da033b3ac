// Package merger combines the per-chunk results the orchestrator collects
// into one deterministic document per job, deduplicating across chunk
// boundaries the same way chunked exam-paper extraction always has: keep
// one entry per natural key, prefer the richer duplicate, and never let
// chunk order affect the final output.
package merger

import (
	"fmt"
	"log"
	"sort"

	"github.com/jokbolink/orchestrator/model"
	"github.com/jokbolink/orchestrator/services/parser"
)

// MergeJokboCentric merges per-chunk jokbo-centric payloads keyed by
// (jokbo page, question number), keeping the richer question_text on
// collision, deduplicating its related slides by (lesson_filename,
// lesson_page), keeping the top 2 by relevance score and dropping any
// below minRelevance.
func MergeJokboCentric(jokboFilename string, chunks []model.JokboCentricResult, minRelevance int) model.JokboCentricResult {
	pages := make(map[int]map[string]model.JokboQuestion)

	for _, chunk := range chunks {
		for _, page := range chunk.Pages {
			if pages[page.PageNumber] == nil {
				pages[page.PageNumber] = make(map[string]model.JokboQuestion)
			}
			for _, q := range page.Questions {
				q.WrongAnswerKey = parser.NormalizeWrongAnswerKey(q.WrongAnswerKey)
				q.RelatedSlides = topSlides(q.RelatedSlides, minRelevance)

				existing, ok := pages[page.PageNumber][q.QuestionNumber]
				if !ok {
					pages[page.PageNumber][q.QuestionNumber] = q
					continue
				}
				pages[page.PageNumber][q.QuestionNumber] = mergeJokboQuestion(existing, q, minRelevance)
			}
		}
	}

	result := model.JokboCentricResult{JokboFilename: jokboFilename}
	for _, pageNum := range sortedIntKeys(pages) {
		questionsByNum := pages[pageNum]
		var questions []model.JokboQuestion
		for _, num := range sortedQuestionNumberKeys(questionsByNum) {
			questions = append(questions, questionsByNum[num])
		}
		result.Pages = append(result.Pages, model.JokboPage{PageNumber: pageNum, Questions: questions})
	}

	log.Printf("merger: jokbo-centric merge for %s produced %d pages", jokboFilename, len(result.Pages))
	return result
}

func mergeJokboQuestion(a, b model.JokboQuestion, minRelevance int) model.JokboQuestion {
	merged := a
	if len(b.QuestionText) > len(merged.QuestionText) {
		merged.QuestionText = b.QuestionText
	}
	if merged.WrongAnswerKey == "" {
		merged.WrongAnswerKey = b.WrongAnswerKey
	}
	merged.RelatedSlides = topSlides(append(append([]model.RelatedSlide{}, a.RelatedSlides...), b.RelatedSlides...), minRelevance)
	return merged
}

func filterAndClampSlides(slides []model.RelatedSlide, minRelevance int) []model.RelatedSlide {
	var out []model.RelatedSlide
	for _, s := range slides {
		s.RelevanceScore = parser.ClampRelevanceScore(s.RelevanceScore)
		if s.RelevanceScore < minRelevance {
			continue
		}
		out = append(out, s)
	}
	return out
}

// topSlides deduplicates by (lesson_filename, lesson_page), keeps the
// higher score on collision, and returns the top 2 by score.
func topSlides(slides []model.RelatedSlide, minRelevance int) []model.RelatedSlide {
	type key struct {
		filename string
		page     int
	}
	best := make(map[key]model.RelatedSlide)
	for _, s := range slides {
		s.RelevanceScore = parser.ClampRelevanceScore(s.RelevanceScore)
		if s.RelevanceScore < minRelevance {
			continue
		}
		k := key{s.LessonFilename, s.LessonPage}
		if existing, ok := best[k]; !ok || s.RelevanceScore > existing.RelevanceScore {
			best[k] = s
		}
	}

	var out []model.RelatedSlide
	for _, s := range best {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RelevanceScore != out[j].RelevanceScore {
			return out[i].RelevanceScore > out[j].RelevanceScore
		}
		if out[i].LessonFilename != out[j].LessonFilename {
			return out[i].LessonFilename < out[j].LessonFilename
		}
		return out[i].LessonPage < out[j].LessonPage
	})
	if len(out) > 2 {
		out = out[:2]
	}
	return out
}

// MergeLessonCentric merges per-chunk lesson-centric payloads keyed by
// page number: importance_score is the max seen across chunks, key_concepts
// is a set union, and related jokbo questions are deduplicated by
// (jokbo_filename, jokbo_page, question_number).
func MergeLessonCentric(lessonFilename string, chunks []model.LessonCentricResult) model.LessonCentricResult {
	type pageAcc struct {
		importance int
		concepts   map[string]struct{}
		related    map[string]model.RelatedJokboQuestion
	}
	pages := make(map[int]*pageAcc)

	for _, chunk := range chunks {
		for _, page := range chunk.Pages {
			acc, ok := pages[page.PageNumber]
			if !ok {
				acc = &pageAcc{concepts: make(map[string]struct{}), related: make(map[string]model.RelatedJokboQuestion)}
				pages[page.PageNumber] = acc
			}
			if page.ImportanceScore > acc.importance {
				acc.importance = page.ImportanceScore
			}
			for _, c := range page.KeyConcepts {
				acc.concepts[c] = struct{}{}
			}
			for _, rel := range page.RelatedJokboQuestions {
				rel.RelevanceScore = parser.ClampRelevanceScore(rel.RelevanceScore)
				key := fmt.Sprintf("%s|%d|%s", rel.JokboFilename, rel.JokboPage, rel.QuestionNumber)
				if existing, ok := acc.related[key]; !ok || rel.RelevanceScore > existing.RelevanceScore {
					acc.related[key] = rel
				}
			}
		}
	}

	result := model.LessonCentricResult{LessonFilename: lessonFilename}
	for _, pageNum := range sortedIntKeysAcc(pages) {
		acc := pages[pageNum]
		page := model.LessonPage{PageNumber: pageNum, ImportanceScore: acc.importance}
		for c := range acc.concepts {
			page.KeyConcepts = append(page.KeyConcepts, c)
		}
		sort.Strings(page.KeyConcepts)
		for _, rel := range acc.related {
			page.RelatedJokboQuestions = append(page.RelatedJokboQuestions, rel)
		}
		sort.Slice(page.RelatedJokboQuestions, func(i, j int) bool {
			a, b := page.RelatedJokboQuestions[i], page.RelatedJokboQuestions[j]
			if a.JokboFilename != b.JokboFilename {
				return a.JokboFilename < b.JokboFilename
			}
			if a.JokboPage != b.JokboPage {
				return a.JokboPage < b.JokboPage
			}
			na, nb := parser.QuestionNumberSortKey(a.QuestionNumber), parser.QuestionNumberSortKey(b.QuestionNumber)
			if na != nb {
				return na < nb
			}
			return a.QuestionNumber < b.QuestionNumber
		})
		result.Pages = append(result.Pages, page)
	}

	log.Printf("merger: lesson-centric merge for %s produced %d pages", lessonFilename, len(result.Pages))
	return result
}

// MergeExamOnly deduplicates questions by question_number across chunks,
// keeping the longer question_text on collision.
func MergeExamOnly(jokboFilename string, chunks []model.ExamOnlyResult) model.ExamOnlyResult {
	seen := make(map[string]model.ExamOnlyQuestion)
	for _, chunk := range chunks {
		for _, q := range chunk.Questions {
			q.WrongAnswerKey = parser.NormalizeWrongAnswerKey(q.WrongAnswerKey)
			if existing, ok := seen[q.QuestionNumber]; !ok || len(q.QuestionText) > len(existing.QuestionText) {
				seen[q.QuestionNumber] = q
			}
		}
	}

	result := model.ExamOnlyResult{JokboFilename: jokboFilename}
	for _, num := range sortedQuestionNumberKeys(seen) {
		result.Questions = append(result.Questions, seen[num])
	}
	return result
}

func sortedIntKeys(m map[int]map[string]model.JokboQuestion) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

// sortedQuestionNumberKeys orders map keys by their numeric question-number
// prefix ("2" before "10") rather than lexicographically, falling back to a
// string tiebreak for keys that parse to the same number (e.g. "12" vs
// "12-2", both prefix 12).
func sortedQuestionNumberKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		ni, nj := parser.QuestionNumberSortKey(keys[i]), parser.QuestionNumberSortKey(keys[j])
		if ni != nj {
			return ni < nj
		}
		return keys[i] < keys[j]
	})
	return keys
}

func sortedIntKeysAcc[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
