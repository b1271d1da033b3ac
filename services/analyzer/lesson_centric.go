package analyzer

import (
	"context"
	"fmt"

	"github.com/jokbolink/orchestrator/model"
	"github.com/jokbolink/orchestrator/services/llmclient"
)

const lessonCentricSystemPrompt = `You are an expert at judging which parts of a lecture are exam-relevant, using historical exam questions as the ground truth.

You will be given pages from a lesson PDF and pages from an exam question bank (jokbo) covering the same course. For every lesson page:
1. Rate how exam-important it is (0-110) based on how many jokbo questions draw on it and how directly.
2. List key concepts on the page as short keywords.
3. List which jokbo questions (by filename, page, and question number) this page helps answer, each with its own 0-110 relevance score.

Do not invent a relationship between a lesson page and a question that the text doesn't support.

Output ONLY valid JSON in this shape:
{
  "pages": [
    {
      "page_number": 7,
      "importance_score": 70,
      "key_concepts": ["concept one", "concept two"],
      "related_jokbo_questions": [
        {"jokbo_filename": "...", "jokbo_page": 3, "question_number": "12", "relevance_score": 85}
      ]
    }
  ]
}`

// AnalyzeLessonCentric analyzes one lesson chunk against the paired jokbo text.
func AnalyzeLessonCentric(ctx context.Context, gen Generator, in ChunkInput) (model.LessonCentricResult, llmclient.GenerateUsage, error) {
	var result model.LessonCentricResult

	userPrompt := fmt.Sprintf(`Lesson file: %s, pages %d-%d of %d.

Lesson text:
%s`, in.PrimaryFilename, in.PageRange.Start, in.PageRange.End, in.TotalPages, in.PrimaryText)

	if in.SecondaryText != "" {
		userPrompt += fmt.Sprintf(`

Jokbo file: %s
Jokbo text:
%s`, in.SecondaryFilename, in.SecondaryText)
	}

	usage, err := callAndParse(ctx, gen, lessonCentricSystemPrompt, userPrompt, in.FileRefs, &result)
	if err != nil {
		return result, usage, err
	}
	result.LessonFilename = in.PrimaryFilename
	return result, usage, nil
}
