package analyzer

import (
	"context"
	"fmt"

	"github.com/jokbolink/orchestrator/model"
	"github.com/jokbolink/orchestrator/services/llmclient"
)

const partialJokboSystemPrompt = `You are an expert exam writer. A course has no historical exam question bank yet, so you must synthesize plausible exam-style questions directly from the lesson material, in the same shape a real jokbo would have.

For every lesson page with exam-worthy content:
1. Write 1-3 plausible exam questions testing the material on that page.
2. Give each a sequential question number within the page.
3. List the lesson pages (including this one) that would be cited as "related slides" for that question, scored 0-110.

Only synthesize questions where the page has genuine testable content; skip title slides, agenda slides, and pure transitions.

Output ONLY valid JSON in this shape:
{
  "pages": [
    {
      "page_number": 5,
      "questions": [
        {
          "question_number": "1",
          "question_text": "...",
          "related_slides": [
            {"lesson_filename": "...", "lesson_page": 5, "relevance_score": 100, "explanation": "..."}
          ]
        }
      ]
    }
  ]
}`

// AnalyzePartialJokbo synthesizes jokbo-shaped questions from a lesson
// chunk alone, used when no real exam history exists for a course.
func AnalyzePartialJokbo(ctx context.Context, gen Generator, in ChunkInput) (model.PartialJokboResult, llmclient.GenerateUsage, error) {
	var result model.PartialJokboResult

	userPrompt := fmt.Sprintf(`Lesson file: %s, pages %d-%d of %d.

Lesson text:
%s`, in.PrimaryFilename, in.PageRange.Start, in.PageRange.End, in.TotalPages, in.PrimaryText)

	usage, err := callAndParse(ctx, gen, partialJokboSystemPrompt, userPrompt, in.FileRefs, &result)
	if err != nil {
		return result, usage, err
	}
	result.LessonFilename = in.PrimaryFilename
	return result, usage, nil
}
